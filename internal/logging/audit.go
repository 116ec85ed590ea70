package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logfmt/logfmt"
)

// AuditLog appends one logfmt record per event, for example every tool call state change
type AuditLog struct {
	mu     sync.Mutex
	enc    *logfmt.Encoder
	closer io.Closer
	now    func() time.Time
}

// NewAuditLog creates an audit log writing to w
func NewAuditLog(w io.Writer) *AuditLog {
	a := &AuditLog{enc: logfmt.NewEncoder(w), now: time.Now}
	if c, ok := w.(io.Closer); ok {
		a.closer = c
	}
	return a
}

// OpenAuditLog appends to the audit file at path
func OpenAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return NewAuditLog(f), nil
}

// Record writes ts, event and the given key/value pairs as one line
func (a *AuditLog) Record(event string, keyvals ...any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.enc.EncodeKeyvals("ts", a.now().UTC().Format(time.RFC3339), "event", event); err != nil {
		return err
	}
	if len(keyvals)%2 == 1 {
		keyvals = append(keyvals, "")
	}
	for i := 0; i < len(keyvals); i += 2 {
		err := a.enc.EncodeKeyval(keyvals[i], keyvals[i+1])
		if err != nil && err != logfmt.ErrUnsupportedValueType {
			return err
		}
	}
	return a.enc.EndRecord()
}

// Close closes the underlying file, if any
func (a *AuditLog) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
