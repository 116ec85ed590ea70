package context

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "cl100k_base"

// Counting methods reported by CountWithMetadata
const (
	MethodHeuristic = "heuristic"
	MethodTiktoken  = "tiktoken"
)

// TokenCounter counts tokens for reporting. Budgeting always uses EstimateTokens;
// the counter can optionally use an exact BPE encoding when one is available.
type TokenCounter struct {
	exact    bool
	mu       sync.Mutex
	cache    *LRUCache[string, int]
	encoders map[string]*tiktoken.Tiktoken
}

// NewTokenCounter creates a new token counter. With exact set, counts use tiktoken
// encodings and fall back to the heuristic when no encoding can be loaded.
func NewTokenCounter(exact bool) *TokenCounter {
	return &TokenCounter{
		exact:    exact,
		cache:    NewLRUCache[string, int](DefaultCacheSize),
		encoders: make(map[string]*tiktoken.Tiktoken),
	}
}

// TokenCountResult represents the result of token counting with metadata
type TokenCountResult struct {
	Count  int    `json:"count"`
	Model  string `json:"model"`
	Method string `json:"method"`
	Cached bool   `json:"cached"`
}

// CountTokens counts tokens in text for the given model
func (tc *TokenCounter) CountTokens(text, model string) int {
	return tc.CountWithMetadata(text, model).Count
}

// CountWithMetadata returns detailed token counting information
func (tc *TokenCounter) CountWithMetadata(text, model string) TokenCountResult {
	result := TokenCountResult{Model: model, Method: MethodHeuristic}
	if text == "" {
		return result
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	var encoder *tiktoken.Tiktoken
	if tc.exact {
		encoder = tc.encoderFor(model)
		if encoder != nil {
			result.Method = MethodTiktoken
		}
	}

	cacheKey := fmt.Sprintf("%s:%s:%s", result.Method, strings.ToLower(model), hashString(text))
	if count, ok := tc.cache.Get(cacheKey); ok {
		result.Count = count
		result.Cached = true
		return result
	}

	if encoder != nil {
		result.Count = len(encoder.Encode(text, nil, nil))
	} else {
		result.Count = EstimateTokens(text)
	}

	tc.cache.Set(cacheKey, result.Count)
	return result
}

// CountConversationTokens sums the token counts of every message
func (tc *TokenCounter) CountConversationTokens(messages []ConversationMessage, model string) int {
	total := 0
	for _, msg := range messages {
		total += tc.CountTokens(msg.Content, model)
	}
	return total
}

// ClearCache clears the token counting cache
func (tc *TokenCounter) ClearCache() {
	tc.cache.Clear()
}

// GetCacheSize returns the number of cached token counts
func (tc *TokenCounter) GetCacheSize() int {
	return tc.cache.Len()
}

// CacheStats reports hit rates of the count cache
func (tc *TokenCounter) CacheStats() CacheStats {
	return tc.cache.Stats()
}

// encoderFor resolves and memoizes the encoding for a model; nil means heuristic only
func (tc *TokenCounter) encoderFor(model string) *tiktoken.Tiktoken {
	key := strings.ToLower(model)
	if enc, ok := tc.encoders[key]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(key)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			log.Warn("Exact token counting unavailable, using estimate", "model", model, "err", err)
			enc = nil
		}
	}

	tc.encoders[key] = enc
	return enc
}

// hashString creates a short non-cryptographic hash for cache keys
func hashString(s string) string {
	h := fnv.New64a()
	h.Write([]byte(s))
	return fmt.Sprintf("%x", h.Sum64())
}
