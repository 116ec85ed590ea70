package storage

import (
	"os"
	"path/filepath"
	"runtime"
)

// PathManager resolves where chatforge keeps its data
type PathManager struct {
	homeDir string
	dataDir string
}

// NewPathManager creates a path manager rooted at ~/.chatforge, or at dataDir when given
func NewPathManager(dataDir string) *PathManager {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	if dataDir == "" {
		dataDir = filepath.Join(homeDir, ".chatforge")
	}
	return &PathManager{homeDir: homeDir, dataDir: dataDir}
}

// GetDataDir returns the data directory, creating it if needed
func (pm *PathManager) GetDataDir() (string, error) {
	if err := os.MkdirAll(pm.dataDir, 0755); err != nil {
		return "", err
	}
	return pm.dataDir, nil
}

// GetDatabasePath returns the path of the conversation and settings database
func (pm *PathManager) GetDatabasePath() (string, error) {
	return pm.file("chatforge.db")
}

// GetBudgetsPath returns the path of the provider budget file
func (pm *PathManager) GetBudgetsPath() (string, error) {
	return pm.file("budgets.toml")
}

// GetMemoryPath returns the path of the agent memory file
func (pm *PathManager) GetMemoryPath() (string, error) {
	return pm.file("memory.md")
}

// GetLogsDir returns the directory for log files
func (pm *PathManager) GetLogsDir() (string, error) {
	dir, err := pm.GetDataDir()
	if err != nil {
		return "", err
	}
	logsDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return "", err
	}
	return logsDir, nil
}

// GetHomeDir returns the user's home directory
func (pm *PathManager) GetHomeDir() string {
	return pm.homeDir
}

// GetPlatformInfo returns platform-specific information
func (pm *PathManager) GetPlatformInfo() map[string]string {
	return map[string]string{
		"os":       runtime.GOOS,
		"arch":     runtime.GOARCH,
		"home_dir": pm.homeDir,
		"data_dir": pm.dataDir,
	}
}

func (pm *PathManager) file(name string) (string, error) {
	dir, err := pm.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}
