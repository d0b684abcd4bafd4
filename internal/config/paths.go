// Package config provides configuration loading and path utilities for the
// Clubhouse supervision substrate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigDir returns the default user-data directory (~/.clubhouse).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".clubhouse"), nil
}

// DefaultConfigPath returns the default configuration file path
// (~/.clubhouse/config.yaml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// AgentLogsDir returns the directory structured-session transcripts are
// written under (<user-data>/agent-logs).
func AgentLogsDir() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "agent-logs"), nil
}

// ProjectDir returns the per-project metadata directory (<project>/.clubhouse).
func ProjectDir(projectPath string) string {
	return filepath.Join(projectPath, ".clubhouse")
}

// AgentsConfigPath returns the per-project durable agent config file path
// (<project>/.clubhouse/agents.json).
func AgentsConfigPath(projectPath string) string {
	return filepath.Join(ProjectDir(projectPath), "agents.json")
}

// ExpandPath expands a leading "~" to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}

	if path == "~" {
		return os.UserHomeDir()
	}

	return path, nil
}
