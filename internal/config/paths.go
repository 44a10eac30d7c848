// Package config loads the agentpress configuration through viper and
// resolves its default locations.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv overrides the base directory that holds the config file and the
// SQLite database.
const HomeEnv = EnvPrefix + "_HOME"

const (
	homeDirName    = ".agentpress"
	configFileName = "config.yaml"
	dataFileName   = "data.db"
)

// DefaultConfigDir returns $AGENTPRESS_HOME, or ~/.agentpress when unset.
func DefaultConfigDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return ExpandPath(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, homeDirName), nil
}

// DefaultConfigPath returns config.yaml inside DefaultConfigDir.
func DefaultConfigPath() (string, error) {
	return inConfigDir(configFileName)
}

// DefaultDataPath returns data.db inside DefaultConfigDir.
func DefaultDataPath() (string, error) {
	return inConfigDir(dataFileName)
}

func inConfigDir(name string) (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ExpandPath resolves environment variables and a leading ~ in path.
func ExpandPath(path string) (string, error) {
	path = os.ExpandEnv(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
