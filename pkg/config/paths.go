package config

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDirName = "mcauth"
	defaultConfigFile    = "config.yaml"
	defaultAccountsFile  = "accounts.json"
)

func DefaultConfigPath() string {
	if env := os.Getenv(EnvConfig); env != "" {
		return env
	}
	return filepath.Join(configDir(), defaultConfigFile)
}

func DefaultAccountsPath() string {
	return filepath.Join(configDir(), defaultAccountsFile)
}

func configDir() string {
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+defaultConfigDirName)
}
