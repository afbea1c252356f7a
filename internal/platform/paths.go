// Package platform resolves where indexplan keeps its config, database and logs.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultAppName names the config and data directories.
const DefaultAppName = "indexplan"

// ErrEmptyBaseDir reports a missing user config or data directory.
var ErrEmptyBaseDir = errors.New("empty base directory")

// ErrEmptyAppName reports a blank application name.
var ErrEmptyAppName = errors.New("empty app name")

// Paths holds the on-disk locations used by the CLI and server.
type Paths struct {
	ConfigPath string
	DataDir    string
	DBPath     string
	LogDir     string
}

// Options selects the application directory name.
type Options struct {
	AppName string
	DevMode bool
}

// baseEnv names the environment variables that relocate the config and data bases on one OS.
type baseEnv struct {
	config string
	data   string
}

// baseEnvByOS lists per-OS overrides. macOS and unknown systems keep the user directories.
var baseEnvByOS = map[string]baseEnv{
	"linux":   {config: "XDG_CONFIG_HOME", data: "XDG_DATA_HOME"},
	"windows": {config: "APPDATA", data: "LOCALAPPDATA"},
}

// DefaultPaths resolves paths for the default app name.
func DefaultPaths() (Paths, error) {
	return DefaultPathsWithOptions(Options{AppName: DefaultAppName})
}

// DefaultPathsWithOptions resolves paths for the running OS and environment.
func DefaultPathsWithOptions(opts Options) (Paths, error) {
	appName := strings.TrimSpace(opts.AppName)
	if appName == "" {
		appName = DefaultAppName
	}
	if opts.DevMode {
		appName += "-dev"
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve user config dir: %w", err)
	}
	dataDir, err := userDataDir(runtime.GOOS, configDir)
	if err != nil {
		return Paths{}, err
	}

	env := map[string]string{}
	if names, ok := baseEnvByOS[runtime.GOOS]; ok {
		env[names.config] = os.Getenv(names.config)
		env[names.data] = os.Getenv(names.data)
	}
	return PathsFor(runtime.GOOS, env, configDir, dataDir, appName)
}

// userDataDir picks the data base before environment overrides apply.
func userDataDir(goos, configDir string) (string, error) {
	switch goos {
	case "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve user home dir: %w", err)
		}
		return filepath.Join(home, ".local", "share"), nil
	case "windows":
		if v := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); v != "" {
			return v, nil
		}
	}
	return configDir, nil
}

// PathsFor builds the paths for goos from explicit base directories and environment values.
func PathsFor(goos string, env map[string]string, userConfigDir, userDataDir, appName string) (Paths, error) {
	if userConfigDir == "" || userDataDir == "" {
		return Paths{}, ErrEmptyBaseDir
	}
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Paths{}, ErrEmptyAppName
	}

	configBase, dataBase := userConfigDir, userDataDir
	if names, ok := baseEnvByOS[goos]; ok {
		configBase = firstSet(env[names.config], configBase)
		dataBase = firstSet(env[names.data], dataBase)
	}

	dataDir := filepath.Join(dataBase, appName)
	return Paths{
		ConfigPath: filepath.Join(configBase, appName, "config.toml"),
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, appName+".db"),
		LogDir:     filepath.Join(dataDir, "log"),
	}, nil
}

// WithOverrides replaces the config and database paths when the overrides are set.
// The data directory follows an overridden database path.
func (p Paths) WithOverrides(configPath, dbPath string) Paths {
	p.ConfigPath = firstSet(configPath, p.ConfigPath)
	if v := strings.TrimSpace(dbPath); v != "" {
		p.DBPath = v
		p.DataDir = filepath.Dir(v)
	}
	return p
}

func firstSet(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
