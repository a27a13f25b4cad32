package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const (
	DefaultName = "main"
	homeEnv     = "PARLEY_HOME"
)

var ErrInvalidName = errors.New("invalid profile name")

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// ValidateName rejects names that could escape the profiles directory.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// BaseDir returns $PARLEY_HOME, or ~/.parley.
func BaseDir() string {
	if dir := os.Getenv(homeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".parley")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// SocketPath returns the UDS socket path for a profile.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// DBPath returns the profile's SQLite database path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "parley.db")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "parleyd.log")
}

// EnvPath returns the profile's optional .env file.
func EnvPath(name string) string {
	return filepath.Join(Dir(name), ".env")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with owner-only permissions.
func EnsureDir(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
