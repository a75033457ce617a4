package dockhost

import (
	"os"
	"path/filepath"
)

// Home returns the dockhost state directory.
// It defaults to ~/.dockhost but can be overridden with the DOCKHOST_HOME environment variable.
func Home() string {
	if v := os.Getenv("DOCKHOST_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dockhost")
}

// DefaultJournalPath returns the default SQLite journal path (~/.dockhost/journal.db).
func DefaultJournalPath() string {
	return filepath.Join(Home(), "journal.db")
}

// EnsureHome creates the state directory if it doesn't exist.
func EnsureHome() error {
	return os.MkdirAll(Home(), 0o755)
}
