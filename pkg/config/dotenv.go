package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// ErrNoDotEnv is returned by LoadDotEnv when none of the given files exist.
var ErrNoDotEnv = errors.New("no .env file found")

// LoadDotEnv loads the given .env files (".env" when none are given) into the
// process environment. Variables already set in the environment are kept.
// Files that do not exist are skipped; ErrNoDotEnv is returned when none exist.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if len(existing) == 0 {
		return ErrNoDotEnv
	}
	return godotenv.Load(existing...)
}
