package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite" // registers the "sqlite" driver for sqlstore

	"github.com/lewisedginton/whatsapp_session_gateway/internal/connectors"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

// credentialFile is the device store inside each session directory.
const credentialFile = "whatsapp.db"

// FactoryConfig configures connector creation.
type FactoryConfig struct {
	SessionsDir  string
	EventBuffer  int
	HistoryLimit int
	// LogLevel filters whatsmeow's own logging.
	LogLevel string
}

// Factory creates whatsmeow connectors with one credential directory per session.
type Factory struct {
	cfg     FactoryConfig
	log     logger.Logger
	waLevel logger.Level
}

var _ connectors.Factory = (*Factory)(nil)

// NewFactory creates the sessions directory if needed.
func NewFactory(cfg FactoryConfig, log logger.Logger) (*Factory, error) {
	if cfg.SessionsDir == "" {
		return nil, fmt.Errorf("sessions directory is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = 256
	}
	if err := os.MkdirAll(cfg.SessionsDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &Factory{cfg: cfg, log: log, waLevel: logger.ParseLevel(cfg.LogLevel)}, nil
}

func (f *Factory) sessionDir(sessionID string) (string, error) {
	if sessionID == "" || sessionID == "." || sessionID == ".." || filepath.Base(sessionID) != sessionID {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(f.cfg.SessionsDir, sessionID), nil
}

// New returns an uninitialised connector for sessionID.
func (f *Factory) New(sessionID string) (connectors.Connector, error) {
	dir, err := f.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	return newClient(sessionID, filepath.Join(dir, credentialFile), f.cfg.EventBuffer, f.cfg.HistoryLimit, f.log, f.waLevel), nil
}

// List returns the sessions that have a device store on disk, sorted.
func (f *Factory) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.cfg.SessionsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(f.cfg.SessionsDir, e.Name(), credentialFile)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Purge removes the session's credential directory. Purging an absent session succeeds.
func (f *Factory) Purge(_ context.Context, sessionID string) error {
	dir, err := f.sessionDir(sessionID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to purge credentials for %s: %w", sessionID, err)
	}
	return nil
}
