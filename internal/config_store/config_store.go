// Package config_store persists per-session settings: the system instruction
// and whether the session replies in group chats.
package config_store //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/storage_manager"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

// Namespace is the storage namespace holding config records.
const Namespace = "config"

const (
	instructionFile  = "instruction.txt"
	groupRepliesFile = "allow_group_replies.txt"
)

// DefaultInstruction is used when a session has no stored instruction and none is configured.
const DefaultInstruction = "You are a helpful assistant replying to WhatsApp messages. Answer briefly and politely."

var (
	// ErrConfigNotFound means neither record exists for the session.
	ErrConfigNotFound = errors.New("session config not found")
	// ErrPersistence wraps storage failures.
	ErrPersistence = errors.New("config persistence failed")
)

// SessionConfig is the per-session behaviour policy.
type SessionConfig struct {
	SessionID         string `json:"sessionId"`
	SystemInstruction string `json:"systemInstruction"`
	AllowGroupReplies bool   `json:"allowGroupReplies"`
}

// Store reads and writes SessionConfig records through a FileProvider.
type Store struct {
	files              storage_manager.FileProvider
	defaultInstruction string
	log                logger.Logger
}

// New creates a Store over files. An empty defaultInstruction falls back to DefaultInstruction.
func New(files storage_manager.FileProvider, defaultInstruction string, log logger.Logger) (*Store, error) {
	if files == nil {
		return nil, fmt.Errorf("file provider is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if defaultInstruction == "" {
		defaultInstruction = DefaultInstruction
	}
	return &Store{
		files:              files,
		defaultInstruction: defaultInstruction,
		log:                log.WithFields(logger.ComponentField("config_store")),
	}, nil
}

// Defaults returns the config a session gets when nothing is stored.
func (s *Store) Defaults(id string) SessionConfig {
	return SessionConfig{SessionID: id, SystemInstruction: s.defaultInstruction}
}

// Save writes both records for cfg.SessionID.
func (s *Store) Save(ctx context.Context, cfg SessionConfig) error {
	if err := s.files.Write(ctx, path.Join(cfg.SessionID, instructionFile), []byte(cfg.SystemInstruction)); err != nil {
		return fmt.Errorf("%w: write instruction for %s: %v", ErrPersistence, cfg.SessionID, err)
	}
	flag := strconv.FormatBool(cfg.AllowGroupReplies)
	if err := s.files.Write(ctx, path.Join(cfg.SessionID, groupRepliesFile), []byte(flag)); err != nil {
		return fmt.Errorf("%w: write group policy for %s: %v", ErrPersistence, cfg.SessionID, err)
	}
	return nil
}

// Load reads the config for id. A missing record takes its default; when both are
// missing ErrConfigNotFound is returned.
func (s *Store) Load(ctx context.Context, id string) (SessionConfig, error) {
	cfg := s.Defaults(id)

	instruction, foundInstruction, err := s.read(ctx, path.Join(id, instructionFile))
	if err != nil {
		return cfg, err
	}
	flag, foundFlag, err := s.read(ctx, path.Join(id, groupRepliesFile))
	if err != nil {
		return cfg, err
	}
	if !foundInstruction && !foundFlag {
		return cfg, ErrConfigNotFound
	}

	if foundInstruction {
		cfg.SystemInstruction = instruction
	}
	if foundFlag {
		allow, err := strconv.ParseBool(strings.TrimSpace(flag))
		if err != nil {
			s.log.Warn("Unparsable group reply flag, treating as false",
				logger.SessionIDField(id),
				logger.StringField("value", flag))
		}
		cfg.AllowGroupReplies = allow
	}
	return cfg, nil
}

func (s *Store) read(ctx context.Context, p string) (string, bool, error) {
	data, err := s.files.Read(ctx, p)
	if errors.Is(err, storage_manager.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: read %s: %v", ErrPersistence, p, err)
	}
	return string(data), true, nil
}

// Delete removes both records. Deleting an absent config succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	for _, name := range []string{instructionFile, groupRepliesFile} {
		if err := s.files.Delete(ctx, path.Join(id, name)); err != nil {
			return fmt.Errorf("%w: delete %s for %s: %v", ErrPersistence, name, id, err)
		}
	}
	return nil
}

// List returns the ids that have at least one stored record, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	files, err := s.files.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrPersistence, err)
	}
	seen := make(map[string]bool)
	for _, f := range files {
		if id, _, ok := strings.Cut(f, "/"); ok && id != "" {
			seen[id] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
