package config_store //nolint:revive // var-naming: using underscores for domain clarity

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/storage_manager"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

func newTestStore(t *testing.T) (*Store, storage_manager.FileProvider) {
	t.Helper()
	files := storage_manager.NewWithProvider(storage_manager.NewLocalFileProvider(t.TempDir())).GetProvider(Namespace)
	s, err := New(files, "", logger.NewNopLogger())
	require.NoError(t, err)
	return s, files
}

func TestNew(t *testing.T) {
	_, err := New(nil, "", logger.NewNopLogger())
	assert.Error(t, err)

	s, err := New(storage_manager.NewLocalFileProvider(t.TempDir()), "custom", logger.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, "custom", s.Defaults("x").SystemInstruction)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, files := newTestStore(t)

	tests := []SessionConfig{
		{SessionID: "shop", SystemInstruction: "Sell shoes.\nBe kind.  ", AllowGroupReplies: true},
		{SessionID: "support", SystemInstruction: "", AllowGroupReplies: false},
	}
	for _, cfg := range tests {
		require.NoError(t, s.Save(ctx, cfg))
		got, err := s.Load(ctx, cfg.SessionID)
		require.NoError(t, err)
		assert.Equal(t, cfg, got)
	}

	raw, err := files.Read(ctx, "shop/allow_group_replies.txt")
	require.NoError(t, err)
	assert.Equal(t, "true", string(raw))
	raw, err = files.Read(ctx, "shop/instruction.txt")
	require.NoError(t, err)
	assert.Equal(t, "Sell shoes.\nBe kind.  ", string(raw))
}

func TestLoadPartialAndMissing(t *testing.T) {
	ctx := context.Background()
	s, files := newTestStore(t)

	_, err := s.Load(ctx, "nobody")
	assert.ErrorIs(t, err, ErrConfigNotFound)

	require.NoError(t, files.Write(ctx, "flag-only/allow_group_replies.txt", []byte("true\n")))
	cfg, err := s.Load(ctx, "flag-only")
	require.NoError(t, err)
	assert.Equal(t, DefaultInstruction, cfg.SystemInstruction)
	assert.True(t, cfg.AllowGroupReplies)

	require.NoError(t, files.Write(ctx, "instr-only/instruction.txt", []byte("hello")))
	cfg, err = s.Load(ctx, "instr-only")
	require.NoError(t, err)
	assert.Equal(t, "hello", cfg.SystemInstruction)
	assert.False(t, cfg.AllowGroupReplies)
}

func TestLoadUnparsableFlag(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	files := storage_manager.NewLocalFileProvider(t.TempDir())
	s, err := New(files, "", logger.NewLogger(logger.Config{Level: logger.DebugLevel, Format: "json", Output: &buf}))
	require.NoError(t, err)

	require.NoError(t, files.Write(ctx, "s/allow_group_replies.txt", []byte("maybe")))
	cfg, err := s.Load(ctx, "s")
	require.NoError(t, err)
	assert.False(t, cfg.AllowGroupReplies)
	assert.Contains(t, buf.String(), "Unparsable group reply flag")
}

func TestDeleteAndList(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Save(ctx, SessionConfig{SessionID: "b"}))
	require.NoError(t, s.Save(ctx, SessionConfig{SessionID: "a"}))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))

	_, err = s.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrConfigNotFound)
	ids, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

type failingProvider struct{ storage_manager.FileProvider }

func (failingProvider) Write(context.Context, string, []byte) error { return errors.New("disk full") }
func (failingProvider) Read(context.Context, string) ([]byte, error) {
	return nil, errors.New("io error")
}
func (failingProvider) Delete(context.Context, string) error { return errors.New("io error") }

func TestPersistenceErrors(t *testing.T) {
	ctx := context.Background()
	s, err := New(failingProvider{}, "", logger.NewNopLogger())
	require.NoError(t, err)

	assert.ErrorIs(t, s.Save(ctx, SessionConfig{SessionID: "x"}), ErrPersistence)
	assert.ErrorIs(t, s.Delete(ctx, "x"), ErrPersistence)
	_, err = s.Load(ctx, "x")
	assert.ErrorIs(t, err, ErrPersistence)
}
