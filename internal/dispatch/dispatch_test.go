package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/config_store"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/connectors"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

type staticConfigs map[string]config_store.SessionConfig

func (s staticConfigs) SessionConfig(id string) (config_store.SessionConfig, bool) {
	cfg, ok := s[id]
	return cfg, ok
}

type sentText struct {
	chatID string
	text   string
}

type fakeConnector struct {
	connectors.Connector

	mu          sync.Mutex
	sent        []sentText
	sendErr     error
	downloadErr error
	// downloadDelay simulates slow media servers.
	downloadDelay time.Duration
	downloads     []string
}

func (c *fakeConnector) SendText(_ context.Context, chatID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, sentText{chatID: chatID, text: text})
	return nil
}

func (c *fakeConnector) DownloadMedia(_ context.Context, _ connectors.Message, destPath string) error {
	if c.downloadDelay > 0 {
		time.Sleep(c.downloadDelay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downloads = append(c.downloads, destPath)
	if c.downloadErr != nil {
		return c.downloadErr
	}
	return os.WriteFile(destPath, []byte("OggS"), 0o600)
}

func (c *fakeConnector) sentTexts() []sentText {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentText(nil), c.sent...)
}

type fakeCompleter struct {
	reply string
	err   error

	mu           sync.Mutex
	instructions []string
}

func (f *fakeCompleter) Complete(_ context.Context, text, instruction string) (string, error) {
	f.mu.Lock()
	f.instructions = append(f.instructions, instruction)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.reply != "" {
		return f.reply, nil
	}
	return "echo: " + text, nil
}

type fakeTranscriber struct {
	reply string
	err   error

	gotPath        string
	gotInstruction string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audioPath, instruction string) (string, error) {
	f.gotPath = audioPath
	f.gotInstruction = instruction
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeTranscoder struct {
	err error
}

func (f *fakeTranscoder) Convert(_ context.Context, src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, []byte("ID3"), 0o600)
}

type testEnv struct {
	d           *Dispatcher
	conn        *fakeConnector
	completer   *fakeCompleter
	transcriber *fakeTranscriber
	transcoder  *fakeTranscoder
	tempDir     string
}

func setupTestDispatcher(t *testing.T, configs staticConfigs, cleanupDelay time.Duration) *testEnv {
	t.Helper()
	env := &testEnv{
		conn:        &fakeConnector{},
		completer:   &fakeCompleter{},
		transcriber: &fakeTranscriber{reply: "Your order of two pizzas is confirmed."},
		transcoder:  &fakeTranscoder{},
		tempDir:     filepath.Join(t.TempDir(), "audio"),
	}
	d, err := New(Config{
		Configs:      configs,
		Completer:    env.completer,
		Transcriber:  env.transcriber,
		Transcoder:   env.transcoder,
		Logger:       logger.NewNopLogger(),
		FallbackText: "fallback",
		TempDir:      env.tempDir,
		CleanupDelay: cleanupDelay,
	})
	require.NoError(t, err)
	t.Cleanup(d.Close)
	env.d = d
	return env
}

func defaultConfigs() staticConfigs {
	return staticConfigs{
		"shop": {SessionID: "shop", SystemInstruction: "Sell shoes."},
	}
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNew_RequiresDependencies(t *testing.T) {
	base := Config{
		Configs:     staticConfigs{},
		Completer:   &fakeCompleter{},
		Transcriber: &fakeTranscriber{},
		Transcoder:  &fakeTranscoder{},
		Logger:      logger.NewNopLogger(),
		TempDir:     t.TempDir(),
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"config source", func(c *Config) { c.Configs = nil }},
		{"completer", func(c *Config) { c.Completer = nil }},
		{"transcriber", func(c *Config) { c.Transcriber = nil }},
		{"transcoder", func(c *Config) { c.Transcoder = nil }},
		{"logger", func(c *Config) { c.Logger = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}

	d, err := New(base)
	require.NoError(t, err)
	assert.Equal(t, DefaultFallbackText, d.fallbackText)
	assert.Equal(t, DefaultCleanupDelay, d.cleanupDelay)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		msg  connectors.Message
		want Kind
	}{
		{"text", connectors.Message{Body: "hello"}, KindText},
		{"whitespace", connectors.Message{Body: "  \n"}, KindOther},
		{"voice", connectors.Message{Voice: true}, KindVoice},
		{"voice with caption", connectors.Message{Voice: true, Body: "listen"}, KindVoice},
		{"image without caption", connectors.Message{MediaMimeType: "image/jpeg"}, KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.msg))
		})
	}
}

func TestHandle_TextReply(t *testing.T) {
	env := setupTestDispatcher(t, defaultConfigs(), time.Minute)

	env.d.Handle(context.Background(), "shop", env.conn, connectors.Message{ID: "1", ChatID: "123@s.whatsapp.net", Body: "hi"})

	assert.Equal(t, []sentText{{chatID: "123@s.whatsapp.net", text: "echo: hi"}}, env.conn.sentTexts())
	assert.Equal(t, []string{"Sell shoes."}, env.completer.instructions)
}

func TestHandle_CompletionFailureSendsFallback(t *testing.T) {
	tests := []struct {
		name      string
		completer *fakeCompleter
	}{
		{"error", &fakeCompleter{err: errors.New("quota exceeded")}},
		{"empty reply", &fakeCompleter{reply: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestDispatcher(t, defaultConfigs(), time.Minute)
			env.d.completer = tt.completer

			env.d.Handle(context.Background(), "shop", env.conn, connectors.Message{ChatID: "c", Body: "hi"})

			assert.Equal(t, []sentText{{chatID: "c", text: "fallback"}}, env.conn.sentTexts())
		})
	}
}

func TestHandle_SendFailureIsContained(t *testing.T) {
	env := setupTestDispatcher(t, defaultConfigs(), time.Minute)
	env.conn.sendErr = errors.New("not connected")

	assert.NotPanics(t, func() {
		env.d.Handle(context.Background(), "shop", env.conn, connectors.Message{ChatID: "c", Body: "hi"})
	})
	assert.Empty(t, env.conn.sentTexts())
}

func TestHandle_Gates(t *testing.T) {
	configs := staticConfigs{
		"groups-on":  {SessionID: "groups-on", AllowGroupReplies: true},
		"groups-off": {SessionID: "groups-off", AllowGroupReplies: false},
		// zero value, as produced for a session without a stored flag
		"groups-absent": {SessionID: "groups-absent"},
	}
	tests := []struct {
		name      string
		sessionID string
		msg       connectors.Message
		replied   bool
	}{
		{"group allowed", "groups-on", connectors.Message{ChatID: "g@g.us", Body: "hi", IsGroup: true}, true},
		{"group disallowed", "groups-off", connectors.Message{ChatID: "g@g.us", Body: "hi", IsGroup: true}, false},
		{"group policy absent", "groups-absent", connectors.Message{ChatID: "g@g.us", Body: "hi", IsGroup: true}, false},
		{"direct with groups off", "groups-off", connectors.Message{ChatID: "u@s.whatsapp.net", Body: "hi"}, true},
		{"unknown session", "ghost", connectors.Message{ChatID: "u@s.whatsapp.net", Body: "hi"}, false},
		{"own message", "groups-on", connectors.Message{ChatID: "u@s.whatsapp.net", Body: "hi", FromMe: true}, false},
		{"status broadcast", "groups-on", connectors.Message{ChatID: "status@broadcast", Body: "hi", IsStatus: true}, false},
		{"sticker", "groups-on", connectors.Message{ChatID: "u@s.whatsapp.net", MediaMimeType: "image/webp"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestDispatcher(t, configs, time.Minute)
			env.d.Handle(context.Background(), tt.sessionID, env.conn, tt.msg)
			assert.Equal(t, tt.replied, len(env.conn.sentTexts()) == 1)
		})
	}
}

func TestHandle_VoiceReplyAndCleanup(t *testing.T) {
	env := setupTestDispatcher(t, defaultConfigs(), 50*time.Millisecond)

	env.d.Handle(context.Background(), "shop", env.conn, connectors.Message{ChatID: "c", Voice: true, MediaMimeType: "audio/ogg; codecs=opus"})

	assert.Equal(t, []sentText{{chatID: "c", text: "Your order of two pizzas is confirmed."}}, env.conn.sentTexts())
	assert.True(t, strings.HasSuffix(env.transcriber.gotPath, ".mp3"))
	assert.True(t, strings.HasPrefix(filepath.Base(env.transcriber.gotPath), "voice_shop_"))
	assert.Equal(t, "Sell shoes.", env.transcriber.gotInstruction)
	assert.Len(t, tempFiles(t, env.tempDir), 2)

	assert.Eventually(t, func() bool { return len(tempFiles(t, env.tempDir)) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandle_SlowVoiceNoteStillCleanedUp(t *testing.T) {
	env := setupTestDispatcher(t, defaultConfigs(), 50*time.Millisecond)
	env.conn.downloadDelay = 150 * time.Millisecond

	env.d.Handle(context.Background(), "shop", env.conn, connectors.Message{ChatID: "c", Voice: true})

	require.Len(t, env.conn.sentTexts(), 1)
	assert.Len(t, tempFiles(t, env.tempDir), 2)
	assert.Eventually(t, func() bool { return len(tempFiles(t, env.tempDir)) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandle_VoiceFailuresDropMessage(t *testing.T) {
	tests := []struct {
		name  string
		setup func(env *testEnv)
	}{
		{"download", func(env *testEnv) { env.conn.downloadErr = errors.New("media expired") }},
		{"transcode", func(env *testEnv) { env.transcoder.err = errors.New("ffmpeg exited with status 1") }},
		{"transcription", func(env *testEnv) { env.transcriber.err = errors.New("upload rejected") }},
		{"empty transcription", func(env *testEnv) { env.transcriber.reply = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestDispatcher(t, defaultConfigs(), 50*time.Millisecond)
			tt.setup(env)

			env.d.Handle(context.Background(), "shop", env.conn, connectors.Message{ChatID: "c", Voice: true})

			assert.Empty(t, env.conn.sentTexts())
			assert.Eventually(t, func() bool { return len(tempFiles(t, env.tempDir)) == 0 }, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestHandle_VoiceTooLarge(t *testing.T) {
	env := setupTestDispatcher(t, defaultConfigs(), time.Minute)
	env.d.maxAudioBytes = 1024

	env.d.Handle(context.Background(), "shop", env.conn, connectors.Message{ChatID: "c", Voice: true, MediaSize: 4096})

	assert.Empty(t, env.conn.downloads)
	assert.Empty(t, env.conn.sentTexts())
}

func TestClose_RemovesPendingFiles(t *testing.T) {
	env := setupTestDispatcher(t, defaultConfigs(), time.Hour)

	env.d.Handle(context.Background(), "shop", env.conn, connectors.Message{ChatID: "c", Voice: true})
	require.Len(t, tempFiles(t, env.tempDir), 2)

	env.d.Close()
	assert.Empty(t, tempFiles(t, env.tempDir))
}
