package storage_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) GetObject(_ context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (f *fakeS3) PutObject(_ context.Context, bucket, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = data
	return nil
}

func (f *fakeS3) HeadObject(_ context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[bucket+"/"+key]; !ok {
		return ErrNotFound
	}
	return nil
}

func (f *fakeS3) DeleteObject(_ context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, bucket+"/"+key)
	return nil
}

func (f *fakeS3) ListObjects(_ context.Context, bucket, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if key, ok := strings.CutPrefix(k, bucket+"/"); ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func providers(t *testing.T) map[string]FileProvider {
	t.Helper()
	return map[string]FileProvider{
		"local": NewLocalFileProvider(t.TempDir()),
		"s3":    NewS3FileProvider("bucket", "gateway", newFakeS3()),
		"git":   createTestGitProvider(t),
	}
}

func TestFileProviderContract(t *testing.T) {
	ctx := context.Background()

	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := p.Read(ctx, "missing.txt")
			assert.ErrorIs(t, err, ErrNotFound)

			exists, err := p.Exists(ctx, "a/one.txt")
			require.NoError(t, err)
			assert.False(t, exists)

			require.NoError(t, p.Write(ctx, "a/one.txt", []byte("1")))
			require.NoError(t, p.Write(ctx, "a/two.txt", []byte("2")))
			require.NoError(t, p.Write(ctx, "b/three.txt", []byte("3")))

			data, err := p.Read(ctx, "a/one.txt")
			require.NoError(t, err)
			assert.Equal(t, "1", string(data))

			files, err := p.List(ctx, "a")
			require.NoError(t, err)
			sort.Strings(files)
			assert.Equal(t, []string{"a/one.txt", "a/two.txt"}, files)

			require.NoError(t, p.Delete(ctx, "a/one.txt"))
			require.NoError(t, p.Delete(ctx, "a/one.txt"))
			exists, err = p.Exists(ctx, "a/one.txt")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestPrefixedFileProvider(t *testing.T) {
	ctx := context.Background()
	root := NewLocalFileProvider(t.TempDir())
	m := NewWithProvider(root)

	cfg := m.GetProvider("config")
	require.NoError(t, cfg.Write(ctx, "s1/instruction.txt", []byte("hi")))

	exists, err := root.Exists(ctx, "config/s1/instruction.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	files, err := cfg.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1/instruction.txt"}, files)

	other := m.GetProvider("other")
	files, err = other.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "local", config: Config{Backend: BackendLocal, LocalConfig: &LocalConfig{BaseDir: t.TempDir()}}},
		{name: "local without dir", config: Config{Backend: BackendLocal}, wantErr: true},
		{name: "s3 without client", config: Config{Backend: BackendS3, S3Config: &S3Config{Bucket: "b"}}, wantErr: true},
		{name: "git", config: Config{Backend: BackendGit, GitConfig: &GitProviderOptions{Path: t.TempDir() + "/repo", InitIfMissing: true}}},
		{name: "git without config", config: Config{Backend: BackendGit}, wantErr: true},
		{name: "unknown", config: Config{Backend: "ftp"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.config.Backend, m.Backend())
			assert.NoError(t, m.Ping(context.Background()))
			assert.NoError(t, m.Close(context.Background()))
		})
	}
}
