package storage_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/lewisedginton/whatsapp_session_gateway/internal/config"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

// BackendType represents the type of storage backend.
type BackendType string

const (
	BackendLocal BackendType = appconfig.StorageLocal
	BackendS3    BackendType = appconfig.StorageS3
	BackendGit   BackendType = appconfig.StorageGit
)

// Config holds the configuration for the StorageManager.
type Config struct {
	Backend     BackendType
	LocalConfig *LocalConfig
	S3Config    *S3Config
	GitConfig   *GitProviderOptions
}

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	BaseDir string
}

// S3Config holds configuration for S3 storage.
type S3Config struct {
	Bucket string
	Prefix string
	Client *s3.Client
}

// StorageManager hands out namespaced FileProviders over one backend.
type StorageManager struct {
	backend  BackendType
	provider FileProvider
	git      *GitFileProvider
}

// New creates a new StorageManager with the given configuration.
func New(config Config) (*StorageManager, error) {
	m := &StorageManager{backend: config.Backend}

	switch config.Backend {
	case BackendLocal:
		if config.LocalConfig == nil || config.LocalConfig.BaseDir == "" {
			return nil, fmt.Errorf("base directory is required for local backend")
		}
		m.provider = NewLocalFileProvider(config.LocalConfig.BaseDir)

	case BackendS3:
		if config.S3Config == nil || config.S3Config.Bucket == "" {
			return nil, fmt.Errorf("bucket is required for s3 backend")
		}
		if config.S3Config.Client == nil {
			return nil, fmt.Errorf("s3 client is required for s3 backend")
		}
		m.provider = NewS3FileProvider(config.S3Config.Bucket, config.S3Config.Prefix, NewAWSS3Client(config.S3Config.Client))

	case BackendGit:
		if config.GitConfig == nil {
			return nil, fmt.Errorf("git config is required for git backend")
		}
		g, err := NewGitFileProvider(*config.GitConfig)
		if err != nil {
			return nil, err
		}
		m.provider, m.git = g, g

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Backend)
	}

	return m, nil
}

// FromAppConfig builds a StorageManager from the application's storage settings,
// loading AWS credentials from the default chain for the s3 backend.
func FromAppConfig(ctx context.Context, cfg appconfig.StorageConfig, log logger.Logger) (*StorageManager, error) {
	config := Config{Backend: BackendType(cfg.Backend)}

	switch config.Backend {
	case BackendLocal:
		config.LocalConfig = &LocalConfig{BaseDir: cfg.LocalDir}
	case BackendS3:
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.S3Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
		}
		if cfg.S3Profile != "" {
			opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.S3Profile))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		config.S3Config = &S3Config{Bucket: cfg.S3Bucket, Prefix: cfg.S3Prefix, Client: s3.NewFromConfig(awsCfg)}
	case BackendGit:
		config.GitConfig = &GitProviderOptions{
			Path:           cfg.GitPath,
			AuthorName:     cfg.GitAuthorName,
			AuthorEmail:    cfg.GitAuthorEmail,
			InitIfMissing:  true,
			RemoteURL:      cfg.GitRemoteURL,
			Branch:         cfg.GitBranch,
			PushDebounce:   cfg.GitPushDebounce,
			AuthUsername:   cfg.GitAuthUsername,
			AuthPassword:   cfg.GitAuthPassword,
			SSHKeyPath:     cfg.GitSSHKeyPath,
			SSHKeyPassword: cfg.GitSSHKeyPassword,
			Logger:         log,
		}
	}

	m, err := New(config)
	if err != nil {
		return nil, err
	}
	log.Info("Storage backend ready", logger.StringField("backend", cfg.Backend))
	return m, nil
}

// NewWithProvider wraps a custom FileProvider, mainly for tests.
func NewWithProvider(provider FileProvider) *StorageManager {
	return &StorageManager{provider: provider}
}

// GetProvider returns a FileProvider scoped to namespace.
func (m *StorageManager) GetProvider(namespace string) FileProvider {
	if namespace == "" {
		return m.provider
	}
	return NewPrefixedFileProvider(m.provider, namespace)
}

// Backend returns the configured backend type.
func (m *StorageManager) Backend() BackendType {
	return m.backend
}

// Ping checks that the backend answers a cheap query.
func (m *StorageManager) Ping(ctx context.Context) error {
	_, err := m.provider.Exists(ctx, ".ping")
	return err
}

// Close flushes backends that buffer work.
func (m *StorageManager) Close(ctx context.Context) error {
	if m.git != nil {
		return m.git.Close(ctx)
	}
	return nil
}
