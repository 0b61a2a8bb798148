package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Storage backend names.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
	StorageGit   = "git"
)

// StorageConfig selects where per-session configuration records live.
type StorageConfig struct {
	Backend   string `env:"STORAGE_BACKEND" yaml:"backend" default:"local"`
	LocalDir  string `env:"STORAGE_LOCAL_DIR" yaml:"local_dir" default:"./data"`
	S3Bucket  string `env:"STORAGE_S3_BUCKET" yaml:"s3_bucket"`
	S3Prefix  string `env:"STORAGE_S3_PREFIX" yaml:"s3_prefix"`
	S3Region  string `env:"STORAGE_S3_REGION" yaml:"s3_region"`
	S3Profile string `env:"STORAGE_S3_PROFILE" yaml:"s3_profile"`

	GitPath           string        `env:"STORAGE_GIT_PATH" yaml:"git_path"`
	GitRemoteURL      string        `env:"STORAGE_GIT_REMOTE_URL" yaml:"git_remote_url"`
	GitBranch         string        `env:"STORAGE_GIT_BRANCH" yaml:"git_branch" default:"main"`
	GitAuthorName     string        `env:"STORAGE_GIT_AUTHOR_NAME" yaml:"git_author_name" default:"whatsapp-session-gateway"`
	GitAuthorEmail    string        `env:"STORAGE_GIT_AUTHOR_EMAIL" yaml:"git_author_email" default:"gateway@localhost"`
	GitPushDebounce   time.Duration `env:"STORAGE_GIT_PUSH_DEBOUNCE" yaml:"git_push_debounce" default:"5s"`
	GitAuthUsername   string        `env:"STORAGE_GIT_AUTH_USERNAME" yaml:"git_auth_username"`
	GitAuthPassword   string        `env:"STORAGE_GIT_AUTH_PASSWORD" yaml:"-"`
	GitSSHKeyPath     string        `env:"STORAGE_GIT_SSH_KEY_PATH" yaml:"git_ssh_key_path"`
	GitSSHKeyPassword string        `env:"STORAGE_GIT_SSH_KEY_PASSWORD" yaml:"-"`
}

// Validate checks that the selected backend has what it needs.
func (s StorageConfig) Validate() error {
	var result error
	switch s.Backend {
	case StorageLocal:
		if s.LocalDir == "" {
			result = multierror.Append(result, fmt.Errorf("STORAGE_LOCAL_DIR is required for the local backend"))
		}
	case StorageS3:
		if s.S3Bucket == "" {
			result = multierror.Append(result, fmt.Errorf("STORAGE_S3_BUCKET is required for the s3 backend"))
		}
	case StorageGit:
		if s.GitPath == "" {
			result = multierror.Append(result, fmt.Errorf("STORAGE_GIT_PATH is required for the git backend"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("storage backend must be one of [local, s3, git], got %q", s.Backend))
	}
	return result
}
