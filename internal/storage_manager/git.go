package storage_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

const defaultPushDebounce = 5 * time.Second

// GitProviderOptions holds options for creating a GitFileProvider.
type GitProviderOptions struct {
	Path        string
	AuthorName  string
	AuthorEmail string
	// InitIfMissing initializes (or clones RemoteURL into) Path when no repository exists.
	InitIfMissing bool

	RemoteURL      string
	Branch         string
	PushDebounce   time.Duration
	AuthUsername   string
	AuthPassword   string
	SSHKeyPath     string
	SSHKeyPassword string

	Logger logger.Logger
}

// GitFileProvider stores files in a git working tree. Every write and delete is
// a commit; with a remote configured, commits are pushed after a quiet period.
type GitFileProvider struct {
	repoPath    string
	repo        *git.Repository
	authorName  string
	authorEmail string
	branch      string
	auth        transport.AuthMethod
	hasRemote   bool
	debounce    time.Duration
	log         logger.Logger

	mu        sync.Mutex
	pushTimer *time.Timer
	pending   bool
}

// NewGitFileProvider opens, initialises or clones the repository at opts.Path.
func NewGitFileProvider(opts GitProviderOptions) (*GitFileProvider, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("repository path is required")
	}

	p := &GitFileProvider{
		repoPath:    opts.Path,
		authorName:  opts.AuthorName,
		authorEmail: opts.AuthorEmail,
		branch:      opts.Branch,
		hasRemote:   opts.RemoteURL != "",
		debounce:    opts.PushDebounce,
		log:         opts.Logger,
	}
	if p.authorName == "" {
		p.authorName = "whatsapp-session-gateway"
	}
	if p.authorEmail == "" {
		p.authorEmail = "gateway@localhost"
	}
	if p.branch == "" {
		p.branch = "main"
	}
	if p.debounce <= 0 {
		p.debounce = defaultPushDebounce
	}
	if p.log == nil {
		p.log = logger.NewNopLogger()
	}
	p.log = p.log.WithFields(logger.ComponentField("git_storage"))

	auth, err := gitAuth(opts)
	if err != nil {
		return nil, err
	}
	p.auth = auth

	repo, err := git.PlainOpen(opts.Path)
	switch {
	case err == nil:
	case errors.Is(err, git.ErrRepositoryNotExists) && opts.InitIfMissing:
		repo, err = p.create(opts.RemoteURL)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}
	p.repo = repo
	return p, nil
}

func gitAuth(opts GitProviderOptions) (transport.AuthMethod, error) {
	switch {
	case opts.SSHKeyPath != "":
		keys, err := gitssh.NewPublicKeysFromFile("git", opts.SSHKeyPath, opts.SSHKeyPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to load ssh key: %w", err)
		}
		return keys, nil
	case opts.AuthUsername != "" || opts.AuthPassword != "":
		return &githttp.BasicAuth{Username: opts.AuthUsername, Password: opts.AuthPassword}, nil
	default:
		return nil, nil
	}
}

// create clones the remote when there is one, falling back to a fresh repository
// for empty remotes.
func (p *GitFileProvider) create(remoteURL string) (*git.Repository, error) {
	if err := os.MkdirAll(p.repoPath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create repository directory: %w", err)
	}
	ref := plumbing.NewBranchReferenceName(p.branch)

	if remoteURL != "" {
		repo, err := git.PlainClone(p.repoPath, false, &git.CloneOptions{
			URL:           remoteURL,
			Auth:          p.auth,
			ReferenceName: ref,
			SingleBranch:  true,
		})
		if err == nil {
			return repo, nil
		}
		if !errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return nil, fmt.Errorf("failed to clone %s: %w", remoteURL, err)
		}
	}

	repo, err := git.PlainInitWithOptions(p.repoPath, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: ref},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize git repository: %w", err)
	}
	if remoteURL != "" {
		if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{Name: git.DefaultRemoteName, URLs: []string{remoteURL}}); err != nil {
			return nil, fmt.Errorf("failed to add remote: %w", err)
		}
	}
	return repo, nil
}

func (p *GitFileProvider) fullPath(path string) string {
	return filepath.Join(p.repoPath, filepath.FromSlash(path))
}

// Read reads a file from the git working tree.
func (p *GitFileProvider) Read(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(p.fullPath(path)) //nolint:gosec // G304: Path is constructed from trusted repoPath
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return data, err
}

// Write writes data to a file and commits the change.
func (p *GitFileProvider) Write(_ context.Context, path string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := writeFile(p.fullPath(path), data); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	wt, err := p.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if _, err := wt.Add(path); err != nil {
		return fmt.Errorf("failed to stage file: %w", err)
	}
	return p.commit(wt, "Update "+path)
}

// Exists checks if a file exists in the working tree.
func (p *GitFileProvider) Exists(_ context.Context, path string) (bool, error) {
	return fileExists(p.fullPath(path))
}

// Delete removes a file and commits the deletion.
func (p *GitFileProvider) Delete(_ context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	exists, err := fileExists(p.fullPath(path))
	if err != nil || !exists {
		return err
	}
	if err := os.Remove(p.fullPath(path)); err != nil {
		return fmt.Errorf("failed to remove file: %w", err)
	}

	wt, err := p.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if _, err := wt.Remove(path); err != nil {
		if errors.Is(err, index.ErrEntryNotFound) {
			return nil
		}
		return fmt.Errorf("failed to stage deletion: %w", err)
	}
	return p.commit(wt, "Delete "+path)
}

// List returns files matching a prefix in the working tree, skipping .git.
func (p *GitFileProvider) List(_ context.Context, prefix string) ([]string, error) {
	return walkFiles(p.repoPath, prefix, map[string]bool{".git": true})
}

// commit must be called with p.mu held.
func (p *GitFileProvider) commit(wt *git.Worktree, msg string) error {
	_, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: p.authorName, Email: p.authorEmail, When: time.Now()},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	p.schedulePush()
	return nil
}

// schedulePush must be called with p.mu held.
func (p *GitFileProvider) schedulePush() {
	if !p.hasRemote {
		return
	}
	p.pending = true
	if p.pushTimer != nil {
		p.pushTimer.Stop()
	}
	p.pushTimer = time.AfterFunc(p.debounce, func() {
		if err := p.Flush(context.Background()); err != nil {
			p.log.Error("Failed to push config repository", logger.ErrorField(err))
		}
	})
}

// Flush pushes pending commits immediately.
func (p *GitFileProvider) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.pending {
		return nil
	}
	if p.pushTimer != nil {
		p.pushTimer.Stop()
		p.pushTimer = nil
	}

	ref := plumbing.NewBranchReferenceName(p.branch)
	err := p.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: git.DefaultRemoteName,
		Auth:       p.auth,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(ref + ":" + ref)},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to push: %w", err)
	}
	p.pending = false
	p.log.Debug("Pushed config repository", logger.StringField("branch", p.branch))
	return nil
}

// Close flushes any pending push.
func (p *GitFileProvider) Close(ctx context.Context) error {
	return p.Flush(ctx)
}
