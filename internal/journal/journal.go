// Package journal keeps the history of a repository directory as git commits.
//
// It uses go-git, so no git binary is needed.
package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ignored keeps temporary files out of the commits.
const ignored = "*.tmp\n"

// Commit is one recorded change.
type Commit struct {
	Hash    string
	Message string
	Author  string
	When    time.Time
}

// Journal commits every change of a directory tree.
type Journal struct {
	dir   string
	name  string
	email string
	mu    sync.Mutex
	repo  *gogit.Repository
}

// Open opens the git repository at dir, initializing it if needed.
func Open(_ context.Context, dir, name, email string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		// Not a repo yet, initialize it.
		repo, err = gogit.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = name
		cfg.User.Email = email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}
	gi := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gi); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(gi, []byte(ignored), 0o644); err != nil { //nolint:gosec // G306: not a secret.
			return nil, fmt.Errorf("failed to write .gitignore: %w", err)
		}
	}
	return &Journal{dir: dir, name: name, email: email, repo: repo}, nil
}

// Dir returns the journaled directory.
func (j *Journal) Dir() string {
	return j.dir
}

// Record stages every change of the tree and commits it with msg. Nothing is
// committed when the tree is clean.
func (j *Journal) Record(ctx context.Context, msg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	w, err := j.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := w.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return fmt.Errorf("failed to stage files: %w", err)
	}
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	sig := &object.Signature{Name: j.name, Email: j.email, When: time.Now()}
	if _, err := w.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// History returns up to n commits, most recent first. A journal without
// commits has no history.
func (j *Journal) History(_ context.Context, n int) ([]Commit, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	iter, err := j.repo.Log(&gogit.LogOptions{})
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()
	var out []Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		out = append(out, Commit{
			Hash:    c.Hash.String(),
			Message: subject,
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
	}
	return out, nil
}
