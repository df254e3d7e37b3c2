// Package repotest builds throwaway Git repositories on disk so tests can
// clone and pull through the real local transport.
package repotest

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// Commit author used for every test commit
const (
	Author = "Test User"
	Email  = "test@example.com"
)

// Source is a non-bare repository acting as the remote
type Source struct {
	t    *testing.T
	repo *gogit.Repository
	wt   *gogit.Worktree

	// Path is the directory to clone from
	Path string
}

// NewSource initializes an empty repository under a temp dir. The local
// transport shells out to git-upload-pack, so the test is skipped when git
// is not installed.
func NewSource(t *testing.T) *Source {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	path := filepath.Join(t.TempDir(), "source")
	repo, err := gogit.PlainInit(path, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	return &Source{t: t, repo: repo, wt: wt, Path: path}
}

// Write creates or replaces files, keyed by slash-separated path, and stages them
func (s *Source) Write(files map[string]string) *Source {
	s.t.Helper()

	for name, content := range files {
		full := filepath.Join(s.Path, filepath.FromSlash(name))
		require.NoError(s.t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(s.t, os.WriteFile(full, []byte(content), 0o644))

		_, err := s.wt.Add(name)
		require.NoError(s.t, err)
	}
	return s
}

// Remove deletes tracked files and stages the removal
func (s *Source) Remove(names ...string) *Source {
	s.t.Helper()

	for _, name := range names {
		_, err := s.wt.Remove(name)
		require.NoError(s.t, err)
	}
	return s
}

// Commit records the staged changes and returns the commit hash
func (s *Source) Commit(message string) string {
	s.t.Helper()

	hash, err := s.wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  Author,
			Email: Email,
			When:  time.Now(),
		},
	})
	require.NoError(s.t, err)

	return hash.String()
}
