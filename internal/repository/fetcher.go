// Package repository fetches the Git repository that holds the service
// configuration files.
package repository

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/go-github/v67/github"

	"github.com/OrlandoBitencourt/whydah/internal/domain"
)

// TokenUser is the basic-auth username sent alongside an access token.
// GitHub and most hosted forges ignore it and only look at the password.
const TokenUser = "x-access-token"

// Fetcher abstracts the remote repository.
type Fetcher interface {
	// CheckAccess confirms the repository is reachable with the configured
	// credential. Failures are AccessErrors.
	CheckAccess(ctx context.Context) error

	// Clone materializes the repository tree into dest.
	Clone(ctx context.Context, dest string) error

	// Pull brings an existing clone at dest up to date with the remote.
	Pull(ctx context.Context, dest string) error
}

// GitFetcher implements Fetcher with go-git, using the GitHub API for the
// access check when the repository is hosted on github.com.
type GitFetcher struct {
	url    string
	token  string
	depth  int
	branch string

	httpClient *http.Client
	github     *github.Client
	logger     *slog.Logger

	listRemote func(ctx context.Context, url string, auth transport.AuthMethod) error
}

// Option configures a GitFetcher
type Option func(*GitFetcher)

// WithToken sets the access token used for both the API and Git transport
func WithToken(token string) Option {
	return func(f *GitFetcher) {
		f.token = token
	}
}

// WithDepth limits clone history. Zero means full history.
func WithDepth(depth int) Option {
	return func(f *GitFetcher) {
		f.depth = depth
	}
}

// WithBranch clones and pulls the named branch instead of the remote HEAD
func WithBranch(branch string) Option {
	return func(f *GitFetcher) {
		f.branch = branch
	}
}

// WithHTTPClient sets the client used by the GitHub API access check
func WithHTTPClient(c *http.Client) Option {
	return func(f *GitFetcher) {
		f.httpClient = c
	}
}

// WithGitHubClient overrides the GitHub API client
func WithGitHubClient(c *github.Client) Option {
	return func(f *GitFetcher) {
		f.github = c
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(f *GitFetcher) {
		f.logger = logger
	}
}

// NewGitFetcher creates a fetcher for the repository at url
func NewGitFetcher(url string, opts ...Option) (*GitFetcher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, domain.NewValidationError("repository URL is required")
	}

	f := &GitFetcher{
		url:        url,
		logger:     slog.Default(),
		listRemote: listRemoteRefs,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.depth < 0 {
		return nil, domain.NewValidationError("clone depth must be >= 0")
	}

	if f.github == nil {
		f.github = github.NewClient(f.httpClient)
	}
	if f.token != "" {
		f.github = f.github.WithAuthToken(f.token)
	}

	return f, nil
}

// URL returns the repository URL with credentials removed
func (f *GitFetcher) URL() string {
	return RedactURL(f.url)
}

// Clone implements Fetcher.Clone
func (f *GitFetcher) Clone(ctx context.Context, dest string) error {
	opts := &gogit.CloneOptions{
		URL:          f.url,
		Auth:         f.auth(),
		Depth:        f.depth,
		SingleBranch: true,
	}
	if f.branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(f.branch)
	}

	f.logger.Debug("cloning repository", "url", f.URL(), "dest", dest, "depth", f.depth)

	if _, err := gogit.PlainCloneContext(ctx, dest, false, opts); err != nil {
		return classifyError(err, "failed to clone repository")
	}

	return nil
}

// Pull implements Fetcher.Pull
func (f *GitFetcher) Pull(ctx context.Context, dest string) error {
	repo, err := gogit.PlainOpen(dest)
	if err != nil {
		return classifyError(err, "failed to open working directory")
	}

	wt, err := repo.Worktree()
	if err != nil {
		return classifyError(err, "failed to get worktree")
	}

	opts := &gogit.PullOptions{
		RemoteName:   gogit.DefaultRemoteName,
		Auth:         f.auth(),
		Depth:        f.depth,
		SingleBranch: true,
	}
	if f.branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(f.branch)
	}

	f.logger.Debug("pulling repository", "url", f.URL(), "dest", dest)

	err = wt.PullContext(ctx, opts)
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return classifyError(err, "failed to pull from remote")
	}

	return nil
}

// auth returns the transport credential. Credentials only travel over
// HTTP(S): the configured token wins, otherwise any user info embedded in the
// URL is sent as basic auth.
func (f *GitFetcher) auth() transport.AuthMethod {
	if !isHTTPURL(f.url) {
		return nil
	}
	if f.token != "" {
		return &githttp.BasicAuth{
			Username: TokenUser,
			Password: f.token,
		}
	}

	user, password, ok := urlCredentials(f.url)
	if !ok {
		return nil
	}
	return &githttp.BasicAuth{
		Username: user,
		Password: password,
	}
}

var _ Fetcher = (*GitFetcher)(nil)
