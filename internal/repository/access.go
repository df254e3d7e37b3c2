package repository

import (
	"context"
	"errors"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/google/go-github/v67/github"

	"github.com/OrlandoBitencourt/whydah/internal/domain"
)

const accessDenied = "unable to access repository, check the URL and token"

// CheckAccess implements Fetcher.CheckAccess.
//
// With a token, github.com repositories are checked through the REST API: the
// token itself must authenticate, then the repository must be visible to it.
// Otherwise the remote references are listed, which is also the fallback when
// the API reports a rate limit.
func (f *GitFetcher) CheckAccess(ctx context.Context) error {
	if owner, name, ok := parseGitHubRepo(f.url); ok && f.token != "" {
		err := f.checkGitHub(ctx, owner, name)
		if !errors.Is(err, errRateLimited) {
			return err
		}
		f.logger.Warn("GitHub API rate limit reached, listing remote instead", "url", f.URL())
	}
	return f.checkRemote(ctx)
}

var errRateLimited = errors.New("GitHub API rate limit reached")

func (f *GitFetcher) checkGitHub(ctx context.Context, owner, name string) error {
	if _, resp, err := f.github.Users.Get(ctx, ""); err != nil {
		return githubError(err, resp, "token rejected by GitHub")
	}

	if _, resp, err := f.github.Repositories.Get(ctx, owner, name); err != nil {
		return githubError(err, resp, accessDenied)
	}

	return nil
}

func (f *GitFetcher) checkRemote(ctx context.Context) error {
	err := f.listRemote(ctx, f.url, f.auth())
	if err == nil || errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return nil
	}

	return domain.NewAccessError(accessDenied, err)
}

// listRemoteRefs advertises the references of the remote at url
func listRemoteRefs(ctx context.Context, url string, auth transport.AuthMethod) error {
	remote := gogit.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: gogit.DefaultRemoteName,
		URLs: []string{url},
	})

	_, err := remote.ListContext(ctx, &gogit.ListOptions{Auth: auth})
	return err
}

func githubError(err error, resp *github.Response, message string) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return errRateLimited
	}
	return accessError(err, resp, message)
}

func accessError(err error, resp *github.Response, message string) error {
	accessErr := domain.NewAccessError(message, err)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		status = ghErr.Response.StatusCode
	}
	if status == 0 {
		return accessErr
	}

	return withStatus(accessErr, status)
}
