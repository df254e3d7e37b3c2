package repository

import (
	"errors"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	platformerrors "github.com/jmgilman/go/errors"

	"github.com/OrlandoBitencourt/whydah/internal/domain"
)

// classifyError maps go-git failures onto the domain taxonomy. Credential
// rejections become AccessErrors; everything else is a FetchError whose
// cause carries a narrower code when one is known.
func classifyError(err error, message string) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired):
		return domain.NewAccessError(message, platformerrors.Wrap(err, platformerrors.CodeUnauthorized, "authentication required"))
	case errors.Is(err, transport.ErrAuthorizationFailed):
		return domain.NewAccessError(message, platformerrors.Wrap(err, platformerrors.CodeUnauthorized, "authorization failed"))
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return domain.NewFetchError(message, platformerrors.Wrap(err, platformerrors.CodeNotFound, "repository not found"))
	case errors.Is(err, gogit.ErrRepositoryNotExists):
		return domain.NewFetchError(message, platformerrors.Wrap(err, platformerrors.CodeNotFound, "working directory is not a repository"))
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		return domain.NewFetchError(message, platformerrors.Wrap(err, platformerrors.CodeNotFound, "remote repository is empty"))
	case errors.Is(err, gogit.ErrNonFastForwardUpdate):
		return domain.NewFetchError(message, platformerrors.Wrap(err, platformerrors.CodeConflict, "remote history diverged from local clone"))
	default:
		return domain.NewFetchError(message, err)
	}
}

func withStatus(err error, status int) error {
	return platformerrors.WithContext(err, "status", status)
}
