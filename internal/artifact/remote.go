package artifact

import (
	"context"
	"errors"
	"time"

	"github.com/opensource-finance/spendguard/internal/domain"
	"github.com/opensource-finance/spendguard/internal/repository"
)

// RepositoryRemote stores bundle blobs in the model_artifacts table.
type RepositoryRemote struct {
	repo domain.Repository
}

// NewRepositoryRemote wraps repo.
func NewRepositoryRemote(repo domain.Repository) *RepositoryRemote {
	return &RepositoryRemote{repo: repo}
}

// Fetch returns one blob.
func (r *RepositoryRemote) Fetch(ctx context.Context, version, kind string) ([]byte, error) {
	blob, err := r.repo.GetArtifact(ctx, version, kind)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, err
	}
	return blob.Data, nil
}

// Put stores one blob.
func (r *RepositoryRemote) Put(ctx context.Context, version, kind string, data []byte) error {
	return r.repo.SaveArtifact(ctx, &domain.ArtifactBlob{
		Version:   version,
		Kind:      kind,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	})
}

// Latest returns the most recently published version that has a manifest.
func (r *RepositoryRemote) Latest(ctx context.Context) (string, error) {
	v, err := r.repo.LatestArtifactVersion(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrBlobNotFound
	}
	return v, err
}
