package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opensource-finance/spendguard/internal/domain"
)

// ErrBlobNotFound is returned by a Remote that does not have a blob.
var ErrBlobNotFound = errors.New("artifact blob not found")

// Remote is where trained bundles are published and downloaded from.
type Remote interface {
	Fetch(ctx context.Context, version, kind string) ([]byte, error)
	Put(ctx context.Context, version, kind string, data []byte) error
	Latest(ctx context.Context) (string, error)
}

// StoreConfig controls version selection and download retries.
type StoreConfig struct {
	// Version pins a bundle; empty selects the remote's latest, or the
	// newest local bundle when the remote has none.
	Version string

	// Retries bounds download attempts per blob.
	Retries int

	// InitialInterval is the first retry delay.
	InitialInterval time.Duration
}

// Store materializes bundles from a remote into a local directory and
// loads them. It holds no loaded state itself.
type Store struct {
	local  *FileStore
	remote Remote
	cfg    StoreConfig
}

// NewStore creates a store. remote may be nil.
func NewStore(local *FileStore, remote Remote, cfg StoreConfig) *Store {
	if cfg.Retries <= 0 {
		cfg.Retries = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	return &Store{local: local, remote: remote, cfg: cfg}
}

// EnsureLoaded downloads the selected bundle if any blob is missing
// locally, then decodes it.
func (s *Store) EnsureLoaded(ctx context.Context) (*Bundle, error) {
	version, err := s.resolveVersion(ctx)
	if err != nil {
		return nil, err
	}

	if !s.local.Has(version) {
		if s.remote == nil {
			return nil, fmt.Errorf("%w: bundle %s not found in %s", domain.ErrArtifactLoad, version, s.local.Dir())
		}
		if err := s.download(ctx, version); err != nil {
			return nil, err
		}
	}

	blobs, err := s.local.Read(version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactLoad, err)
	}
	b, err := Decode(blobs)
	if err != nil {
		return nil, err
	}
	if b.Manifest.Version != version {
		return nil, fmt.Errorf("%w: manifest version %s stored under %s", domain.ErrArtifactLoad, b.Manifest.Version, version)
	}

	slog.Info("model bundle loaded",
		"version", version,
		"rows", b.Manifest.Rows,
		"trees", b.Manifest.NumTrees,
		"cutoff", b.Manifest.Cutoff,
	)
	return b, nil
}

func (s *Store) resolveVersion(ctx context.Context) (string, error) {
	if s.cfg.Version != "" {
		return s.cfg.Version, nil
	}

	if s.remote != nil {
		var version string
		err := s.retry(ctx, func() error {
			v, err := s.remote.Latest(ctx)
			if errors.Is(err, ErrBlobNotFound) {
				return backoff.Permanent(err)
			}
			version = v
			return err
		})
		switch {
		case err == nil:
			return version, nil
		case errors.Is(err, ErrBlobNotFound):
			slog.Warn("no bundle published remotely, using newest local bundle")
		default:
			return "", fmt.Errorf("%w: resolve latest version: %v", domain.ErrArtifactLoad, err)
		}
	}

	versions, err := s.local.Versions()
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrArtifactLoad, err)
	}
	if len(versions) == 0 {
		return "", fmt.Errorf("%w: no bundle in %s", domain.ErrArtifactLoad, s.local.Dir())
	}
	return versions[len(versions)-1], nil
}

func (s *Store) download(ctx context.Context, version string) error {
	start := time.Now()
	for _, kind := range Kinds {
		var data []byte
		err := s.retry(ctx, func() error {
			d, err := s.remote.Fetch(ctx, version, kind)
			if errors.Is(err, ErrBlobNotFound) {
				return backoff.Permanent(err)
			}
			data = d
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: fetch %s/%s: %v", domain.ErrArtifactLoad, version, kind, err)
		}
		if err := s.local.WriteBlob(version, kind, data); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrArtifactLoad, err)
		}
	}

	slog.Info("model bundle downloaded",
		"version", version,
		"dir", s.local.Dir(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (s *Store) retry(ctx context.Context, op func() error) error {
	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = s.cfg.InitialInterval
	strategy.MaxElapsedTime = 0

	bo := backoff.WithContext(backoff.WithMaxRetries(strategy, uint64(s.cfg.Retries-1)), ctx)
	return backoff.RetryNotify(op, bo, func(err error, wait time.Duration) {
		slog.Warn("artifact fetch failed, retrying",
			"error", err,
			"wait_ms", wait.Milliseconds(),
		)
	})
}

// Publish writes a bundle locally and, when a remote is configured, uploads it.
func (s *Store) Publish(ctx context.Context, b *Bundle) error {
	blobs, err := b.Encode()
	if err != nil {
		return err
	}
	version := b.Manifest.Version

	if err := s.local.Write(version, blobs); err != nil {
		return fmt.Errorf("write bundle %s: %w", version, err)
	}

	if s.remote != nil {
		// Manifest last so Latest never points at a partial upload.
		for _, kind := range []string{KindEncoder, KindScaler, KindForest, KindManifest} {
			if err := s.remote.Put(ctx, version, kind, blobs[kind]); err != nil {
				return fmt.Errorf("upload %s/%s: %w", version, kind, err)
			}
		}
	}

	slog.Info("model bundle published",
		"version", version,
		"remote", s.remote != nil,
	)
	return nil
}
