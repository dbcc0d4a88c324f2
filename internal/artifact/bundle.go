// Package artifact versions, stores and restores the trained encoder,
// scaler and forest as one bundle.
package artifact

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/opensource-finance/spendguard/internal/domain"
	"github.com/opensource-finance/spendguard/internal/features"
	"github.com/opensource-finance/spendguard/internal/forest"
)

// Blob kinds making up a bundle.
const (
	KindManifest = "manifest"
	KindEncoder  = "encoder"
	KindScaler   = "scaler"
	KindForest   = "forest"
)

// Kinds lists every blob a complete bundle has.
var Kinds = []string{KindManifest, KindEncoder, KindScaler, KindForest}

// Manifest describes a bundle.
type Manifest struct {
	Version      string    `json:"version"`
	FeatureOrder []string  `json:"featureOrder"`
	Signature    string    `json:"signature"`
	Timezone     string    `json:"timezone"`
	TrainedAt    time.Time `json:"trainedAt"`
	Rows         int       `json:"rows"`
	NumTrees     int       `json:"numTrees"`
	SampleSize   int       `json:"sampleSize"`
	Cutoff       float64   `json:"cutoff"`
}

// Bundle is a trained model. The three parts are only valid together.
type Bundle struct {
	Manifest Manifest
	Encoder  *features.CategoryEncoder
	Scaler   *features.Scaler
	Forest   *forest.Forest
}

// NewManifest fills the feature contract fields for a freshly trained bundle.
func NewManifest(version, timezone string, rows int, f *forest.Forest) Manifest {
	return Manifest{
		Version:      version,
		FeatureOrder: slices.Clone(features.FeatureNames()),
		Signature:    features.Signature(),
		Timezone:     timezone,
		TrainedAt:    time.Now().UTC(),
		Rows:         rows,
		NumTrees:     f.NumTrees(),
		SampleSize:   f.SampleSize(),
		Cutoff:       f.Cutoff(),
	}
}

// Validate checks that the parts agree with each other and with the
// current feature order.
func (b *Bundle) Validate() error {
	if b.Encoder == nil || b.Scaler == nil || b.Forest == nil {
		return fmt.Errorf("%w: incomplete bundle", domain.ErrArtifactLoad)
	}
	if b.Manifest.Version == "" {
		return fmt.Errorf("%w: bundle has no version", domain.ErrArtifactLoad)
	}
	if b.Manifest.Signature != features.Signature() || !slices.Equal(b.Manifest.FeatureOrder, features.FeatureNames()) {
		return fmt.Errorf("%w: feature order %v does not match extractor %v",
			domain.ErrArtifactLoad, b.Manifest.FeatureOrder, features.FeatureNames())
	}
	if !b.Encoder.Fitted() {
		return fmt.Errorf("%w: encoder is not fitted", domain.ErrArtifactLoad)
	}
	if err := b.Scaler.Validate(); err != nil {
		return err
	}
	if b.Scaler.Dim() != features.NumFeatures || b.Forest.Dim() != features.NumFeatures {
		return fmt.Errorf("%w: scaler has %d features, forest %d, extractor %d",
			domain.ErrArtifactLoad, b.Scaler.Dim(), b.Forest.Dim(), features.NumFeatures)
	}
	return nil
}

// Encode serializes the bundle into one blob per kind.
func (b *Bundle) Encode() (map[string][]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	manifest, err := json.Marshal(b.Manifest)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	encoder, err := json.Marshal(b.Encoder)
	if err != nil {
		return nil, fmt.Errorf("encode encoder: %w", err)
	}
	scaler, err := json.Marshal(b.Scaler)
	if err != nil {
		return nil, fmt.Errorf("encode scaler: %w", err)
	}
	model, err := b.Forest.Save()
	if err != nil {
		return nil, fmt.Errorf("encode forest: %w", err)
	}

	return map[string][]byte{
		KindManifest: manifest,
		KindEncoder:  encoder,
		KindScaler:   scaler,
		KindForest:   model,
	}, nil
}

// Decode restores a bundle. Any missing, corrupt or incompatible part fails
// the whole bundle with domain.ErrArtifactLoad.
func Decode(blobs map[string][]byte) (*Bundle, error) {
	for _, kind := range Kinds {
		if len(blobs[kind]) == 0 {
			return nil, fmt.Errorf("%w: missing %s blob", domain.ErrArtifactLoad, kind)
		}
	}

	var b Bundle
	if err := json.Unmarshal(blobs[KindManifest], &b.Manifest); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %v", domain.ErrArtifactLoad, err)
	}

	b.Encoder = features.NewCategoryEncoder()
	if err := json.Unmarshal(blobs[KindEncoder], b.Encoder); err != nil {
		return nil, fmt.Errorf("%w: decode encoder: %w", domain.ErrArtifactLoad, err)
	}

	b.Scaler = &features.Scaler{}
	if err := json.Unmarshal(blobs[KindScaler], b.Scaler); err != nil {
		return nil, fmt.Errorf("%w: decode scaler: %v", domain.ErrArtifactLoad, err)
	}

	f, err := forest.Load(blobs[KindForest])
	if err != nil {
		return nil, err
	}
	b.Forest = f

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}
