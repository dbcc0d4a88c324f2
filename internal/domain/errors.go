package domain

import "errors"

// Error taxonomy shared by the training and serving paths.
var (
	// ErrUnknownCategory is returned when a category was not seen at fit time.
	// Surfaced per item; the item is skipped.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrDimensionMismatch is returned for a feature vector of the wrong width.
	// Fatal to the scoring call.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrArtifactLoad is returned for a corrupt, missing or incompatible bundle.
	// Fatal at service startup.
	ErrArtifactLoad = errors.New("artifact load failed")

	// ErrInsufficientSample is returned for an invalid training configuration.
	ErrInsufficientSample = errors.New("insufficient sample")

	ErrMalformedTimestamp = errors.New("malformed timestamp")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrModelNotLoaded     = errors.New("model not loaded")
	ErrEncoderRefit       = errors.New("encoder already fit with a different mapping")
)
