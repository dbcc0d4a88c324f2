package features

import (
	"fmt"
	"math"

	"github.com/opensource-finance/spendguard/internal/domain"
)

// Scaler standardizes each feature with the mean and population standard
// deviation of the training matrix.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// Fit computes per-column parameters. A zero deviation is stored as 1.
func (s *Scaler) Fit(matrix [][]float64) error {
	if len(matrix) == 0 {
		return fmt.Errorf("%w: empty matrix", domain.ErrInsufficientSample)
	}
	dim := len(matrix[0])
	if dim == 0 {
		return fmt.Errorf("%w: zero-width matrix", domain.ErrDimensionMismatch)
	}

	mean := make([]float64, dim)
	for i, row := range matrix {
		if len(row) != dim {
			return fmt.Errorf("%w: row %d has %d features, want %d", domain.ErrDimensionMismatch, i, len(row), dim)
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(matrix))
	for j := range mean {
		mean[j] /= n
	}

	std := make([]float64, dim)
	for _, row := range matrix {
		for j, v := range row {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
		if std[j] == 0 {
			std[j] = 1
		}
	}

	s.Mean, s.Std = mean, std
	return nil
}

// Dim returns the number of features the scaler was fit on.
func (s *Scaler) Dim() int {
	return len(s.Mean)
}

// Transform returns (x - mean) / std for each feature.
func (s *Scaler) Transform(v []float64) ([]float64, error) {
	if len(v) != len(s.Mean) {
		return nil, fmt.Errorf("%w: got %d features, scaler has %d", domain.ErrDimensionMismatch, len(v), len(s.Mean))
	}
	out := make([]float64, len(v))
	for j, x := range v {
		out[j] = (x - s.Mean[j]) / s.Std[j]
	}
	return out, nil
}

// TransformAll transforms every row.
func (s *Scaler) TransformAll(matrix [][]float64) ([][]float64, error) {
	out := make([][]float64, len(matrix))
	for i, row := range matrix {
		scaled, err := s.Transform(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = scaled
	}
	return out, nil
}

// Validate checks parameters restored from an artifact.
func (s *Scaler) Validate() error {
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Std) {
		return fmt.Errorf("%w: scaler has %d means and %d deviations", domain.ErrArtifactLoad, len(s.Mean), len(s.Std))
	}
	for j, sd := range s.Std {
		if !(sd > 0) || math.IsInf(sd, 0) || math.IsNaN(s.Mean[j]) || math.IsInf(s.Mean[j], 0) {
			return fmt.Errorf("%w: scaler feature %d is not finite", domain.ErrArtifactLoad, j)
		}
	}
	return nil
}
