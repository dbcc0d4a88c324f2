package features

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/spendguard/internal/domain"
)

func fittedEncoder(t *testing.T) *CategoryEncoder {
	t.Helper()
	enc := NewCategoryEncoder()
	require.NoError(t, enc.Fit([]string{"Rent", "Food", "Transport", "Food", "Bills", "Rent"}))
	return enc
}

func TestCategoryEncoder(t *testing.T) {
	t.Run("SortedCodes", func(t *testing.T) {
		enc := fittedEncoder(t)
		assert.Equal(t, []string{"Bills", "Food", "Rent", "Transport"}, enc.Classes())

		code, err := enc.Encode("Bills")
		require.NoError(t, err)
		assert.Equal(t, 0, code)

		code, err = enc.Encode("Transport")
		require.NoError(t, err)
		assert.Equal(t, 3, code)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		enc := fittedEncoder(t)
		for _, c := range enc.Classes() {
			code, err := enc.Encode(c)
			require.NoError(t, err)
			got, err := enc.Decode(code)
			require.NoError(t, err)
			assert.Equal(t, c, got)
		}
	})

	t.Run("UnknownCategory", func(t *testing.T) {
		enc := fittedEncoder(t)
		_, err := enc.Encode("Casino")
		assert.ErrorIs(t, err, domain.ErrUnknownCategory)

		_, err = enc.Decode(99)
		assert.ErrorIs(t, err, domain.ErrUnknownCategory)
	})

	t.Run("Refit", func(t *testing.T) {
		enc := fittedEncoder(t)
		assert.NoError(t, enc.Fit([]string{"Transport", "Bills", "Rent", "Food"}))
		assert.ErrorIs(t, enc.Fit([]string{"Food", "Rent"}), domain.ErrEncoderRefit)
	})

	t.Run("Empty", func(t *testing.T) {
		assert.ErrorIs(t, NewCategoryEncoder().Fit(nil), domain.ErrInsufficientSample)
	})

	t.Run("JSON", func(t *testing.T) {
		enc := fittedEncoder(t)
		data, err := json.Marshal(enc)
		require.NoError(t, err)

		restored := NewCategoryEncoder()
		require.NoError(t, json.Unmarshal(data, restored))
		assert.Equal(t, enc.Classes(), restored.Classes())
		assert.True(t, restored.Fitted())

		err = json.Unmarshal([]byte(`{"classes":["b","a"]}`), NewCategoryEncoder())
		assert.ErrorIs(t, err, domain.ErrArtifactLoad)
	})
}

func TestScaler(t *testing.T) {
	matrix := [][]float64{
		{1, 10, 5},
		{2, 20, 5},
		{3, 30, 5},
		{4, 40, 5},
	}

	t.Run("StandardizesTrainingMatrix", func(t *testing.T) {
		var s Scaler
		require.NoError(t, s.Fit(matrix))

		scaled, err := s.TransformAll(matrix)
		require.NoError(t, err)

		for j := 0; j < 2; j++ {
			var mean, sq float64
			for _, row := range scaled {
				mean += row[j]
			}
			mean /= float64(len(scaled))
			for _, row := range scaled {
				sq += (row[j] - mean) * (row[j] - mean)
			}
			assert.InDelta(t, 0, mean, 1e-9)
			assert.InDelta(t, 1, math.Sqrt(sq/float64(len(scaled))), 1e-9)
		}
	})

	t.Run("ZeroDeviationGuarded", func(t *testing.T) {
		var s Scaler
		require.NoError(t, s.Fit(matrix))
		assert.Equal(t, 1.0, s.Std[2])

		v, err := s.Transform([]float64{2.5, 25, 5})
		require.NoError(t, err)
		assert.Equal(t, 0.0, v[2])
		assert.False(t, math.IsNaN(v[2]))
	})

	t.Run("UsesTrainingParameters", func(t *testing.T) {
		var train, other Scaler
		require.NoError(t, train.Fit(matrix))
		require.NoError(t, other.Fit([][]float64{{100, 0, 1}, {200, 1, 2}}))

		a, err := train.Transform([]float64{4, 40, 5})
		require.NoError(t, err)
		b, err := other.Transform([]float64{4, 40, 5})
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
		assert.InDelta(t, (4-2.5)/math.Sqrt(1.25), a[0], 1e-12)
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		var s Scaler
		require.NoError(t, s.Fit(matrix))
		_, err := s.Transform([]float64{1, 2})
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

		assert.ErrorIs(t, s.Fit([][]float64{{1, 2}, {1}}), domain.ErrDimensionMismatch)
		assert.ErrorIs(t, s.Fit(nil), domain.ErrInsufficientSample)
	})

	t.Run("Validate", func(t *testing.T) {
		assert.ErrorIs(t, (&Scaler{Mean: []float64{1}, Std: []float64{0}}).Validate(), domain.ErrArtifactLoad)
		assert.ErrorIs(t, (&Scaler{Mean: []float64{1, 2}, Std: []float64{1}}).Validate(), domain.ErrArtifactLoad)
		assert.NoError(t, (&Scaler{Mean: []float64{1}, Std: []float64{2}}).Validate())
	})
}

func TestExtract(t *testing.T) {
	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	ex := NewExtractor(fittedEncoder(t), chicago)

	// 2024-05-14 03:30 UTC is Monday 22:30 in Chicago (CDT).
	tx := domain.Transaction{
		ID:               "tx-1",
		Amount:           42.5,
		Timestamp:        time.Date(2024, 5, 14, 3, 30, 0, 0, time.UTC),
		Category:         "Food",
		DistanceFromLast: 3,
		TimeSinceLast:    29,
	}

	v, err := ex.Extract(&tx)
	require.NoError(t, err)
	assert.Equal(t, []float64{42.5, 0.1, 0, 22, 1}, v)

	t.Run("UnknownCategory", func(t *testing.T) {
		bad := tx
		bad.Category = "Casino"
		_, err := ex.Extract(&bad)
		assert.ErrorIs(t, err, domain.ErrUnknownCategory)
	})

	t.Run("ExtractAllSkips", func(t *testing.T) {
		bad := tx
		bad.ID = "tx-2"
		bad.Category = "Casino"
		neg := tx
		neg.ID = "tx-3"
		neg.Amount = -1

		matrix, kept, skipped := ex.ExtractAll([]domain.Transaction{tx, bad, neg, tx})
		assert.Len(t, matrix, 2)
		assert.Equal(t, []int{0, 3}, kept)
		require.Len(t, skipped, 2)
		assert.Equal(t, 1, skipped[0].Index)
		assert.Equal(t, "tx-2", skipped[0].TransactionID)
		assert.ErrorIs(t, skipped[0].Err, domain.ErrUnknownCategory)
		assert.ErrorIs(t, skipped[1].Err, domain.ErrInvalidTransaction)
	})

	t.Run("NonFiniteFields", func(t *testing.T) {
		for name, mutate := range map[string]func(*domain.Transaction){
			"AmountInf":    func(x *domain.Transaction) { x.Amount = math.Inf(1) },
			"DistanceInf":  func(x *domain.Transaction) { x.DistanceFromLast = math.Inf(1) },
			"GapInf":       func(x *domain.Transaction) { x.TimeSinceLast = math.Inf(1) },
			"AmountNegInf": func(x *domain.Transaction) { x.Amount = math.Inf(-1) },
			"AmountNaN":    func(x *domain.Transaction) { x.Amount = math.NaN() },
		} {
			t.Run(name, func(t *testing.T) {
				bad := tx
				mutate(&bad)
				_, err := ex.Extract(&bad)
				assert.ErrorIs(t, err, domain.ErrInvalidTransaction)
			})
		}
	})
}

func TestFeatureContract(t *testing.T) {
	assert.Equal(t, []string{"amount", "speed", "day_of_week", "hour_of_day", "category_code"}, FeatureNames())
	assert.Len(t, Signature(), 16)
	assert.Equal(t, Signature(), Signature())
}

func TestWeekday(t *testing.T) {
	monday := time.Date(2024, 5, 13, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		assert.Equal(t, i, Weekday(monday.AddDate(0, 0, i)))
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 14, 3, 30, 0, 0, time.UTC)
	ms := want.UnixMilli()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"EpochNumber", `1715657400000`, false},
		{"EpochString", `"1715657400000"`, false},
		{"RFC3339", `"2024-05-13T22:30:00-05:00"`, false},
		{"Garbage", `"yesterday"`, true},
		{"Null", `null`, true},
		{"Empty", ``, true},
		{"Object", `{}`, true},
		{"OverflowNumber", `1e20`, true},
		{"OverflowString", `"9999999999999999999999"`, true},
		{"UnderflowNumber", `-1e25`, true},
		{"PastYear9999", `253402300800000`, true},
	}
	require.Equal(t, int64(1715657400000), ms)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrMalformedTimestamp)
				return
			}
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %s", got)
		})
	}
}

func TestFromRecord(t *testing.T) {
	rec := domain.InferenceRecord{
		ID:                       "abc",
		Amount:                   12,
		Timestamp:                json.RawMessage(`1715657400000`),
		Category:                 "Food",
		DistanceFromPrevious:     1,
		TimeSinceLastTransaction: 4,
	}
	tx, err := FromRecord(&rec)
	require.NoError(t, err)
	assert.Equal(t, "abc", tx.ID)
	assert.InDelta(t, 0.2, tx.Speed(), 1e-12)

	rec.Timestamp = json.RawMessage(`"soon"`)
	_, err = FromRecord(&rec)
	assert.ErrorIs(t, err, domain.ErrMalformedTimestamp)
}
