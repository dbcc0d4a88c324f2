package features

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/opensource-finance/spendguard/internal/domain"
)

// CategoryEncoder maps category labels to integer codes assigned in
// ascending lexical order of the labels seen at fit time.
type CategoryEncoder struct {
	classes []string
	index   map[string]int
}

// NewCategoryEncoder returns an unfitted encoder.
func NewCategoryEncoder() *CategoryEncoder {
	return &CategoryEncoder{}
}

// Fit assigns codes 0..k-1 to the distinct categories in sorted order.
// Refitting is allowed only when it yields the same mapping.
func (e *CategoryEncoder) Fit(categories []string) error {
	if len(categories) == 0 {
		return fmt.Errorf("%w: no categories to fit", domain.ErrInsufficientSample)
	}

	seen := make(map[string]struct{}, len(categories))
	classes := make([]string, 0, len(categories))
	for _, c := range categories {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		classes = append(classes, c)
	}
	sort.Strings(classes)

	if e.classes != nil {
		if !slices.Equal(e.classes, classes) {
			return fmt.Errorf("%w: have %v, got %v", domain.ErrEncoderRefit, e.classes, classes)
		}
		return nil
	}

	e.setClasses(classes)
	return nil
}

func (e *CategoryEncoder) setClasses(classes []string) {
	e.classes = classes
	e.index = make(map[string]int, len(classes))
	for i, c := range classes {
		e.index[c] = i
	}
}

// Fitted reports whether Fit or UnmarshalJSON has populated the encoder.
func (e *CategoryEncoder) Fitted() bool {
	return e.classes != nil
}

// Encode returns the code for category.
func (e *CategoryEncoder) Encode(category string) (int, error) {
	code, ok := e.index[category]
	if !ok {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownCategory, category)
	}
	return code, nil
}

// Decode returns the category for code.
func (e *CategoryEncoder) Decode(code int) (string, error) {
	if code < 0 || code >= len(e.classes) {
		return "", fmt.Errorf("%w: code %d", domain.ErrUnknownCategory, code)
	}
	return e.classes[code], nil
}

// Classes returns the categories in code order.
func (e *CategoryEncoder) Classes() []string {
	return slices.Clone(e.classes)
}

type encoderJSON struct {
	Classes []string `json:"classes"`
}

// MarshalJSON implements json.Marshaler.
func (e *CategoryEncoder) MarshalJSON() ([]byte, error) {
	return json.Marshal(encoderJSON{Classes: e.classes})
}

// UnmarshalJSON implements json.Unmarshaler. The stored classes must be
// strictly ascending, which is the only order Fit can produce.
func (e *CategoryEncoder) UnmarshalJSON(data []byte) error {
	var raw encoderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Classes) == 0 {
		return fmt.Errorf("%w: encoder has no classes", domain.ErrArtifactLoad)
	}
	for i := 1; i < len(raw.Classes); i++ {
		if raw.Classes[i-1] >= raw.Classes[i] {
			return fmt.Errorf("%w: encoder classes not sorted", domain.ErrArtifactLoad)
		}
	}
	e.setClasses(raw.Classes)
	return nil
}
