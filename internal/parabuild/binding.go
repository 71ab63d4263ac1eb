package parabuild

import (
	"encoding/json"

	"golang.org/x/xerrors"
)

// Binding is one item of the input data set: a free-form structured value
// (nested maps, arrays, scalars) supplied by the caller. Kept as raw JSON so
// it can be written to checkpoint/artifact files byte-for-byte without
// re-encoding, and decoded lazily only where a component actually needs to
// inspect its shape (template rendering, CPPFLAGS, grouping by array-ness).
type Binding = json.RawMessage

// decode unmarshals a Binding into a generic Go value.
func decode(b Binding) (any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, xerrors.Errorf("decoding binding: %w", err)
	}
	return v, nil
}

// topLevelFields returns the top-level key/value pairs of b if it decodes to
// a JSON object, or nil otherwise. Used to build -Dkey=value CPPFLAGS.
func topLevelFields(b Binding) (map[string]any, error) {
	v, err := decode(b)
	if err != nil {
		return nil, err
	}
	m, _ := v.(map[string]any)
	return m, nil
}
