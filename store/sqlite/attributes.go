package sqlite

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brunobiangulo/kgsearch/store"
)

func encodeAttributes(attrs store.Attributes) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encoding attributes: %w", err)
	}
	return string(b), nil
}

// decodeAttributes keeps integers as int64 so values read back compare
// equal to what was written.
func decodeAttributes(raw string) (store.Attributes, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding attributes: %w", err)
	}
	attrs := make(store.Attributes, len(m))
	for k, v := range m {
		if sv, ok := store.Scalar(v); ok {
			attrs[k] = sv
		} else {
			attrs[k] = v
		}
	}
	return attrs, nil
}
