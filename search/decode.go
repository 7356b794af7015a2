package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/brunobiangulo/kgsearch/store"
)

// ErrNoJSON is returned when a model reply contains no JSON value at all.
var ErrNoJSON = errors.New("search: no JSON in model reply")

var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// DecodeConstraints turns a model reply into search constraints. It accepts
// an array of objects, a single object, or an array of bare strings (each
// taken as a name). Every key of every object becomes its own constraint,
// duplicates and order included. Markdown fences and leading prose are
// stripped, and malformed JSON is repaired before giving up. Elements with
// non-scalar or empty values or unusable field names are skipped.
func DecodeConstraints(raw string) ([]store.Constraint, error) {
	text := jsonCandidate(raw)
	if text == "" {
		return nil, ErrNoJSON
	}

	cs, err := decodeConstraints(text)
	if err == nil {
		return cs, nil
	}

	repaired, rerr := jsonrepair.JSONRepair(text)
	if rerr != nil {
		return nil, fmt.Errorf("decoding constraints: %w", err)
	}
	cs, rerr = decodeConstraints(repaired)
	if rerr != nil {
		return nil, fmt.Errorf("decoding repaired constraints: %w", rerr)
	}
	return cs, nil
}

// jsonCandidate strips code fences and anything before the first bracket.
func jsonCandidate(raw string) string {
	text := strings.TrimSpace(raw)
	if m := codeFenceRe.FindStringSubmatch(text); len(m) > 1 {
		text = strings.TrimSpace(m[1])
	}
	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return ""
	}
	return text[start:]
}

func decodeConstraints(text string) ([]store.Constraint, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil, fmt.Errorf("expected array or object, got %T", tok)
	}

	var out []store.Constraint
	switch delim {
	case '{':
		if out, err = readObject(dec, out); err != nil {
			return nil, err
		}
	case '[':
		for dec.More() {
			var elem json.RawMessage
			if err := dec.Decode(&elem); err != nil {
				return nil, err
			}
			if out, err = appendElement(elem, out); err != nil {
				return nil, err
			}
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unexpected delimiter %v", delim)
	}
	return out, nil
}

func appendElement(elem json.RawMessage, out []store.Constraint) ([]store.Constraint, error) {
	trimmed := strings.TrimSpace(string(elem))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		dec := json.NewDecoder(strings.NewReader(trimmed))
		dec.UseNumber()
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return readObject(dec, out)
	case strings.HasPrefix(trimmed, `"`):
		var name string
		if err := json.Unmarshal(elem, &name); err != nil {
			return nil, err
		}
		return appendConstraint(out, "name", name), nil
	default:
		return out, nil
	}
}

// readObject consumes the members of an object whose opening brace has
// already been read, keeping duplicate keys.
func readObject(dec *json.Decoder, out []store.Constraint) ([]store.Constraint, error) {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		out = appendConstraint(out, key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func appendConstraint(out []store.Constraint, field string, value any) []store.Constraint {
	field = store.NormalizeKey(field)
	if !store.ValidIdentifier(field) {
		return out
	}
	if s, ok := value.(string); ok {
		value = strings.TrimSpace(s)
		if value == "" {
			return out
		}
	}
	v, ok := store.Scalar(value)
	if !ok {
		return out
	}
	return append(out, store.Constraint{Field: field, Value: v})
}
