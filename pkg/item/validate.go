package item

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("item validation failed")

// maxExactFloat is the largest integral float64 that converts to int64 without loss.
const maxExactFloat = 1 << 53

// ValidationError means a response was received but no item id could be
// recovered from it. Retrying the same request will not help.
type ValidationError struct {
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrValidation, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Raw is a structurally loose record: top-level keys mapped to undecoded values.
type Raw map[string]json.RawMessage

// Decode parses a response body (possibly truncated) and validates it.
func Decode(body []byte) (Item, error) {
	raw, err := ParseRaw(body)
	if err != nil {
		return Item{}, err
	}
	return Validate(raw)
}

// ParseRaw reads the top-level members of a JSON object.
//
// A body cut off mid-object keeps every member completed before the cut; the
// trailing incomplete member is dropped. A body that does not start with an
// object is a ValidationError.
func ParseRaw(body []byte) (Raw, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return nil, &ValidationError{Reason: "empty or unreadable body"}
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, &ValidationError{Reason: fmt.Sprintf("expected a JSON object, got %v", tok)}
	}

	raw := make(Raw)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		key, ok := tok.(string)
		if !ok {
			break
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			break
		}
		// A number running into the end of input may have lost digits.
		if isNumber(value) && dec.InputOffset() >= int64(len(body)) {
			break
		}
		raw[key] = value
	}

	return raw, nil
}

// Validate builds an Item from a raw record.
//
// Only the id is mandatory: a missing, non-integer or negative id is a
// ValidationError. Every other field that is null, of the wrong type, or (for
// kind) outside the known set is left absent, as is a reference (parent, poll,
// kids, parts) holding a negative id. Unknown keys are ignored.
func Validate(raw Raw) (Item, error) {
	idValue, ok := raw["id"]
	if !ok {
		return Item{}, &ValidationError{Reason: "missing id"}
	}
	id, ok := parseID(idValue)
	if !ok {
		return Item{}, &ValidationError{Reason: fmt.Sprintf("id %s is not an integer", truncate(idValue))}
	}
	if id < 0 {
		return Item{}, &ValidationError{Reason: fmt.Sprintf("id %d is negative", id)}
	}

	it := Item{ID: id}

	if s := stringField(raw, "type"); s != nil {
		if k, ok := ParseKind(*s); ok {
			it.Kind = k
		}
	}
	it.Deleted = boolField(raw, "deleted")
	it.Dead = boolField(raw, "dead")
	it.Author = stringField(raw, "by")
	it.CreatedAt = intField(raw, "time")
	it.Text = stringField(raw, "text")
	it.Title = stringField(raw, "title")
	it.URL = stringField(raw, "url")
	it.Score = intField(raw, "score")
	it.DescendantCount = intField(raw, "descendants")
	it.Parent = refField(raw, "parent")
	it.Poll = refField(raw, "poll")
	it.Children = intListField(raw, "kids")
	it.Parts = intListField(raw, "parts")

	return it, nil
}

// parseID accepts a JSON integer, an integral float, or a decimal string.
func parseID(value json.RawMessage) (int64, bool) {
	if n, ok := parseInt(value); ok {
		return n, true
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseInt(value json.RawMessage) (int64, bool) {
	if !isNumber(value) {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(value, &n); err != nil {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > maxExactFloat {
		return 0, false
	}
	return int64(f), true
}

func intField(raw Raw, key string) *int64 {
	value, ok := raw[key]
	if !ok {
		return nil
	}
	n, ok := parseInt(value)
	if !ok {
		return nil
	}
	return &n
}

func boolField(raw Raw, key string) *bool {
	value, ok := raw[key]
	if !ok || isNull(value) {
		return nil
	}
	var b bool
	if err := json.Unmarshal(value, &b); err != nil {
		return nil
	}
	return &b
}

func stringField(raw Raw, key string) *string {
	value, ok := raw[key]
	if !ok || isNull(value) {
		return nil
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return nil
	}
	return &s
}

// refField is an intField that must hold a valid item id.
func refField(raw Raw, key string) *int64 {
	n := intField(raw, key)
	if n == nil || *n < 0 {
		return nil
	}
	return n
}

// intListField drops the whole list if any element is not a valid item id.
// An empty list is absent.
func intListField(raw Raw, key string) []int64 {
	value, ok := raw[key]
	if !ok || isNull(value) {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(value, &elems); err != nil || len(elems) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(elems))
	for _, elem := range elems {
		n, ok := parseInt(elem)
		if !ok || n < 0 {
			return nil
		}
		ids = append(ids, n)
	}
	return ids
}

func isNull(value json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(value), []byte("null"))
}

func isNumber(value json.RawMessage) bool {
	v := bytes.TrimSpace(value)
	if len(v) == 0 {
		return false
	}
	c := v[0]
	return c == '-' || (c >= '0' && c <= '9')
}

func truncate(value json.RawMessage) string {
	const max = 32
	if len(value) > max {
		return string(value[:max]) + "..."
	}
	return string(value)
}
