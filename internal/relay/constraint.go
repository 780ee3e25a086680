package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Constraint restricts a relay attribute. The zero value matches anything.
type Constraint[T any] struct {
	value T
	set   bool
}

// Any returns a constraint that matches every value.
func Any[T any]() Constraint[T] {
	return Constraint[T]{}
}

// Only returns a constraint that matches exactly v.
func Only[T any](v T) Constraint[T] {
	return Constraint[T]{value: v, set: true}
}

// Value returns the constrained value and true, or the zero value and false
// when the constraint is Any.
func (c Constraint[T]) Value() (T, bool) {
	return c.value, c.set
}

// IsAny reports whether the constraint matches every value.
func (c Constraint[T]) IsAny() bool {
	return !c.set
}

func (c Constraint[T]) String() string {
	if !c.set {
		return "any"
	}
	return fmt.Sprintf("only(%v)", c.value)
}

type onlyEnvelope[T any] struct {
	Only T `json:"only"`
}

// MarshalJSON encodes Any as the string "any" and Only(v) as {"only": v}.
func (c Constraint[T]) MarshalJSON() ([]byte, error) {
	if !c.set {
		return []byte(`"any"`), nil
	}
	return json.Marshal(onlyEnvelope[T]{Only: c.value})
}

func (c *Constraint[T]) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if bytes.Equal(trimmed, []byte(`"any"`)) || bytes.Equal(trimmed, []byte("null")) {
		*c = Constraint[T]{}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return fmt.Errorf("constraint: expected \"any\" or {\"only\": ...}: %w", err)
	}
	onlyRaw, ok := raw["only"]
	if !ok || len(raw) != 1 {
		return fmt.Errorf("constraint: expected a single \"only\" key")
	}
	var v T
	if err := json.Unmarshal(onlyRaw, &v); err != nil {
		return fmt.Errorf("constraint: decode only value: %w", err)
	}
	*c = Constraint[T]{value: v, set: true}
	return nil
}
