// Package coder defines the serialization contract used to turn cached
// values into bytes and back. Two implementations are provided: JSON
// (the default, human-readable in the store) and msgpack (smaller and
// faster for struct-heavy payloads).
package coder

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Coder serializes and deserializes cached values. Implementations must
// round-trip every value type the caller stores and must be safe for
// concurrent use.
type Coder interface {
	// Encode serializes v into bytes suitable for storage.
	Encode(v any) ([]byte, error)
	// Decode deserializes data into v, which must be a non-nil pointer.
	Decode(data []byte, v any) error
}

// JSON encodes values with encoding/json.
type JSON struct{}

var _ Coder = JSON{}

func (JSON) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("coder: json encode: %w", err)
	}
	return data, nil
}

func (JSON) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("coder: json decode: %w", err)
	}
	return nil
}

// Msgpack encodes values with msgpack. Exported struct fields survive
// the round trip; use msgpack struct tags for field name control.
type Msgpack struct{}

var _ Coder = Msgpack{}

func (Msgpack) Encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("coder: msgpack encode: %w", err)
	}
	return data, nil
}

func (Msgpack) Decode(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("coder: msgpack decode: %w", err)
	}
	return nil
}

// ForName returns the Coder registered under name ("json" or "msgpack").
func ForName(name string) (Coder, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "msgpack":
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("coder: unknown coder %q", name)
	}
}
