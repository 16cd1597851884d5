// Package codec converts session values to and from the string form kept in
// the Redis hash.
package codec

import (
	"errors"
	"fmt"
)

// ValueCodec turns one session value into its wire form and back.
//
// Encode must be deterministic: two encodes of equal values produce the same
// string, otherwise dirty checking reports unchanged fields as modified.
// The wire form carries enough type information for Decode to rebuild the
// original concrete type.
type ValueCodec interface {
	Decode(wire string) (any, error)
	Encode(key string, value any) (string, error)
}

// DecodeError reports a wire form that cannot be turned back into a value.
type DecodeError struct {
	Wire string
	Err  error
}

func (e *DecodeError) Error() string {
	wire := e.Wire
	if len(wire) > 64 {
		wire = wire[:64] + "..."
	}
	return fmt.Sprintf("decode %q: %v", wire, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is, or wraps, a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// DecodeAll decodes every field of a raw hash. It stops at the first failure.
func DecodeAll(c ValueCodec, raw map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for k, wire := range raw {
		v, err := c.Decode(wire)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// EncodeAll encodes every value of a session snapshot.
func EncodeAll(c ValueCodec, values map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for k, v := range values {
		wire, err := c.Encode(k, v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = wire
	}
	return out, nil
}
