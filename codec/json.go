package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	tagOpen  = "|!a_"
	tagClose = "_a!|"
)

var (
	errNoTypeTag   = errors.New("missing type tag")
	errUnknownType = errors.New("unknown type tag")
)

type decoder func(data []byte) (any, error)

func decodeAs[T any](data []byte) (any, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodePtr[T any](data []byte) (any, error) {
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

var decoders = map[string]decoder{
	"string":             decodeAs[string],
	"bool":               decodeAs[bool],
	"int":                decodeAs[int],
	"int64":              decodeAs[int64],
	"float64":            decodeAs[float64],
	"bytes":              decodeAs[[]byte],
	"time":               decodeAs[time.Time],
	"[]string":           decodeAs[[]string],
	"[]int":              decodeAs[[]int],
	"[]any":              decodeAs[[]any],
	"map[string]any":     decodeAs[map[string]any],
	"map[string]string":  decodeAs[map[string]string],
	"map[string]int":     decodeAs[map[string]int],
	"*[]string":          decodePtr[[]string],
	"*[]int":             decodePtr[[]int],
	"*[]any":             decodePtr[[]any],
	"*map[string]any":    decodePtr[map[string]any],
	"*map[string]string": decodePtr[map[string]string],
}

// JSONCodec stores values as a type tag followed by their JSON encoding,
// for example `|!a_[]string_a!|["a","b"]`.
//
// Only the built-in set of types listed in decoders is supported. Maps and
// pointers to slices are the types whose in-place mutation is picked up by
// dirty checking.
type JSONCodec struct{}

// NewJSONCodec returns the default codec.
func NewJSONCodec() *JSONCodec { return &JSONCodec{} }

// Encode implements ValueCodec.
func (JSONCodec) Encode(key string, value any) (string, error) {
	tag, err := typeTag(value)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}
	var b strings.Builder
	b.Grow(len(tagOpen) + len(tag) + len(tagClose) + len(data))
	b.WriteString(tagOpen)
	b.WriteString(tag)
	b.WriteString(tagClose)
	b.Write(data)
	return b.String(), nil
}

// Decode implements ValueCodec.
func (JSONCodec) Decode(wire string) (any, error) {
	if !strings.HasPrefix(wire, tagOpen) {
		return nil, &DecodeError{Wire: wire, Err: errNoTypeTag}
	}
	rest := wire[len(tagOpen):]
	end := strings.Index(rest, tagClose)
	if end < 0 {
		return nil, &DecodeError{Wire: wire, Err: errNoTypeTag}
	}
	tag := rest[:end]
	dec, ok := decoders[tag]
	if !ok {
		return nil, &DecodeError{Wire: wire, Err: fmt.Errorf("%w: %s", errUnknownType, tag)}
	}
	v, err := dec([]byte(rest[end+len(tagClose):]))
	if err != nil {
		return nil, &DecodeError{Wire: wire, Err: err}
	}
	return v, nil
}

func typeTag(value any) (string, error) {
	switch value.(type) {
	case string:
		return "string", nil
	case bool:
		return "bool", nil
	case int:
		return "int", nil
	case int64:
		return "int64", nil
	case float64:
		return "float64", nil
	case []byte:
		return "bytes", nil
	case time.Time:
		return "time", nil
	case []string:
		return "[]string", nil
	case []int:
		return "[]int", nil
	case []any:
		return "[]any", nil
	case map[string]any:
		return "map[string]any", nil
	case map[string]string:
		return "map[string]string", nil
	case map[string]int:
		return "map[string]int", nil
	case *[]string:
		return "*[]string", nil
	case *[]int:
		return "*[]int", nil
	case *[]any:
		return "*[]any", nil
	case *map[string]any:
		return "*map[string]any", nil
	case *map[string]string:
		return "*map[string]string", nil
	case nil:
		return "", errors.New("nil value")
	default:
		return "", fmt.Errorf("unsupported type %T", value)
	}
}
