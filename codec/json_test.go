package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodec_KeepsConcreteType(t *testing.T) {
	c := NewJSONCodec()
	list := []string{"a", "b"}
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name  string
		value any
	}{
		{name: "string", value: "x"},
		{name: "int", value: 42},
		{name: "float", value: 1.5},
		{name: "time", value: ts},
		{name: "map", value: map[string]string{"k": "v"}},
		{name: "pointer to slice", value: &list},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			wire, err := c.Encode("k", tc.value)
			require.NoError(t, err)

			got, err := c.Decode(wire)
			require.NoError(t, err)
			assert.IsType(t, tc.value, got)
			assert.Equal(t, tc.value, got)
		})
	}
}

func TestJSONCodec_WireFormat(t *testing.T) {
	wire, err := NewJSONCodec().Encode("a", "x")
	require.NoError(t, err)
	assert.Equal(t, `|!a_string_a!|"x"`, wire)
}

func TestJSONCodec_DeterministicForMaps(t *testing.T) {
	c := NewJSONCodec()
	first, err := c.Encode("m", map[string]any{"b": 2, "a": 1, "c": []any{"x"}})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := c.Encode("m", map[string]any{"c": []any{"x"}, "a": 1, "b": 2})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestJSONCodec_DecodeErrors(t *testing.T) {
	c := NewJSONCodec()
	testCases := []struct {
		name string
		wire string
	}{
		{name: "no tag", wire: `"x"`},
		{name: "unterminated tag", wire: `|!a_string"x"`},
		{name: "unknown type", wire: `|!a_chan_a!|1`},
		{name: "malformed json", wire: `|!a_[]string_a!|["a",`},
		{name: "type mismatch", wire: `|!a_int_a!|"seven"`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Decode(tc.wire)
			require.Error(t, err)
			assert.True(t, IsDecodeError(err))
		})
	}
}

func TestJSONCodec_EncodeRejectsUnsupported(t *testing.T) {
	c := NewJSONCodec()
	_, err := c.Encode("k", nil)
	assert.Error(t, err)

	_, err = c.Encode("k", struct{ A int }{1})
	assert.Error(t, err)
}

func TestDecodeAllEncodeAll(t *testing.T) {
	c := NewJSONCodec()
	raw, err := EncodeAll(c, map[string]any{"a": "x", "b": 2})
	require.NoError(t, err)

	values, err := DecodeAll(c, raw)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "x", "b": 2}, values)

	raw["bad"] = "garbage"
	_, err = DecodeAll(c, raw)
	assert.True(t, IsDecodeError(err))
}
