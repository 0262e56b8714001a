package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graftkit/graft/internal/schema"
)

func TestFromGoIntegralFloatBecomesInt(t *testing.T) {
	v, err := FromGo(float64(42))
	require.NoError(t, err)
	assert.Equal(t, Int(42), v)

	v, err = FromGo(42.5)
	require.NoError(t, err)
	assert.Equal(t, Float(42.5), v)
}

func TestFromGoRejectsStructures(t *testing.T) {
	_, err := FromGo(map[string]any{"nested": true})
	assert.Error(t, err)

	_, err = FromGo([]any{1, 2})
	assert.Error(t, err)
}

func TestEqualNormalizesUnicode(t *testing.T) {
	// Precomposed e-acute versus e plus combining acute.
	assert.True(t, Equal(String("caf\u00e9"), String("cafe\u0301")))
	assert.False(t, Equal(String("cafe"), String("caf\u00e9")))
}

func TestEqualNilIsNull(t *testing.T) {
	assert.True(t, Equal(nil, Null{}))
	assert.False(t, Equal(nil, Int(0)))
}

func TestEqualDistinguishesKinds(t *testing.T) {
	assert.False(t, Equal(Int(1), Float(1)))
	assert.False(t, Equal(String("1"), Int(1)))
	assert.True(t, Equal(Bool(true), Bool(true)))
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches(Null{}, schema.KindString))
	assert.True(t, Matches(Int(3), schema.KindFloat))
	assert.False(t, Matches(Float(3.5), schema.KindInt))
	assert.True(t, Matches(Float(3.5), schema.KindAny))
	assert.False(t, Matches(Bool(true), schema.KindString))
}

func TestGoValueRoundTrip(t *testing.T) {
	assert.Nil(t, GoValue(Null{}))
	assert.Equal(t, int64(7), GoValue(Int(7)))
	assert.Equal(t, "x", GoValue(String("x")))
	assert.Equal(t, true, GoValue(Bool(true)))
}

func TestCanonicalJSONIsStable(t *testing.T) {
	in := map[string]any{
		"b":    []any{Int(1), String("cafe\u0301")},
		"a":    Null{},
		"nest": map[string]any{"z": Bool(true), "y": Float(1.5)},
	}
	first, err := CanonicalJSON(in)
	require.NoError(t, err)
	second, err := CanonicalJSON(in)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	// NFC folds the combining accent into the precomposed code point.
	assert.Contains(t, string(first), "caf\u00e9")
}
