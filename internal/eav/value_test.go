package eav

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		kind ValueKind
		raw  interface{}
		want interface{}
	}{
		{"string", KindString, "Teaching Award", "Teaching Award"},
		{"integer", KindInteger, 1987, int64(1987)},
		{"integer from string", KindInteger, "2019", int64(2019)},
		{"decimal", KindDecimal, 12.5, 12.5},
		{"boolean true", KindBoolean, true, true},
		{"boolean from string", KindBoolean, "false", false},
		{"text", KindText, "a longer free-form paragraph", "a longer free-form paragraph"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tv, err := Encode(tt.raw, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, 1, tv.PopulatedSlots(), "exactly one slot must be set")
			assert.Equal(t, tt.want, tv.Decode())
		})
	}
}

func TestEncodeDate(t *testing.T) {
	tv, err := Encode("2019-06-15", KindDate)
	require.NoError(t, err)
	require.Equal(t, 1, tv.PopulatedSlots())

	got, ok := tv.Decode().(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.Date(2019, 6, 15, 0, 0, 0, 0, time.UTC), got)
}

func TestEncodeDateTruncatesTimeOfDay(t *testing.T) {
	in := time.Date(2019, 6, 15, 14, 30, 12, 0, time.UTC)
	tv, err := Encode(in, KindDate)
	require.NoError(t, err)

	got := tv.Decode().(time.Time)
	assert.Equal(t, time.Date(2019, 6, 15, 0, 0, 0, 0, time.UTC), got)
}

func TestEncodeDateTimeNormalizesToUTC(t *testing.T) {
	tv, err := Encode("2021-03-01T10:00:00+02:00", KindDateTime)
	require.NoError(t, err)

	got := tv.Decode().(time.Time)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, time.Date(2021, 3, 1, 8, 0, 0, 0, time.UTC), got)
}

func TestEncodeStringTruncation(t *testing.T) {
	long := strings.Repeat("é", MaxStringLength+50)
	tv, err := Encode(long, KindString)
	require.NoError(t, err)

	got := tv.Decode().(string)
	assert.Equal(t, MaxStringLength, len([]rune(got)))
	assert.Equal(t, strings.Repeat("é", MaxStringLength), got)
}

func TestEncodeStructured(t *testing.T) {
	tv, err := Encode(`{"committee":"curriculum","since":2020}`, KindStructured)
	require.NoError(t, err)
	require.Equal(t, 1, tv.PopulatedSlots())

	doc, ok := tv.Decode().(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"committee":"curriculum","since":2020}`, string(doc))
}

func TestEncodeRejections(t *testing.T) {
	tests := []struct {
		name string
		kind ValueKind
		raw  interface{}
	}{
		{"non-integral float as integer", KindInteger, 19.87},
		{"word as integer", KindInteger, "nineteen"},
		{"yes is not boolean", KindBoolean, "yes"},
		{"2 is not boolean", KindBoolean, 2},
		{"garbage date", KindDate, "June 15th"},
		{"malformed document", KindStructured, `{"open":`},
		{"nil input", KindString, nil},
		{"unknown kind", ValueKind("blob"), "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.raw, tt.kind)
			require.Error(t, err)
			var ive *InvalidValueError
			assert.ErrorAs(t, err, &ive)
		})
	}
}

func TestEncodeFailureLeavesSlotsEmpty(t *testing.T) {
	tv, err := Encode("nineteen", KindInteger)
	require.Error(t, err)
	assert.Equal(t, 0, tv.PopulatedSlots())
	assert.Nil(t, tv.Decode())
}

func TestTypedValueEqual(t *testing.T) {
	a, err := Encode(2019, KindInteger)
	require.NoError(t, err)
	b, err := Encode("2019", KindInteger)
	require.NoError(t, err)
	c, err := Encode(2020, KindInteger)
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))

	s, err := Encode("2019", KindString)
	require.NoError(t, err)
	assert.False(t, a.Equal(s), "different kinds never compare equal")

	d1, err := Encode("2019-06-15", KindDate)
	require.NoError(t, err)
	d2, err := Encode(time.Date(2019, 6, 15, 9, 0, 0, 0, time.UTC), KindDate)
	require.NoError(t, err)
	assert.True(t, d1.Equal(d2))

	j1, err := Encode(`{"a":1}`, KindStructured)
	require.NoError(t, err)
	j2, err := Encode(`{"a":1}`, KindStructured)
	require.NoError(t, err)
	assert.True(t, j1.Equal(j2))
}

func TestValueKindIsValid(t *testing.T) {
	for _, k := range []ValueKind{KindString, KindInteger, KindDecimal,
		KindBoolean, KindDate, KindDateTime, KindText, KindStructured} {
		assert.True(t, k.IsValid(), string(k))
	}
	assert.False(t, ValueKind("float").IsValid())
	assert.False(t, ValueKind("").IsValid())
}
