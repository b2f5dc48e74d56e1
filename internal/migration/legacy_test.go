package migration

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAwardBlobArray(t *testing.T) {
	blob := []byte(`[
		{"title": "Best Teacher", "year": 2019},
		{"name": "Service Award"}
	]`)

	blocks, err := ParseAwardBlob(blob)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "Best Teacher", blocks[0]["title"])
	assert.Equal(t, json.Number("2019"), blocks[0]["year"], "years decode as json.Number")
	assert.Equal(t, "Service Award", blocks[1]["name"])
}

func TestParseAwardBlobSingleObject(t *testing.T) {
	blocks, err := ParseAwardBlob([]byte(`{"title": "Dean's Medal", "year": 2021}`))
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "Dean's Medal", blocks[0]["title"])
}

func TestParseAwardBlobEmpty(t *testing.T) {
	for _, blob := range [][]byte{nil, []byte(""), []byte("  "), []byte("null")} {
		blocks, err := ParseAwardBlob(blob)
		require.NoError(t, err)
		assert.Nil(t, blocks)
	}
}

func TestParseAwardBlobMalformed(t *testing.T) {
	_, err := ParseAwardBlob([]byte(`[{"title": "Broken"`))
	assert.Error(t, err)

	_, err = ParseAwardBlob([]byte(`{"title": `))
	assert.Error(t, err)
}

func TestResolveFieldSynonymOrder(t *testing.T) {
	mapping := fieldMapping{Attribute: "award_title",
		Synonyms: []string{"title", "name", "award_name"}}

	v, ok := resolveField(map[string]interface{}{"title": "Best Teacher", "name": "ignored"}, mapping)
	require.True(t, ok)
	assert.Equal(t, "Best Teacher", v, "the first synonym wins")

	v, ok = resolveField(map[string]interface{}{"name": "Service Award"}, mapping)
	require.True(t, ok)
	assert.Equal(t, "Service Award", v, "later synonyms fill in for missing earlier ones")

	v, ok = resolveField(map[string]interface{}{"award_name": "Medal"}, mapping)
	require.True(t, ok)
	assert.Equal(t, "Medal", v)
}

func TestResolveFieldSkipsEmpty(t *testing.T) {
	mapping := fieldMapping{Attribute: "award_organization",
		Synonyms: []string{"organization", "org", "issuer"}}

	// Blank strings and nulls do not count as present.
	v, ok := resolveField(map[string]interface{}{"organization": "  ", "org": nil, "issuer": "ACM"}, mapping)
	require.True(t, ok)
	assert.Equal(t, "ACM", v)

	_, ok = resolveField(map[string]interface{}{"organization": ""}, mapping)
	assert.False(t, ok)

	_, ok = resolveField(map[string]interface{}{}, mapping)
	assert.False(t, ok)
}
