package eav_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-eav/internal/eav"
	"campus-eav/internal/mocks"
)

type staticLegacyReader struct {
	profile map[string]interface{}
}

func (r *staticLegacyReader) ReadProfile(ctx context.Context, entityType, entityID string) (map[string]interface{}, error) {
	return r.profile, nil
}

func seedInstructorCatalog(t *testing.T, repo *mocks.MemoryRepository) string {
	t.Helper()
	ctx := context.Background()

	etID, err := repo.EnsureEntityType(ctx, "instructor", "instructors")
	require.NoError(t, err)

	specs := []eav.AttributeSpec{
		{Name: "office_room", DisplayName: "Office Room", Kind: eav.KindString, SortOrder: 1},
		{Name: "tenure_track", DisplayName: "Tenure Track", Kind: eav.KindBoolean,
			DefaultValue: "false", SortOrder: 2},
		{Name: "award_title", DisplayName: "Award Title", Kind: eav.KindString,
			MultiValued: true, Category: "awards", SortOrder: 3},
		{Name: "hire_year", DisplayName: "Hire Year", Kind: eav.KindInteger,
			ValidationRules: eav.ValidationRules{Min: floatPtr(1950), Max: floatPtr(2100)},
			SortOrder:       4},
	}
	for _, spec := range specs {
		_, err := repo.EnsureAttribute(ctx, etID, spec)
		require.NoError(t, err)
	}
	return etID
}

func floatPtr(v float64) *float64 { return &v }

func TestServiceSetAndGetProfile(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMemoryRepository()
	seedInstructorCatalog(t, repo)
	svc := eav.NewService(repo, nil, nil, nil)

	require.NoError(t, svc.SetAttribute(ctx, "instructor", "inst-1", "office_room", "B-204"))
	require.NoError(t, svc.SetAttribute(ctx, "instructor", "inst-1", "hire_year", 2015))

	profile, err := svc.GetProfile(ctx, "instructor", "inst-1", "")
	require.NoError(t, err)

	assert.Equal(t, "B-204", profile["office_room"])
	assert.Equal(t, int64(2015), profile["hire_year"])
	assert.Equal(t, false, profile["tenure_track"], "unset attribute surfaces its default")
	assert.NotContains(t, profile, "award_title", "no value and no default means absent")
}

func TestServiceSingleValuedReplace(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMemoryRepository()
	seedInstructorCatalog(t, repo)
	svc := eav.NewService(repo, nil, nil, nil)

	require.NoError(t, svc.SetAttribute(ctx, "instructor", "inst-1", "office_room", "B-204"))
	require.NoError(t, svc.SetAttribute(ctx, "instructor", "inst-1", "office_room", "C-101"))

	profile, err := svc.GetProfile(ctx, "instructor", "inst-1", "")
	require.NoError(t, err)
	assert.Equal(t, "C-101", profile["office_room"])

	values := repo.ActiveValuesByName("office_room")
	require.Len(t, values, 1, "single-valued attributes replace, never accumulate")
	assert.Equal(t, 0, values[0].SortOrder)
}

func TestServiceMultiValuedAccumulates(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMemoryRepository()
	seedInstructorCatalog(t, repo)
	svc := eav.NewService(repo, nil, nil, nil)

	require.NoError(t, svc.SetAttribute(ctx, "instructor", "inst-1", "award_title", "Best Teacher"))
	require.NoError(t, svc.SetAttribute(ctx, "instructor", "inst-1", "award_title", "Service Award"))

	profile, err := svc.GetProfile(ctx, "instructor", "inst-1", "")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"Best Teacher", "Service Award"}, profile["award_title"])

	values := repo.ActiveValuesByName("award_title")
	require.Len(t, values, 2)
	assert.Equal(t, 0, values[0].SortOrder)
	assert.Equal(t, 1, values[1].SortOrder)
}

func TestServiceValidationFailurePersistsNothing(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMemoryRepository()
	seedInstructorCatalog(t, repo)
	svc := eav.NewService(repo, nil, nil, nil)

	err := svc.SetAttribute(ctx, "instructor", "inst-1", "hire_year", 1899)
	require.Error(t, err)
	var ve *eav.ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, 0, repo.ActiveValueCount())
}

func TestServiceUnknownAttribute(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMemoryRepository()
	seedInstructorCatalog(t, repo)
	svc := eav.NewService(repo, nil, nil, nil)

	err := svc.SetAttribute(ctx, "instructor", "inst-1", "shoe_size", 42)
	assert.ErrorIs(t, err, eav.ErrAttributeNotFound)

	_, err = svc.GetProfile(ctx, "classroom", "room-1", "")
	assert.ErrorIs(t, err, eav.ErrEntityTypeNotFound)
}

func TestServiceBulkUpdatePartialSuccess(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMemoryRepository()
	seedInstructorCatalog(t, repo)
	svc := eav.NewService(repo, nil, nil, nil)

	results, err := svc.BulkUpdate(ctx, "instructor", "inst-1", map[string]interface{}{
		"office_room": "B-204",
		"hire_year":   1899,
		"shoe_size":   42,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	byName := make(map[string]eav.FieldResult)
	for _, r := range results {
		byName[r.Name] = r
	}
	assert.True(t, byName["office_room"].OK())
	assert.False(t, byName["hire_year"].OK())
	assert.False(t, byName["shoe_size"].OK())

	// The failing fields must not block the good one.
	assert.Equal(t, 1, repo.ActiveValueCount())
}

func TestServiceDeleteAttribute(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMemoryRepository()
	seedInstructorCatalog(t, repo)
	svc := eav.NewService(repo, nil, nil, nil)

	require.NoError(t, svc.SetAttribute(ctx, "instructor", "inst-1", "award_title", "Best Teacher"))
	require.NoError(t, svc.SetAttribute(ctx, "instructor", "inst-1", "award_title", "Service Award"))

	require.NoError(t, svc.DeleteAttribute(ctx, "instructor", "inst-1", "award_title"))
	assert.Empty(t, repo.ActiveValuesByName("award_title"))
}

func TestServiceInitializeDefaultsSkipsExisting(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMemoryRepository()
	seedInstructorCatalog(t, repo)
	svc := eav.NewService(repo, nil, nil, nil)

	require.NoError(t, svc.SetAttribute(ctx, "instructor", "inst-1", "tenure_track", true))
	require.NoError(t, svc.InitializeDefaults(ctx, "instructor", "inst-1", ""))

	profile, err := svc.GetProfile(ctx, "instructor", "inst-1", "")
	require.NoError(t, err)
	assert.Equal(t, true, profile["tenure_track"], "existing value survives default seeding")

	values := repo.ActiveValuesByName("tenure_track")
	require.Len(t, values, 1)
}

func TestServiceLegacyFallback(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMemoryRepository()
	seedInstructorCatalog(t, repo)
	legacy := &staticLegacyReader{profile: map[string]interface{}{
		"awards": []map[string]interface{}{{"title": "Best Teacher"}},
	}}
	svc := eav.NewService(repo, nil, legacy, nil)

	// Flag missing: the instance is outside the rollout, reads go legacy.
	profile, err := svc.GetProfile(ctx, "instructor", "inst-1", "")
	require.NoError(t, err)
	assert.Contains(t, profile, "awards")

	// Flip the flag: reads come from the value store.
	require.NoError(t, svc.SetEnabled(ctx, "instructor", "inst-1", true))
	require.NoError(t, svc.SetAttribute(ctx, "instructor", "inst-1", "office_room", "B-204"))

	profile, err = svc.GetProfile(ctx, "instructor", "inst-1", "")
	require.NoError(t, err)
	assert.NotContains(t, profile, "awards")
	assert.Equal(t, "B-204", profile["office_room"])
}

func TestServiceCategoryFilter(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMemoryRepository()
	seedInstructorCatalog(t, repo)
	svc := eav.NewService(repo, nil, nil, nil)

	require.NoError(t, svc.SetAttribute(ctx, "instructor", "inst-1", "office_room", "B-204"))
	require.NoError(t, svc.SetAttribute(ctx, "instructor", "inst-1", "award_title", "Best Teacher"))

	profile, err := svc.GetProfile(ctx, "instructor", "inst-1", "awards")
	require.NoError(t, err)
	assert.Contains(t, profile, "award_title")
	assert.NotContains(t, profile, "office_room")
}

func TestServiceDefineAttributeInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMemoryRepository()
	etID := seedInstructorCatalog(t, repo)
	cache := eav.NewMemoryDefinitionCache()
	svc := eav.NewService(repo, cache, nil, nil)

	// Warm the cache.
	_, err := svc.GetProfile(ctx, "instructor", "inst-1", "")
	require.NoError(t, err)
	_, warm := cache.Get(etID, "")
	require.True(t, warm)

	_, err = svc.DefineAttribute(ctx, "instructor", eav.AttributeSpec{
		Name: "parking_spot", DisplayName: "Parking Spot", Kind: eav.KindString,
	})
	require.NoError(t, err)

	_, warm = cache.Get(etID, "")
	assert.False(t, warm, "catalog mutation must invalidate cached definitions")

	profile, err := svc.GetProfile(ctx, "instructor", "inst-1", "")
	require.NoError(t, err)
	assert.NotContains(t, profile, "parking_spot", "no value and no default")

	require.NoError(t, svc.SetAttribute(ctx, "instructor", "inst-1", "parking_spot", "P-17"))
	profile, err = svc.GetProfile(ctx, "instructor", "inst-1", "")
	require.NoError(t, err)
	assert.Equal(t, "P-17", profile["parking_spot"])
}

func TestServiceDecommissionAttributes(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMemoryRepository()
	seedInstructorCatalog(t, repo)
	svc := eav.NewService(repo, nil, nil, nil)

	require.NoError(t, svc.SetAttribute(ctx, "instructor", "inst-1", "award_title", "Best Teacher"))

	n, err := svc.DecommissionAttributes(ctx, "instructor", "award_%")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Definitions are gone from the catalog; stored values stay for audit.
	profile, err := svc.GetProfile(ctx, "instructor", "inst-1", "")
	require.NoError(t, err)
	assert.NotContains(t, profile, "award_title")
	assert.Equal(t, 1, repo.ActiveValueCount())
}
