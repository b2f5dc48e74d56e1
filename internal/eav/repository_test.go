package eav

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepository(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return &PostgresRepository{db: sqlxDB}, mock
}

func entityTypeRows() *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"entity_type_id", "name", "table_name", "active",
		"deleted_at", "created_at", "updated_at",
	}).AddRow("et-1", "instructor", "instructors", true, nil, now, now)
}

func attributeRows(attrID, name string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"attribute_id", "entity_type_id", "name", "display_name", "description",
		"value_kind", "required", "multi_valued", "default_value",
		"validation_rules", "category", "sort_order", "active",
		"deleted_at", "created_at", "updated_at",
	}).AddRow(attrID, "et-1", name, "Award Title", nil,
		"string", false, true, nil,
		[]byte(`{}`), "awards", 0, true, nil, now, now)
}

func TestGetEntityType(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT (.+) FROM "campus-eav"\.entity_types`).
		WithArgs("instructor").
		WillReturnRows(entityTypeRows())

	et, err := repo.GetEntityType(context.Background(), "instructor")
	require.NoError(t, err)
	assert.Equal(t, "et-1", et.EntityTypeID)
	assert.Equal(t, "instructors", et.TableName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntityTypeNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT (.+) FROM "campus-eav"\.entity_types`).
		WithArgs("building").
		WillReturnRows(sqlmock.NewRows([]string{"entity_type_id"}))

	_, err := repo.GetEntityType(context.Background(), "building")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEntityTypeNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureEntityTypeReturnsExisting(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT (.+) FROM "campus-eav"\.entity_types`).
		WithArgs("instructor").
		WillReturnRows(entityTypeRows())

	id, err := repo.EnsureEntityType(context.Background(), "instructor", "instructors")
	require.NoError(t, err)
	assert.Equal(t, "et-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureEntityTypeCreates(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT (.+) FROM "campus-eav"\.entity_types`).
		WithArgs("instructor").
		WillReturnRows(sqlmock.NewRows([]string{"entity_type_id"}))
	mock.ExpectExec(`INSERT INTO "campus-eav"\.entity_types`).
		WithArgs(sqlmock.AnyArg(), "instructor", "instructors").
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := repo.EnsureEntityType(context.Background(), "instructor", "instructors")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureAttributeIsIdempotent(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT (.+) FROM "campus-eav"\.attribute_definitions`).
		WithArgs("et-1", "award_title").
		WillReturnRows(attributeRows("attr-1", "award_title"))

	id, err := repo.EnsureAttribute(context.Background(), "et-1", AttributeSpec{
		Name: "award_title", DisplayName: "Award Title", Kind: KindString,
	})
	require.NoError(t, err)
	assert.Equal(t, "attr-1", id, "existing definition returned unchanged")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureAttributeRejectsUnknownKind(t *testing.T) {
	repo, _ := newMockRepository(t)

	_, err := repo.EnsureAttribute(context.Background(), "et-1", AttributeSpec{
		Name: "award_title", Kind: ValueKind("varchar"),
	})
	require.Error(t, err)
	var se *SchemaError
	assert.ErrorAs(t, err, &se)
}

func TestListActiveFiltersByCategory(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT (.+) FROM "campus-eav"\.attribute_definitions (.+) ORDER BY sort_order, name`).
		WithArgs("et-1", "awards").
		WillReturnRows(attributeRows("attr-1", "award_title"))

	defs, err := repo.ListActive(context.Background(), "et-1", "awards")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "award_title", defs[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSingleValuedUpdatesInPlace(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`UPDATE "campus-eav"\.attribute_values`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tv, err := Encode("B-204", KindString)
	require.NoError(t, err)
	v := &AttributeValue{
		AttributeID: "attr-1", EntityTypeName: "instructor", EntityID: "inst-9",
		TypedValue: tv, SortOrder: -1,
	}
	require.NoError(t, repo.Upsert(context.Background(), v, false))
	assert.Equal(t, 0, v.SortOrder, "single-valued always lives at occurrence 0")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSingleValuedInsertsWhenMissing(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`UPDATE "campus-eav"\.attribute_values`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "campus-eav"\.attribute_values`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tv, err := Encode("B-204", KindString)
	require.NoError(t, err)
	v := &AttributeValue{
		AttributeID: "attr-1", EntityTypeName: "instructor", EntityID: "inst-9",
		TypedValue: tv,
	}
	require.NoError(t, repo.Upsert(context.Background(), v, false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertMultiValuedAppends(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(sort_order) + 1, 0)`)).
		WithArgs("instructor", "inst-9", "attr-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(2))
	mock.ExpectExec(`INSERT INTO "campus-eav"\.attribute_values`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tv, err := Encode("Service Award", KindString)
	require.NoError(t, err)
	v := &AttributeValue{
		AttributeID: "attr-1", EntityTypeName: "instructor", EntityID: "inst-9",
		TypedValue: tv, SortOrder: -1,
	}
	require.NoError(t, repo.Upsert(context.Background(), v, true))
	assert.Equal(t, 2, v.SortOrder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertValueUniqueViolation(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`UPDATE "campus-eav"\.attribute_values`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "campus-eav"\.attribute_values`).
		WillReturnError(&pq.Error{Code: "23505"})

	tv, err := Encode("B-204", KindString)
	require.NoError(t, err)
	v := &AttributeValue{
		AttributeID: "attr-1", EntityTypeName: "instructor", EntityID: "inst-9",
		TypedValue: tv,
	}
	err = repo.Upsert(context.Background(), v, false)
	require.Error(t, err)
	var cve *ConstraintViolationError
	assert.ErrorAs(t, err, &cve)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupeCheck(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	tv, err := Encode(2019, KindInteger)
	require.NoError(t, err)
	exists, err := repo.DedupeCheck(context.Background(), "attr-1", "instructor", "inst-9", tv)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDeleteSingleOccurrence(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`UPDATE "campus-eav"\.attribute_values`).
		WithArgs("instructor", "inst-9", "attr-1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	occ := 1
	count, err := repo.SoftDelete(context.Background(), "instructor", "inst-9", "attr-1", &occ)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDeleteByNamePrefix(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`UPDATE "campus-eav"\.attribute_values v`).
		WithArgs("instructor", "award_%").
		WillReturnResult(sqlmock.NewResult(0, 7))

	count, err := repo.SoftDeleteByNamePrefix(context.Background(), "instructor", "award_")
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsEnabledMissingRowMeansDisabled(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT eav_enabled FROM "campus-eav"\.entity_eav_flags`).
		WithArgs("instructor", "inst-9").
		WillReturnRows(sqlmock.NewRows([]string{"eav_enabled"}))

	enabled, err := repo.IsEnabled(context.Background(), "instructor", "inst-9")
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetEnabled(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`INSERT INTO "campus-eav"\.entity_eav_flags`).
		WithArgs("instructor", "inst-9", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetEnabled(context.Background(), "instructor", "inst-9", true))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMigrationLog(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`INSERT INTO "campus-eav"\.migration_logs`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now().UTC()))

	entry := &MigrationLog{
		LogID: "log-1", Name: "instructor-awards-eav", Version: "1",
		EntitiesProcessed: 12, ValuesCreated: 30,
	}
	require.NoError(t, repo.AppendMigrationLog(context.Background(), entry))
	assert.False(t, entry.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
