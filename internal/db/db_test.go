package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertSQL_Postgres(t *testing.T) {
	sql, err := UpsertSQL(UpsertConfig{
		Table:        "dispatch_centers",
		Columns:      []string{"code", "name", "state"},
		ConflictKeys: []string{"code"},
	}, Dollar)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "dispatch_centers" ("code", "name", "state") VALUES ($1, $2, $3) ON CONFLICT ("code") DO UPDATE SET "name" = excluded."name", "state" = excluded."state"`,
		sql)
}

func TestUpsertSQL_SQLiteExplicitUpdateCols(t *testing.T) {
	sql, err := UpsertSQL(UpsertConfig{
		Table:        "api_endpoints",
		Columns:      []string{"center_code", "url", "last_success"},
		ConflictKeys: []string{"center_code"},
		UpdateCols:   []string{"url"},
	}, Question)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "api_endpoints" ("center_code", "url", "last_success") VALUES (?, ?, ?) ON CONFLICT ("center_code") DO UPDATE SET "url" = excluded."url"`,
		sql)
}

func TestUpsertSQL_OnlyKeysDoesNothing(t *testing.T) {
	sql, err := UpsertSQL(UpsertConfig{Table: "t", Columns: []string{"id"}, ConflictKeys: []string{"id"}}, Question)
	require.NoError(t, err)
	assert.Contains(t, sql, "DO NOTHING")
}

func TestUpsertSQL_NoColumns(t *testing.T) {
	_, err := UpsertSQL(UpsertConfig{Table: "t", ConflictKeys: []string{"id"}}, Dollar)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestUpsertSQL_NoConflictKeys(t *testing.T) {
	_, err := UpsertSQL(UpsertConfig{Table: "t", Columns: []string{"id"}}, Dollar)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestMustUpsertSQL_Panics(t *testing.T) {
	assert.Panics(t, func() { MustUpsertSQL(UpsertConfig{}, Dollar) })
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"incidents", `"incidents"`},
		{"public.incidents", `"public"."incidents"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestCopyFrom(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"incident_observations"}, []string{"identity", "status"}).
		WillReturnResult(2)

	n, err := CopyFrom(context.Background(), mock, "incident_observations",
		[]string{"identity", "status"}, [][]any{{"a", "Active"}, {"b", "Out"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Empty(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "t", []string{"a"}, nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"t"}, []string{"a"}).WillReturnError(errors.New("conn reset"))
	_, err = CopyFrom(context.Background(), mock, "t", []string{"a"}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: COPY INTO t")
}
