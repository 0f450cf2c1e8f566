package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCols = []string{"id", "reading", "source"}

func testConfig(batch int) UpsertConfig {
	return UpsertConfig{
		Table:        "public.readings",
		Columns:      testCols,
		ConflictKeys: []string{"id"},
		CoalesceCols: []string{"reading"},
		TouchCol:     "updated_at",
		BatchSize:    batch,
	}
}

func TestMergeUpsert_EmptyRows(t *testing.T) {
	n, err := MergeUpsert(context.Background(), nil, testConfig(10), nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMergeUpsert_NoColumns(t *testing.T) {
	_, err := MergeUpsert(context.Background(), nil, UpsertConfig{
		Table:        "public.readings",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestMergeUpsert_NoConflictKeys(t *testing.T) {
	_, err := MergeUpsert(context.Background(), nil, UpsertConfig{
		Table:   "public.readings",
		Columns: []string{"id", "name"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestMergeUpsert_NothingToUpdate(t *testing.T) {
	_, err := MergeUpsert(context.Background(), nil, UpsertConfig{
		Table:        "public.readings",
		Columns:      []string{"id"},
		ConflictKeys: []string{"id"},
	}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns to update")
}

func TestMergeUpsert_Chunks(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tmp := TempTableName("public.readings")
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{tmp}, testCols).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "public"."readings" AS t .* ON CONFLICT \("id"\) DO UPDATE SET "reading" = COALESCE\(EXCLUDED."reading", t."reading"\), "source" = EXCLUDED."source", "updated_at" = now\(\)`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("TRUNCATE").WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{tmp}, testCols).WillReturnResult(1)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rows := [][]any{{1, 1.5, "a"}, {2, nil, "a"}, {3, 2.0, "b"}}
	n, err := MergeUpsert(context.Background(), mock, testConfig(2), rows)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeUpsert_ChunkFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tmp := TempTableName("public.readings")
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{tmp}, testCols).WillReturnResult(1)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("TRUNCATE").WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{tmp}, testCols).WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	rows := [][]any{{1, 1.0, "a"}, {2, 2.0, "a"}}
	n, err := MergeUpsert(context.Background(), mock, testConfig(1), rows)
	require.Error(t, err)
	assert.Equal(t, int64(0), n)
	assert.Contains(t, err.Error(), "chunk 1-2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeUpsert_BeginError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("pool closed"))

	_, err = MergeUpsert(context.Background(), mock, testConfig(0), [][]any{{1, 1.0, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}

func TestBuildSetClauses(t *testing.T) {
	got := buildSetClauses(UpsertConfig{
		Columns:      []string{"k", "a", "b", "src"},
		ConflictKeys: []string{"k"},
		CoalesceCols: []string{"a", "b"},
	})
	assert.Equal(t, []string{
		`"a" = COALESCE(EXCLUDED."a", t."a")`,
		`"b" = COALESCE(EXCLUDED."b", t."b")`,
		`"src" = EXCLUDED."src"`,
	}, got)

	got = buildSetClauses(UpsertConfig{
		Columns:      []string{"k", "a"},
		ConflictKeys: []string{"k"},
		UpdateCols:   []string{},
		TouchCol:     "updated_at",
	})
	assert.Equal(t, []string{`"updated_at" = now()`}, got)
}

func TestTempTableName(t *testing.T) {
	assert.Equal(t, "_tmp_upsert_public_readings", TempTableName("public.readings"))
	assert.Equal(t, "_tmp_upsert_readings", TempTableName("readings"))
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.consolidated_measurements", `"public"."consolidated_measurements"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"asset_id", "timestamp", "source"})
	assert.Equal(t, `"asset_id", "timestamp", "source"`, result)
}
