package ledger_test

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborlabs/kbackup/internal/ledger"
)

func TestEnsureSchemaIssuesCreateTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS backup_runs").WillReturnResult(sqlmock.NewResult(0, 0))

	l := ledger.New(db, uuid.New())
	err = l.EnsureSchema(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCompletionInsertsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	runID := uuid.New()
	mock.ExpectExec("INSERT INTO backup_runs").
		WithArgs(runID, "2026-01-01T00:00:00Z.json", "completed", 3, int64(1024), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	l := ledger.New(db, runID)
	l.RecordCompletion(context.Background(), "2026-01-01T00:00:00Z.json", 3, 1024)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCompletionOnNilLedgerIsANoOp(t *testing.T) {
	var l *ledger.Ledger
	assert.NotPanics(t, func() {
		l.RecordCompletion(context.Background(), "k", 1, 1)
	})
}

func TestRunIDOnNilLedgerReturnsZeroValue(t *testing.T) {
	var l *ledger.Ledger
	assert.Equal(t, uuid.UUID{}, l.RunID())
}

func TestRecentRunsScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	runID := uuid.New()
	rows := sqlmock.NewRows([]string{"run_id", "object_key", "event", "part_count", "total_bytes", "recorded_at"}).
		AddRow(runID, "k1.json", "completed", 2, int64(512), now)
	mock.ExpectQuery("SELECT run_id, object_key, event, part_count, total_bytes, recorded_at").
		WithArgs(20).
		WillReturnRows(rows)

	l := ledger.New(db, runID)
	runs, err := l.RecentRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].RunID)
	assert.Equal(t, "k1.json", runs[0].ObjectKey)
	assert.Equal(t, "completed", runs[0].Event)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentRunsOnNilLedgerReturnsNil(t *testing.T) {
	var l *ledger.Ledger
	runs, err := l.RecentRuns(context.Background(), 10)
	assert.NoError(t, err)
	assert.Nil(t, runs)
}
