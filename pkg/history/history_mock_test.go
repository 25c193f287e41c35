package history

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockStore returns a Postgres-dialect store whose migrations have
// already been consumed from the mock.
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, m := range migrations {
		mock.ExpectExec(regexp.QuoteMeta(m)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM schema_version")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_version (version) VALUES ($1)")).
		WithArgs(int64(CurrentSchemaVersion)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	s, err := New(db, DialectPostgres)
	require.NoError(t, err)
	return s, mock
}

func TestPostgresPlaceholders(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`(?s)INSERT INTO backup_runs.*VALUES \(\$1, \$2, .*\$14\)`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Record(context.Background(), sampleRecord(time.Now()))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO backup_runs").WillReturnError(errors.New("connection reset"))

	err := s.Record(context.Background(), sampleRecord(time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history: save record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListQueryError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM backup_runs ORDER BY started_at DESC LIMIT $1")).
		WithArgs(int64(10)).
		WillReturnError(errors.New("timeout"))

	_, err := s.List(context.Background(), 10)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPrunedPostgres(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Unix(1700000000, 0)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE backup_runs SET pruned_at = $1 WHERE path = $2")).
		WithArgs(at.UnixNano(), "/app/backups/x.enc").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.MarkPruned(context.Background(), "/app/backups/x.enc", at)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewerSchemaRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, m := range migrations {
		mock.ExpectExec(regexp.QuoteMeta(m)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM schema_version")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(CurrentSchemaVersion + 1))

	_, err = New(db, DialectSQLite)
	assert.ErrorContains(t, err, "newer than supported")
}
