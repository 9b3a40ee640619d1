package reader

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/replcheck/internal/resilience"
	"github.com/sells-group/replcheck/internal/row"
)

var ordersSpec = Spec{
	Table:            "public.orders",
	KeyColumns:       []string{"id"},
	Columns:          []string{"value"},
	CommitTimeColumn: "updated_at",
}

func noRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 1}
}

func newMockReader(t *testing.T, spec Spec, opts ...Option) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	opts = append([]Option{WithRetry(noRetry())}, opts...)
	return NewPostgres(mock, spec, opts...), mock
}

func TestPostgres_Read(t *testing.T) {
	r, mock := newMockReader(t, ordersSpec)

	asOf := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	commit := asOf.Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "id", "value", "updated_at" FROM "public"."orders"`).
		WithArgs(asOf).
		WillReturnRows(pgxmock.NewRows([]string{"id", "value", "updated_at"}).
			AddRow(int64(1), "a", commit).
			AddRow(int64(2), "b", commit))
	mock.ExpectCommit()

	snaps, err := r.Read(context.Background(), KeyRange{}, asOf)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	assert.Equal(t, row.KeyOf(1), snaps[0].Key)
	assert.Equal(t, row.Value("a"), snaps[0].Columns["value"])
	assert.Equal(t, commit, snaps[0].Marker.At)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Read_KeyRangeArgs(t *testing.T) {
	r, mock := newMockReader(t, ordersSpec)

	asOf := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM "public"."orders" WHERE .+ ORDER BY`).
		WithArgs("100", "200", asOf).
		WillReturnRows(pgxmock.NewRows([]string{"id", "value", "updated_at"}))
	mock.ExpectCommit()

	_, err := r.Read(context.Background(), KeyRange{Start: row.KeyOf(100), End: row.KeyOf(200)}, asOf)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Read_KeyBoundsUseBytewiseCollation(t *testing.T) {
	r, mock := newMockReader(t, ordersSpec)

	asOf := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Bounds and ordering must be bytewise regardless of the database's
	// default collation, matching the CLI's own key ordering.
	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE \("id"::text COLLATE "C"\) >= \(\$1\) AND \("id"::text COLLATE "C"\) <= \(\$2\).*ORDER BY "id"::text COLLATE "C"`).
		WithArgs("100", "200", asOf).
		WillReturnRows(pgxmock.NewRows([]string{"id", "value", "updated_at"}))
	mock.ExpectCommit()

	_, err := r.Read(context.Background(), KeyRange{Start: row.KeyOf(100), End: row.KeyOf(200)}, asOf)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Read_AsOfMustNotRegress(t *testing.T) {
	r, mock := newMockReader(t, ordersSpec)

	later := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM "public"."orders"`).
		WithArgs(later).
		WillReturnRows(pgxmock.NewRows([]string{"id", "value", "updated_at"}))
	mock.ExpectCommit()

	_, err := r.Read(context.Background(), KeyRange{}, later)
	require.NoError(t, err)

	_, err = r.Read(context.Background(), KeyRange{}, later.Add(-time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrAsOfRegression)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Read_AcquireTimeoutIsPoolExhausted(t *testing.T) {
	r, mock := newMockReader(t, ordersSpec)

	mock.ExpectBegin().WillReturnError(context.DeadlineExceeded)

	_, err := r.Read(context.Background(), KeyRange{}, time.Now().UTC())
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrPoolExhausted)
	assert.True(t, resilience.IsTransient(err))
}

func TestPostgres_Read_RetriesTransientQueryFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	r := NewPostgres(mock, ordersSpec, WithRetry(resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		JitterFraction: 0,
	}))

	asOf := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM "public"."orders"`).
		WithArgs(asOf).
		WillReturnError(eris.New("read tcp: connection reset by peer"))
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM "public"."orders"`).
		WithArgs(asOf).
		WillReturnRows(pgxmock.NewRows([]string{"id", "value", "updated_at"}).
			AddRow(int64(7), "x", asOf))
	mock.ExpectCommit()

	snaps, err := r.Read(context.Background(), KeyRange{}, asOf)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Write_ReturnsMarkerFromDBClock(t *testing.T) {
	probeSpec := Spec{
		Table:      "replcheck_probe",
		KeyColumns: []string{"op_id"},
		Columns:    []string{"payload"},
	}
	r, mock := newMockReader(t, probeSpec)

	commit := time.Date(2026, 3, 1, 12, 0, 0, 500000000, time.UTC)

	mock.ExpectQuery(`INSERT INTO "replcheck_probe" \("op_id", "payload"\) VALUES \(\$1, \$2\) RETURNING now\(\)`).
		WithArgs("op-1", "ping").
		WillReturnRows(pgxmock.NewRows([]string{"now"}).AddRow(commit))

	marker, err := r.Write(context.Background(), row.Snapshot{
		Key:     row.KeyOf("op-1"),
		Columns: map[string]row.Value{"op_id": "op-1", "payload": "ping"},
	})
	require.NoError(t, err)
	assert.Equal(t, commit, marker.At)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Delete_SingleColumnKeys(t *testing.T) {
	probeSpec := Spec{
		Table:      "replcheck_probe",
		KeyColumns: []string{"op_id"},
	}
	r, mock := newMockReader(t, probeSpec)

	mock.ExpectExec(`DELETE FROM "replcheck_probe" WHERE "op_id"::text = ANY\(\$1\)`).
		WithArgs([]string{"op-1", "op-2"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	n, err := r.Delete(context.Background(), []row.Key{row.KeyOf("op-1"), row.KeyOf("op-2")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Delete_NoKeysIsNoop(t *testing.T) {
	r, mock := newMockReader(t, ordersSpec)

	n, err := r.Delete(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
