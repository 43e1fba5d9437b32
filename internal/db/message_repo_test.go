package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"alertstream/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// messageMockRows yields MessageRecords in the column order of messageColumns.
type messageMockRows struct {
	data    []types.MessageRecord
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func (r *messageMockRows) Next() bool {
	if r.closed || r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *messageMockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx-1]
	*dest[0].(*int64) = row.ID
	*dest[1].(*string) = row.Message
	*dest[2].(**string) = nilIfEmpty(row.CreatedBy)
	*dest[3].(*time.Time) = row.CreatedAt
	*dest[4].(**string) = nilIfEmpty(row.SiteUUID)
	*dest[5].(**string) = nilIfEmpty(row.Host)
	*dest[6].(**string) = nilIfEmpty(row.HostSiteID)
	*dest[7].(**string) = nilIfEmpty(row.HostSensorID)
	*dest[8].(**string) = nilIfEmpty(row.TriggerType)
	*dest[9].(*[]string) = row.TargetChannels
	*dest[10].(**float64) = row.SiteLat
	*dest[11].(**float64) = row.SiteLong
	*dest[12].(*[]string) = row.Tags
	return nil
}

func (r *messageMockRows) Close()                                       { r.closed = true }
func (r *messageMockRows) Err() error                                   { return r.errVal }
func (r *messageMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *messageMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *messageMockRows) RawValues() [][]byte                          { return nil }
func (r *messageMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *messageMockRows) Conn() *pgx.Conn                              { return nil }

// --- MessageRepository Tests ---

func TestMessageRepository_Insert(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	created := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "INSERT INTO message")
	}), mock.Anything).Return(&mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*int64) = 42
		*dest[1].(*time.Time) = created
		return nil
	}})

	m := &types.MessageRecord{Message: "Rain detected", Host: "node-1", Tags: []string{"Rain"}}
	require.NoError(t, repo.Insert(context.Background(), m))
	assert.Equal(t, int64(42), m.ID)
	assert.Equal(t, created, m.CreatedAt)
	assert.Equal(t, types.MessagePending, m.Status)
	db.AssertExpectations(t)
}

func TestMessageRepository_Insert_Error(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection reset")})

	err := repo.Insert(context.Background(), &types.MessageRecord{Message: "x"})
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestMessageRepository_ClaimPending(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	lat := 52.1
	rows := &messageMockRows{data: []types.MessageRecord{
		{ID: 1, Message: "a", Host: "node-1", CreatedAt: time.Now(), Tags: []string{"Rain"}, SiteLat: &lat},
		{ID: 2, Message: "b", CreatedAt: time.Now()},
	}}
	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "FOR UPDATE SKIP LOCKED")
	}), mock.MatchedBy(func(args []any) bool {
		return len(args) == 3 && args[0] == "tok-1" && args[2] == 10
	})).Return(rows, nil)

	got, err := repo.ClaimPending(context.Background(), "tok-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "node-1", got[0].Host)
	assert.Equal(t, []string{"Rain"}, got[0].Tags)
	assert.Equal(t, 52.1, *got[0].SiteLat)
	assert.Equal(t, "", got[1].Host)
	assert.Equal(t, types.MessageProcessing, got[1].Status)
	assert.Equal(t, "tok-1", got[1].ClaimToken)
	assert.True(t, rows.closed)
	db.AssertExpectations(t)
}

func TestMessageRepository_ClaimPending_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	_, err := repo.ClaimPending(context.Background(), "tok", 0)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestMessageRepository_ClaimPending_RowsErr(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).
		Return(&messageMockRows{errVal: errors.New("stream broke")}, nil)

	_, err := repo.ClaimPending(context.Background(), "tok", 5)
	assert.Error(t, err)
}

func TestMessageRepository_MarkTerminal(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 5 && args[0] == "failed" && args[3] == int64(7) && args[4] == "tok"
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.MarkTerminal(context.Background(), 7, "tok", types.MessageFailed, "parse error"))
	db.AssertExpectations(t)
}

func TestMessageRepository_MarkTerminal_ClaimLost(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.MarkTerminal(context.Background(), 7, "tok", types.MessageSent, "")
	assert.Equal(t, types.ErrCodeIOMoveFailed, types.CodeOf(err))
}

func TestMessageRepository_MarkTerminal_RejectsNonTerminal(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	err := repo.MarkTerminal(context.Background(), 7, "tok", types.MessagePending, "")
	assert.Error(t, err)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestMessageRepository_Release(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{int64(3), "tok"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.Release(context.Background(), 3, "tok"))
	db.AssertExpectations(t)
}

func TestMessageRepository_ResetStaleClaims(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	before := time.Now().UTC().Add(-10 * time.Minute)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		cutoff, ok := args[0].(time.Time)
		return ok && !cutoff.Before(before.Add(-time.Second))
	})).Return(pgconn.NewCommandTag("UPDATE 3"), nil)

	n, err := repo.ResetStaleClaims(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

type statusCount struct {
	status string
	n      int64
}

type countRows struct {
	messageMockRows
	counts []statusCount
}

func (r *countRows) Next() bool {
	if r.idx >= len(r.counts) {
		return false
	}
	r.idx++
	return true
}

func (r *countRows) Scan(dest ...any) error {
	c := r.counts[r.idx-1]
	*dest[0].(*string) = c.status
	*dest[1].(*int64) = c.n
	return nil
}

func TestMessageRepository_CountByStatus(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	rows := &countRows{counts: []statusCount{{"pending", 4}, {"sent", 12}}}
	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "GROUP BY status")
	}), mock.Anything).Return(rows, nil)

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[types.MessageStatus]int64{types.MessagePending: 4, types.MessageSent: 12}, counts)
}

func TestMessageRepository_CountByStatus_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("conn reset"))

	_, err := repo.CountByStatus(context.Background())
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestMessageRecord_PayloadOmitsEmptyColumns(t *testing.T) {
	m := &types.MessageRecord{
		Message:   "Rain detected",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Host:      "node-1",
		Tags:      []string{"Rain"},
	}
	p := m.Payload()
	assert.Equal(t, "Rain detected", p[types.KeyMessage])
	assert.Equal(t, "node-1", p[types.KeyHost])
	assert.Equal(t, []any{"Rain"}, p[types.KeyTags])
	assert.NotContains(t, p, types.KeySiteID)
	assert.NotContains(t, p, types.KeyTargetChannels)
}
