package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertstream/internal/transition"
	"alertstream/internal/types"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

func newTestFileSource(t *testing.T) (*FileSource, transition.Layout) {
	t.Helper()
	layout := transition.NewLayout(filepath.Join(t.TempDir(), "inbox"))
	tm, err := transition.NewManager(layout, nil)
	require.NoError(t, err)
	src, err := NewFileSource(FileOptions{Transitions: tm, Prefix: "alert_", Clock: fixedClock{testNow}})
	require.NoError(t, err)
	return src, layout
}

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFileSource_PollClaimsRecognizedFiles(t *testing.T) {
	src, layout := newTestFileSource(t)
	write(t, layout.Inbox, "alert_b.yaml", "message: second\ncreated_at: now\n")
	write(t, layout.Inbox, "alert_a.yml", "message: first\ncreated_at: '2026-01-02 03:04:05'\nhost: node-1\ntags: [Rain]\n")
	write(t, layout.Inbox, "notes.yaml", "message: ignored\n")
	write(t, layout.Inbox, "alert_c.txt", "message: ignored\n")

	alerts, err := src.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	a := alerts[0]
	assert.Equal(t, "alert_a", a.ID)
	assert.Equal(t, types.SourceFile, a.Source)
	assert.Equal(t, "first", a.Payload[types.KeyMessage])
	assert.Equal(t, []any{"Rain"}, a.Payload[types.KeyTags])
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), a.CreatedAt)
	assert.Equal(t, filepath.Join(layout.Inbox, "alert_a.yml")+transition.ProcessingSuffix, a.ClaimRef)
	assert.Nil(t, a.ParseErr)

	assert.Equal(t, testNow, alerts[1].CreatedAt, "now sentinel resolves to the clock")

	again, err := src.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again, "claimed files are invisible to the next poll")
}

func TestFileSource_ParseErrorStillReturned(t *testing.T) {
	src, layout := newTestFileSource(t)
	write(t, layout.Inbox, "alert_bad.yaml", "message: [unterminated\n")
	write(t, layout.Inbox, "alert_empty.yaml", "")

	alerts, err := src.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	for _, a := range alerts {
		assert.Equal(t, types.ErrCodeParseInvalidAlert, types.CodeOf(a.ParseErr), a.ID)
	}
}

func TestFileSource_CompleteMovesToTerminal(t *testing.T) {
	src, layout := newTestFileSource(t)
	write(t, layout.Inbox, "alert_1.yaml", "message: hi\ncreated_at: now\n")

	alerts, err := src.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	require.NoError(t, src.Complete(context.Background(), alerts[0], types.AlertFailed, "validation"))
	assert.Equal(t, types.AlertFailed, alerts[0].State)
	assert.FileExists(t, filepath.Join(layout.Failed, "alert_1.yaml"))
	assert.NoFileExists(t, filepath.Join(layout.Sent, "alert_1.yaml"))
}

func TestFileSource_ReleaseMakesFileVisibleAgain(t *testing.T) {
	src, layout := newTestFileSource(t)
	write(t, layout.Inbox, "alert_1.yaml", "message: hi\ncreated_at: now\n")

	alerts, err := src.Poll(context.Background())
	require.NoError(t, err)
	require.NoError(t, src.Release(context.Background(), alerts[0]))

	again, err := src.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestFileSource_RecoverAndCheck(t *testing.T) {
	src, layout := newTestFileSource(t)
	stale := filepath.Join(layout.Inbox, "alert_1.yaml"+transition.ProcessingSuffix)
	write(t, layout.Inbox, filepath.Base(stale), "message: hi\ncreated_at: now\n")
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	require.NoError(t, src.Recover(context.Background()))
	alerts, err := src.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	assert.NoError(t, src.Check(context.Background()))
}

func TestFileSource_SecondProcessCannotTakeLiveClaim(t *testing.T) {
	first, layout := newTestFileSource(t)
	write(t, layout.Inbox, "alert_1.yaml", "message: hi\ncreated_at: now\n")

	claimed, err := first.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	tm, err := transition.NewManager(layout, nil)
	require.NoError(t, err)
	second, err := NewFileSource(FileOptions{Transitions: tm, Prefix: "alert_"})
	require.NoError(t, err)

	require.NoError(t, second.Recover(context.Background()))
	stolen, err := second.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stolen)
	assert.FileExists(t, claimed[0].ClaimRef)
}

func TestNewFileSource_RequiresTransitions(t *testing.T) {
	_, err := NewFileSource(FileOptions{})
	assert.Error(t, err)
}
