package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertstream/internal/config"
	"alertstream/internal/dedup"
	"alertstream/internal/source"
	"alertstream/internal/types"
)

var createNow = time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

type recordingInserter struct {
	rows []*types.MessageRecord
	err  error
}

func (r *recordingInserter) Insert(_ context.Context, m *types.MessageRecord) error {
	if r.err != nil {
		return r.err
	}
	m.ID = int64(len(r.rows) + 1)
	r.rows = append(r.rows, m)
	return nil
}

func writeTemplate(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "new_message.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newArchive(t *testing.T) (*dedup.Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "archive")
	store, err := dedup.NewStore(dedup.Options{ArchiveDir: dir, Logger: types.NopLogger{}})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, dir
}

func TestCreateAlert_WritesStampedFile(t *testing.T) {
	store, _ := newArchive(t)
	inbox := filepath.Join(t.TempDir(), "inbox")
	tmpl := writeTemplate(t, "message: Rain detected\ncreated_at: YYYY-MM-DD HH:mm:ss\nhost: station-7\n")

	path, err := createAlert(context.Background(), createOptions{
		From:   tmpl,
		Inbox:  inbox,
		Prefix: "alert_",
		Now:    createNow,
	}, store, nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(inbox, "alert_20260301T110000Z.yaml"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	payload, err := source.ParsePayload(data)
	require.NoError(t, err)
	assert.Equal(t, "Rain detected", payload["message"])
	assert.Equal(t, "station-7", payload["host"])

	createdAt, err := types.ParseCreatedAt(payload["created_at"], time.Time{})
	require.NoError(t, err)
	assert.Equal(t, createNow, createdAt)
}

func TestCreateAlert_SameSecondGetsUniqueName(t *testing.T) {
	store, _ := newArchive(t)
	inbox := t.TempDir()
	opts := createOptions{Inbox: inbox, Prefix: "alert_", Now: createNow}

	opts.From = writeTemplate(t, "message: first\ncreated_at: now\n")
	first, err := createAlert(context.Background(), opts, store, nil)
	require.NoError(t, err)

	opts.From = writeTemplate(t, "message: second\ncreated_at: now\n")
	second, err := createAlert(context.Background(), opts, store, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, "alert_20260301T110000Z-1.yaml", filepath.Base(second))
}

func TestCreateAlert_RefusesArchivedContent(t *testing.T) {
	store, _ := newArchive(t)
	ctx := context.Background()

	archived := &types.Alert{
		ID:      "alert_old.yaml",
		Payload: map[string]any{"message": "Rain detected", "created_at": "2025-01-01 00:00:00"},
	}
	_, err := store.Record(ctx, archived)
	require.NoError(t, err)

	inbox := t.TempDir()
	_, err = createAlert(ctx, createOptions{
		From:   writeTemplate(t, "message: Rain detected\ncreated_at: now\n"),
		Inbox:  inbox,
		Prefix: "alert_",
		Now:    createNow,
	}, store, nil)
	assert.ErrorIs(t, err, ErrDuplicateContent)

	entries, err := os.ReadDir(inbox)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateAlert_InsertsRow(t *testing.T) {
	store, _ := newArchive(t)
	rows := &recordingInserter{}
	tmpl := writeTemplate(t, `message: Frost warning
created_at: now
host: station-7
host_site_id: 12
host_sensor_id: S-4
site_uuid: 7f9c
trigger_type: threshold
site_lat: 52.1
site_long: "-1.5"
tags: [frost, weather]
target_channels: feed
`)

	_, err := createAlert(context.Background(), createOptions{
		From:      tmpl,
		Inbox:     t.TempDir(),
		Prefix:    "alert_",
		CreatedBy: "ops",
		Now:       createNow,
	}, store, rows)
	require.NoError(t, err)

	require.Len(t, rows.rows, 1)
	row := rows.rows[0]
	assert.Equal(t, "Frost warning", row.Message)
	assert.Equal(t, "ops", row.CreatedBy)
	assert.Equal(t, createNow, row.CreatedAt)
	assert.Equal(t, "station-7", row.Host)
	assert.Equal(t, "12", row.HostSiteID)
	assert.Equal(t, "S-4", row.HostSensorID)
	assert.Equal(t, "7f9c", row.SiteUUID)
	assert.Equal(t, "threshold", row.TriggerType)
	assert.Equal(t, []string{"frost", "weather"}, row.Tags)
	assert.Equal(t, []string{"feed"}, row.TargetChannels)
	require.NotNil(t, row.SiteLat)
	assert.InDelta(t, 52.1, *row.SiteLat, 1e-9)
	require.NotNil(t, row.SiteLong)
	assert.InDelta(t, -1.5, *row.SiteLong, 1e-9)
	assert.Equal(t, types.MessagePending, row.Status)
}

func TestCreateAlert_InsertFailureWritesNothing(t *testing.T) {
	store, _ := newArchive(t)
	inbox := t.TempDir()

	_, err := createAlert(context.Background(), createOptions{
		From:   writeTemplate(t, "message: hi\ncreated_at: now\n"),
		Inbox:  inbox,
		Prefix: "alert_",
		Now:    createNow,
	}, store, &recordingInserter{err: errors.New("connection refused")})
	require.Error(t, err)

	entries, err := os.ReadDir(inbox)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateAlert_InvalidTemplate(t *testing.T) {
	store, _ := newArchive(t)
	opts := createOptions{Inbox: t.TempDir(), Prefix: "alert_", Now: createNow}

	opts.From = writeTemplate(t, "created_at: now\nhost: x\n")
	_, err := createAlert(context.Background(), opts, store, nil)
	assert.Equal(t, types.ErrCodeValidationMissingField, types.CodeOf(err))

	opts.From = writeTemplate(t, "message: [unterminated\n")
	_, err = createAlert(context.Background(), opts, store, nil)
	assert.Equal(t, types.ErrCodeParseInvalidAlert, types.CodeOf(err))

	opts.From = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = createAlert(context.Background(), opts, store, nil)
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	cfg := &config.Config{
		Environment: "local",
		LogLevel:    "info",
		Feed:        config.FeedConfig{PDSURL: "https://pds.example.net", Handle: "h", Password: "p"},
		Session:     config.SessionConfig{DefaultTTL: time.Hour},
		Inbox: config.InboxConfig{
			Source: "file", Root: "inbox", FilePrefix: "alert_", CheckIntervalSeconds: 5, Workers: 2,
		},
		Message:       config.MessageConfig{MaxChars: 300, MaxAttachmentBytes: 1, MaxAttachments: 4},
		Delivery:      config.DeliveryConfig{MaxAttempts: 3, BackoffBase: time.Second, BackoffMax: 10 * time.Second, BackoffFactor: 2},
		Dedup:         config.DedupConfig{ArchiveDir: "archive", Index: "memory"},
		Database:      config.DatabaseConfig{MaxConns: 1, BatchSize: 1},
		Observability: config.ObservabilityConfig{MetricsBackend: "none"},
	}

	require.NoError(t, applyOverrides(cfg, &runFlags{inbox: "/srv/inbox", interval: 30, verbose: true}))
	assert.Equal(t, "/srv/inbox", cfg.Inbox.Root)
	assert.Equal(t, 30*time.Second, cfg.Inbox.CheckInterval())
	assert.True(t, cfg.Verbose)

	require.NoError(t, applyOverrides(cfg, &runFlags{}))
	assert.Equal(t, "/srv/inbox", cfg.Inbox.Root)
}

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", false)
	logger.Info("hidden")
	logger.With("alert_id", "alert_1.yaml").Warn("shown", "reason", "x")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "alert_1.yaml", entry["alert_id"])

	buf.Reset()
	newLogger(&buf, "error", true).Debug("debug visible")
	assert.Contains(t, buf.String(), "debug visible")
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "alert-relay dev")
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["create"])
	assert.True(t, names["version"])

	assert.NotNil(t, cmd.Flags().Lookup("inbox"))
	assert.NotNil(t, cmd.Flags().Lookup("interval"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("verbose"))
}
