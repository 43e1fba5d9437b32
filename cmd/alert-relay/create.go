package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"alertstream/internal/config"
	"alertstream/internal/db"
	"alertstream/internal/dedup"
	"alertstream/internal/fsutil"
	"alertstream/internal/source"
	"alertstream/internal/types"
)

// createdAtLayout is what authored files carry; the relay reads it as UTC.
const createdAtLayout = "2006-01-02 15:04:05"

// ErrDuplicateContent is returned when the template's content is already in
// the archive and would only be routed to sent/ as a duplicate.
var ErrDuplicateContent = errors.New("alert content already exists in the archive")

// createSettings is the slice of configuration the create command reads.
type createSettings struct {
	Inbox    config.InboxConfig
	Dedup    config.DedupConfig
	Database config.DatabaseConfig
}

type createOptions struct {
	From      string
	Inbox     string
	Prefix    string
	CreatedBy string
	Now       time.Time
}

type duplicateChecker interface {
	IsDuplicate(ctx context.Context, alert *types.Alert) (bool, error)
}

type messageInserter interface {
	Insert(ctx context.Context, m *types.MessageRecord) error
}

func newCreateCmd() *cobra.Command {
	var (
		from      string
		inbox     string
		createdBy string
		useDB     bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Write a new alert into the inbox from a template",
		Long: `Write a new alert into the inbox from a template.

The template's created_at is replaced with the current UTC time. Content that
already exists in the archive is refused.

Examples:
  alert-relay create --from new_message.yaml
  alert-relay create --from new_message.yaml --db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var settings createSettings
			if err := config.LoadSection(secretProvider(), &settings); err != nil {
				return err
			}
			if inbox == "" {
				inbox = settings.Inbox.Root
			}

			store, err := dedup.NewStore(dedup.Options{
				ArchiveDir: settings.Dedup.ArchiveDir,
				Logger:     types.NopLogger{},
			})
			if err != nil {
				return err
			}
			defer store.Close()
			if _, err := store.Refresh(ctx); err != nil {
				return err
			}

			var inserter messageInserter
			if useDB {
				if settings.Database.URL.IsZero() {
					return errors.New("--db requires DATABASE_URL")
				}
				pool, err := db.NewPool(ctx, settings.Database.URL.Unmask(), 1)
				if err != nil {
					return err
				}
				defer pool.Close()
				if err := db.EnsureSchema(ctx, pool); err != nil {
					return err
				}
				inserter = db.NewMessageRepository(pool)
			}

			path, err := createAlert(ctx, createOptions{
				From:      from,
				Inbox:     inbox,
				Prefix:    settings.Inbox.FilePrefix,
				CreatedBy: createdBy,
				Now:       time.Now().UTC(),
			}, store, inserter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "new_message.yaml", "alert template to copy")
	cmd.Flags().StringVar(&inbox, "inbox", "", "inbox directory (overrides INBOX_ROOT)")
	cmd.Flags().StringVar(&createdBy, "created-by", "alert-relay", "created_by value for the database row")
	cmd.Flags().BoolVar(&useDB, "db", false, "also insert the alert into the message table")
	return cmd
}

// createAlert stamps the template and writes it into the inbox. The database
// row, when requested, is inserted before the file appears.
func createAlert(ctx context.Context, opts createOptions, dups duplicateChecker, inserter messageInserter) (string, error) {
	data, err := os.ReadFile(opts.From)
	if err != nil {
		return "", fmt.Errorf("reading template: %w", err)
	}
	payload, err := source.ParsePayload(data)
	if err != nil {
		return "", err
	}
	payload[types.KeyCreatedAt] = opts.Now.UTC().Format(createdAtLayout)

	alert := &types.Alert{Payload: payload, CreatedAt: opts.Now.UTC()}
	if err := alert.Validate(); err != nil {
		return "", err
	}

	dup, err := dups.IsDuplicate(ctx, alert)
	if err != nil {
		return "", fmt.Errorf("checking archive: %w", err)
	}
	if dup {
		return "", ErrDuplicateContent
	}

	if inserter != nil {
		rec := messageRecordFrom(alert, opts.CreatedBy)
		if err := inserter.Insert(ctx, rec); err != nil {
			return "", fmt.Errorf("inserting message row: %w", err)
		}
	}

	out, err := yaml.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding alert: %w", err)
	}
	if err := fsutil.EnsureDirs(opts.Inbox); err != nil {
		return "", err
	}
	name := opts.Prefix + opts.Now.UTC().Format("20060102T150405Z") + ".yaml"
	path := fsutil.UniquePath(filepath.Join(opts.Inbox, name), ".yaml")
	if err := fsutil.WriteFileAtomic(path, out, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func messageRecordFrom(alert *types.Alert, createdBy string) *types.MessageRecord {
	return &types.MessageRecord{
		Message:        alert.Message(),
		CreatedBy:      createdBy,
		CreatedAt:      alert.CreatedAt,
		SiteUUID:       alert.StringField("site_uuid"),
		Host:           alert.Host(),
		HostSiteID:     alert.SiteID(),
		HostSensorID:   alert.SensorID(),
		TriggerType:    alert.StringField("trigger_type"),
		TargetChannels: alert.TargetChannels(),
		SiteLat:        floatField(alert, "site_lat"),
		SiteLong:       floatField(alert, "site_long"),
		Tags:           alert.Tags(),
		Status:         types.MessagePending,
	}
}

func floatField(alert *types.Alert, key string) *float64 {
	var f float64
	switch v := alert.Payload[key].(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}
