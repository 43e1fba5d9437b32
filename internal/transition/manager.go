// Package transition moves alert files through the inbox lifecycle.
//
// A file is pending while it carries its original name in the inbox root. It
// is claimed by renaming it to "<name>.processing", which makes it invisible
// to other polls. From the claim it either returns to pending (Release) or
// moves to exactly one terminal folder (MoveToTerminal). All moves are
// same-filesystem links or renames, so each step is atomic. A claim carries
// its claim time as the file's modification time; Recover only releases
// claims older than the claim timeout, so a live claim held by another
// process is never taken back.
package transition

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"alertstream/internal/fsutil"
	"alertstream/internal/types"
)

// ProcessingSuffix marks a claimed file.
const ProcessingSuffix = ".processing"

const (
	sentDir   = "sent"
	failedDir = "failed"
)

// ErrAlreadyClaimed is returned by Claim when another worker renamed the file
// first.
var ErrAlreadyClaimed = errors.New("alert file already claimed")

// Layout names the directories a Manager works in.
type Layout struct {
	Inbox  string
	Sent   string
	Failed string
}

// NewLayout derives the standard layout rooted at inbox.
func NewLayout(inbox string) Layout {
	return Layout{
		Inbox:  inbox,
		Sent:   filepath.Join(inbox, sentDir),
		Failed: filepath.Join(inbox, failedDir),
	}
}

// Manager performs the inbox state transitions.
type Manager struct {
	layout Layout
	logger types.Logger
	now    func() time.Time
}

// NewManager creates the inbox, sent and failed directories if absent.
func NewManager(layout Layout, logger types.Logger) (*Manager, error) {
	if layout.Inbox == "" {
		return nil, fmt.Errorf("transition: inbox directory is required")
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	if err := fsutil.EnsureDirs(layout.Inbox, layout.Sent, layout.Failed); err != nil {
		return nil, types.NewAppError(types.ErrCodeIOMoveFailed, "preparing inbox directories", err)
	}
	return &Manager{layout: layout, logger: logger, now: time.Now}, nil
}

// Layout returns the directories in use.
func (m *Manager) Layout() Layout {
	return m.layout
}

// Claim moves path to its processing name and returns the new path. The
// processing name is created with a hard link, which fails when the name is
// taken, so a claim can never replace another worker's live claim. The claim
// is stamped with the current time for Recover.
func (m *Manager) Claim(path string) (string, error) {
	if strings.HasSuffix(path, ProcessingSuffix) {
		return "", ErrAlreadyClaimed
	}
	claimed := path + ProcessingSuffix
	if err := claimFile(path, claimed); err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrExist) {
			return "", ErrAlreadyClaimed
		}
		return "", types.NewAppError(types.ErrCodeIOMoveFailed, fmt.Sprintf("claiming %s", filepath.Base(path)), err)
	}

	now := m.now()
	if err := os.Chtimes(claimed, now, now); err != nil {
		m.logger.Warn("Failed to stamp claim time", "file", filepath.Base(claimed), "error", err)
	}
	return claimed, nil
}

func claimFile(path, claimed string) error {
	err := os.Link(path, claimed)
	if err == nil {
		// A writer may have renamed a new file over path since the link; that
		// file is not ours to remove.
		if !sameFile(path, claimed) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			_ = os.Remove(claimed)
			return err
		}
		return nil
	}
	if !linkUnsupported(err) {
		return err
	}

	// Filesystems without hard links fall back to a checked rename.
	if _, err := os.Lstat(claimed); err == nil {
		return fs.ErrExist
	}
	return os.Rename(path, claimed)
}

func sameFile(a, b string) bool {
	ai, err := os.Lstat(a)
	if err != nil {
		return false
	}
	bi, err := os.Lstat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

func linkUnsupported(err error) bool {
	return errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOTSUP) ||
		errors.Is(err, syscall.EOPNOTSUPP) || errors.Is(err, syscall.EXDEV)
}

// Release returns a claimed file to the inbox under its original name, or a
// free variant of it when a new file with that name has arrived meanwhile.
func (m *Manager) Release(claimed string) (string, error) {
	original := OriginalName(claimed)
	dest := fsutil.UniquePath(filepath.Join(m.layout.Inbox, original), filepath.Ext(original))
	if err := os.Rename(claimed, dest); err != nil {
		return "", types.NewAppError(types.ErrCodeIOMoveFailed, fmt.Sprintf("releasing %s", original), err)
	}
	return dest, nil
}

// DestinationDir maps a terminal state to its folder. Duplicates share the
// sent folder: they were delivered under an earlier name.
func (m *Manager) DestinationDir(outcome types.AlertState) (string, error) {
	switch outcome {
	case types.AlertDelivered, types.AlertDuplicate:
		return m.layout.Sent, nil
	case types.AlertFailed:
		return m.layout.Failed, nil
	default:
		return "", fmt.Errorf("transition: %q is not a terminal state", outcome)
	}
}

// MoveToTerminal renames a claimed file into the folder for outcome and
// returns the final path. An existing file of the same name is never
// overwritten. On error the file stays where it was.
func (m *Manager) MoveToTerminal(claimed string, outcome types.AlertState) (string, error) {
	dir, err := m.DestinationDir(outcome)
	if err != nil {
		return "", err
	}
	name := OriginalName(claimed)
	dest := fsutil.UniquePath(filepath.Join(dir, name), filepath.Ext(name))
	if err := os.Rename(claimed, dest); err != nil {
		return "", types.NewAppErrorWithDetails(types.ErrCodeIOMoveFailed,
			fmt.Sprintf("moving %s to %s", name, filepath.Base(dir)), err,
			map[string]any{"outcome": string(outcome)})
	}
	return dest, nil
}

// Recover releases claims in the inbox that are older than maxAge. Those
// were abandoned by a process that stopped mid-cycle and are reprocessed;
// dedup keeps that safe. Younger claims may belong to a live process and are
// left alone. A non-positive maxAge releases every claim.
func (m *Manager) Recover(maxAge time.Duration) ([]string, error) {
	entries, err := os.ReadDir(m.layout.Inbox)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeIOReadFailed, "listing inbox", err)
	}

	cutoff := m.now().Add(-maxAge)
	var recovered []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ProcessingSuffix) {
			continue
		}
		if maxAge > 0 {
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				m.logger.Debug("Leaving live claim", "file", e.Name(), "claimed_at", info.ModTime())
				continue
			}
		}
		path, err := m.Release(filepath.Join(m.layout.Inbox, e.Name()))
		if err != nil {
			m.logger.Error("Failed to recover stale claim", "file", e.Name(), "error", err)
			continue
		}
		m.logger.Warn("Recovered stale claim", "file", filepath.Base(path))
		recovered = append(recovered, path)
	}
	return recovered, nil
}

// OriginalName strips the directory and the processing suffix.
func OriginalName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ProcessingSuffix)
}
