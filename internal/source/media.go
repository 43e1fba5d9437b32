package source

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"alertstream/internal/types"
)

// MediaLoader resolves an alert's media references to attachments.
type MediaLoader struct {
	Dir            string
	MaxBytes       int
	MaxAttachments int
}

// MediaNames reads the media key, which may be a single name or a list.
func MediaNames(payload map[string]any) ([]string, error) {
	switch v := payload[types.KeyMedia].(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []any:
		names := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
					"media entries must be file names", nil, map[string]any{"field": types.KeyMedia})
			}
			names = append(names, s)
		}
		return names, nil
	default:
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
			fmt.Sprintf("unsupported media type %T", v), nil, map[string]any{"field": types.KeyMedia})
	}
}

// Load reads every referenced file. Sizes are checked from file metadata
// before any bytes are read.
func (l MediaLoader) Load(payload map[string]any) ([]types.Attachment, error) {
	names, err := MediaNames(payload)
	if err != nil || len(names) == 0 {
		return nil, err
	}
	if l.MaxAttachments > 0 && len(names) > l.MaxAttachments {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeAttachmentLimit,
			fmt.Sprintf("%d media files exceed the limit of %d", len(names), l.MaxAttachments), nil,
			map[string]any{"count": len(names), "limit": l.MaxAttachments})
	}

	atts := make([]types.Attachment, 0, len(names))
	for _, name := range names {
		path, err := l.resolve(name)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, types.NewAppErrorWithDetails(types.ErrCodeAttachmentMissing,
					fmt.Sprintf("media file %q not found", name), err, map[string]any{"name": name})
			}
			return nil, types.NewAppError(types.ErrCodeIOReadFailed, "reading media file", err)
		}
		if l.MaxBytes > 0 && info.Size() > int64(l.MaxBytes) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeAttachmentTooLarge,
				fmt.Sprintf("media file %q is %d bytes, limit is %d", name, info.Size(), l.MaxBytes), nil,
				map[string]any{"name": name, "size": info.Size(), "limit": l.MaxBytes})
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeIOReadFailed, "reading media file", err)
		}
		atts = append(atts, types.Attachment{
			Name:     filepath.Base(path),
			MimeType: http.DetectContentType(data),
			Data:     data,
		})
	}
	return atts, nil
}

// resolve keeps every reference inside Dir.
func (l MediaLoader) resolve(name string) (string, error) {
	if filepath.IsAbs(name) || !filepath.IsLocal(name) {
		return "", types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
			fmt.Sprintf("media reference %q escapes the media directory", name), nil,
			map[string]any{"field": types.KeyMedia})
	}
	return filepath.Join(l.Dir, name), nil
}
