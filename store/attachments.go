package store

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ethereum-optimism/infra/op-steplog/types"
)

// FilePath marks attach content as a path to an existing file
type FilePath string

const defaultAttachmentName = "attachment"

var unsafeName = regexp.MustCompile(`[^\w.\-]+`)

// maxNameAttempts bounds the collision suffix search
const maxNameAttempts = 10000

// DetectType returns the mime type and extension for an attachment. A known
// extension on name wins, otherwise the content is sniffed.
func DetectType(data []byte, name string) (mimeType, ext string) {
	if ext = strings.ToLower(filepath.Ext(name)); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return stripParams(t), ext
		}
	}
	m := mimetype.Detect(data)
	if ext == "" {
		ext = m.Extension()
	}
	return stripParams(m.String()), ext
}

func stripParams(t string) string {
	base, _, _ := strings.Cut(t, ";")
	return strings.TrimSpace(base)
}

// WriteAttachment stores data in the attachments directory. Existing files
// are never overwritten, the name gets a _1, _2 ... suffix instead.
func (s *Store) WriteAttachment(data []byte, name string) (types.Attachment, error) {
	mimeType, ext := DetectType(data, name)

	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.Trim(unsafeName.ReplaceAllString(base, "_"), "_")
	if base == "" || base == "." {
		base = defaultAttachmentName
	}

	if err := os.MkdirAll(s.dirs.AttachmentsDir, 0755); err != nil {
		return types.Attachment{}, fmt.Errorf("failed to create attachments directory: %w", err)
	}

	for i := 0; i < maxNameAttempts; i++ {
		file := base + ext
		if i > 0 {
			file = fmt.Sprintf("%s_%d%s", base, i, ext)
		}
		path := filepath.Join(s.dirs.AttachmentsDir, file)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return types.Attachment{}, fmt.Errorf("failed to create attachment %s: %w", file, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return types.Attachment{}, fmt.Errorf("failed to write attachment %s: %w", file, err)
		}
		if err := f.Close(); err != nil {
			return types.Attachment{}, fmt.Errorf("failed to close attachment %s: %w", file, err)
		}
		displayName := name
		if displayName == "" {
			displayName = file
		}
		return types.Attachment{Name: displayName, MimeType: mimeType, File: file}, nil
	}
	return types.Attachment{}, fmt.Errorf("no free file name for attachment %q", name)
}

// ReadFile loads attach content from a file path
func ReadFile(p FilePath) ([]byte, error) {
	info, err := os.Stat(string(p))
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", p)
	}
	return os.ReadFile(string(p))
}
