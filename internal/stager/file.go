package stager

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/user/casedesk/internal/types"
)

// FromPath builds a StagedFile for a file on the local disk. The MIME type
// is sniffed from the content since the CLI has no picker to supply one.
func FromPath(path string) (types.StagedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.StagedFile{}, fmt.Errorf("stat attachment: %w", err)
	}
	if info.IsDir() {
		return types.StagedFile{}, fmt.Errorf("attachment is a directory: %s", path)
	}

	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return types.StagedFile{}, fmt.Errorf("detect mime type: %w", err)
	}
	// Content that sniffs as opaque bytes falls back to the extension.
	mimeType := detected.String()
	if detected.Is(octetStream) {
		mimeType = ""
	}

	size := info.Size()
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return Normalize(types.StagedFile{
		URI:       abs,
		Name:      filepath.Base(path),
		MimeType:  mimeType,
		SizeBytes: &size,
	}), nil
}

const octetStream = "application/octet-stream"

// KindOf classifies a MIME type: images render inline, everything else is
// shown as a document chip.
func KindOf(mimeType string) types.FileKind {
	base, _, _ := strings.Cut(mimeType, ";")
	if strings.HasPrefix(strings.TrimSpace(base), "image/") {
		return types.FileImage
	}
	return types.FileDocument
}

// Normalize fills in MimeType and Kind for a file handed over by a picker
// that only knows the name. The type comes from the extension and is
// canonicalized against mimetype's tree.
func Normalize(file types.StagedFile) types.StagedFile {
	if file.Name == "" {
		file.Name = filepath.Base(file.URI)
	}
	if file.MimeType == "" {
		file.MimeType = typeByName(file.Name)
	}
	if file.Kind == "" {
		file.Kind = KindOf(file.MimeType)
	}
	return file
}

func typeByName(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return octetStream
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return octetStream
	}
	if m := mimetype.Lookup(t); m != nil {
		return m.String()
	}
	return t
}
