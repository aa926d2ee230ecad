// Package archive validates and extracts uploaded model archives and
// hands the result to the serving core for an atomic swap. Extraction
// is always into a fresh directory; any failure removes partial output
// and leaves the active model untouched.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Swapper is the serving-core surface the loader drives after a
// successful extraction.
type Swapper interface {
	Swap(ctx context.Context, path, device string) error
}

// Loader extracts uploaded tar archives under Root and triggers swaps.
type Loader struct {
	root     string
	maxBytes int64
	swapper  Swapper
	log      zerolog.Logger
}

// New constructs a Loader. maxBytes caps the total uncompressed size of
// one archive; <= 0 means the package default (1 GiB).
func New(root string, maxBytes int64, sw Swapper, log zerolog.Logger) *Loader {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Loader{root: root, maxBytes: maxBytes, swapper: sw, log: log}
}

const defaultMaxBytes = 1 << 30

// Update extracts blob into a fresh directory and swaps the model in.
// The extracted files are only needed while the load callback runs, so
// the directory is removed once the swap returns, success or not.
func (l *Loader) Update(ctx context.Context, blob []byte, device string) error {
	dir, err := l.Extract(blob)
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	modelDir := modelRoot(dir)
	l.log.Info().Str("dir", modelDir).Str("device", device).Msg("archive extracted, swapping model")
	return l.swapper.Swap(ctx, modelDir, device)
}

// Extract validates blob as an uncompressed tar stream and unpacks it
// into a fresh uuid-named directory under the loader root, which is
// returned. Every entry path must resolve strictly inside that
// directory; any escape aborts the whole operation with
// PathTraversalError and no output left behind.
func (l *Loader) Extract(blob []byte) (string, error) {
	if int64(len(blob)) > l.maxBytes {
		return "", tooLargeError{size: int64(len(blob)), limit: l.maxBytes}
	}
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return "", fmt.Errorf("extraction root: %w", err)
	}
	dir := filepath.Join(l.root, "model-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("extraction dir: %w", err)
	}
	if err := l.unpack(blob, dir); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return dir, nil
}

func (l *Loader) unpack(blob []byte, dir string) error {
	tr := tar.NewReader(bytes.NewReader(blob))
	var total int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return invalidArchiveError{msg: err.Error()}
		}
		target, err := confine(dir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("mkdir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			total += hdr.Size
			if total > l.maxBytes {
				return tooLargeError{size: total, limit: l.maxBytes}
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("mkdir for %s: %w", hdr.Name, err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return fmt.Errorf("create %s: %w", hdr.Name, err)
			}
			_, err = io.Copy(f, tr)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("write %s: %w", hdr.Name, err)
			}
		default:
			// Links and specials are never part of a model archive and
			// are a traversal vector.
			return invalidArchiveError{msg: fmt.Sprintf("unsupported entry type %d for %s", hdr.Typeflag, hdr.Name)}
		}
	}
}

// confine resolves an archive entry name inside dir, rejecting absolute
// paths and any normalized path that escapes dir.
func confine(dir, name string) (string, error) {
	if name == "" {
		return "", invalidArchiveError{msg: "empty entry name"}
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || strings.HasPrefix(name, "/") {
		return "", PathTraversalError{Entry: name}
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", PathTraversalError{Entry: name}
	}
	target := filepath.Join(dir, clean)
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", PathTraversalError{Entry: name}
	}
	return target, nil
}

// modelRoot unwraps the common single-top-level-directory layout: when
// the archive expands to exactly one directory, that directory is the
// model root.
func modelRoot(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return dir
	}
	return filepath.Join(dir, entries[0].Name())
}
