// Package bundle extracts the XML and PDF counterparts from a zip attachment.
package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// MaxSize is the largest bundle Unpack accepts, compressed.
const MaxSize = 4 << 20

// maxEntrySize caps the decompressed size of a captured entry.
const maxEntrySize = 64 << 20

var (
	ErrSizeExceeded   = errors.New("bundle exceeds size limit")
	ErrNoValidInvoice = errors.New("bundle has no xml and pdf pair")
	errUnsafePath     = errors.New("entry path escapes workspace")
	errEntryTooLarge  = errors.New("entry exceeds decompressed size limit")
)

// Files are the captured entries, as paths below the workspace.
type Files struct {
	XML string
	PDF string
}

// Unpacker extracts bundles into a workspace directory.
type Unpacker struct {
	logger *slog.Logger
	limit  int64
}

// New returns an Unpacker enforcing MaxSize.
func New(logger *slog.Logger) *Unpacker {
	return &Unpacker{logger: logger, limit: MaxSize}
}

// Unpack reads the bundle from r and writes the first entry containing
// ".xml" and the first containing ".pdf" under dir. A declared size above the
// limit fails before r is touched. Every entry is read to the end, captured
// or not.
func (u *Unpacker) Unpack(r io.Reader, expectedSize int64, dir string) (Files, error) {
	if err := u.Admit(expectedSize); err != nil {
		return Files{}, err
	}

	data, err := io.ReadAll(io.LimitReader(r, u.limit+1))
	if err != nil {
		return Files{}, fmt.Errorf("read bundle: %w", err)
	}
	if int64(len(data)) > u.limit {
		return Files{}, fmt.Errorf("stream longer than %d bytes: %w", u.limit, ErrSizeExceeded)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Files{}, fmt.Errorf("open bundle: %w", err)
	}

	var files Files
	for _, entry := range zr.File {
		name := strings.ToLower(entry.Name)
		var target *string
		if !entry.FileInfo().IsDir() {
			switch {
			case files.XML == "" && strings.Contains(name, ".xml"):
				target = &files.XML
			case files.PDF == "" && strings.Contains(name, ".pdf"):
				target = &files.PDF
			}
		}

		if target == nil {
			if err := drain(entry); err != nil && u.logger != nil {
				u.logger.Warn("Failed to drain bundle entry", "entry", entry.Name, "err", err)
			}
			continue
		}

		path, err := extract(entry, dir)
		if err != nil {
			if u.logger != nil {
				u.logger.Warn("Failed to extract bundle entry", "entry", entry.Name, "err", err)
			}
			continue
		}
		*target = path
	}

	if files.XML == "" || files.PDF == "" {
		return Files{}, ErrNoValidInvoice
	}
	return files, nil
}

// Admit rejects a bundle whose declared size is over the limit.
func (u *Unpacker) Admit(expectedSize int64) error {
	if expectedSize > u.limit {
		return fmt.Errorf("declared %d bytes, limit %d: %w", expectedSize, u.limit, ErrSizeExceeded)
	}
	return nil
}

func drain(entry *zip.File) error {
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = io.Copy(io.Discard, rc)
	return err
}

func extract(entry *zip.File, dir string) (string, error) {
	rc, err := entry.Open()
	if err != nil {
		return "", err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, rc)
		rc.Close()
	}()

	if !filepath.IsLocal(entry.Name) {
		return "", errUnsafePath
	}

	dest := filepath.Join(dir, entry.Name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}

	n, err := io.Copy(f, io.LimitReader(rc, maxEntrySize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxEntrySize {
		err = errEntryTooLarge
	}
	if err != nil {
		os.Remove(dest)
		return "", err
	}
	return dest, nil
}
