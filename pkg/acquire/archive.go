package acquire

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
)

var zipMagic = []byte("PK\x03\x04")

func isZip(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, tferrors.WrapFS(err, "open download")
	}
	defer f.Close()

	head := make([]byte, len(zipMagic))
	n, err := io.ReadFull(f, head)
	if err != nil && n < len(head) {
		return false, nil
	}
	return bytes.Equal(head, zipMagic), nil
}

// Extract unpacks the zip archive at src into dir and returns the files it
// wrote. Entries that would land outside dir are rejected.
func Extract(src, dir string) ([]string, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return nil, tferrors.Wrap(err, tferrors.CodeNetwork, "downloaded archive is not a valid zip file")
	}
	defer zr.Close()

	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, tferrors.WrapFS(err, "resolve directory")
	}

	var written []string
	for _, entry := range zr.File {
		dest, err := entryPath(root, entry.Name)
		if err != nil {
			return written, err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return written, tferrors.WrapFS(err, "create directory").WithContext("path", dest)
			}
			continue
		}
		if err := extractFile(entry, dest); err != nil {
			return written, err
		}
		written = append(written, dest)
	}
	return written, nil
}

func entryPath(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", tferrors.New(tferrors.CodeIO, "archive entry escapes the target directory").
			WithContext("entry", name)
	}
	return filepath.Join(root, clean), nil
}

func extractFile(entry *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return tferrors.WrapFS(err, "create directory").WithContext("path", filepath.Dir(dest))
	}

	rc, err := entry.Open()
	if err != nil {
		return tferrors.Wrap(err, tferrors.CodeNetwork, "corrupt archive entry").WithContext("entry", entry.Name)
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return tferrors.WrapFS(err, "create file").WithContext("path", dest)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return tferrors.Wrap(err, tferrors.CodeIO, "extract archive entry").WithContext("entry", entry.Name)
	}
	if err := out.Close(); err != nil {
		return tferrors.WrapFS(err, "close file").WithContext("path", dest)
	}
	return nil
}
