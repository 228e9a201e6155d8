// Package archive packs execution output for the coordinator and unpacks
// uploaded unit bundles.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
)

// ErrUnsafePath is returned for archive entries that would escape the
// destination directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// Packer packs and unpacks zip archives.
type Packer interface {
	// Pack writes every regular file under dir whose extension is in exts
	// to w. A missing dir produces an empty archive.
	Pack(dir string, exts []string, w io.Writer) (int, error)
	// Unpack extracts the archive at src into dest.
	Unpack(src, dest string) (int, error)
}

type zipPacker struct {
	log logrus.FieldLogger
}

// NewZip creates a zip Packer.
func NewZip(log logrus.FieldLogger) Packer {
	return &zipPacker{
		log: log.WithField("component", "archive"),
	}
}

func (p *zipPacker) Pack(dir string, exts []string, w io.Writer) (int, error) {
	zw := zip.NewWriter(w)

	count := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return filepath.SkipDir
			}

			return err
		}

		if !d.Type().IsRegular() || !matchExtension(path, exts) {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		if err := addFile(zw, path, filepath.ToSlash(rel)); err != nil {
			return err
		}

		count++

		return nil
	})
	if err != nil {
		_ = zw.Close()
		return count, fmt.Errorf("packing %s: %w", dir, err)
	}

	if err := zw.Close(); err != nil {
		return count, fmt.Errorf("finishing archive: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"dir":   dir,
		"files": count,
	}).Debug("packed output directory")

	return count, nil
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}

	header.Name = name
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = io.Copy(dst, f)

	return err
}

func matchExtension(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}

	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}

	return false
}

func (p *zipPacker) Unpack(src, dest string) (int, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return 0, fmt.Errorf("opening archive %s: %w", src, err)
	}
	defer zr.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return 0, err
	}

	count := 0

	for _, f := range zr.File {
		target, err := safeJoin(root, f.Name)
		if err != nil {
			return count, err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, err
			}

			continue
		}

		if err := extractFile(f, target); err != nil {
			return count, fmt.Errorf("extracting %s: %w", f.Name, err)
		}

		count++
	}

	p.log.WithFields(logrus.Fields{
		"archive": src,
		"dest":    dest,
		"files":   count,
	}).Debug("unpacked archive")

	return count, nil
}

func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}

	return target, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, rc); err != nil { //nolint:gosec // bundle size is bounded by the frame limit
		_ = out.Close()
		return err
	}

	return out.Close()
}

var _ Packer = (*zipPacker)(nil)
