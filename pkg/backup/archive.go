package backup

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/forest6511/bwbackup/pkg/security"
)

// ArchiveEntry is one member of a backup archive.
type ArchiveEntry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Archive bundles every backup in dir into a zstd-compressed tar file at out
// and returns the number of files added. The files are already encrypted and
// are copied verbatim. out must not exist; on failure it is removed again.
func Archive(dir, out string) (int, error) {
	paths, err := Backups(dir)
	if err != nil {
		return 0, err
	}

	f, err := CreateExclusive(out)
	if err != nil {
		return 0, fmt.Errorf("backup: failed to create archive: %w", err)
	}
	err = writeArchive(f, paths)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("backup: failed to close archive: %w", cerr)
	}
	if err != nil {
		os.Remove(out)
		return 0, err
	}
	return len(paths), nil
}

func writeArchive(f *os.File, paths []string) error {
	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("backup: failed to create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	for _, p := range paths {
		if err := addToArchive(tw, p); err != nil {
			zw.Close()
			return err
		}
	}

	if err := tw.Close(); err != nil {
		zw.Close()
		return fmt.Errorf("backup: failed to close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("backup: failed to close zstd: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("backup: failed to sync archive: %w", err)
	}
	return nil
}

// openMember opens a backup for archiving.
var openMember = os.Open

func addToArchive(tw *tar.Writer, path string) error {
	src, err := openMember(path)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     filepath.Base(path),
		Mode:     0o600,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("backup: failed to write tar header for %s: %w", hdr.Name, err)
	}
	if _, err := io.Copy(tw, src); err != nil {
		return fmt.Errorf("backup: failed to archive %s: %w", hdr.Name, err)
	}
	return nil
}

func openArchive(path string, fn func(hdr *tar.Header, r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("backup: failed to open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("backup: failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("backup: failed to read archive: %w", err)
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}

// ListArchive returns the members of an archive written by Archive.
func ListArchive(path string) ([]ArchiveEntry, error) {
	var entries []ArchiveEntry
	err := openArchive(path, func(hdr *tar.Header, _ io.Reader) error {
		entries = append(entries, ArchiveEntry{Name: hdr.Name, Size: hdr.Size, ModTime: hdr.ModTime})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ExtractArchive restores the members of an archive into dir and returns the
// written paths. Members must be plain backup file names; existing files are
// never overwritten.
func ExtractArchive(path, dir string) ([]string, error) {
	var written []string
	err := openArchive(path, func(hdr *tar.Header, r io.Reader) error {
		if hdr.Typeflag != tar.TypeReg || filepath.Base(hdr.Name) != hdr.Name || !IsBackupName(hdr.Name) {
			return fmt.Errorf("%w: %q", ErrArchiveEntry, hdr.Name)
		}
		target, err := security.ValidateBackupPath(filepath.Join(dir, hdr.Name), dir)
		if err != nil {
			return err
		}

		dst, err := CreateExclusive(target)
		if err != nil {
			return fmt.Errorf("backup: failed to create %s: %w", hdr.Name, err)
		}
		if _, err := io.Copy(dst, io.LimitReader(r, hdr.Size)); err != nil {
			dst.Close()
			os.Remove(target)
			return fmt.Errorf("backup: failed to extract %s: %w", hdr.Name, err)
		}
		if err := dst.Close(); err != nil {
			os.Remove(target)
			return err
		}
		written = append(written, target)
		return nil
	})
	return written, err
}
