package snapshot

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/yndnr/ledgersnap/internal/core/domain"
)

// UnpackArchive extracts the archive at archivePath into dst, which must
// exist. Only regular files below the known top-level entries are accepted;
// anything else, including paths escaping dst, fails with
// ErrArchiveCorrupted.
func UnpackArchive(archivePath string, format ArchiveFormat, dst string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("snapshot: open archive: %w", err)
	}
	defer f.Close()

	zr, err := format.newDecompressor(f)
	if err != nil {
		return domain.ErrArchiveCorrupted.WithDetails(filepath.Base(archivePath)).WithCause(err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return domain.ErrArchiveCorrupted.WithDetails(filepath.Base(archivePath)).WithCause(err)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeReg:
		default:
			return domain.ErrArchiveCorrupted.WithDetailsf("member %q has type %c", hdr.Name, hdr.Typeflag)
		}

		target, err := memberPath(dst, hdr.Name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
			return fmt.Errorf("snapshot: unpack %s: %w", hdr.Name, err)
		}
		if err := extractFile(tr, target, hdr.Size); err != nil {
			return domain.ErrArchiveCorrupted.WithDetailsf("member %q", hdr.Name).WithCause(err)
		}
	}
}

// memberPath maps an archive member name to a path below dst.
func memberPath(dst, name string) (string, error) {
	clean := path.Clean(name)
	if path.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", domain.ErrArchiveCorrupted.WithDetailsf("member %q escapes the archive root", name)
	}
	top, _, _ := strings.Cut(clean, "/")
	switch top {
	case VersionFileName, SnapshotsDirName, AccountsDirName:
	default:
		return "", domain.ErrArchiveCorrupted.WithDetailsf("unexpected member %q", name)
	}
	return filepath.Join(dst, filepath.FromSlash(clean)), nil
}

func extractFile(r io.Reader, target string, size int64) error {
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, r)
	if err != nil {
		out.Close()
		return err
	}
	if n != size {
		out.Close()
		return fmt.Errorf("short member: %d of %d bytes", n, size)
	}
	return out.Close()
}

// VerifySnapshotArchive unpacks archive into a temporary directory and
// checks that it holds exactly the files of expectedDir with the same
// contents. expectedDir uses the archive layout.
func VerifySnapshotArchive(archive ArchiveInfo, expectedDir string) error {
	tmp, err := os.MkdirTemp(filepath.Dir(archive.Path), TmpArchivePrefix+"verify-")
	if err != nil {
		return fmt.Errorf("snapshot: create verify dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := UnpackArchive(archive.Path, archive.Format, tmp); err != nil {
		return err
	}

	got, err := fileTree(tmp)
	if err != nil {
		return err
	}
	want, err := fileTree(expectedDir)
	if err != nil {
		return err
	}
	for name := range want {
		if _, ok := got[name]; !ok {
			return domain.ErrArchiveCorrupted.WithDetailsf("%s: missing %s", archive.FileName(), name)
		}
	}
	for name := range got {
		if _, ok := want[name]; !ok {
			return domain.ErrArchiveCorrupted.WithDetailsf("%s: unexpected %s", archive.FileName(), name)
		}
		a, err := os.ReadFile(filepath.Join(tmp, name))
		if err != nil {
			return err
		}
		b, err := os.ReadFile(filepath.Join(expectedDir, name))
		if err != nil {
			return err
		}
		if !bytes.Equal(a, b) {
			return domain.ErrArchiveCorrupted.WithDetailsf("%s: %s differs", archive.FileName(), name)
		}
	}
	return nil
}

// fileTree returns the relative paths of the regular files below root,
// skipping a staging directory's hash-only storages.
func fileTree(root string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == HashOnlyDirName && filepath.Dir(p) == filepath.Clean(root) {
			return filepath.SkipDir
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out[rel] = struct{}{}
		return nil
	})
	return out, err
}
