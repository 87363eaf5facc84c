package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	appErr "botarena/pkg/errors"
)

// Unpack extracts a zip archive into destDir. Entries escaping the
// destination and symlink entries are rejected outright; submitted archives
// are untrusted input.
func Unpack(data []byte, destDir string) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return appErr.Wrapf(err, appErr.ArchiveCorrupt, "open archive failed")
	}
	for _, file := range reader.File {
		if err := extractFile(file, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(file *zip.File, destDir string) error {
	name := filepath.FromSlash(file.Name)
	if !filepath.IsLocal(name) {
		return appErr.Newf(appErr.ArchiveCorrupt, "archive entry escapes destination: %s", file.Name)
	}
	if file.Mode()&os.ModeSymlink != 0 {
		return nil
	}
	target := filepath.Join(destDir, name)

	if file.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0755); err != nil {
			return appErr.Wrapf(err, appErr.ArchiveUnpackFailed, "create directory failed")
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return appErr.Wrapf(err, appErr.ArchiveUnpackFailed, "create parent directory failed")
	}

	src, err := file.Open()
	if err != nil {
		return appErr.Wrapf(err, appErr.ArchiveCorrupt, "open archive entry failed")
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, file.Mode().Perm()|0600)
	if err != nil {
		return appErr.Wrapf(err, appErr.ArchiveUnpackFailed, "create file failed")
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return appErr.Wrapf(err, appErr.ArchiveUnpackFailed, "extract %s failed", file.Name)
	}
	return dst.Close()
}

// Flatten collapses redundant wrapper directories: while the directory
// holds exactly one entry and that entry is a directory, its children move
// up one level. Archives zipped as wrapper/MyBot.py end up with MyBot.py at
// the top regardless of nesting depth.
func Flatten(dir string) error {
	for {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("read directory failed: %w", err)
		}
		if len(entries) != 1 || !entries[0].IsDir() {
			return nil
		}

		wrapper := filepath.Join(dir, entries[0].Name())
		// Move the wrapper aside first so a child sharing its name can
		// take its place.
		staging := dir + ".flatten"
		if err := os.Rename(wrapper, staging); err != nil {
			return fmt.Errorf("stage wrapper directory failed: %w", err)
		}
		children, err := os.ReadDir(staging)
		if err != nil {
			return fmt.Errorf("read wrapper directory failed: %w", err)
		}
		for _, child := range children {
			from := filepath.Join(staging, child.Name())
			to := filepath.Join(dir, child.Name())
			if err := os.Rename(from, to); err != nil {
				return fmt.Errorf("unwrap %s failed: %w", child.Name(), err)
			}
		}
		if err := os.RemoveAll(staging); err != nil {
			return fmt.Errorf("remove wrapper directory failed: %w", err)
		}
	}
}

// StripSymlinks deletes every symlink under dir. A crafted archive could
// otherwise point a link outside the sandbox directory.
func StripSymlinks(dir string) error {
	var links []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&os.ModeSymlink != 0 {
			links = append(links, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan for symlinks failed: %w", err)
	}
	for _, link := range links {
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("remove symlink %s failed: %w", link, err)
		}
	}
	return nil
}

// Pack zips the directory's contents with paths relative to dir.
func Pack(dir string) ([]byte, error) {
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = strings.ReplaceAll(rel, string(filepath.Separator), "/")
		header.Method = zip.Deflate

		entry, err := writer.CreateHeader(header)
		if err != nil {
			return err
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(entry, file)
		_ = file.Close()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pack directory failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive failed: %w", err)
	}
	return buf.Bytes(), nil
}
