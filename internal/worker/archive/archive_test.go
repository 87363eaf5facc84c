package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for name, content := range files {
		entry, err := writer.Create(name)
		if err != nil {
			t.Fatalf("create entry %s failed: %v", name, err)
		}
		if _, err := entry.Write([]byte(content)); err != nil {
			t.Fatalf("write entry %s failed: %v", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("finalize zip failed: %v", err)
	}
	return buf.Bytes()
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s failed: %v", path, err)
	}
	return string(data)
}

func TestUnpackExtractsFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	data := buildZip(t, map[string]string{
		"run.sh":       "#!/bin/sh\n",
		"src/MyBot.py": "print('hi')\n",
	})

	if err := Unpack(data, dir); err != nil {
		t.Fatalf("unpack failed: %v", err)
	}
	if got := readFile(t, filepath.Join(dir, "run.sh")); got != "#!/bin/sh\n" {
		t.Fatalf("unexpected run.sh content: %q", got)
	}
	if got := readFile(t, filepath.Join(dir, "src", "MyBot.py")); got != "print('hi')\n" {
		t.Fatalf("unexpected bot content: %q", got)
	}
}

func TestUnpackRejectsEscapingEntry(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	data := buildZip(t, map[string]string{
		"../evil.sh": "rm -rf /\n",
	})

	if err := Unpack(data, dir); err == nil {
		t.Fatalf("expected escaping entry to be rejected")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "evil.sh")); !os.IsNotExist(err) {
		t.Fatalf("escaping file was created")
	}
}

func TestUnpackRejectsCorruptArchive(t *testing.T) {
	t.Parallel()
	if err := Unpack([]byte("not a zip"), t.TempDir()); err == nil {
		t.Fatalf("expected corrupt archive error")
	}
}

func TestFlattenUnwrapsSingleDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	data := buildZip(t, map[string]string{
		"MyBot/run.sh":   "#!/bin/sh\n",
		"MyBot/MyBot.py": "print('hi')\n",
	})
	if err := Unpack(data, dir); err != nil {
		t.Fatalf("unpack failed: %v", err)
	}

	if err := Flatten(dir); err != nil {
		t.Fatalf("flatten failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run.sh")); err != nil {
		t.Fatalf("run.sh not at top level: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "MyBot")); !os.IsNotExist(err) {
		t.Fatalf("wrapper directory still present")
	}
}

func TestFlattenUnwrapsNestedWrappers(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(nested, "run.sh"), []byte("x"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if err := Flatten(dir); err != nil {
		t.Fatalf("flatten failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run.sh")); err != nil {
		t.Fatalf("run.sh not surfaced from nested wrappers: %v", err)
	}
}

func TestFlattenHandlesWrapperNameCollision(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// bot/bot/run.sh: the child directory shares the wrapper's name.
	if err := os.MkdirAll(filepath.Join(dir, "bot", "bot"), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bot", "bot", "run.sh"), []byte("x"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if err := Flatten(dir); err != nil {
		t.Fatalf("flatten failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run.sh")); err != nil {
		t.Fatalf("run.sh not surfaced: %v", err)
	}
}

func TestFlattenLeavesMultiEntryDirAlone(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "run.sh"), []byte("x"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	if err := Flatten(dir); err != nil {
		t.Fatalf("flatten failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run.sh")); err != nil {
		t.Fatalf("top-level file disturbed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "src")); err != nil {
		t.Fatalf("sibling directory disturbed: %v", err)
	}
}

func TestStripSymlinksRemovesLinks(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "real.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.Symlink("/etc/passwd", filepath.Join(dir, "sneaky")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	if err := StripSymlinks(dir); err != nil {
		t.Fatalf("strip failed: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(dir, "sneaky")); !os.IsNotExist(err) {
		t.Fatalf("symlink survived")
	}
	if _, err := os.Stat(filepath.Join(dir, "real.txt")); err != nil {
		t.Fatalf("regular file removed: %v", err)
	}
}

func TestPackRoundTrip(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "lib"), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "run.sh"), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "lib", "util.py"), []byte("pass\n"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	data, err := Pack(src)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}

	dst := t.TempDir()
	if err := Unpack(data, dst); err != nil {
		t.Fatalf("unpack of packed archive failed: %v", err)
	}
	if got := readFile(t, filepath.Join(dst, "run.sh")); got != "#!/bin/sh\n" {
		t.Fatalf("run.sh content mismatch: %q", got)
	}
	if got := readFile(t, filepath.Join(dst, "lib", "util.py")); got != "pass\n" {
		t.Fatalf("nested content mismatch: %q", got)
	}
}
