package testutil

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

//go:embed testdata/sample
var sampleFS embed.FS

// SampleBundle copies the sample bundle fixture into a fresh temp dir and
// returns its root.
//
// The sample holds two features, two requirements, one ADR and one
// constraint:
//
//	Feature:auth-login   -> Requirement:REQ-001, Requirement:REQ-002, ADR:ADR-001
//	Feature:auth-logout  -> Requirement:REQ-002
//	Requirement:REQ-001  -> Constraint:CON-001
func SampleBundle(t testing.TB) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "sample")
	CopyFS(t, sampleFS, "testdata/sample", root)
	return root
}

// CopyFS copies the tree under dir in fsys to dst.
func CopyFS(t testing.TB, fsys fs.FS, dir, dst string) {
	t.Helper()
	err := fs.WalkDir(fsys, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
	require.NoError(t, err)
}

// CopyDir copies a directory tree on disk.
func CopyDir(t testing.TB, src, dst string) {
	t.Helper()
	CopyFS(t, os.DirFS(src), ".", dst)
}

// WriteFile writes content to root/rel, creating parent directories.
func WriteFile(t testing.TB, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// ReadFile returns the content of root/rel.
func ReadFile(t testing.TB, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	require.NoError(t, err)
	return string(data)
}

// Snapshot reads every regular file under root, keyed by slash path
// relative to root. The .git directory is skipped.
func Snapshot(t testing.TB, root string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}
