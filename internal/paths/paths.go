// Package paths provides the platform path helpers the indexing core needs
// to canonicalize translation-unit paths against a workspace root. spec.md
// §1 marks general path helpers as an external collaborator, but every
// component that keys state by path (vfs, cachestore, project) still needs
// a single, shared notion of "canonical path", so this package stays small
// and is consumed internally rather than exposed as its own subsystem.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// CanonicalizePath converts an absolute path to a workspace-relative
// canonical path: symlinks resolved, relative to root, forward slashes.
func CanonicalizePath(absolutePath, root string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absolutePath)
	if err != nil {
		if os.IsNotExist(err) {
			resolved = absolutePath
		} else {
			return "", err
		}
	}

	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		if os.IsNotExist(err) {
			rootResolved = root
		} else {
			return "", err
		}
	}

	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// IsWithinRoot reports whether path canonicalizes to somewhere inside root.
func IsWithinRoot(path, root string) bool {
	canonical, err := CanonicalizePath(path, root)
	if err != nil {
		return false
	}
	return canonical != ".." && !strings.HasPrefix(canonical, "../")
}

// NormalizePath converts backslashes to forward slashes, for paths that are
// already relative but came from a Windows-style compile_commands.json.
func NormalizePath(path string) string {
	return filepath.ToSlash(path)
}

// JoinRoot joins root with a canonical (forward-slash) relative path,
// producing an OS-native absolute path.
func JoinRoot(root, canonicalPath string) string {
	parts := strings.Split(strings.ReplaceAll(canonicalPath, "\\", "/"), "/")
	return filepath.Join(append([]string{root}, parts...)...)
}

// markerFiles are checked, in order, when walking up from a starting
// directory to find the project's workspace root (§6 "project model").
var markerFiles = []string{"compile_commands.json", ".git", "CMakeLists.txt", "WORKSPACE"}

// FindWorkspaceRoot walks up from start looking for one of markerFiles,
// returning start itself if none is found. Used by cmd/cxrefd to resolve a relative --root flag into an absolute workspace
// root before wiring the cache store's WorkspacePrefix.
func FindWorkspaceRoot(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		for _, marker := range markerFiles {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}
