package retrieval

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SanitizeIdentifier maps an identifier onto a single safe filename segment.
// Anything outside [A-Za-z0-9._-] becomes an underscore, so DOI slashes do
// not create directories and the same identifier always maps to the same
// artifact path.
func SanitizeIdentifier(identifier string) string {
	var b strings.Builder
	b.Grow(len(identifier))
	for _, r := range identifier {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ArtifactPath returns the canonical on-disk location for an identifier's
// document under targetDir.
func ArtifactPath(targetDir, identifier string) string {
	return filepath.Join(targetDir, SanitizeIdentifier(identifier)+".pdf")
}

// artifactExists reports whether a non-empty artifact is already present.
// Empty files are treated as absent; they are the residue of an interrupted
// write and must be replaced.
func artifactExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// writeArtifact writes content to path through a temp file and rename, so a
// crash mid-write never leaves a partial artifact at the canonical path.
func writeArtifact(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}
