// SPDX-License-Identifier: MPL-2.0

// Package identity derives the managed container's name and expected image
// version. Both are computed once per invocation and never change for the
// life of the process.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

const (
	// namePrefix is the leading component of every managed container name.
	namePrefix = "devc"

	// pathDigestLen is the number of hex digits of the tool-path checksum
	// kept in the container name. 12 hex digits (48 bits) is plenty to keep
	// two checkouts of the tool from colliding.
	pathDigestLen = 12

	// VersionFileName is the version descriptor path relative to the
	// project root. One line, the image tag expected to back the container.
	VersionFileName = "tools/image_version"
)

var (
	// ErrVersionUnreadable is returned when the version descriptor cannot be read.
	ErrVersionUnreadable = errors.New("image version file unreadable")

	// ErrVersionEmpty is returned when the version descriptor has no version line.
	ErrVersionEmpty = errors.New("image version file is empty")
)

// ContainerName derives the managed container name for a (user, tool path)
// pair. It is a pure function: the same inputs always produce the same
// name, and two checkouts of the tool produce different names.
func ContainerName(userName, toolPath string) string {
	sum := sha256.Sum256([]byte(toolPath))
	return fmt.Sprintf("%s_%s_%s", namePrefix, sanitizeUser(userName), hex.EncodeToString(sum[:])[:pathDigestLen])
}

// CurrentUserName returns the invoking OS user's name, falling back to the
// numeric UID when the account lookup fails (e.g., stripped-down NSS).
func CurrentUserName() string {
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return fmt.Sprintf("uid%d", os.Getuid())
	}
	return u.Username
}

// ResolveToolPath returns the absolute, symlink-resolved path of the
// running executable. The checksum of this path is what keeps one managed
// container per checkout.
func ResolveToolPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("resolve executable symlinks: %w", err)
	}
	return resolved, nil
}

// ReadImageVersion reads the expected image version from the descriptor
// file under the given project root. Blank lines and '#' comments are
// skipped; the first remaining line is the version.
func ReadImageVersion(projectRoot string) (string, error) {
	path := filepath.Join(projectRoot, filepath.FromSlash(VersionFileName))

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrVersionUnreadable, path, err)
	}

	for line := range strings.SplitSeq(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, nil
	}

	return "", fmt.Errorf("%w: %s", ErrVersionEmpty, path)
}

// ImageRef assembles the full image reference for a repository and version.
func ImageRef(repository, version string) string {
	return repository + ":" + version
}

// sanitizeUser maps a user name onto the character set container names
// allow. Anything outside [a-zA-Z0-9_.-] becomes '_'.
func sanitizeUser(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
