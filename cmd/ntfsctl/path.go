package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/marmos91/dittofs-ntfs/pkg/config"
	"github.com/marmos91/dittofs-ntfs/pkg/ntfs"
)

// splitPath returns the non-empty components of a volume path.
func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool {
		return r == '\\' || r == '/'
	})
}

// resolve walks path from the root directory.
func resolve(ctx context.Context, rt *config.Runtime, path string) (*ntfs.File, error) {
	f := rt.Root
	for _, name := range splitPath(path) {
		if !f.IsDirectory() {
			return nil, fmt.Errorf("%s: %s is not a directory", path, f.Reference())
		}
		ref, err := rt.FileSystem.Lookup(ctx, f, name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if f, err = rt.FileSystem.GetFile(ctx, ref); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return f, nil
}

// resolveParent resolves the directory holding the last component of path.
func resolveParent(ctx context.Context, rt *config.Runtime, path string) (*ntfs.File, string, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, "", fmt.Errorf("%q names the root directory", path)
	}

	dir, err := resolve(ctx, rt, strings.Join(parts[:len(parts)-1], `\`))
	if err != nil {
		return nil, "", err
	}
	if !dir.IsDirectory() {
		return nil, "", fmt.Errorf("%s: parent is not a directory", path)
	}
	return dir, parts[len(parts)-1], nil
}
