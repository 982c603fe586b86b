package staging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

var (
	projectNameRe = regexp.MustCompile(`^[a-zA-Z0-9-_]+$`)
	branchNameRe  = regexp.MustCompile(`^build/[a-zA-Z0-9-_]+$`)
)

// ValidateProjectName enforces 3 to 50 characters of letters, digits,
// dashes and underscores.
func ValidateProjectName(name string) error {
	if len(name) < 3 || len(name) > 50 {
		return errors.New("project name must be between 3 and 50 characters")
	}
	if !projectNameRe.MatchString(name) {
		return errors.New("project name can only contain letters, numbers, hyphens, and underscores")
	}
	return nil
}

// ValidBranchName reports whether name is a staging branch.
func ValidBranchName(name string) bool {
	return branchNameRe.MatchString(name)
}

var errSizeExceeded = errors.New("size ceiling exceeded")

// treeSize sums regular file sizes under root, skipping excluded names at
// any depth. It stops as soon as the total exceeds limit.
func treeSize(root string, excluded map[string]bool, limit int64) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && excluded[d.Name()] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		if total > limit {
			return errSizeExceeded
		}
		return nil
	})
	if errors.Is(err, errSizeExceeded) {
		return total, nil
	}
	return total, err
}

// copyTree copies src into dst (which must exist), skipping excluded names
// at any depth. File modes and symlinks are preserved.
func copyTree(src, dst string, excluded map[string]bool) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if excluded[d.Name()] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(path, target)
		}
		return nil
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304: walking a validated project tree
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()) //nolint:gosec // G304: destination is inside the staging dir
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}
