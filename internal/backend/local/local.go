// Package local implements backend.Driver against the plain local
// filesystem, the source and target used by most restructurer deployments
// running close to the landing zone.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	natatomic "github.com/natefinch/atomic"

	"github.com/grafana/restructure/internal/backend"
)

// Driver rooted at a base directory on the local filesystem. All paths
// passed to its methods are relative to Root.
type Driver struct {
	Root string
}

// New returns a Driver rooted at root, creating it if necessary.
func New(root string) (*Driver, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("backend/local: create root: %w", err)
	}
	return &Driver{Root: root}, nil
}

func (d *Driver) abs(path string) string {
	return filepath.Join(d.Root, path)
}

func (d *Driver) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(d.abs(path))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *Driver) Size(_ context.Context, path string) (int64, error) {
	info, err := os.Stat(d.abs(path))
	if err != nil {
		return 0, fmt.Errorf("backend/local: stat %s: %w", path, err)
	}
	return info.Size(), nil
}

func (d *Driver) NewInputStream(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(d.abs(path))
	if err != nil {
		return nil, fmt.Errorf("backend/local: open %s: %w", path, err)
	}
	return f, nil
}

// NewBufferedReader is identical to NewInputStream on the local driver;
// the operating system page cache already absorbs the buffering remote
// drivers need to add explicitly.
func (d *Driver) NewBufferedReader(ctx context.Context, path string) (io.ReadCloser, error) {
	return d.NewInputStream(ctx, path)
}

// Store publishes localStaging to targetPath via rename-over-old, so a
// reader never observes a partially-written target.
func (d *Driver) Store(_ context.Context, localStaging, targetPath string) error {
	dst := d.abs(targetPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("backend/local: mkdir for %s: %w", targetPath, err)
	}
	if err := natatomic.ReplaceFile(localStaging, dst); err != nil {
		return fmt.Errorf("backend/local: publish %s: %w", targetPath, err)
	}
	return nil
}

func (d *Driver) Move(_ context.Context, src, dst string) error {
	absDst := d.abs(dst)
	if err := os.MkdirAll(filepath.Dir(absDst), 0755); err != nil {
		return fmt.Errorf("backend/local: mkdir for %s: %w", dst, err)
	}
	if err := os.Rename(d.abs(src), absDst); err != nil {
		return fmt.Errorf("backend/local: move %s -> %s: %w", src, dst, err)
	}
	return nil
}

func (d *Driver) Delete(_ context.Context, path string) error {
	if err := os.Remove(d.abs(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("backend/local: delete %s: %w", path, err)
	}
	return nil
}

func (d *Driver) Walk(_ context.Context, root string, depth int) ([]backend.FileInfo, error) {
	absRoot := d.abs(root)

	var out []backend.FileInfo
	err := filepath.WalkDir(absRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == absRoot {
				return filepath.SkipDir
			}
			return err
		}
		if path == absRoot {
			return nil
		}

		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return relErr
		}

		segments := len(strings.Split(filepath.ToSlash(rel), "/"))
		if depth >= 0 && segments > depth+1 {
			return nil
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			return infoErr
		}

		out = append(out, backend.FileInfo{
			Path:         filepath.Join(root, rel),
			Size:         info.Size(),
			LastModified: info.ModTime(),
			IsDir:        entry.IsDir(),
		})
		if depth >= 0 && entry.IsDir() && segments > depth {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("backend/local: walk %s: %w", root, err)
	}
	return out, nil
}

var _ backend.Driver = (*Driver)(nil)
