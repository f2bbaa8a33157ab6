// Package hdfs implements backend.Driver against HDFS, including HA
// namenode configurations, via colinmarc/hdfs.
package hdfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	libhdfs "github.com/colinmarc/hdfs/v2"

	"github.com/grafana/restructure/internal/backend"
)

// Driver talks to one HDFS cluster, rooted at Root within the filesystem
// namespace.
type Driver struct {
	client *libhdfs.Client
	Root   string
}

// New dials the namenode(s) at addresses (more than one enables HA
// failover) as user, rooted at root.
func New(addresses []string, user, root string) (*Driver, error) {
	client, err := libhdfs.NewClient(libhdfs.ClientOptions{
		Addresses: addresses,
		User:      user,
	})
	if err != nil {
		return nil, fmt.Errorf("backend/hdfs: dial namenode: %w", err)
	}
	return &Driver{client: client, Root: root}, nil
}

func (d *Driver) abs(p string) string {
	return path.Join(d.Root, p)
}

func (d *Driver) Exists(_ context.Context, p string) (bool, error) {
	_, err := d.client.Stat(d.abs(p))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("backend/hdfs: stat %s: %w", p, err)
	}
	return true, nil
}

func (d *Driver) Size(_ context.Context, p string) (int64, error) {
	info, err := d.client.Stat(d.abs(p))
	if err != nil {
		return 0, fmt.Errorf("backend/hdfs: stat %s: %w", p, err)
	}
	return info.Size(), nil
}

func (d *Driver) NewInputStream(_ context.Context, p string) (io.ReadCloser, error) {
	f, err := d.client.Open(d.abs(p))
	if err != nil {
		return nil, fmt.Errorf("backend/hdfs: open %s: %w", p, err)
	}
	return f, nil
}

// NewBufferedReader wraps the HDFS read-ahead behaviour the client already
// performs internally; no additional buffering layer is needed.
func (d *Driver) NewBufferedReader(ctx context.Context, p string) (io.ReadCloser, error) {
	return d.NewInputStream(ctx, p)
}

// Store uploads localStaging to a temp name under targetPath's directory
// and renames it into place, since HDFS has no atomic local-to-remote
// upload primitive.
func (d *Driver) Store(_ context.Context, localStaging, targetPath string) error {
	dst := d.abs(targetPath)
	tmp := dst + ".tmp-upload"

	if err := d.client.MkdirAll(path.Dir(dst), 0755); err != nil {
		return fmt.Errorf("backend/hdfs: mkdir for %s: %w", targetPath, err)
	}

	src, err := os.Open(localStaging)
	if err != nil {
		return fmt.Errorf("backend/hdfs: open staging %s: %w", localStaging, err)
	}
	defer src.Close()

	_ = d.client.Remove(tmp)
	w, err := d.client.Create(tmp)
	if err != nil {
		return fmt.Errorf("backend/hdfs: create %s: %w", tmp, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		_ = d.client.Remove(tmp)
		return fmt.Errorf("backend/hdfs: upload %s: %w", targetPath, err)
	}
	if err := w.Close(); err != nil {
		_ = d.client.Remove(tmp)
		return fmt.Errorf("backend/hdfs: finalize %s: %w", targetPath, err)
	}

	_ = d.client.Remove(dst)
	if err := d.client.Rename(tmp, dst); err != nil {
		return fmt.Errorf("backend/hdfs: publish %s: %w", targetPath, err)
	}
	return nil
}

func (d *Driver) Move(_ context.Context, src, dst string) error {
	absDst := d.abs(dst)
	if err := d.client.MkdirAll(path.Dir(absDst), 0755); err != nil {
		return fmt.Errorf("backend/hdfs: mkdir for %s: %w", dst, err)
	}
	if err := d.client.Rename(d.abs(src), absDst); err != nil {
		return fmt.Errorf("backend/hdfs: move %s -> %s: %w", src, dst, err)
	}
	return nil
}

func (d *Driver) Delete(_ context.Context, p string) error {
	if err := d.client.Remove(d.abs(p)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("backend/hdfs: delete %s: %w", p, err)
	}
	return nil
}

func (d *Driver) Walk(ctx context.Context, root string, depth int) ([]backend.FileInfo, error) {
	return d.walk(ctx, root, root, depth)
}

func (d *Driver) walk(ctx context.Context, relRoot, rel string, depth int) ([]backend.FileInfo, error) {
	entries, err := d.client.ReadDir(d.abs(rel))
	if err != nil {
		return nil, fmt.Errorf("backend/hdfs: list %s: %w", rel, err)
	}

	var out []backend.FileInfo
	for _, entry := range entries {
		childRel := path.Join(rel, entry.Name())
		out = append(out, backend.FileInfo{
			Path:         childRel,
			Size:         entry.Size(),
			LastModified: entry.ModTime(),
			IsDir:        entry.IsDir(),
		})
		if entry.IsDir() && depth != 0 {
			nextDepth := depth - 1
			children, err := d.walk(ctx, relRoot, childRel, nextDepth)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
		}
	}
	return out, nil
}

var _ backend.Driver = (*Driver)(nil)
