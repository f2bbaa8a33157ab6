// Package s3 implements backend.Driver against any S3-compatible object
// store via minio-go.
package s3

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/grafana/restructure/internal/backend"
)

// Driver addresses objects under Bucket/Prefix on one S3-compatible
// endpoint.
type Driver struct {
	client *minio.Client
	Bucket string
	Prefix string
}

// New dials endpoint with static credentials. useSSL controls whether the
// client speaks TLS; set false for local/minio test deployments.
func New(endpoint, accessKey, secretKey, bucket, prefix string, useSSL bool) (*Driver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("backend/s3: dial %s: %w", endpoint, err)
	}
	return &Driver{client: client, Bucket: bucket, Prefix: prefix}, nil
}

func (d *Driver) key(p string) string {
	return path.Join(d.Prefix, p)
}

func (d *Driver) Exists(ctx context.Context, p string) (bool, error) {
	_, err := d.client.StatObject(ctx, d.Bucket, d.key(p), minio.StatObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("backend/s3: stat %s: %w", p, err)
	}
	return true, nil
}

func (d *Driver) Size(ctx context.Context, p string) (int64, error) {
	info, err := d.client.StatObject(ctx, d.Bucket, d.key(p), minio.StatObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("backend/s3: stat %s: %w", p, err)
	}
	return info.Size, nil
}

func (d *Driver) NewInputStream(ctx context.Context, p string) (io.ReadCloser, error) {
	obj, err := d.client.GetObject(ctx, d.Bucket, d.key(p), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("backend/s3: get %s: %w", p, err)
	}
	return obj, nil
}

// NewBufferedReader is identical to NewInputStream: the minio SDK object
// handle already performs ranged, buffered reads under the hood.
func (d *Driver) NewBufferedReader(ctx context.Context, p string) (io.ReadCloser, error) {
	return d.NewInputStream(ctx, p)
}

func (d *Driver) Store(ctx context.Context, localStaging, targetPath string) error {
	_, err := d.client.FPutObject(ctx, d.Bucket, d.key(targetPath), localStaging, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("backend/s3: put %s: %w", targetPath, err)
	}
	return nil
}

// Move copies src to dst then deletes src; S3 has no native rename.
func (d *Driver) Move(ctx context.Context, src, dst string) error {
	srcOpts := minio.CopySrcOptions{Bucket: d.Bucket, Object: d.key(src)}
	dstOpts := minio.CopyDestOptions{Bucket: d.Bucket, Object: d.key(dst)}
	if _, err := d.client.CopyObject(ctx, dstOpts, srcOpts); err != nil {
		return fmt.Errorf("backend/s3: copy %s -> %s: %w", src, dst, err)
	}
	return d.Delete(ctx, src)
}

func (d *Driver) Delete(ctx context.Context, p string) error {
	if err := d.client.RemoveObject(ctx, d.Bucket, d.key(p), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("backend/s3: delete %s: %w", p, err)
	}
	return nil
}

func (d *Driver) Walk(ctx context.Context, root string, depth int) ([]backend.FileInfo, error) {
	prefix := d.key(root)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	opts := minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: depth < 0 || depth > 0,
	}

	var out []backend.FileInfo
	for obj := range d.client.ListObjects(ctx, d.Bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("backend/s3: list %s: %w", root, obj.Err)
		}

		rel := strings.TrimPrefix(obj.Key, d.Prefix+"/")
		isDir := strings.HasSuffix(obj.Key, "/")

		if depth >= 0 {
			segments := strings.Count(strings.TrimSuffix(strings.TrimPrefix(rel, strings.TrimSuffix(root, "/")+"/"), "/"), "/") + 1
			if segments > depth+1 {
				continue
			}
		}

		out = append(out, backend.FileInfo{
			Path:         strings.TrimSuffix(rel, "/"),
			Size:         obj.Size,
			LastModified: obj.LastModified,
			IsDir:        isDir,
		})
	}
	return out, nil
}

var _ backend.Driver = (*Driver)(nil)
