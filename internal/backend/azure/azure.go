// Package azure implements backend.Driver against Azure Blob Storage via
// Azure/azure-storage-blob-go.
package azure

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"github.com/grafana/restructure/internal/backend"
)

// Driver addresses blobs under Prefix within one container.
type Driver struct {
	container azblob.ContainerURL
	Prefix    string
}

// New builds a Driver for the named container using shared-key credentials.
func New(accountName, accountKey, containerName, prefix string) (*Driver, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("backend/azure: credentials: %w", err)
	}

	p := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	u, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net/%s", accountName, containerName))
	if err != nil {
		return nil, fmt.Errorf("backend/azure: container url: %w", err)
	}

	return &Driver{
		container: azblob.NewContainerURL(*u, p),
		Prefix:    prefix,
	}, nil
}

func (d *Driver) blob(p string) azblob.BlockBlobURL {
	return d.container.NewBlockBlobURL(path.Join(d.Prefix, p))
}

func (d *Driver) Exists(ctx context.Context, p string) (bool, error) {
	_, err := d.blob(p).GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if stgErr, ok := err.(azblob.StorageError); ok && stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return false, nil
		}
		return false, fmt.Errorf("backend/azure: properties %s: %w", p, err)
	}
	return true, nil
}

func (d *Driver) Size(ctx context.Context, p string) (int64, error) {
	props, err := d.blob(p).GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return 0, fmt.Errorf("backend/azure: properties %s: %w", p, err)
	}
	return props.ContentLength(), nil
}

func (d *Driver) NewInputStream(ctx context.Context, p string) (io.ReadCloser, error) {
	resp, err := d.blob(p).Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, fmt.Errorf("backend/azure: download %s: %w", p, err)
	}
	return resp.Body(azblob.RetryReaderOptions{}), nil
}

// NewBufferedReader is identical to NewInputStream, whose download body is
// read through the SDK's RetryReader with default options; no retry
// requests are configured.
func (d *Driver) NewBufferedReader(ctx context.Context, p string) (io.ReadCloser, error) {
	return d.NewInputStream(ctx, p)
}

func (d *Driver) Store(ctx context.Context, localStaging, targetPath string) error {
	f, err := os.Open(localStaging)
	if err != nil {
		return fmt.Errorf("backend/azure: open staging %s: %w", localStaging, err)
	}
	defer f.Close()

	_, err = azblob.UploadFileToBlockBlob(ctx, f, d.blob(targetPath), azblob.UploadToBlockBlobOptions{})
	if err != nil {
		return fmt.Errorf("backend/azure: upload %s: %w", targetPath, err)
	}
	return nil
}

// Move copies src to dst then deletes src; blob storage has no native
// rename.
func (d *Driver) Move(ctx context.Context, src, dst string) error {
	srcURL := d.blob(src).URL()
	_, err := d.blob(dst).StartCopyFromURL(ctx, srcURL, azblob.Metadata{}, azblob.ModifiedAccessConditions{}, azblob.BlobAccessConditions{}, azblob.DefaultAccessTier, nil)
	if err != nil {
		return fmt.Errorf("backend/azure: copy %s -> %s: %w", src, dst, err)
	}
	return d.Delete(ctx, src)
}

func (d *Driver) Delete(ctx context.Context, p string) error {
	_, err := d.blob(p).Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
	if err != nil {
		if stgErr, ok := err.(azblob.StorageError); ok && stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return nil
		}
		return fmt.Errorf("backend/azure: delete %s: %w", p, err)
	}
	return nil
}

func (d *Driver) Walk(ctx context.Context, root string, depth int) ([]backend.FileInfo, error) {
	prefix := path.Join(d.Prefix, root)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var out []backend.FileInfo
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := d.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{Prefix: prefix})
		if err != nil {
			return nil, fmt.Errorf("backend/azure: list %s: %w", root, err)
		}

		for _, item := range resp.Segment.BlobItems {
			rel := strings.TrimPrefix(item.Name, d.Prefix+"/")

			if depth >= 0 {
				segments := strings.Count(strings.TrimSuffix(strings.TrimPrefix(rel, strings.TrimSuffix(root, "/")+"/"), "/"), "/") + 1
				if segments > depth+1 {
					continue
				}
			}

			out = append(out, backend.FileInfo{
				Path:         rel,
				Size:         *item.Properties.ContentLength,
				LastModified: item.Properties.LastModified,
			})
		}
		marker = resp.NextMarker
	}
	return out, nil
}

var _ backend.Driver = (*Driver)(nil)
