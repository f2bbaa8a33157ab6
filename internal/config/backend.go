package config

import (
	"fmt"

	"github.com/grafana/restructure/internal/backend"
	"github.com/grafana/restructure/internal/backend/azure"
	"github.com/grafana/restructure/internal/backend/hdfs"
	"github.com/grafana/restructure/internal/backend/local"
	"github.com/grafana/restructure/internal/backend/s3"
)

// Build constructs the backend.Driver named by c.Kind.
func (c BackendConfig) Build() (backend.Driver, error) {
	switch c.Kind {
	case "local", "":
		return local.New(c.Root)
	case "hdfs":
		return hdfs.New(c.Addresses, c.User, c.Prefix)
	case "s3":
		return s3.New(c.Endpoint, c.AccessKey, c.SecretKey, c.Bucket, c.Prefix, c.UseSSL)
	case "azure":
		return azure.New(c.AccountName, c.AccountKey, c.ContainerName, c.Prefix)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, c.Kind)
	}
}
