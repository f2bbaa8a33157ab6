// Package registry is the closed set of built-in strategy constructors keyed
// by short configuration name. It replaces reflection-based plugin loading
// with static validation: every name a config file can reference is known
// at compile time.
package registry

import (
	"fmt"

	"github.com/grafana/restructure/internal/compress"
	"github.com/grafana/restructure/internal/format"
	"github.com/grafana/restructure/internal/pathfactory"
)

// ErrUnknownStrategy is returned when a config names a strategy this build
// does not carry.
var ErrUnknownStrategy = fmt.Errorf("registry: unknown strategy")

// PathFactory resolves a named RecordPathFactory strategy.
func PathFactory(name, timeField string) (pathfactory.Factory, error) {
	switch name {
	case "observationKey", "":
		return pathfactory.NewObservationKeyFactory(timeField), nil
	default:
		return nil, fmt.Errorf("%w: pathFactory %q", ErrUnknownStrategy, name)
	}
}

// Format resolves a named RecordConverter factory.
func Format(name string) (format.Factory, error) {
	f, err := format.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("%w: format %q", ErrUnknownStrategy, name)
	}
	return f, nil
}

// Compression resolves a named compression codec.
func Compression(name string) (compress.Codec, error) {
	c, err := compress.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("%w: compression %q", ErrUnknownStrategy, name)
	}
	return c, nil
}

// Names lists the recognised strategy names for each registry axis. Nothing
// in this module reads it; unknown names are rejected by the lookup
// functions above.
var Names = struct {
	PathFactory  []string
	Format       []string
	Compression  []string
	StorageKinds []string
}{
	PathFactory:  []string{"observationKey"},
	Format:       []string{"csv", "json"},
	Compression:  []string{"gzip", "zip", "none"},
	StorageKinds: []string{"local", "hdfs", "s3", "azure"},
}
