package cleaner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	goavro "github.com/linkedin/goavro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/restructure/internal/accountant"
	"github.com/grafana/restructure/internal/backend/local"
	"github.com/grafana/restructure/internal/compress"
	"github.com/grafana/restructure/internal/filecache"
	"github.com/grafana/restructure/internal/format"
	"github.com/grafana/restructure/internal/offsetrange"
	"github.com/grafana/restructure/internal/pathfactory"
	"github.com/grafana/restructure/internal/worker"
)

const cleanerSchema = `
{
  "type": "record", "name": "Envelope",
  "fields": [
    {"name": "key", "type": {
      "type": "record", "name": "Key",
      "fields": [
        {"name": "projectId", "type": "string"},
        {"name": "userId", "type": "string"},
        {"name": "sourceId", "type": "string"}
      ]
    }},
    {"name": "value", "type": {
      "type": "record", "name": "Value",
      "fields": [{"name": "time", "type": "long"}]
    }}
  ]
}`

func writeAvro(t *testing.T, path string, datums []map[string]interface{}) {
	t.Helper()
	codec, err := goavro.NewCodec(cleanerSchema)
	require.NoError(t, err)
	var buf bytes.Buffer
	w, err := goavro.NewOCFWriter(goavro.OCFConfig{W: &buf, Codec: codec})
	require.NoError(t, err)
	for _, d := range datums {
		require.NoError(t, w.Append([]interface{}{d}))
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

type testEnv struct {
	cleaner  *Cleaner
	acct     *accountant.Accountant
	srcRoot  string
	destRoot string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	tmpDir := t.TempDir()

	srcDriver, err := local.New(srcRoot)
	require.NoError(t, err)
	destDriver, err := local.New(destRoot)
	require.NoError(t, err)

	codec, _ := compress.Lookup("none")
	fac, _ := format.Lookup("csv")
	paths := pathfactory.NewObservationKeyFactory("time")

	acctTmp := t.TempDir()
	acct, err := accountant.New(acctTmp, 4,
		accountant.LocalAtomicPublish(acctTmp, filepath.Join(acctTmp, "offsets.csv")),
		accountant.LocalAtomicPublish(acctTmp, filepath.Join(acctTmp, "bins.csv")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { acct.Close(context.Background()) })

	store := filecache.New(4, tmpDir, destDriver, codec, fac, paths, acct, false, nil, nil)
	w := &worker.Worker{Source: srcDriver, Store: store, Acct: acct}

	tsStore := NewTimestampFileCacheStore(destDriver, codec, fac, paths, 0)
	c := &Cleaner{
		Source:    srcDriver,
		Acct:      acct,
		Paths:     paths,
		TSStore:   tsStore,
		TimeField: "time",
		Age:       0,
	}

	// used implicitly via w below
	_ = w

	return &testEnv{cleaner: c, acct: acct, srcRoot: srcRoot, destRoot: destRoot}
}

func TestCleanDeletesFullyExtractedFile(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	datums := []map[string]interface{}{
		{"key": map[string]interface{}{"projectId": "p", "userId": "u", "sourceId": "s"}, "value": map[string]interface{}{"time": int64(1700000000000000000)}},
	}
	srcPath := filepath.Join(env.srcRoot, "t+0+0+0.avro")
	writeAvro(t, srcPath, datums)

	// Ingest it first via a worker sharing the same target driver/paths.
	srcDriver, _ := local.New(env.srcRoot)
	destDriver, _ := local.New(env.destRoot)
	codec, _ := compress.Lookup("none")
	fac, _ := format.Lookup("csv")
	paths := pathfactory.NewObservationKeyFactory("time")
	store := filecache.New(4, t.TempDir(), destDriver, codec, fac, paths, env.acct, false, nil, nil)
	w := &worker.Worker{Source: srcDriver, Store: store, Acct: env.acct}

	rng := offsetrange.Range{TopicPartition: offsetrange.TopicPartition{Topic: "t", Partition: 0}, From: 0, To: 0}
	sf := worker.SourceFile{Path: "t+0+0+0.avro", Range: rng, LastModified: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, w.ProcessFile(ctx, "t", sf))
	require.NoError(t, store.Close(ctx))

	deleted, err := env.cleaner.Clean(ctx, "t", sf)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, statErr := os.Stat(srcPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCleanRetainsFileNotYetAccounted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	srcPath := filepath.Join(env.srcRoot, "t+0+0+0.avro")
	writeAvro(t, srcPath, []map[string]interface{}{
		{"key": map[string]interface{}{"projectId": "p", "userId": "u", "sourceId": "s"}, "value": map[string]interface{}{"time": int64(1700000000000000000)}},
	})

	rng := offsetrange.Range{TopicPartition: offsetrange.TopicPartition{Topic: "t", Partition: 0}, From: 0, To: 0}
	sf := worker.SourceFile{Path: "t+0+0+0.avro", Range: rng, LastModified: time.Now().Add(-48 * time.Hour)}

	deleted, err := env.cleaner.Clean(ctx, "t", sf)
	require.NoError(t, err)
	assert.False(t, deleted, "a file not yet in the Accountant must never be deleted")

	_, statErr := os.Stat(srcPath)
	assert.NoError(t, statErr)
}

func TestCleanRetainsFileWithMissingRecord(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	ledger := accountant.NewLedger()
	rng := offsetrange.Range{TopicPartition: offsetrange.TopicPartition{Topic: "t", Partition: 0}, From: 0, To: 0}
	ledger.AddRange(rng)
	require.NoError(t, env.acct.Process(ctx, ledger))

	srcPath := filepath.Join(env.srcRoot, "t+0+0+0.avro")
	writeAvro(t, srcPath, []map[string]interface{}{
		{"key": map[string]interface{}{"projectId": "p", "userId": "u", "sourceId": "s"}, "value": map[string]interface{}{"time": int64(1700000000000000000)}},
	})

	sf := worker.SourceFile{Path: "t+0+0+0.avro", Range: rng, LastModified: time.Now().Add(-48 * time.Hour)}

	deleted, err := env.cleaner.Clean(ctx, "t", sf)
	require.NoError(t, err)
	assert.False(t, deleted, "target never written, record must resolve FILE_NOT_FOUND")

	_, statErr := os.Stat(srcPath)
	assert.NoError(t, statErr)
}
