package worker

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
)

const schema = `
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

func writeSourceFile(t *testing.T, root, name string, datums []map[string]interface{}) {
	t.Helper()
	codec, err := goavro.NewCodec(schema)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := goavro.NewOCFWriter(goavro.OCFConfig{W: &buf, Codec: codec})
	require.NoError(t, err)
	for _, d := range datums {
		require.NoError(t, w.Append([]interface{}{d}))
	}

	require.NoError(t, os.WriteFile(filepath.Join(root, name), buf.Bytes(), 0644))
}

func TestProcessFileCommitsRangeOnSuccess(t *testing.T) {
	ctx := context.Background()
	srcRoot := t.TempDir()
	targetRoot := t.TempDir()
	tmpDir := t.TempDir()

	writeSourceFile(t, srcRoot, "t+0+0+1.avro", []map[string]interface{}{
		{"key": map[string]interface{}{"projectId": "p", "userId": "u", "sourceId": "s"}, "value": map[string]interface{}{"time": int64(1700000000000000000)}},
		{"key": map[string]interface{}{"projectId": "p", "userId": "u", "sourceId": "s"}, "value": map[string]interface{}{"time": int64(1700000000000000000)}},
	})

	srcDriver, err := local.New(srcRoot)
	require.NoError(t, err)
	targetDriver, err := local.New(targetRoot)
	require.NoError(t, err)

	codec, err := compress.Lookup("none")
	require.NoError(t, err)
	fac, err := format.Lookup("csv")
	require.NoError(t, err)
	paths := pathfactory.NewObservationKeyFactory("time")

	acctTmp := t.TempDir()
	acct, err := accountant.New(acctTmp, 4,
		accountant.LocalAtomicPublish(acctTmp, filepath.Join(acctTmp, "offsets.csv")),
		accountant.LocalAtomicPublish(acctTmp, filepath.Join(acctTmp, "bins.csv")),
	)
	require.NoError(t, err)
	defer acct.Close(ctx)

	store := filecache.New(4, tmpDir, targetDriver, codec, fac, paths, acct, false, nil, nil)

	w := &Worker{Source: srcDriver, Store: store, Acct: acct}

	rng := offsetrange.Range{TopicPartition: offsetrange.TopicPartition{Topic: "t", Partition: 0}, From: 0, To: 1}
	require.NoError(t, w.ProcessFile(ctx, "t", SourceFile{Path: "t+0+0+1.avro", Range: rng, LastModified: time.Now().Add(-time.Hour)}))
	require.NoError(t, store.Close(ctx))

	assert.True(t, acct.Contains(rng))
}

func TestProcessFileSkipsAlreadyAccountedRange(t *testing.T) {
	ctx := context.Background()
	srcRoot := t.TempDir()
	srcDriver, err := local.New(srcRoot)
	require.NoError(t, err)

	acctTmp := t.TempDir()
	acct, err := accountant.New(acctTmp, 4,
		accountant.LocalAtomicPublish(acctTmp, filepath.Join(acctTmp, "offsets.csv")),
		accountant.LocalAtomicPublish(acctTmp, filepath.Join(acctTmp, "bins.csv")),
	)
	require.NoError(t, err)
	defer acct.Close(ctx)

	rng := offsetrange.Range{TopicPartition: offsetrange.TopicPartition{Topic: "t", Partition: 0}, From: 0, To: 1}
	ledger := accountant.NewLedger()
	ledger.AddRange(rng)
	require.NoError(t, acct.Process(ctx, ledger))

	w := &Worker{Source: srcDriver, Acct: acct}
	require.NoError(t, w.ProcessFile(ctx, "t", SourceFile{Path: "missing.avro", Range: rng, LastModified: time.Now().Add(-time.Hour)}))
}

func TestProcessFileSkipsTooYoungFile(t *testing.T) {
	ctx := context.Background()
	srcRoot := t.TempDir()
	srcDriver, err := local.New(srcRoot)
	require.NoError(t, err)

	acctTmp := t.TempDir()
	acct, err := accountant.New(acctTmp, 4,
		accountant.LocalAtomicPublish(acctTmp, filepath.Join(acctTmp, "offsets.csv")),
		accountant.LocalAtomicPublish(acctTmp, filepath.Join(acctTmp, "bins.csv")),
	)
	require.NoError(t, err)
	defer acct.Close(ctx)

	w := &Worker{Source: srcDriver, Acct: acct, MinimumFileAge: time.Hour}
	rng := offsetrange.Range{TopicPartition: offsetrange.TopicPartition{Topic: "t", Partition: 0}, From: 0, To: 1}
	require.NoError(t, w.ProcessFile(ctx, "t", SourceFile{Path: "missing.avro", Range: rng, LastModified: time.Now()}))
	assert.False(t, acct.Contains(rng))
}
