package accountant

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/restructure/internal/offsetrange"
)

func newTestAccountant(t *testing.T) (*Accountant, string, string) {
	t.Helper()
	tmpDir := t.TempDir()
	offsetsPath := filepath.Join(tmpDir, "offsets.csv")
	binsPath := filepath.Join(tmpDir, "bins.csv")

	a, err := New(tmpDir, 8,
		LocalAtomicPublish(tmpDir, offsetsPath),
		LocalAtomicPublish(tmpDir, binsPath),
	)
	require.NoError(t, err)
	return a, offsetsPath, binsPath
}

func TestProcessPersistsOffsetsAndBins(t *testing.T) {
	ctx := context.Background()
	a, offsetsPath, binsPath := newTestAccountant(t)
	defer a.Close(ctx)

	tp := offsetrange.TopicPartition{Topic: "t", Partition: 0}
	ledger := NewLedger()
	ledger.AddRange(offsetrange.Range{TopicPartition: tp, From: 0, To: 1})
	ledger.IncrementBin(BinKey{Topic: "t", Category: "t", TimeBucket: "2024010100"}, 2)

	require.NoError(t, a.Process(ctx, ledger))

	assert.True(t, a.Contains(offsetrange.Range{TopicPartition: tp, From: 0, To: 1}))

	data, err := os.ReadFile(offsetsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "0,1,0,t")

	binData, err := os.ReadFile(binsPath)
	require.NoError(t, err)
	assert.Contains(t, string(binData), "2024010100,2")
}

func TestLoadSeedsExistingState(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestAccountant(t)
	defer a.Close(ctx)

	require.NoError(t, a.Load(bytes.NewBufferString("offsetFrom,offsetTo,partition,topic\n0,5,0,t\n"), nil))

	tp := offsetrange.TopicPartition{Topic: "t", Partition: 0}
	assert.True(t, a.Contains(offsetrange.Range{TopicPartition: tp, From: 2, To: 3}))
}

func TestCloseIsIdempotentSafe(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestAccountant(t)
	require.NoError(t, a.Close(ctx))
	assert.ErrorIs(t, a.Close(ctx), ErrClosed)
}

func TestFlushWritesCurrentState(t *testing.T) {
	ctx := context.Background()
	a, offsetsPath, _ := newTestAccountant(t)
	defer a.Close(ctx)

	tp := offsetrange.TopicPartition{Topic: "t", Partition: 1}
	ledger := NewLedger()
	ledger.AddRange(offsetrange.Range{TopicPartition: tp, From: 0, To: 0})

	require.NoError(t, a.send(ctx, command{kind: cmdAddAll, ledger: ledger}))
	require.NoError(t, a.Flush(ctx))

	data, err := os.ReadFile(offsetsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "0,0,1,t")
}
