// Package accountant implements the §4.2 Accountant: durable persistence
// of the OffsetRangeSet and the per-(topic,category,hour) Bin counters.
//
// State lives in memory and is mutated only by one goroutine, the
// durable-writer actor, which drains a bounded command queue. addAll is a
// pure in-memory update; triggerWrite, flush and close each serialise the
// current state to a temp file and replace the authoritative file
// atomically, so a crash mid-write never corrupts the previous durable
// copy.
package accountant

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	natatomic "github.com/natefinch/atomic"

	"github.com/grafana/restructure/internal/logutil"
	"github.com/grafana/restructure/internal/metrics"
	"github.com/grafana/restructure/internal/offsetrange"

	"github.com/go-kit/log/level"
)

// BinKey identifies one hourly counter bucket.
type BinKey struct {
	Topic      string
	Category   string
	TimeBucket string
}

// Ledger is a worker-local, pre-commit buffer of offset ranges and bin
// increments. It is merged into the Accountant only when the worker
// completes a source file successfully.
type Ledger struct {
	Ranges []offsetrange.Range
	Bins   map[BinKey]int64
}

// NewLedger returns an empty Ledger ready for use.
func NewLedger() *Ledger {
	return &Ledger{Bins: make(map[BinKey]int64)}
}

// AddRange stages an offset range for commit.
func (l *Ledger) AddRange(r offsetrange.Range) {
	l.Ranges = append(l.Ranges, r)
}

// IncrementBin stages a bin increment for commit.
func (l *Ledger) IncrementBin(k BinKey, n int64) {
	l.Bins[k] += n
}

type command struct {
	ledger *Ledger
	kind   commandKind
	reply  chan error
}

type commandKind int

const (
	cmdAddAll commandKind = iota
	cmdTriggerWrite
	cmdFlush
	cmdClose
)

// ErrClosed is returned by any operation issued after Close.
var ErrClosed = fmt.Errorf("accountant: closed")

// Accountant owns offsets.csv and bins.csv for one worker's scope (or, in
// a single-process deployment, the whole pipeline).
type Accountant struct {
	tmpDir         string
	publishOffsets func(data []byte) error
	publishBins    func(data []byte) error

	offsets *offsetrange.Set
	bins    map[BinKey]int64

	cmds   chan command
	done   chan struct{}
	closed bool
}

// New starts the durable-writer actor. publishOffsets/publishBins are
// called with the fully-serialised CSV bytes of offsets.csv/bins.csv
// whenever a write is triggered; they are responsible for the atomic
// publish (e.g. write-to-staging-then-backend.Store, or a local atomic
// rename). queueSize bounds the number of in-flight commands; a full
// queue applies backpressure to callers rather than growing unboundedly.
func New(tmpDir string, queueSize int, publishOffsets, publishBins func(data []byte) error) (*Accountant, error) {
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("accountant: create tmp dir: %w", err)
	}

	a := &Accountant{
		tmpDir:         tmpDir,
		publishOffsets: publishOffsets,
		publishBins:    publishBins,
		offsets:        offsetrange.New(),
		bins:           make(map[BinKey]int64),
		cmds:           make(chan command, queueSize),
		done:           make(chan struct{}),
	}

	go a.run()
	return a, nil
}

// Load seeds the in-memory state from previously persisted CSV bytes, e.g.
// read back at startup before the actor begins serving commands.
func (a *Accountant) Load(offsetsCSV, binsCSV io.Reader) error {
	if offsetsCSV != nil {
		set, err := offsetrange.ReadCSV(offsetsCSV)
		if err != nil {
			return fmt.Errorf("accountant: load offsets: %w", err)
		}
		a.offsets = set
	}
	if binsCSV != nil {
		bins, err := readBinsCSV(binsCSV)
		if err != nil {
			return fmt.Errorf("accountant: load bins: %w", err)
		}
		a.bins = bins
	}
	return nil
}

// Contains reports whether r is already fully accounted for.
func (a *Accountant) Contains(r offsetrange.Range) bool {
	return a.offsets.Contains(r)
}

// Process merges ledger into the Accountant's in-memory state and
// triggers a durable write, blocking until the write completes or fails.
// This is the only path by which a worker's progress becomes durable.
func (a *Accountant) Process(ctx context.Context, ledger *Ledger) error {
	if err := a.send(ctx, command{kind: cmdAddAll, ledger: ledger}); err != nil {
		return err
	}
	return a.send(ctx, command{kind: cmdTriggerWrite})
}

// Flush blocks until any in-progress write completes and the latest
// in-memory state is durable.
func (a *Accountant) Flush(ctx context.Context) error {
	return a.send(ctx, command{kind: cmdFlush})
}

// Close flushes pending state then stops the actor. It is safe to call
// Close more than once.
func (a *Accountant) Close(ctx context.Context) error {
	err := a.send(ctx, command{kind: cmdClose})
	<-a.done
	return err
}

func (a *Accountant) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case <-a.done:
		return ErrClosed
	default:
	}
	select {
	case a.cmds <- cmd:
	case <-a.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-a.done:
		// The close command replies just before the actor exits.
		select {
		case err := <-cmd.reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Accountant) run() {
	defer close(a.done)
	for cmd := range a.cmds {
		switch cmd.kind {
		case cmdAddAll:
			a.applyLedger(cmd.ledger)
			cmd.reply <- nil
		case cmdTriggerWrite:
			cmd.reply <- a.writeThrough()
		case cmdFlush:
			cmd.reply <- a.writeThrough()
		case cmdClose:
			err := a.writeThrough()
			cmd.reply <- err
			return
		}
	}
}

func (a *Accountant) applyLedger(l *Ledger) {
	if l == nil {
		return
	}
	for _, r := range l.Ranges {
		a.offsets.Add(r)
		metrics.OffsetCommitsTotal.WithLabelValues(r.Topic).Inc()
	}
	for k, n := range l.Bins {
		a.bins[k] += n
	}
}

func (a *Accountant) writeThrough() error {
	offsetsBuf, err := marshalOffsets(a.offsets)
	if err != nil {
		return fmt.Errorf("accountant: marshal offsets: %w", err)
	}
	binsBuf, err := marshalBins(a.bins)
	if err != nil {
		return fmt.Errorf("accountant: marshal bins: %w", err)
	}

	if a.publishOffsets != nil {
		if err := a.publishOffsets(offsetsBuf); err != nil {
			metrics.AccountantWriteFailuresTotal.Inc()
			level.Error(logutil.Logger).Log("msg", "accountant failed to publish offsets", "err", err)
			return fmt.Errorf("accountant: publish offsets: %w", err)
		}
	}
	if a.publishBins != nil {
		if err := a.publishBins(binsBuf); err != nil {
			metrics.AccountantWriteFailuresTotal.Inc()
			level.Error(logutil.Logger).Log("msg", "accountant failed to publish bins", "err", err)
			return fmt.Errorf("accountant: publish bins: %w", err)
		}
	}
	return nil
}

// LocalAtomicPublish returns a publish func that writes data to a staged
// file in tmpDir and atomically replaces dst, the pattern every driver's
// Store ultimately performs for the local case. Remote-backed deployments
// instead stage through a backend.Driver and call its Store.
func LocalAtomicPublish(tmpDir, dst string) func([]byte) error {
	return func(data []byte) error {
		staged := filepath.Join(tmpDir, filepath.Base(dst)+".staging")
		if err := os.WriteFile(staged, data, 0644); err != nil {
			return fmt.Errorf("write staged file: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return fmt.Errorf("mkdir target dir: %w", err)
		}
		return natatomic.ReplaceFile(staged, dst)
	}
}
