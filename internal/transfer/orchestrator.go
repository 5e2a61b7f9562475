package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"samplecart/internal/audio"
	"samplecart/internal/config"
	"samplecart/internal/faults"
	"samplecart/internal/logging"
)

// Converter runs one conversion. It must hold lock while writing dst.
type Converter interface {
	ConvertLocked(ctx context.Context, src, dst string, spec audio.Spec, lock audio.WriteLock) (audio.Result, error)
}

// Copier copies one file verbatim.
type Copier interface {
	CopyFile(ctx context.Context, src, dst string) (int64, error)
}

// Deps wires the orchestrator to the components doing the work.
type Deps struct {
	Converter Converter
	Copier    Copier
	// LockKey maps a destination path to the volume whose writes must be
	// serialized. Nil treats everything as one volume.
	LockKey func(path string) string
	Journal *Journal
}

// Orchestrator executes batches. It owns every submitted batch until
// Release.
type Orchestrator struct {
	deps       Deps
	convertSem *semaphore.Weighted
	copySem    *semaphore.Weighted
	locks      *volumeLocks
	logger     *slog.Logger

	// base bounds in-flight work; it ends only on Close.
	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool

	batches map[string]*Batch
}

// New builds an orchestrator from the [transfer] section.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Orchestrator {
	convert := cfg.Transfer.ConvertWorkers
	if convert <= 0 {
		convert = runtime.NumCPU()
	}
	copyWorkers := cfg.Transfer.CopyWorkers
	if copyWorkers <= 0 {
		copyWorkers = 2
	}
	if deps.LockKey == nil {
		deps.LockKey = func(string) string { return "local" }
	}
	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:       deps,
		convertSem: semaphore.NewWeighted(int64(convert)),
		copySem:    semaphore.NewWeighted(int64(copyWorkers)),
		locks:      newVolumeLocks(),
		logger:     logging.NewComponentLogger(logger, "transfer"),
		base:       base,
		stop:       stop,
		batches:    make(map[string]*Batch),
	}
}

// Close cancels in-flight work, waits for every batch to settle and closes
// the journal. Interrupted writes remove their partial destinations.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	batches := make([]*Batch, 0, len(o.batches))
	for _, b := range o.batches {
		batches = append(batches, b)
	}
	o.mu.Unlock()

	for _, b := range batches {
		b.Cancel()
	}
	o.stop()
	o.wg.Wait()
	return o.deps.Journal.Close()
}

// validate cleans destinations and rejects duplicates before any work
// starts.
func validate(reqs []Request) ([]Request, error) {
	if len(reqs) == 0 {
		return nil, errors.New("batch has no items")
	}
	seen := make(map[string]int, len(reqs))
	out := make([]Request, len(reqs))
	for i, req := range reqs {
		if strings.TrimSpace(req.SourcePath) == "" || strings.TrimSpace(req.DestPath) == "" {
			return nil, fmt.Errorf("item %d: source and destination are required", i)
		}
		if err := req.Spec.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		req.SourcePath = filepath.Clean(req.SourcePath)
		req.DestPath = filepath.Clean(req.DestPath)
		if prev, dup := seen[req.DestPath]; dup {
			return nil, faults.Wrap(faults.ErrCollision, "transfer", "submit",
				fmt.Sprintf("items %d and %d both write %s", prev, i, req.DestPath), nil)
		}
		seen[req.DestPath] = i
		out[i] = req
	}
	return out, nil
}

// Submit validates reqs and starts a batch. Duplicate destinations are
// rejected with Collision and nothing runs.
func (o *Orchestrator) Submit(ctx context.Context, reqs []Request) (*Batch, error) {
	return o.submit(ctx, "", reqs)
}

func (o *Orchestrator) submit(ctx context.Context, parentID string, reqs []Request) (*Batch, error) {
	reqs, err := validate(reqs)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, faults.Wrap(faults.ErrCancelled, "transfer", "submit", "orchestrator closed", nil)
	}
	b := newBatch(uuid.NewString(), parentID, reqs)
	o.batches[b.id] = b
	o.wg.Add(1)
	o.mu.Unlock()

	logger := o.batchLogger(b)
	if o.deps.Journal != nil {
		if err := o.deps.Journal.CreateBatch(ctx, b); err != nil {
			o.journalFailed(logger, err)
		}
	}
	logger.Info("batch submitted",
		logging.String(logging.FieldEventType, "batch_submitted"),
		logging.Int("items", len(reqs)),
		logging.String("parent_batch_id", parentID),
	)

	go o.run(b)
	return b, nil
}

// Do runs a single request synchronously under the same worker caps and
// volume locks as batches. Errors are returned directly.
func (o *Orchestrator) Do(ctx context.Context, req Request) (Item, error) {
	reqs, err := validate([]Request{req})
	if err != nil {
		return Item{}, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Item{}, faults.Wrap(faults.ErrCancelled, "transfer", "do", "orchestrator closed", nil)
	}
	o.wg.Add(1)
	o.mu.Unlock()
	defer o.wg.Done()

	// Close interrupts the write the same way it does for batches.
	work, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(o.base, cancel)()

	b := newBatch(uuid.NewString(), "", reqs)
	o.execute(ctx, work, b, 0)
	item := b.item(0)
	return item, item.Err
}

func (o *Orchestrator) batchLogger(b *Batch) *slog.Logger {
	return o.logger.With(logging.String(logging.FieldBatchID, b.id))
}

func (o *Orchestrator) run(b *Batch) {
	defer o.wg.Done()
	logger := o.batchLogger(b)
	started := time.Now()

	var wg sync.WaitGroup
	for i := range b.items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.execute(b.gate, o.base, b, i)
		}()
	}

	sampler := logging.NewProgressSampler(25)
	for c := range b.Progress(context.Background()) {
		if pct := logging.Percent(int64(c.Done), int64(c.Total)); sampler.ShouldLog(pct, "") {
			logger.Info("batch progress",
				logging.String(logging.FieldEventType, "batch_progress"),
				logging.Float64("progress_percent", pct),
				logging.Int("completed", c.Done),
				logging.Int("total", c.Total),
			)
		}
	}
	wg.Wait()

	result := b.result()
	info := b.Info(false)
	if o.deps.Journal != nil {
		if err := o.deps.Journal.FinishBatch(context.Background(), info); err != nil {
			o.journalFailed(logger, err)
		}
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "batch_complete"),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed),
		logging.Bool("cancelled", info.Cancelled),
		logging.Duration("duration", time.Since(started)),
	}
	if result.Failed > 0 {
		logging.WarnWithContext(logger, "batch finished: "+result.Summary(), "batch_complete",
			append(attrs,
				logging.String(logging.FieldErrorHint, "retry the batch to rerun only the failed items"),
				logging.String(logging.FieldImpact, "failed items were not written"),
			)...)
		return
	}
	logger.Info("batch finished", logging.Args(attrs...)...)
}

// execute runs item i. gate ends the wait for a worker slot or volume lock
// (Cancel); work bounds the conversion or copy itself (shutdown).
func (o *Orchestrator) execute(gate, work context.Context, b *Batch, i int) {
	item := b.item(i)
	ctx := logging.WithBatchID(work, b.id)
	logger := o.batchLogger(b).With(logging.Int(logging.FieldItemIndex, i))

	fail := func(err error) {
		updated, ok := b.advance(i, StatusFailed, func(it *Item) { it.fail(err) })
		if ok {
			o.record(logger, b, updated)
			logger.Debug("item failed", logging.Error(err), logging.ErrorCode(err))
		}
	}

	converts := item.Request().Converts()
	sem, status := o.copySem, StatusCopying
	if converts {
		sem, status = o.convertSem, StatusConverting
	}

	// Copies hold the volume lock for their whole run. Conversions hold it
	// only while writing.
	key := o.deps.LockKey(item.DestPath)
	if !converts {
		release, err := o.locks.acquire(gate, key)
		if err != nil {
			fail(faults.FromOS("transfer", "schedule", item.DestPath, err))
			return
		}
		defer release()
	}
	if err := sem.Acquire(gate, 1); err != nil {
		fail(faults.FromOS("transfer", "schedule", item.DestPath, err))
		return
	}
	defer sem.Release(1)
	if err := gate.Err(); err != nil {
		fail(faults.FromOS("transfer", "schedule", item.DestPath, err))
		return
	}

	updated, ok := b.advance(i, status, nil)
	if !ok {
		return
	}
	o.record(logger, b, updated)

	var (
		bytes    int64
		byteCopy bool
		err      error
	)
	if converts {
		var res audio.Result
		lock := func(ctx context.Context) (func(), error) { return o.locks.acquire(ctx, key) }
		res, err = o.deps.Converter.ConvertLocked(ctx, item.SourcePath, item.DestPath, item.Spec, lock)
		bytes, byteCopy = res.Bytes, res.ByteCopy
	} else {
		bytes, err = o.deps.Copier.CopyFile(ctx, item.SourcePath, item.DestPath)
		byteCopy = true
	}
	if err != nil {
		fail(err)
		return
	}
	updated, ok = b.advance(i, StatusDone, func(it *Item) {
		it.Bytes = bytes
		it.ByteCopy = byteCopy
	})
	if ok {
		o.record(logger, b, updated)
	}
}

func (o *Orchestrator) record(logger *slog.Logger, b *Batch, item Item) {
	if o.deps.Journal == nil {
		return
	}
	o.mu.Lock()
	_, tracked := o.batches[b.id]
	o.mu.Unlock()
	if !tracked {
		return
	}
	if err := o.deps.Journal.UpdateItem(context.Background(), b.id, item); err != nil {
		o.journalFailed(logger, err)
	}
}

func (o *Orchestrator) journalFailed(logger *slog.Logger, err error) {
	logging.WarnWithContext(logger, "transfer journal write failed", "journal_write_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check free space and permissions of the state directory"),
		logging.String(logging.FieldImpact, "batch history may be incomplete; transfers are unaffected"),
	)
}

// Get returns a batch by id.
func (o *Orchestrator) Get(id string) (*Batch, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.batches[id]
	if !ok {
		return nil, faults.Wrap(faults.ErrNotFound, "transfer", "get", "batch "+id, nil)
	}
	return b, nil
}

// List returns snapshots of all unreleased batches, oldest first.
func (o *Orchestrator) List() []Info {
	o.mu.Lock()
	batches := make([]*Batch, 0, len(o.batches))
	for _, b := range o.batches {
		batches = append(batches, b)
	}
	o.mu.Unlock()

	infos := make([]Info, 0, len(batches))
	for _, b := range batches {
		infos = append(infos, b.Info(false))
	}
	slices.SortFunc(infos, func(a, b Info) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return infos
}

// History returns journaled batches, newest first. It is empty when the
// journal is disabled.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]BatchRecord, error) {
	if o.deps.Journal == nil {
		return nil, nil
	}
	return o.deps.Journal.ListBatches(ctx, limit)
}

// Retry submits a new batch holding the failed items of a finished batch.
func (o *Orchestrator) Retry(ctx context.Context, id string) (*Batch, error) {
	b, err := o.Get(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-b.Done():
	default:
		return nil, faults.Wrap(faults.ErrDeviceBusy, "transfer", "retry", "batch "+id+" is still running", nil)
	}
	failed := b.result().FailedItems()
	if len(failed) == 0 {
		return nil, faults.Wrap(faults.ErrNotFound, "transfer", "retry", "batch "+id+" has no failed items", nil)
	}
	reqs := make([]Request, len(failed))
	for i, item := range failed {
		reqs[i] = item.Request()
	}
	return o.submit(ctx, id, reqs)
}

// Release drops a finished batch and its journal rows.
func (o *Orchestrator) Release(ctx context.Context, id string) error {
	b, err := o.Get(id)
	if err != nil {
		return err
	}
	select {
	case <-b.Done():
	default:
		return faults.Wrap(faults.ErrDeviceBusy, "transfer", "release", "batch "+id+" is still running; cancel it first", nil)
	}
	o.mu.Lock()
	delete(o.batches, id)
	o.mu.Unlock()
	if o.deps.Journal != nil {
		if err := o.deps.Journal.DeleteBatch(ctx, id); err != nil {
			o.journalFailed(o.batchLogger(b), err)
		}
	}
	return nil
}
