package transfer

import (
	"context"
	"iter"
	"sync"
	"time"

	"samplecart/internal/faults"
)

// Batch is the handle for a submitted set of items. The orchestrator owns
// the batch until it is released.
type Batch struct {
	id       string
	parentID string
	created  time.Time

	// gate is cancelled by Cancel. Items still waiting for a worker or a
	// volume lock observe it; items already running do not.
	gate   context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	items     []Item
	order     []int
	notify    chan struct{}
	cancelled bool
	finished  time.Time
	done      chan struct{}
}

// Info is a point-in-time view of a batch.
type Info struct {
	ID         string     `json:"id"`
	ParentID   string     `json:"parentId,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Done       bool       `json:"done"`
	Cancelled  bool       `json:"cancelled"`
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Items      []Item     `json:"items,omitempty"`
}

func newBatch(id, parentID string, reqs []Request) *Batch {
	gate, cancel := context.WithCancel(context.Background())
	b := &Batch{
		id:       id,
		parentID: parentID,
		created:  time.Now().UTC(),
		gate:     gate,
		cancel:   cancel,
		items:    make([]Item, len(reqs)),
		notify:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for i, req := range reqs {
		b.items[i] = Item{
			Index:      i,
			SourcePath: req.SourcePath,
			DestPath:   req.DestPath,
			Spec:       req.Spec,
			Status:     StatusPending,
		}
	}
	return b
}

// ID returns the batch identifier.
func (b *Batch) ID() string { return b.id }

// Len returns the number of items.
func (b *Batch) Len() int { return len(b.items) }

// Cancel drops items that have not started; they fail with Cancelled.
// Items already converting or copying run to completion.
func (b *Batch) Cancel() {
	b.mu.Lock()
	if b.finishedLocked() {
		b.mu.Unlock()
		return
	}
	b.cancelled = true
	b.mu.Unlock()
	b.cancel()
}

// Done is closed once every item reached a terminal state.
func (b *Batch) Done() <-chan struct{} { return b.done }

// Wait blocks until the batch finishes or ctx ends.
func (b *Batch) Wait(ctx context.Context) (Result, error) {
	select {
	case <-b.done:
		return b.result(), nil
	case <-ctx.Done():
		return Result{}, faults.FromOS("transfer", "wait", b.id, ctx.Err())
	}
}

// Progress yields one Completion per finished item in completion order. The
// sequence ends after the last item or when ctx ends. Every call starts
// from the first completion.
func (b *Batch) Progress(ctx context.Context) iter.Seq[Completion] {
	return func(yield func(Completion) bool) {
		next := 0
		for {
			b.mu.Lock()
			if next < len(b.order) {
				c := Completion{BatchID: b.id, Done: next + 1, Total: len(b.items), Item: b.items[b.order[next]]}
				b.mu.Unlock()
				next++
				if !yield(c) {
					return
				}
				continue
			}
			if next >= len(b.items) {
				b.mu.Unlock()
				return
			}
			wait := b.notify
			b.mu.Unlock()

			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Info returns a snapshot. Items are included when withItems is set.
func (b *Batch) Info(withItems bool) Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	info := Info{
		ID:        b.id,
		ParentID:  b.parentID,
		CreatedAt: b.created,
		Done:      b.finishedLocked(),
		Cancelled: b.cancelled,
		Total:     len(b.items),
		Completed: len(b.order),
	}
	if !b.finished.IsZero() {
		finished := b.finished
		info.FinishedAt = &finished
	}
	for _, item := range b.items {
		switch item.Status {
		case StatusDone:
			info.Succeeded++
		case StatusFailed:
			info.Failed++
		}
	}
	if withItems {
		info.Items = append([]Item(nil), b.items...)
	}
	return info
}

func (b *Batch) finishedLocked() bool {
	return len(b.order) == len(b.items)
}

func (b *Batch) item(i int) Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items[i]
}

// advance moves item i to status and reports whether the transition was
// legal. Terminal transitions record the completion.
func (b *Batch) advance(i int, status Status, update func(*Item)) (Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item := &b.items[i]
	if !CanAdvance(item.Status, status) {
		return *item, false
	}
	item.Status = status
	now := time.Now().UTC()
	if status == StatusConverting || status == StatusCopying {
		item.StartedAt = &now
	}
	if update != nil {
		update(item)
	}
	if status.Terminal() {
		item.FinishedAt = &now
		b.order = append(b.order, i)
		close(b.notify)
		b.notify = make(chan struct{})
		if b.finishedLocked() {
			b.finished = now
			b.cancel()
			close(b.done)
		}
	}
	return *item, true
}

func (b *Batch) result() Result {
	info := b.Info(true)
	return Result{BatchID: b.id, Succeeded: info.Succeeded, Failed: info.Failed, Items: info.Items}
}
