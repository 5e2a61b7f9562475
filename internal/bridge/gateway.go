package bridge

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"samplecart/internal/audio"
	"samplecart/internal/config"
	"samplecart/internal/devices"
	"samplecart/internal/events"
	"samplecart/internal/faults"
	"samplecart/internal/fsops"
	"samplecart/internal/logging"
	"samplecart/internal/transfer"
)

// Notification names accepted by Subscribe.
const (
	VolumeAttached = devices.EventVolumeAttached
	VolumeRemoved  = devices.EventVolumeRemoved
)

// DefaultSearchLimit caps Search when the caller passes no limit.
const DefaultSearchLimit = 500

// Volumes is the slice of the device watcher the gateway needs.
type Volumes interface {
	Enumerate() []devices.Volume
	Get(id string) (devices.Volume, error)
	Eject(ctx context.Context, id string) error
	MountPaths() []string
	Subscribe(handler func(devices.Event)) *events.Subscription
}

// Gateway exposes the fixed operation set. It is safe for concurrent use;
// requests never serialize on each other.
type Gateway struct {
	localRoots []string
	volumes    Volumes
	files      *fsops.Directory
	transfers  *transfer.Orchestrator
	logger     *slog.Logger
}

// New wires a gateway.
func New(cfg *config.Config, volumes Volumes, files *fsops.Directory, transfers *transfer.Orchestrator, logger *slog.Logger) *Gateway {
	return &Gateway{
		localRoots: slices.Clone(cfg.Paths.LocalRoots),
		volumes:    volumes,
		files:      files,
		transfers:  transfers,
		logger:     logging.NewComponentLogger(logger, "bridge"),
	}
}

// Roots returns the directories requests may touch: local roots followed
// by the mount paths of live volumes.
func (g *Gateway) Roots() []string {
	return append(slices.Clone(g.localRoots), g.volumes.MountPaths()...)
}

func (g *Gateway) confine(path string) (string, error) {
	return fsops.Confine(path, g.Roots())
}

func (g *Gateway) confinePair(src, dst string) (string, string, error) {
	src, err := g.confine(src)
	if err != nil {
		return "", "", err
	}
	dst, err = g.confine(dst)
	if err != nil {
		return "", "", err
	}
	return src, dst, nil
}

// begin tags ctx with a request id and returns a logger carrying it.
func (g *Gateway) begin(ctx context.Context, op string) (context.Context, *slog.Logger) {
	id, ok := logging.RequestIDFromContext(ctx)
	if !ok {
		id = uuid.NewString()
		ctx = logging.WithRequestID(ctx, id)
	}
	return ctx, g.logger.With(logging.String(logging.FieldRequestID, id), logging.String("op", op))
}

func (g *Gateway) finish(logger *slog.Logger, err error) error {
	if err == nil {
		logger.Debug("request completed")
		return nil
	}
	logger.Debug("request failed", logging.Error(err), logging.ErrorCode(err))
	return err
}

// List returns the children of dir, directories first.
func (g *Gateway) List(ctx context.Context, dir string) ([]fsops.Entry, error) {
	ctx, logger := g.begin(ctx, "list")
	dir, err := g.confine(dir)
	if err != nil {
		return nil, g.finish(logger, err)
	}
	entries, err := g.files.List(ctx, dir)
	return entries, g.finish(logger, err)
}

// Stat describes one path.
func (g *Gateway) Stat(ctx context.Context, path string) (fsops.Entry, error) {
	ctx, logger := g.begin(ctx, "stat")
	path, err := g.confine(path)
	if err != nil {
		return fsops.Entry{}, g.finish(logger, err)
	}
	entry, err := g.files.Stat(ctx, path)
	return entry, g.finish(logger, err)
}

// CopyFile copies src to dst verbatim.
func (g *Gateway) CopyFile(ctx context.Context, src, dst string) (int64, error) {
	ctx, logger := g.begin(ctx, "copy_file")
	src, dst, err := g.confinePair(src, dst)
	if err != nil {
		return 0, g.finish(logger, err)
	}
	n, err := g.files.CopyFile(ctx, src, dst)
	return n, g.finish(logger, err)
}

// CopyDirectory copies a tree, best effort per entry.
func (g *Gateway) CopyDirectory(ctx context.Context, src, dst string, recursive bool) (fsops.Counts, error) {
	ctx, logger := g.begin(ctx, "copy_directory")
	src, dst, err := g.confinePair(src, dst)
	if err != nil {
		return fsops.Counts{}, g.finish(logger, err)
	}
	counts, err := g.files.CopyDirectory(ctx, src, dst, recursive)
	return counts, g.finish(logger, err)
}

// DeleteFile removes one file.
func (g *Gateway) DeleteFile(ctx context.Context, path string) error {
	ctx, logger := g.begin(ctx, "delete_file")
	path, err := g.confine(path)
	if err != nil {
		return g.finish(logger, err)
	}
	if err := g.refuseRoot(path); err != nil {
		return g.finish(logger, err)
	}
	return g.finish(logger, g.files.DeleteFile(ctx, path))
}

// DeleteDirectory removes a directory; recursive removes its contents
// best effort first.
func (g *Gateway) DeleteDirectory(ctx context.Context, path string, recursive bool) (fsops.Counts, error) {
	ctx, logger := g.begin(ctx, "delete_directory")
	path, err := g.confine(path)
	if err != nil {
		return fsops.Counts{}, g.finish(logger, err)
	}
	if err := g.refuseRoot(path); err != nil {
		return fsops.Counts{}, g.finish(logger, err)
	}
	counts, err := g.files.DeleteDirectory(ctx, path, recursive)
	return counts, g.finish(logger, err)
}

// refuseRoot keeps roots themselves from being deleted.
func (g *Gateway) refuseRoot(path string) error {
	if slices.Contains(g.Roots(), path) {
		return faults.Wrap(faults.ErrPathSecurity, "bridge", "delete", path+" is a root", nil)
	}
	return nil
}

// CreateDirectory creates one directory.
func (g *Gateway) CreateDirectory(ctx context.Context, path string) error {
	ctx, logger := g.begin(ctx, "create_directory")
	path, err := g.confine(path)
	if err != nil {
		return g.finish(logger, err)
	}
	return g.finish(logger, g.files.CreateDirectory(ctx, path))
}

// EnumerateVolumes returns the live volumes.
func (g *Gateway) EnumerateVolumes() []devices.Volume {
	return g.volumes.Enumerate()
}

// GetVolumeInfo returns one volume.
func (g *Gateway) GetVolumeInfo(id string) (devices.Volume, error) {
	return g.volumes.Get(strings.TrimSpace(id))
}

// EjectVolume safely unmounts a volume.
func (g *Gateway) EjectVolume(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	ctx, logger := g.begin(logging.WithVolumeID(ctx, id), "eject_volume")
	return g.finish(logger, g.volumes.Eject(ctx, id))
}

// Search finds entries whose name contains query. An empty root searches
// every root in order. limit <= 0 applies DefaultSearchLimit.
func (g *Gateway) Search(ctx context.Context, query, root string, limit int) ([]fsops.Entry, error) {
	ctx, logger := g.begin(ctx, "search")
	if strings.TrimSpace(query) == "" {
		return nil, g.finish(logger, errors.New("search query is required"))
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	roots := g.Roots()
	if strings.TrimSpace(root) != "" {
		confined, err := g.confine(root)
		if err != nil {
			return nil, g.finish(logger, err)
		}
		roots = []string{confined}
	}

	var results []fsops.Entry
	for _, r := range roots {
		remaining := limit - len(results)
		if remaining <= 0 {
			break
		}
		for entry, err := range g.files.Search(ctx, query, r, fsops.SearchOptions{MaxResults: remaining}) {
			if err != nil {
				if errors.Is(err, faults.ErrCancelled) || len(roots) == 1 {
					return results, g.finish(logger, err)
				}
				logger.Debug("search root skipped", logging.String("root", r), logging.Error(err))
				break
			}
			results = append(results, entry)
		}
	}
	return results, g.finish(logger, nil)
}

// ConvertAndCopy converts or copies one file synchronously. Unset spec
// fields keep the source property.
func (g *Gateway) ConvertAndCopy(ctx context.Context, src, dst string, spec audio.Spec) (transfer.Item, error) {
	ctx, logger := g.begin(ctx, "convert_and_copy")
	src, dst, err := g.confinePair(src, dst)
	if err != nil {
		return transfer.Item{}, g.finish(logger, err)
	}
	item, err := g.transfers.Do(ctx, transfer.Request{SourcePath: src, DestPath: dst, Spec: spec})
	return item, g.finish(logger, err)
}

// SubmitBatch validates every path and starts a batch.
func (g *Gateway) SubmitBatch(ctx context.Context, reqs []transfer.Request) (transfer.Info, error) {
	ctx, logger := g.begin(ctx, "submit_batch")
	confined := make([]transfer.Request, len(reqs))
	for i, req := range reqs {
		src, dst, err := g.confinePair(req.SourcePath, req.DestPath)
		if err != nil {
			return transfer.Info{}, g.finish(logger, err)
		}
		confined[i] = transfer.Request{SourcePath: src, DestPath: dst, Spec: req.Spec}
	}
	b, err := g.transfers.Submit(ctx, confined)
	if err != nil {
		return transfer.Info{}, g.finish(logger, err)
	}
	return b.Info(true), g.finish(logger, nil)
}

// BatchStatus returns a batch snapshot including items.
func (g *Gateway) BatchStatus(id string) (transfer.Info, error) {
	b, err := g.transfers.Get(id)
	if err != nil {
		return transfer.Info{}, err
	}
	return b.Info(true), nil
}

// WaitBatch blocks until the batch finishes or ctx ends.
func (g *Gateway) WaitBatch(ctx context.Context, id string) (transfer.Result, error) {
	b, err := g.transfers.Get(id)
	if err != nil {
		return transfer.Result{}, err
	}
	return b.Wait(ctx)
}

// CancelBatch drops the batch's waiting items.
func (g *Gateway) CancelBatch(id string) error {
	b, err := g.transfers.Get(id)
	if err != nil {
		return err
	}
	b.Cancel()
	return nil
}

// RetryBatch resubmits the failed items of a finished batch.
func (g *Gateway) RetryBatch(ctx context.Context, id string) (transfer.Info, error) {
	ctx, logger := g.begin(ctx, "retry_batch")
	b, err := g.transfers.Retry(ctx, id)
	if err != nil {
		return transfer.Info{}, g.finish(logger, err)
	}
	return b.Info(true), g.finish(logger, nil)
}

// ReleaseBatch forgets a finished batch.
func (g *Gateway) ReleaseBatch(ctx context.Context, id string) error {
	ctx, logger := g.begin(ctx, "release_batch")
	return g.finish(logger, g.transfers.Release(ctx, id))
}

// ListBatches returns the batches still held by the orchestrator.
func (g *Gateway) ListBatches() []transfer.Info {
	return g.transfers.List()
}

// BatchHistory returns journaled batches, newest first.
func (g *Gateway) BatchHistory(ctx context.Context, limit int) ([]transfer.BatchRecord, error) {
	return g.transfers.History(ctx, limit)
}

// Subscribe delivers the named notification to handler in event order.
// Unknown names fail with NotFound.
func (g *Gateway) Subscribe(name string, handler func(devices.Event)) (*events.Subscription, error) {
	if name != VolumeAttached && name != VolumeRemoved {
		return nil, faults.Wrap(faults.ErrNotFound, "bridge", "subscribe", "unknown notification "+name, nil)
	}
	if handler == nil {
		return nil, errors.New("subscribe requires a handler")
	}
	sub := g.volumes.Subscribe(func(ev devices.Event) {
		if ev.Name == name {
			handler(ev)
		}
	})
	if sub == nil {
		return nil, faults.Wrap(faults.ErrCancelled, "bridge", "subscribe", "watcher stopped", nil)
	}
	return sub, nil
}
