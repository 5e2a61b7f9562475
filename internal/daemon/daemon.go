package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"samplecart/internal/api"
	"samplecart/internal/audio"
	"samplecart/internal/bridge"
	"samplecart/internal/config"
	"samplecart/internal/devices"
	"samplecart/internal/fsops"
	"samplecart/internal/logging"
	"samplecart/internal/transfer"
)

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	watcher []devices.Option
}

// WithWatcherOptions passes options through to the volume watcher.
func WithWatcherOptions(opts ...devices.Option) Option {
	return func(o *options) { o.watcher = append(o.watcher, opts...) }
}

// Daemon owns every long-lived component.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	watcher   *devices.Watcher
	files     *fsops.Directory
	engine    *audio.Engine
	transfers *transfer.Orchestrator
	gateway   *bridge.Gateway
	api       *api.Server

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	running   bool
	closed    bool
	startedAt time.Time
	cancel    context.CancelFunc
}

// New acquires the single-instance lock, opens the transfer journal and
// wires the components. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	lockPath := cfg.LockPath()
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.New("another samplecart daemon instance is already running")
	}

	var journal *transfer.Journal
	if cfg.Transfer.Journal {
		journal, err = transfer.OpenJournal(ctx, cfg.JournalPath())
		if err != nil {
			_ = lock.Unlock()
			return nil, fmt.Errorf("open transfer journal: %w", err)
		}
	}

	watcher := devices.NewWatcher(cfg, logger, o.watcher...)
	handles := watcher.Handles()

	fsOpts := fsops.OptionsFromConfig(cfg)
	fsOpts.Guard = watcher.Guard
	fsOpts.Track = handles.Track
	files := fsops.New(fsOpts, logger)

	engine := audio.NewEngine(audio.OptionsFromConfig(cfg), audio.Hooks{
		Guard: watcher.Guard,
		Track: handles.Track,
	}, logger)

	transfers := transfer.New(cfg, transfer.Deps{
		Converter: engine,
		Copier:    files,
		LockKey:   watcher.LockKey,
		Journal:   journal,
	}, logger)

	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		watcher:   watcher,
		files:     files,
		engine:    engine,
		transfers: transfers,
		lockPath:  lockPath,
		lock:      lock,
	}
	d.gateway = bridge.New(cfg, watcher, files, transfers, logger)
	d.api = api.NewServer(cfg.Paths.APIBind, cfg.Paths.APIToken, d.gateway, d.Status, logger)
	return d, nil
}

// Gateway returns the request/response surface.
func (d *Daemon) Gateway() *bridge.Gateway { return d.gateway }

// Start launches the watcher and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("daemon closed")
	}
	if d.running {
		return errors.New("daemon already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.watcher.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start volume watcher: %w", err)
	}
	if err := d.api.Start(runCtx); err != nil {
		d.watcher.Stop()
		cancel()
		return fmt.Errorf("start api server: %w", err)
	}

	d.cancel = cancel
	d.running = true
	d.startedAt = time.Now().UTC()
	d.logger.Info("samplecart daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.Addr()),
	)
	return nil
}

// Stop halts the watcher and the HTTP API. Batches keep running.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.cancel = nil
	d.running = false
	d.mu.Unlock()

	d.api.Stop()
	d.watcher.Stop()
	cancel()
	d.logger.Info("samplecart daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close stops everything, cancels in-flight transfers, closes the journal
// and releases the lock.
func (d *Daemon) Close() error {
	d.Stop()
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	err := d.transfers.Close()
	d.watcher.Close()
	if unlockErr := d.lock.Unlock(); unlockErr != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_unlock_failed",
			logging.Error(unlockErr),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
			logging.String(logging.FieldImpact, "next start may report another instance"),
		)
	}
	return err
}

// Status returns the current daemon status.
func (d *Daemon) Status() api.DaemonStatus {
	d.mu.Lock()
	running, started := d.running, d.startedAt
	d.mu.Unlock()

	active, held := 0, 0
	for _, info := range d.transfers.List() {
		held++
		if !info.Done {
			active++
		}
	}
	status := api.DaemonStatus{
		Running:       running,
		PID:           os.Getpid(),
		LockFilePath:  d.lockPath,
		SocketPath:    d.cfg.Paths.SocketPath,
		APIAddress:    d.api.Addr(),
		LocalRoots:    slices.Clone(d.cfg.Paths.LocalRoots),
		Volumes:       len(d.watcher.Enumerate()),
		ActiveBatches: active,
		HeldBatches:   held,
		Watcher:       api.Component{Running: d.watcher.Running()},
	}
	if d.cfg.Transfer.Journal {
		status.JournalPath = d.cfg.JournalPath()
	}
	if running {
		status.StartedAt = started.Format(time.RFC3339)
	}
	return status
}
