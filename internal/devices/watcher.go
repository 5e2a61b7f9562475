package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"samplecart/internal/config"
	"samplecart/internal/events"
	"samplecart/internal/faults"
	"samplecart/internal/fileutil"
	"samplecart/internal/logging"
)

// Watcher owns the live volume set.
type Watcher struct {
	logger    *slog.Logger
	prober    Prober
	unmounter Unmounter
	scanner   ProcessScanner
	handles   *Registry
	bus       *events.Bus[Event]

	filesystems  map[string]struct{}
	includeFixed bool
	mountRoots   []string
	useNetlink   bool
	watchMounts  bool
	pollInterval time.Duration
	maxBackoff   time.Duration
	ejectTimeout time.Duration
	probeTimeout time.Duration
	debounce     time.Duration

	scanMu  sync.Mutex
	mu      sync.Mutex
	volumes map[string]*Volume
	removed map[string]string
	seq     uint64

	trigger chan struct{}
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	netlink *netlinkMonitor
	mounts  *mountWatcher
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithProber replaces the gopsutil/lsblk prober.
func WithProber(p Prober) Option { return func(w *Watcher) { w.prober = p } }

// WithUnmounter replaces the udisksctl/umount(2) unmounter.
func WithUnmounter(u Unmounter) Option { return func(w *Watcher) { w.unmounter = u } }

// WithProcessScanner replaces the gopsutil open-file scanner. A nil scanner
// disables the scan.
func WithProcessScanner(s ProcessScanner) Option { return func(w *Watcher) { w.scanner = s } }

// WithRegistry shares a handle registry with other components.
func WithRegistry(r *Registry) Option { return func(w *Watcher) { w.handles = r } }

// WithPollInterval overrides the configured poll interval and backoff cap.
func WithPollInterval(interval, maxBackoff time.Duration) Option {
	return func(w *Watcher) {
		w.pollInterval = interval
		w.maxBackoff = maxBackoff
	}
}

// NewWatcher builds a watcher from the [devices] section.
func NewWatcher(cfg *config.Config, logger *slog.Logger, opts ...Option) *Watcher {
	logger = logging.NewComponentLogger(logger, "devices")
	w := &Watcher{
		logger:       logger,
		bus:          events.NewBus[Event](),
		handles:      NewRegistry(),
		filesystems:  make(map[string]struct{}),
		includeFixed: cfg.Devices.IncludeFixed,
		mountRoots:   slices.Clone(cfg.Devices.MountRoots),
		useNetlink:   cfg.Devices.Netlink,
		watchMounts:  cfg.Devices.WatchMounts,
		pollInterval: cfg.PollInterval(),
		maxBackoff:   cfg.MaxBackoff(),
		ejectTimeout: cfg.EjectTimeout(),
		probeTimeout: cfg.ProbeTimeout(),
		debounce:     cfg.RescanDebounce(),
		volumes:      make(map[string]*Volume),
		removed:      make(map[string]string),
		trigger:      make(chan struct{}, 1),
	}
	for _, fs := range cfg.Devices.Filesystems {
		w.filesystems[strings.ToLower(fs)] = struct{}{}
	}
	w.prober = newSystemProber(logger)
	w.unmounter = newSystemUnmounter(cfg.Devices.UseUdisks, logger)
	if cfg.Devices.ScanOpenFiles {
		w.scanner = newProcessScanner()
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 3 * time.Second
	}
	if w.maxBackoff < w.pollInterval {
		w.maxBackoff = w.pollInterval
	}
	return w
}

// Running reports whether Start has been called without a matching Stop.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Handles returns the registry consulted by Eject.
func (w *Watcher) Handles() *Registry { return w.handles }

// Start begins monitoring. Probe failures never stop the loop; they are
// logged and retried with exponential backoff.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("volume watcher already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	if w.useNetlink {
		w.netlink = newNetlinkMonitor(w.logger, func(string, string) { w.poke() })
		_ = w.netlink.Start(runCtx)
	}
	if w.watchMounts {
		w.mounts = newMountWatcher(w.mountRoots, w.logger, func(string) { w.poke() })
		w.mounts.Start()
	}

	w.wg.Add(1)
	go w.loop(runCtx)

	w.logger.Info("volume watcher started",
		logging.String(logging.FieldEventType, "volume_watcher_started"),
		logging.Duration("poll_interval", w.pollInterval),
		logging.Bool("netlink", w.netlink.Running()),
		logging.Bool("watch_mounts", w.mounts != nil),
	)
	return nil
}

// Stop ends every loop and waits for them.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, nl, mounts := w.cancel, w.netlink, w.mounts
	w.running = false
	w.cancel = nil
	w.netlink = nil
	w.mounts = nil
	w.mu.Unlock()

	cancel()
	nl.Stop()
	if mounts != nil {
		mounts.Stop()
	}
	w.wg.Wait()
}

// Close stops the watcher and all subscriber queues.
func (w *Watcher) Close() {
	w.Stop()
	w.bus.Close()
}

func (w *Watcher) poke() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-w.trigger:
			if !sleepCtx(ctx, w.debounce) {
				return
			}
			select {
			case <-w.trigger:
			default:
			}
		}

		delay := w.pollInterval
		if err := w.Rescan(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			delay = backoff(w.pollInterval, w.maxBackoff, failures)
			logging.WarnWithContext(w.logger, "volume probe failed; will retry", "volume_probe_failed",
				logging.Error(err),
				logging.Int("attempt", failures),
				logging.Duration("retry_in", delay),
				logging.String(logging.FieldErrorHint, "check /proc/mounts and lsblk availability"),
				logging.String(logging.FieldImpact, "volume list may be stale"),
			)
		} else {
			failures = 0
		}
		timer.Reset(delay)
	}
}

// backoff returns base doubled once per consecutive failure, capped.
func backoff(base, limit time.Duration, failures int) time.Duration {
	delay := base
	for i := 0; i < failures && delay < limit; i++ {
		delay *= 2
	}
	return min(delay, limit)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Rescan probes once and reconciles the live set, emitting attach and
// removal events for the difference.
func (w *Watcher) Rescan(ctx context.Context) error {
	w.scanMu.Lock()
	defer w.scanMu.Unlock()

	probeCtx := ctx
	if w.probeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, w.probeTimeout)
		defer cancel()
	}
	candidates, err := w.prober.Probe(probeCtx)
	if err != nil {
		return fmt.Errorf("probe volumes: %w", err)
	}

	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if w.eligible(c) {
			eligible = append(eligible, c)
		}
	}
	w.reconcile(eligible)
	return nil
}

// refresh copies probe-derived fields onto a live volume. Identity and state
// are left alone.
func refresh(vol *Volume, c Candidate) {
	vol.MountPath = c.MountPath
	vol.Name = displayName(c)
	vol.FileSystemType = c.FSType
	vol.TotalBytes, vol.FreeBytes = c.TotalBytes, c.FreeBytes
	vol.Removable = c.Removable
	vol.Device = c.Device
	vol.UUID, vol.Serial = c.UUID, c.Serial
}

func (w *Watcher) eligible(c Candidate) bool {
	if c.MountPath == "" || c.MountPath == "/" {
		return false
	}
	if !c.Removable && !w.includeFixed {
		return false
	}
	_, ok := w.filesystems[strings.ToLower(c.FSType)]
	return ok
}

func (w *Watcher) reconcile(eligible []Candidate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	current, known := assignIDs(eligible, w.volumes)
	for _, id := range slices.Sorted(maps.Keys(w.volumes)) {
		vol := w.volumes[id]
		if known[id] || vol.State == StateEjecting {
			continue
		}
		w.removeLocked(vol, "volume removed without eject", logging.Alert("surprise_removal"))
	}

	for _, id := range slices.Sorted(maps.Keys(current)) {
		c := current[id]
		if known[id] {
			refresh(w.volumes[id], c)
			continue
		}
		vol := &Volume{
			ID:             id,
			MountPath:      c.MountPath,
			Name:           displayName(c),
			FileSystemType: c.FSType,
			TotalBytes:     c.TotalBytes,
			FreeBytes:      c.FreeBytes,
			Removable:      c.Removable,
			State:          StateMounted,
			Device:         c.Device,
			UUID:           c.UUID,
			Serial:         c.Serial,
		}
		w.volumes[id] = vol
		delete(w.removed, vol.MountPath)
		snapshot := *vol
		w.publishLocked(Event{Name: EventVolumeAttached, Volume: &snapshot, VolumeID: id})
		w.logger.Info("volume attached",
			logging.String(logging.FieldEventType, "volume_attached"),
			logging.String(logging.FieldVolumeID, id),
			logging.String("mount_path", vol.MountPath),
			logging.String("device", vol.Device),
			logging.Int64("size_bytes", int64(vol.TotalBytes)),
			logging.Int64("free_bytes", int64(vol.FreeBytes)),
		)
	}
}

func (w *Watcher) removeLocked(vol *Volume, msg string, extra ...logging.Attr) {
	delete(w.volumes, vol.ID)
	w.removed[vol.MountPath] = vol.ID
	w.publishLocked(Event{Name: EventVolumeRemoved, VolumeID: vol.ID})
	attrs := append([]logging.Attr{
		logging.String(logging.FieldEventType, "volume_removed"),
		logging.String(logging.FieldVolumeID, vol.ID),
		logging.String("mount_path", vol.MountPath),
	}, extra...)
	w.logger.Info(msg, logging.Args(attrs...)...)
}

func (w *Watcher) publishLocked(ev Event) {
	w.seq++
	ev.Seq = w.seq
	w.bus.Publish(ev)
}

// Subscribe registers handler for attach and removal events.
func (w *Watcher) Subscribe(handler func(Event)) *events.Subscription {
	return w.bus.Subscribe(handler)
}

// Enumerate returns the current volumes ordered by mount path.
func (w *Watcher) Enumerate() []Volume {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Volume, 0, len(w.volumes))
	for _, vol := range w.volumes {
		out = append(out, *vol)
	}
	slices.SortFunc(out, func(a, b Volume) int { return strings.Compare(a.MountPath, b.MountPath) })
	return out
}

// Get returns one volume by id.
func (w *Watcher) Get(id string) (Volume, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	vol, ok := w.volumes[id]
	if !ok {
		return Volume{}, faults.Wrap(faults.ErrNotFound, "devices", "get", "volume "+id, nil)
	}
	return *vol, nil
}

// VolumeFor returns the mounted volume whose mount path contains path.
// The deepest mount wins.
func (w *Watcher) VolumeFor(path string) (Volume, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var best *Volume
	for _, vol := range w.volumes {
		if fileutil.Within(vol.MountPath, path) && (best == nil || len(vol.MountPath) > len(best.MountPath)) {
			best = vol
		}
	}
	if best == nil {
		return Volume{}, false
	}
	return *best, true
}

// LockKey names the volume holding path, or "local" for paths on no
// tracked volume. Writes with the same key are serialized.
func (w *Watcher) LockKey(path string) string {
	if vol, ok := w.VolumeFor(path); ok {
		return vol.ID
	}
	return "local"
}

// MountPaths lists the mount paths of current volumes.
func (w *Watcher) MountPaths() []string {
	vols := w.Enumerate()
	paths := make([]string, 0, len(vols))
	for _, vol := range vols {
		paths = append(paths, vol.MountPath)
	}
	return paths
}

// Guard fails with DeviceGone when path lies on a volume removed during
// this session and not re-attached.
func (w *Watcher) Guard(path string) error {
	path = filepath.Clean(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	for mount, id := range w.removed {
		if fileutil.Within(mount, path) {
			return faults.Wrap(faults.ErrDeviceGone, "devices", "guard",
				fmt.Sprintf("volume %s at %s was removed", id, mount), nil)
		}
	}
	return nil
}

// Eject unmounts a volume. It refuses with DeviceBusy while this process or
// another holds files beneath the mount. Once started the eject runs to
// completion even if ctx is cancelled.
func (w *Watcher) Eject(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.ejectTimeout)
	defer cancel()

	w.mu.Lock()
	vol, ok := w.volumes[id]
	if !ok {
		w.mu.Unlock()
		return faults.Wrap(faults.ErrNotFound, "devices", "eject", "volume "+id, nil)
	}
	if vol.State == StateEjecting {
		w.mu.Unlock()
		return faults.Wrap(faults.ErrDeviceBusy, "devices", "eject", "eject already in progress for "+id, nil)
	}
	vol.State = StateEjecting
	snapshot := *vol
	w.mu.Unlock()

	logger := w.logger.With(logging.String(logging.FieldVolumeID, id), logging.String("mount_path", snapshot.MountPath))

	if err := w.checkBusy(ctx, snapshot); err != nil {
		w.restoreMounted(id)
		logger.Info("eject refused", logging.String(logging.FieldEventType, "eject_refused"), logging.Error(err))
		return err
	}
	if err := w.unmounter.Unmount(ctx, snapshot); err != nil {
		w.restoreMounted(id)
		logging.WarnWithContext(logger, "eject failed", "eject_failed",
			logging.Error(err),
			logging.ErrorCode(err),
			logging.String(logging.FieldErrorHint, "close programs using the card and retry"),
			logging.String(logging.FieldImpact, "volume stays mounted"),
		)
		return err
	}

	w.mu.Lock()
	if current, ok := w.volumes[id]; ok {
		w.removeLocked(current, "volume ejected")
	}
	w.mu.Unlock()
	return nil
}

func (w *Watcher) restoreMounted(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if vol, ok := w.volumes[id]; ok {
		vol.State = StateMounted
	}
}

func (w *Watcher) checkBusy(ctx context.Context, vol Volume) error {
	if open := w.handles.OpenUnder(vol.MountPath); len(open) > 0 {
		return faults.Wrap(faults.ErrDeviceBusy, "devices", "eject",
			fmt.Sprintf("%d open file(s) under %s, first %s", len(open), vol.MountPath, open[0]), nil)
	}
	if w.scanner == nil {
		return nil
	}
	holders, err := w.scanner.OpenUnder(ctx, vol.MountPath)
	if err != nil {
		w.logger.Debug("open file scan incomplete", logging.Error(err))
	}
	if len(holders) > 0 {
		return faults.Wrap(faults.ErrDeviceBusy, "devices", "eject",
			fmt.Sprintf("%s in use by %s", vol.MountPath, describeHolders(holders)), nil)
	}
	return nil
}
