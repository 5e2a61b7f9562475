package devices

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"samplecart/internal/logging"
)

// netlinkMonitor listens for udev block events and asks the watcher for an
// immediate rescan. Polling still runs when the socket is unavailable.
type netlinkMonitor struct {
	logger   *slog.Logger
	onChange func(action, device string)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	done    chan struct{}
	running bool
}

func newNetlinkMonitor(logger *slog.Logger, onChange func(action, device string)) *netlinkMonitor {
	return &netlinkMonitor{
		logger:   logging.NewComponentLogger(logger, "netlink-monitor"),
		onChange: onChange,
	}
}

// Start connects to the udev netlink socket. Connection failure is logged
// and reported as success so the daemon keeps running on polling alone.
func (m *netlinkMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; volume detection falls back to polling",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open NETLINK_KOBJECT_UEVENT sockets"),
			logging.String(logging.FieldImpact, "card insertion noticed on the next poll instead of immediately"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true

	quit, done := m.quit, m.done
	go m.monitorLoop(ctx, conn, quit, done)

	m.logger.Info("netlink monitor started",
		logging.String(logging.FieldEventType, "netlink_monitor_started"),
	)
	return nil
}

// Stop shuts the monitor down and waits for its loop to exit.
func (m *netlinkMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.quit)
	done := m.done
	m.quit = nil
	m.running = false
	m.mu.Unlock()

	<-done

	m.mu.Lock()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.mu.Unlock()

	m.logger.Info("netlink monitor stopped",
		logging.String(logging.FieldEventType, "netlink_monitor_stopped"),
	)
}

// Running reports whether the netlink monitor is active.
func (m *netlinkMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *netlinkMonitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(uevent)
		case err := <-errs:
			m.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "volume changes may be noticed late"),
			)
		}
	}
}

// buildMatcher matches SUBSYSTEM=block add, remove and change events.
func buildMatcher() netlink.Matcher {
	action := "add|remove|change"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "block",
		},
	})
	return rules
}

func (m *netlinkMonitor) handleEvent(uevent netlink.UEvent) {
	devname := extractDeviceName(uevent)
	if virtualDevice(devname) {
		return
	}
	m.logger.Debug("block device event",
		logging.String("action", string(uevent.Action)),
		logging.String("device", devname),
		logging.String("devtype", uevent.Env["DEVTYPE"]),
	)
	if m.onChange != nil {
		m.onChange(string(uevent.Action), devname)
	}
}

// virtualPrefixes are block devices that never back a removable card. Loop
// devices in particular churn constantly on hosts running snaps.
var virtualPrefixes = []string{"/dev/loop", "/dev/ram", "/dev/zram", "/dev/dm-", "/dev/md", "/dev/nbd"}

func virtualDevice(devname string) bool {
	if devname == "" {
		return true
	}
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(devname, prefix) {
			return true
		}
	}
	return false
}

// extractDeviceName resolves the /dev path from DEVNAME, falling back to
// the last DEVPATH element.
func extractDeviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/") {
			devname = "/dev/" + devname
		}
		return devname
	}
	devpath := strings.TrimRight(uevent.Env["DEVPATH"], "/")
	if devpath == "" {
		return ""
	}
	return "/dev/" + devpath[strings.LastIndex(devpath, "/")+1:]
}
