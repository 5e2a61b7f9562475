package devices

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"samplecart/internal/faults"
	"samplecart/internal/testsupport"
)

type fakeProber struct {
	mu    sync.Mutex
	cands []Candidate
	errs  int
	calls int
}

func (p *fakeProber) set(cands ...Candidate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cands = cands
}

func (p *fakeProber) Probe(context.Context) ([]Candidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.errs > 0 {
		p.errs--
		return nil, errors.New("mount table unreadable")
	}
	return append([]Candidate(nil), p.cands...), nil
}

func (p *fakeProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeUnmounter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (u *fakeUnmounter) Unmount(_ context.Context, v Volume) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, v.MountPath)
	return u.err
}

type fakeScanner struct{ files []OpenFile }

func (s fakeScanner) OpenUnder(_ context.Context, root string) ([]OpenFile, error) {
	return s.files, nil
}

func card(t *testing.T, media, label, uuid string) Candidate {
	t.Helper()
	mount := filepath.Join(media, label)
	if err := os.MkdirAll(mount, 0o755); err != nil {
		t.Fatal(err)
	}
	return Candidate{
		Device:     "/dev/sd" + label[:1],
		MountPath:  mount,
		FSType:     "vfat",
		Label:      label,
		UUID:       uuid,
		Removable:  true,
		TotalBytes: 8 << 30,
		FreeBytes:  2 << 30,
	}
}

func newTestWatcher(t *testing.T, prober *fakeProber, opts ...Option) (*Watcher, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	opts = append([]Option{WithProber(prober), WithUnmounter(&fakeUnmounter{}), WithProcessScanner(nil)}, opts...)
	w := NewWatcher(cfg, nil, opts...)
	t.Cleanup(w.Close)
	return w, testsupport.MediaRoot(cfg)
}

func recordEvents(t *testing.T, w *Watcher) <-chan Event {
	t.Helper()
	ch := make(chan Event, 64)
	sub := w.Subscribe(func(ev Event) { ch <- ev })
	t.Cleanup(sub.Unsubscribe)
	return ch
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestRescanEmitsAttachAndRemoveInOrder(t *testing.T) {
	prober := &fakeProber{}
	w, media := newTestWatcher(t, prober)
	events := recordEvents(t, w)
	ctx := context.Background()

	a := card(t, media, "SAMPLES", "1A2B-3C4D")
	b := card(t, media, "KITS", "5E6F-7A8B")
	prober.set(a, b)
	if err := w.Rescan(ctx); err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	prober.set(b)
	if err := w.Rescan(ctx); err != nil {
		t.Fatalf("Rescan: %v", err)
	}

	first, second, third := nextEvent(t, events), nextEvent(t, events), nextEvent(t, events)
	if first.Name != EventVolumeAttached || second.Name != EventVolumeAttached || third.Name != EventVolumeRemoved {
		t.Fatalf("unexpected event sequence %s, %s, %s", first.Name, second.Name, third.Name)
	}
	if first.Seq != 1 || second.Seq != 2 || third.Seq != 3 {
		t.Fatalf("unexpected seq %d %d %d", first.Seq, second.Seq, third.Seq)
	}
	if third.VolumeID != "1a2b-3c4d" {
		t.Fatalf("expected removal of 1a2b-3c4d, got %q", third.VolumeID)
	}

	vols := w.Enumerate()
	if len(vols) != 1 || vols[0].Name != "KITS" || vols[0].State != StateMounted {
		t.Fatalf("unexpected volumes %+v", vols)
	}
	if _, err := w.Get("1a2b-3c4d"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found for removed volume, got %v", err)
	}
}

func TestIdentityStableAcrossReattach(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Candidate)
	}{
		{"uuid", func(*Candidate) {}},
		{"serial", func(c *Candidate) { c.UUID = ""; c.Serial = "AA00 1234" }},
		{"fallback", func(c *Candidate) { c.UUID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prober := &fakeProber{}
			w, media := newTestWatcher(t, prober)
			c := card(t, media, "SP404", "0C1D-2E3F")
			tc.mutate(&c)
			ctx := context.Background()

			var ids []string
			for range 2 {
				prober.set(c)
				if err := w.Rescan(ctx); err != nil {
					t.Fatal(err)
				}
				vols := w.Enumerate()
				if len(vols) != 1 {
					t.Fatalf("expected one volume, got %d", len(vols))
				}
				ids = append(ids, vols[0].ID)
				prober.set()
				if err := w.Rescan(ctx); err != nil {
					t.Fatal(err)
				}
			}
			if ids[0] != ids[1] {
				t.Fatalf("id changed across attach cycles: %q vs %q", ids[0], ids[1])
			}
		})
	}
}

func TestIdentityCollisionGetsSuffix(t *testing.T) {
	prober := &fakeProber{}
	w, media := newTestWatcher(t, prober)
	a := card(t, media, "A", "DEAD-BEEF")
	b := card(t, media, "B", "DEAD-BEEF")
	prober.set(a, b)
	if err := w.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}
	vols := w.Enumerate()
	if len(vols) != 2 || vols[0].ID == vols[1].ID {
		t.Fatalf("expected two distinct ids, got %+v", vols)
	}
	if vols[0].ID != "dead-beef" || vols[1].ID != "dead-beef-1" {
		t.Fatalf("unexpected ids %q %q", vols[0].ID, vols[1].ID)
	}
}

func TestIdentityCollisionKeepsMountedCardID(t *testing.T) {
	prober := &fakeProber{}
	w, media := newTestWatcher(t, prober)
	events := recordEvents(t, w)
	ctx := context.Background()

	a := card(t, media, "A", "DEAD-BEEF")
	b := card(t, media, "B", "DEAD-BEEF")
	prober.set(b)
	if err := w.Rescan(ctx); err != nil {
		t.Fatal(err)
	}
	prober.set(a, b)
	if err := w.Rescan(ctx); err != nil {
		t.Fatal(err)
	}

	first, second := nextEvent(t, events), nextEvent(t, events)
	if first.VolumeID != "dead-beef" || first.Volume.MountPath != b.MountPath {
		t.Fatalf("unexpected first event %s %q", first.Name, first.VolumeID)
	}
	if second.Name != EventVolumeAttached || second.VolumeID != "dead-beef-1" || second.Volume.MountPath != a.MountPath {
		t.Fatalf("expected attach of dead-beef-1 at %s, got %s %q", a.MountPath, second.Name, second.VolumeID)
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event %s %q", ev.Name, ev.VolumeID)
	default:
	}

	for id, want := range map[string]Candidate{"dead-beef": b, "dead-beef-1": a} {
		vol, err := w.Get(id)
		if err != nil {
			t.Fatalf("Get(%q): %v", id, err)
		}
		if vol.MountPath != want.MountPath || vol.Name != want.Label || vol.Device != want.Device {
			t.Fatalf("volume %q = %+v, want card %s", id, vol, want.Label)
		}
	}
}

func TestRescanRefreshesRenumberedDevice(t *testing.T) {
	prober := &fakeProber{}
	w, media := newTestWatcher(t, prober)
	events := recordEvents(t, w)
	ctx := context.Background()

	c := card(t, media, "SP404", "0C1D-2E3F")
	prober.set(c)
	if err := w.Rescan(ctx); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, events)

	c.Device = "/dev/sdz1"
	c.Label = "SP404MKII"
	c.FreeBytes = 1 << 30
	prober.set(c)
	if err := w.Rescan(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s for a refreshed volume", ev.Name)
	default:
	}
	vol, err := w.Get("0c1d-2e3f")
	if err != nil {
		t.Fatal(err)
	}
	if vol.Device != "/dev/sdz1" || vol.Name != "SP404MKII" || vol.FreeBytes != 1<<30 {
		t.Fatalf("volume not refreshed: %+v", vol)
	}
}

func TestEligibilityFilters(t *testing.T) {
	prober := &fakeProber{}
	w, media := newTestWatcher(t, prober)
	fixed := card(t, media, "FIXED", "1111-1111")
	fixed.Removable = false
	odd := card(t, media, "ODD", "2222-2222")
	odd.FSType = "iso9660"
	root := card(t, media, "ROOT", "3333-3333")
	root.MountPath = "/"
	good := card(t, media, "GOOD", "4444-4444")
	good.FSType = "EXFAT"
	prober.set(fixed, odd, root, good)
	if err := w.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}
	vols := w.Enumerate()
	if len(vols) != 1 || vols[0].ID != "4444-4444" {
		t.Fatalf("expected only the exfat card, got %+v", vols)
	}
}

func TestEjectRefusedWhileHandleOpen(t *testing.T) {
	prober := &fakeProber{}
	unmounter := &fakeUnmounter{}
	w, media := newTestWatcher(t, prober, WithUnmounter(unmounter))
	c := card(t, media, "SAMPLES", "AAAA-0001")
	prober.set(c)
	if err := w.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}

	release := w.Handles().Track(filepath.Join(c.MountPath, "kick.wav"))
	err := w.Eject(context.Background(), "aaaa-0001")
	if !errors.Is(err, faults.ErrDeviceBusy) {
		t.Fatalf("expected device busy, got %v", err)
	}
	vol, err := w.Get("aaaa-0001")
	if err != nil || vol.State != StateMounted {
		t.Fatalf("expected volume to stay mounted, got %+v %v", vol, err)
	}
	if len(unmounter.calls) != 0 {
		t.Fatal("unmount must not be attempted while busy")
	}

	release()
	release()
	if err := w.Eject(context.Background(), "aaaa-0001"); err != nil {
		t.Fatalf("eject after release: %v", err)
	}
	if len(unmounter.calls) != 1 {
		t.Fatalf("expected one unmount call, got %d", len(unmounter.calls))
	}
}

func TestEjectRefusedWhenOtherProcessHoldsFiles(t *testing.T) {
	prober := &fakeProber{}
	w, media := newTestWatcher(t, prober)
	c := card(t, media, "SAMPLES", "AAAA-0002")
	w.scanner = fakeScanner{files: []OpenFile{{PID: 4242, Name: "audacity", Path: filepath.Join(c.MountPath, "x.wav")}}}
	prober.set(c)
	if err := w.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := w.Eject(context.Background(), "aaaa-0002")
	if !errors.Is(err, faults.ErrDeviceBusy) {
		t.Fatalf("expected device busy, got %v", err)
	}
}

func TestEjectRemovesVolumeAndGuards(t *testing.T) {
	prober := &fakeProber{}
	w, media := newTestWatcher(t, prober)
	events := recordEvents(t, w)
	c := card(t, media, "SAMPLES", "AAAA-0003")
	prober.set(c)
	ctx := context.Background()
	if err := w.Rescan(ctx); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, events)

	if err := w.Eject(ctx, "missing"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := w.Guard(filepath.Join(c.MountPath, "a.wav")); err != nil {
		t.Fatalf("guard before eject: %v", err)
	}
	if err := w.Eject(ctx, "aaaa-0003"); err != nil {
		t.Fatalf("Eject: %v", err)
	}
	ev := nextEvent(t, events)
	if ev.Name != EventVolumeRemoved || ev.VolumeID != "aaaa-0003" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if err := w.Guard(filepath.Join(c.MountPath, "a.wav")); !errors.Is(err, faults.ErrDeviceGone) {
		t.Fatalf("expected device gone, got %v", err)
	}
	if err := w.Guard(filepath.Join(media, "other", "a.wav")); err != nil {
		t.Fatalf("unrelated path guarded: %v", err)
	}
	if err := w.Eject(ctx, "aaaa-0003"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("second eject: expected not found, got %v", err)
	}

	// Re-attaching clears the guard.
	if err := w.Rescan(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Guard(filepath.Join(c.MountPath, "a.wav")); err != nil {
		t.Fatalf("guard after reattach: %v", err)
	}
}

func TestEjectFailureKeepsVolumeMounted(t *testing.T) {
	prober := &fakeProber{}
	unmounter := &fakeUnmounter{err: faults.Wrap(faults.ErrDeviceBusy, "devices", "unmount", "target is busy", nil)}
	w, media := newTestWatcher(t, prober, WithUnmounter(unmounter))
	prober.set(card(t, media, "SAMPLES", "AAAA-0004"))
	if err := w.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := w.Eject(context.Background(), "aaaa-0004"); !errors.Is(err, faults.ErrDeviceBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	if vol, _ := w.Get("aaaa-0004"); vol.State != StateMounted {
		t.Fatalf("expected mounted after failed eject, got %s", vol.State)
	}
}

func TestStartRetriesAfterProbeFailure(t *testing.T) {
	prober := &fakeProber{errs: 2}
	w, media := newTestWatcher(t, prober, WithPollInterval(5*time.Millisecond, 20*time.Millisecond))
	prober.set(card(t, media, "SAMPLES", "BBBB-0001"))
	events := recordEvents(t, w)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected error on second Start")
	}
	ev := nextEvent(t, events)
	if ev.Name != EventVolumeAttached || ev.Volume == nil || ev.Volume.Name != "SAMPLES" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if prober.callCount() < 3 {
		t.Fatalf("expected at least three probes, got %d", prober.callCount())
	}
	w.Stop()
	w.Stop()
}

func TestBackoff(t *testing.T) {
	base, limit := time.Second, 10*time.Second
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for failures, expected := range want {
		if got := backoff(base, limit, failures); got != expected {
			t.Fatalf("backoff(%d) = %v, want %v", failures, got, expected)
		}
	}
}

func TestVolumeFor(t *testing.T) {
	prober := &fakeProber{}
	w, media := newTestWatcher(t, prober)
	c := card(t, media, "SAMPLES", "CCCC-0001")
	prober.set(c)
	if err := w.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}
	vol, ok := w.VolumeFor(filepath.Join(c.MountPath, "kits", "a.wav"))
	if !ok || vol.ID != "cccc-0001" {
		t.Fatalf("VolumeFor: %+v %v", vol, ok)
	}
	if _, ok := w.VolumeFor("/tmp/elsewhere"); ok {
		t.Fatal("unexpected volume for unrelated path")
	}
}
