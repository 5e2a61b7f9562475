package ipc_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"samplecart/internal/daemon"
	"samplecart/internal/devices"
	"samplecart/internal/faults"
	"samplecart/internal/ipc"
	"samplecart/internal/logging"
	"samplecart/internal/testsupport"
	"samplecart/internal/transfer"
)

type emptyProber struct{}

func (emptyProber) Probe(context.Context) ([]devices.Candidate, error) { return nil, nil }

func dialTestServer(t *testing.T) (*ipc.Client, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	logger := logging.NewNop()
	d, err := daemon.New(context.Background(), cfg, logger,
		daemon.WithWatcherOptions(devices.WithProber(emptyProber{}), devices.WithProcessScanner(nil)))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := filepath.Join(testsupport.BaseDir(cfg), "ipc.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, testsupport.LocalRoot(cfg)
}

func TestIPCStartStatusStop(t *testing.T) {
	client, _ := dialTestServer(t)

	startResp, err := client.Start()
	if err != nil {
		t.Fatalf("Start RPC failed: %v", err)
	}
	if !startResp.Started {
		t.Fatalf("expected Started=true, message=%s", startResp.Message)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running || status.PID != os.Getpid() {
		t.Fatalf("unexpected status: %+v", status.DaemonStatus)
	}

	again, err := client.Start()
	if err != nil {
		t.Fatalf("second Start RPC: %v", err)
	}
	if again.Started || again.Message == "" {
		t.Fatalf("expected second start to be refused with a message, got %+v", again)
	}

	stop, err := client.Stop()
	if err != nil || !stop.Stopped {
		t.Fatalf("Stop = %+v, %v", stop, err)
	}
	status, err = client.Status()
	if err != nil || status.Running {
		t.Fatalf("expected stopped status, got %+v, %v", status, err)
	}
}

func TestIPCFileOperations(t *testing.T) {
	client, root := dialTestServer(t)

	dir := filepath.Join(root, "kits")
	if err := client.CreateDirectory(dir); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if err := client.CreateDirectory(dir); !errors.Is(err, faults.ErrCollision) {
		t.Fatalf("expected collision on second create, got %v", err)
	}

	src := filepath.Join(dir, "Kick.wav")
	payload := testsupport.WriteFile(t, src, 4096)
	dst := filepath.Join(root, "copy.wav")
	n, err := client.CopyFile(src, dst)
	if err != nil || n != int64(len(payload)) {
		t.Fatalf("CopyFile = %d, %v", n, err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("copied bytes differ: %v", err)
	}

	entries, err := client.List(dir)
	if err != nil || len(entries) != 1 || entries[0].Name != "Kick.wav" {
		t.Fatalf("List = %+v, %v", entries, err)
	}
	entry, err := client.Stat(dst)
	if err != nil || entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("Stat = %+v, %v", entry, err)
	}

	found, err := client.Search(ipc.SearchRequest{Query: "kick"})
	if err != nil || len(found) != 1 || found[0].Path != src {
		t.Fatalf("Search = %+v, %v", found, err)
	}

	if _, err := client.Stat(filepath.Join(root, "missing.wav")); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found over the wire, got %v", err)
	}
	if _, err := client.List("/etc"); !errors.Is(err, faults.ErrPathSecurity) {
		t.Fatalf("expected path security error, got %v", err)
	}

	counts, err := client.DeleteDirectory(dir, true)
	if err != nil || counts.Failed != 0 {
		t.Fatalf("DeleteDirectory = %+v, %v", counts, err)
	}
	if err := client.DeleteFile(dst); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
}

func TestIPCBatchLifecycle(t *testing.T) {
	client, root := dialTestServer(t)

	testsupport.MustMkdir(t, filepath.Join(root, "out"))
	reqs := make([]transfer.Request, 0, 3)
	for _, name := range []string{"a.wav", "b.wav", "c.wav"} {
		src := filepath.Join(root, "in", name)
		testsupport.WriteFile(t, src, 1024)
		reqs = append(reqs, transfer.Request{SourcePath: src, DestPath: filepath.Join(root, "out", name)})
	}
	reqs[1].SourcePath = filepath.Join(root, "in", "gone.wav")

	info, err := client.SubmitBatch(reqs)
	if err != nil || info.ID == "" || info.Total != 3 {
		t.Fatalf("SubmitBatch = %+v, %v", info, err)
	}
	result, err := client.WaitBatch(info.ID)
	if err != nil {
		t.Fatalf("WaitBatch: %v", err)
	}
	if result.Succeeded != 2 || result.Failed != 1 {
		t.Fatalf("unexpected result: %s", result.Summary())
	}
	if failed := result.FailedItems(); failed[0].Code != faults.CodeNotFound {
		t.Fatalf("expected not_found code on failed item, got %+v", failed[0])
	}

	listed, err := client.ListBatches()
	if err != nil || len(listed) != 1 {
		t.Fatalf("ListBatches = %+v, %v", listed, err)
	}
	status, err := client.BatchStatus(info.ID)
	if err != nil || !status.Done || len(status.Items) != 3 {
		t.Fatalf("BatchStatus = %+v, %v", status, err)
	}

	if err := client.ReleaseBatch(info.ID); err != nil {
		t.Fatalf("ReleaseBatch: %v", err)
	}
	if _, err := client.BatchStatus(info.ID); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected released batch to be gone, got %v", err)
	}
	if err := client.CancelBatch("nope"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found for unknown batch, got %v", err)
	}
}

func TestIPCVolumes(t *testing.T) {
	client, _ := dialTestServer(t)
	vols, err := client.EnumerateVolumes()
	if err != nil || len(vols) != 0 {
		t.Fatalf("EnumerateVolumes = %+v, %v", vols, err)
	}
	if _, err := client.GetVolumeInfo("missing"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := client.EjectVolume("missing"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found on eject, got %v", err)
	}
}
