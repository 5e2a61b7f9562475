package fileutil

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"samplecart/internal/faults"
)

func TestCopyFileWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.wav")
	dst := filepath.Join(dir, "dst.wav")
	content := bytes.Repeat([]byte("RIFF-sample-"), 1000)
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	var progress []int64
	written, err := CopyFile(context.Background(), src, dst, CopyOptions{
		BufferSize: 1024,
		Verify:     true,
		Progress:   func(done, _ int64) { progress = append(progress, done) },
	})
	if err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	if written != int64(len(content)) {
		t.Fatalf("written %d want %d", written, len(content))
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("content mismatch")
	}
	if len(progress) < 2 || progress[len(progress)-1] != int64(len(content)) {
		t.Fatalf("unexpected progress %v", progress)
	}
	if _, err := os.Stat(PartialName(dst)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected partial file to be gone, got %v", err)
	}
}

func TestCopyFileRejectsExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := CopyFile(context.Background(), src, dst, CopyOptions{})
	if !errors.Is(err, faults.ErrCollision) {
		t.Fatalf("expected collision, got %v", err)
	}
	if got, _ := os.ReadFile(dst); string(got) != "old" {
		t.Fatalf("destination was modified: %q", got)
	}

	if _, err := CopyFile(context.Background(), src, dst, CopyOptions{Overwrite: true}); err != nil {
		t.Fatalf("overwrite copy: %v", err)
	}
	if got, _ := os.ReadFile(dst); string(got) != "new" {
		t.Fatalf("expected overwrite, got %q", got)
	}
}

func TestCopyFileCheckFailureRemovesPartial(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	if err := os.WriteFile(src, bytes.Repeat([]byte{1}, 4096), 0o644); err != nil {
		t.Fatal(err)
	}

	calls := 0
	gone := faults.Wrap(faults.ErrDeviceGone, "test", "guard", "", nil)
	_, err := CopyFile(context.Background(), src, dst, CopyOptions{
		BufferSize: 512,
		Check: func() error {
			calls++
			if calls == 3 {
				return gone
			}
			return nil
		},
	})
	if !errors.Is(err, faults.ErrDeviceGone) {
		t.Fatalf("expected device gone, got %v", err)
	}
	for _, path := range []string{dst, PartialName(dst)} {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected %s to be absent, got %v", path, err)
		}
	}
}

func TestCopyFileCancelled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(src, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := CopyFile(ctx, src, filepath.Join(dir, "dst.bin"), CopyOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPartialFileAbortAndStaleCleanup(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.aif")
	p, err := CreatePartial(dst, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Write([]byte("FORM")); err != nil {
		t.Fatal(err)
	}
	p.Abort()
	if _, err := os.Stat(PartialName(dst)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected abort to remove partial, got %v", err)
	}

	stale := PartialName(filepath.Join(dir, "left.wav"))
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	removed, err := RemoveStalePartials(dir)
	if err != nil || removed != 1 {
		t.Fatalf("RemoveStalePartials = %d, %v", removed, err)
	}
}

func TestWithin(t *testing.T) {
	cases := []struct {
		root, path string
		want       bool
	}{
		{"/media/card", "/media/card", true},
		{"/media/card", "/media/card/kits/kick.wav", true},
		{"/media/card", "/media/card/../card2/x", false},
		{"/media/card", "/media/cardigan", false},
		{"/media/card/", "/media/card/a", true},
		{"/", "/anything", true},
	}
	for _, tc := range cases {
		if got := Within(tc.root, tc.path); got != tc.want {
			t.Fatalf("Within(%q, %q) = %v, want %v", tc.root, tc.path, got, tc.want)
		}
	}
}
