package devices

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseLSBLKHandlesQuotedSpaces(t *testing.T) {
	output := `PATH="/dev/sdb" PKNAME="" UUID="" SERIAL="SD123" LABEL="" FSTYPE="" RM="1" HOTPLUG="1"
PATH="/dev/sdb1" PKNAME="sdb" UUID="1A2B-3C4D" SERIAL="" LABEL="MY SAMPLES" FSTYPE="vfat" RM="0" HOTPLUG="0"
PATH="/dev/sdc1" PKNAME="sdc" UUID="" SERIAL="" LABEL="drum\x20kits" FSTYPE="exfat" RM="0" HOTPLUG="0"
`
	rows := parseLSBLK(output)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[1]["LABEL"] != "MY SAMPLES" || rows[1]["UUID"] != "1A2B-3C4D" {
		t.Fatalf("unexpected row %+v", rows[1])
	}
	if rows[2]["LABEL"] != "drum kits" {
		t.Fatalf("expected unescaped label, got %q", rows[2]["LABEL"])
	}
}

type stubRunner struct{ out string }

func (r stubRunner) Output(context.Context, string, ...string) ([]byte, error) {
	return []byte(r.out), nil
}

func TestLSBLKInheritsParentSerialAndRemovable(t *testing.T) {
	p := &systemProber{runner: stubRunner{out: `PATH="/dev/sdb" PKNAME="" UUID="" SERIAL="SD123" LABEL="" FSTYPE="" RM="1" HOTPLUG="1"
PATH="/dev/sdb1" PKNAME="sdb" UUID="1A2B-3C4D" SERIAL="" LABEL="CARD" FSTYPE="VFAT" RM="0" HOTPLUG="0"
`}}
	blocks, err := p.lsblk(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	part := blocks["/dev/sdb1"]
	if !part.removable || part.parent != "/dev/sdb" || part.fstype != "vfat" {
		t.Fatalf("unexpected partition info %+v", part)
	}
	if blocks[part.parent].serial != "SD123" {
		t.Fatalf("unexpected parent serial %q", blocks[part.parent].serial)
	}
}

func TestSysRemovableFollowsParentDisk(t *testing.T) {
	sys := t.TempDir()
	disk := filepath.Join(sys, "devices", "mmc", "block", "mmcblk0")
	part := filepath.Join(disk, "mmcblk0p1")
	for _, dir := range []string{part, filepath.Join(sys, "class", "block")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(disk, "removable"), []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(part, "partition"), []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(part, filepath.Join(sys, "class", "block", "mmcblk0p1")); err != nil {
		t.Fatal(err)
	}
	p := &systemProber{sysRoot: sys}
	if !p.sysRemovable("/dev/mmcblk0p1") {
		t.Fatal("expected partition of removable disk to be removable")
	}
	if p.sysRemovable("/dev/sda1") {
		t.Fatal("unknown device reported removable")
	}
}

func TestAssignIDsPrefersUUIDThenSerial(t *testing.T) {
	got, _ := assignIDs([]Candidate{
		{MountPath: "/media/a", UUID: "1A2B-3C4D", Serial: "X"},
		{MountPath: "/media/b", Serial: "Sand Disk#1"},
		{MountPath: "/media/c", Label: "NO NAME"},
	}, nil)
	keys := make(map[string]string)
	for id, c := range got {
		keys[c.MountPath] = id
	}
	want := map[string]string{
		"/media/a": "1a2b-3c4d",
		"/media/b": "sn-sand-disk-1",
		"/media/c": baseID(Candidate{MountPath: "/media/c", Label: "NO NAME"}),
	}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("unexpected ids %+v", keys)
	}
}

func TestRegistryOpenUnder(t *testing.T) {
	r := NewRegistry()
	a := r.Track("/media/card/a.wav")
	b := r.Track("/media/card/a.wav")
	r.Track("/home/me/b.wav")
	if got := r.OpenUnder("/media/card"); len(got) != 1 {
		t.Fatalf("expected one open path, got %v", got)
	}
	a()
	if got := r.OpenUnder("/media/card"); len(got) != 1 {
		t.Fatal("path released while still held twice")
	}
	b()
	if got := r.OpenUnder("/media/card"); len(got) != 0 {
		t.Fatalf("expected no open paths, got %v", got)
	}
	if r.Len() != 1 {
		t.Fatalf("expected one remaining path, got %d", r.Len())
	}
}
