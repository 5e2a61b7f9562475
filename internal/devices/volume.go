package devices

// State is the lifecycle state of a Volume.
type State string

const (
	StateMounted  State = "mounted"
	StateEjecting State = "ejecting"
	StateRemoved  State = "removed"
)

// Volume is one mounted filesystem on removable media.
type Volume struct {
	ID             string `json:"id"`
	MountPath      string `json:"mountPath"`
	Name           string `json:"name"`
	FileSystemType string `json:"fileSystemType"`
	TotalBytes     uint64 `json:"totalBytes"`
	FreeBytes      uint64 `json:"freeBytes"`
	Removable      bool   `json:"removable"`
	State          State  `json:"state"`
	Device         string `json:"device,omitempty"`
	UUID           string `json:"uuid,omitempty"`
	Serial         string `json:"serial,omitempty"`
}

// Event names as seen by subscribers.
const (
	EventVolumeAttached = "volumeAttached"
	EventVolumeRemoved  = "volumeRemoved"
)

// Event is published on every attach and removal. Seq increases by one per
// event for the lifetime of the watcher.
type Event struct {
	Name     string  `json:"name"`
	Volume   *Volume `json:"volume,omitempty"`
	VolumeID string  `json:"volumeId"`
	Seq      uint64  `json:"seq"`
}

// Candidate is a mounted partition as reported by a Prober, before
// eligibility filtering and identity assignment.
type Candidate struct {
	Device     string
	MountPath  string
	FSType     string
	Label      string
	UUID       string
	Serial     string
	Removable  bool
	TotalBytes uint64
	FreeBytes  uint64
}
