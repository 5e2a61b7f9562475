package api

import (
	"samplecart/internal/devices"
)

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool      `json:"running"`
	PID           int       `json:"pid"`
	StartedAt     string    `json:"startedAt,omitempty"`
	LockFilePath  string    `json:"lockFilePath"`
	JournalPath   string    `json:"journalPath,omitempty"`
	SocketPath    string    `json:"socketPath"`
	APIAddress    string    `json:"apiAddress,omitempty"`
	LocalRoots    []string  `json:"localRoots"`
	Volumes       int       `json:"volumes"`
	ActiveBatches int       `json:"activeBatches"`
	HeldBatches   int       `json:"heldBatches"`
	Watcher       Component `json:"watcher"`
}

// Component reports whether a background component is running.
type Component struct {
	Running bool   `json:"running"`
	Detail  string `json:"detail,omitempty"`
}

// VolumeListResponse wraps the live volume set.
type VolumeListResponse struct {
	Volumes []devices.Volume `json:"volumes"`
}

// VolumeResponse wraps one volume.
type VolumeResponse struct {
	Volume devices.Volume `json:"volume"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Client operations accepted on /api/events.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
)

// Frame names that are not device notifications.
const (
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameError        = "error"
)

// ClientMessage is sent by WebSocket clients.
type ClientMessage struct {
	Op   string `json:"op"`
	Name string `json:"name"`
}

// Frame is pushed to WebSocket clients. Notification frames carry Volume
// (attach) or VolumeID (both) and the watcher sequence number; control
// frames carry Subject and, for errors, Error and Code.
type Frame struct {
	Name     string          `json:"name"`
	Volume   *devices.Volume `json:"volume,omitempty"`
	VolumeID string          `json:"volumeId,omitempty"`
	Seq      uint64          `json:"seq,omitempty"`
	Subject  string          `json:"subject,omitempty"`
	Error    string          `json:"error,omitempty"`
	Code     string          `json:"code,omitempty"`
}

// FrameFromEvent converts a watcher event.
func FrameFromEvent(ev devices.Event) Frame {
	return Frame{Name: ev.Name, Volume: ev.Volume, VolumeID: ev.VolumeID, Seq: ev.Seq}
}
