package ipc

import (
	"samplecart/internal/api"
	"samplecart/internal/audio"
	"samplecart/internal/devices"
	"samplecart/internal/fsops"
	"samplecart/internal/transfer"
)

// StopRequest asks the daemon to halt its watcher and API.
type StopRequest struct{}

// StopResponse acknowledges the stop.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StartRequest asks the daemon to resume its watcher and API.
type StartRequest struct{}

// StartResponse reports whether the daemon started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StatusRequest carries no fields.
type StatusRequest struct{}

// StatusResponse is the daemon status snapshot.
type StatusResponse struct {
	api.DaemonStatus
}

// PathRequest names a single file or directory.
type PathRequest struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
}

// ListResponse holds directory entries.
type ListResponse struct {
	Entries []fsops.Entry `json:"entries"`
}

// StatResponse holds one entry.
type StatResponse struct {
	Entry fsops.Entry `json:"entry"`
}

// CopyRequest copies Source to Dest.
type CopyRequest struct {
	Source    string `json:"source"`
	Dest      string `json:"dest"`
	Recursive bool   `json:"recursive,omitempty"`
}

// CopyFileResponse reports bytes written.
type CopyFileResponse struct {
	Bytes int64 `json:"bytes"`
}

// CountsResponse reports a best-effort directory operation.
type CountsResponse struct {
	Counts fsops.Counts `json:"counts"`
}

// EmptyResponse acknowledges operations without a payload.
type EmptyResponse struct{}

// VolumeRequest names a volume.
type VolumeRequest struct {
	ID string `json:"id"`
}

// VolumesResponse lists volumes.
type VolumesResponse struct {
	Volumes []devices.Volume `json:"volumes"`
}

// VolumeResponse holds one volume.
type VolumeResponse struct {
	Volume devices.Volume `json:"volume"`
}

// SearchRequest searches Root, or every root when empty.
type SearchRequest struct {
	Query string `json:"query"`
	Root  string `json:"root,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// SearchResponse holds matches.
type SearchResponse struct {
	Entries []fsops.Entry `json:"entries"`
}

// ConvertRequest converts or copies one file synchronously.
type ConvertRequest struct {
	Source string     `json:"source"`
	Dest   string     `json:"dest"`
	Spec   audio.Spec `json:"spec"`
}

// ItemResponse holds one transfer item.
type ItemResponse struct {
	Item transfer.Item `json:"item"`
}

// SubmitRequest submits a batch.
type SubmitRequest struct {
	Items []transfer.Request `json:"items"`
}

// BatchRequest names a batch.
type BatchRequest struct {
	ID string `json:"id"`
}

// BatchResponse holds a batch snapshot.
type BatchResponse struct {
	Batch transfer.Info `json:"batch"`
}

// WaitResponse holds a finished batch result.
type WaitResponse struct {
	Result transfer.Result `json:"result"`
}

// BatchListResponse lists batches held by the daemon.
type BatchListResponse struct {
	Batches []transfer.Info `json:"batches"`
}

// HistoryRequest bounds the journal listing.
type HistoryRequest struct {
	Limit int `json:"limit,omitempty"`
}

// HistoryResponse lists journaled batches.
type HistoryResponse struct {
	Batches []transfer.BatchRecord `json:"batches"`
}
