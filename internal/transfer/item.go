package transfer

import (
	"fmt"
	"time"

	"samplecart/internal/audio"
	"samplecart/internal/faults"
)

// Request describes one item to transfer.
type Request struct {
	SourcePath string     `json:"sourcePath"`
	DestPath   string     `json:"destPath"`
	Spec       audio.Spec `json:"spec"`
}

// Converts reports whether the request goes through the conversion engine.
func (r Request) Converts() bool {
	return r.Spec.RequestsTransform()
}

// Item is the state of one request inside a batch.
type Item struct {
	Index      int        `json:"index"`
	SourcePath string     `json:"sourcePath"`
	DestPath   string     `json:"destPath"`
	Spec       audio.Spec `json:"spec"`
	Status     Status     `json:"status"`
	Code       string     `json:"code,omitempty"`
	Error      string     `json:"error,omitempty"`
	Bytes      int64      `json:"bytes,omitempty"`
	ByteCopy   bool       `json:"byteCopy,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Err        error      `json:"-"`
}

// Request returns the request that produced the item.
func (i Item) Request() Request {
	return Request{SourcePath: i.SourcePath, DestPath: i.DestPath, Spec: i.Spec}
}

func (i *Item) fail(err error) {
	i.Err = err
	i.Code = faults.Code(err)
	i.Error = err.Error()
}

// Completion is yielded by Batch.Progress once per finished item.
type Completion struct {
	BatchID string `json:"batchId"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Item    Item   `json:"item"`
}

// Result is the outcome of a finished batch.
type Result struct {
	BatchID   string `json:"batchId"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Items     []Item `json:"items"`
}

// Summary renders "X of Y failed".
func (r Result) Summary() string {
	return fmt.Sprintf("%d of %d failed", r.Failed, len(r.Items))
}

// FailedItems returns the failed subset in submission order.
func (r Result) FailedItems() []Item {
	var out []Item
	for _, item := range r.Items {
		if item.Status == StatusFailed {
			out = append(out, item)
		}
	}
	return out
}
