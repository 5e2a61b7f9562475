package ipc

import (
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"samplecart/internal/audio"
	"samplecart/internal/devices"
	"samplecart/internal/faults"
	"samplecart/internal/fsops"
	"samplecart/internal/transfer"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, args, reply any) error {
	err := c.client.Call(ServiceName+"."+method, args, reply)
	var serverErr rpc.ServerError
	if errors.As(err, &serverErr) {
		return faults.Decode(string(serverErr))
	}
	return err
}

// Start asks the daemon to resume its watcher and API.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.call("Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop asks the daemon to halt its watcher and API.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.call("Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns the entries of dir.
func (c *Client) List(dir string) ([]fsops.Entry, error) {
	var resp ListResponse
	err := c.call("List", PathRequest{Path: dir}, &resp)
	return resp.Entries, err
}

// Stat describes one path.
func (c *Client) Stat(path string) (fsops.Entry, error) {
	var resp StatResponse
	err := c.call("Stat", PathRequest{Path: path}, &resp)
	return resp.Entry, err
}

// CopyFile copies one file and returns the bytes written.
func (c *Client) CopyFile(src, dst string) (int64, error) {
	var resp CopyFileResponse
	err := c.call("CopyFile", CopyRequest{Source: src, Dest: dst}, &resp)
	return resp.Bytes, err
}

// CopyDirectory copies a directory tree best-effort.
func (c *Client) CopyDirectory(src, dst string, recursive bool) (fsops.Counts, error) {
	var resp CountsResponse
	err := c.call("CopyDirectory", CopyRequest{Source: src, Dest: dst, Recursive: recursive}, &resp)
	return resp.Counts, err
}

// DeleteFile removes one file.
func (c *Client) DeleteFile(path string) error {
	return c.call("DeleteFile", PathRequest{Path: path}, &EmptyResponse{})
}

// DeleteDirectory removes a directory.
func (c *Client) DeleteDirectory(path string, recursive bool) (fsops.Counts, error) {
	var resp CountsResponse
	err := c.call("DeleteDirectory", PathRequest{Path: path, Recursive: recursive}, &resp)
	return resp.Counts, err
}

// CreateDirectory creates one directory.
func (c *Client) CreateDirectory(path string) error {
	return c.call("CreateDirectory", PathRequest{Path: path}, &EmptyResponse{})
}

// EnumerateVolumes lists mounted removable volumes.
func (c *Client) EnumerateVolumes() ([]devices.Volume, error) {
	var resp VolumesResponse
	err := c.call("EnumerateVolumes", StatusRequest{}, &resp)
	return resp.Volumes, err
}

// GetVolumeInfo describes one volume.
func (c *Client) GetVolumeInfo(id string) (devices.Volume, error) {
	var resp VolumeResponse
	err := c.call("GetVolumeInfo", VolumeRequest{ID: id}, &resp)
	return resp.Volume, err
}

// EjectVolume unmounts a volume.
func (c *Client) EjectVolume(id string) error {
	return c.call("EjectVolume", VolumeRequest{ID: id}, &EmptyResponse{})
}

// Search finds entries whose names contain query.
func (c *Client) Search(req SearchRequest) ([]fsops.Entry, error) {
	var resp SearchResponse
	err := c.call("Search", req, &resp)
	return resp.Entries, err
}

// ConvertAndCopy converts or copies one file synchronously.
func (c *Client) ConvertAndCopy(src, dst string, spec audio.Spec) (transfer.Item, error) {
	var resp ItemResponse
	err := c.call("ConvertAndCopy", ConvertRequest{Source: src, Dest: dst, Spec: spec}, &resp)
	return resp.Item, err
}

// SubmitBatch submits a batch and returns its initial snapshot.
func (c *Client) SubmitBatch(items []transfer.Request) (transfer.Info, error) {
	var resp BatchResponse
	err := c.call("SubmitBatch", SubmitRequest{Items: items}, &resp)
	return resp.Batch, err
}

// BatchStatus returns a batch snapshot including items.
func (c *Client) BatchStatus(id string) (transfer.Info, error) {
	var resp BatchResponse
	err := c.call("BatchStatus", BatchRequest{ID: id}, &resp)
	return resp.Batch, err
}

// WaitBatch blocks until the batch finishes.
func (c *Client) WaitBatch(id string) (transfer.Result, error) {
	var resp WaitResponse
	err := c.call("WaitBatch", BatchRequest{ID: id}, &resp)
	return resp.Result, err
}

// CancelBatch stops items that have not started.
func (c *Client) CancelBatch(id string) error {
	return c.call("CancelBatch", BatchRequest{ID: id}, &EmptyResponse{})
}

// RetryBatch resubmits the failed items of a finished batch.
func (c *Client) RetryBatch(id string) (transfer.Info, error) {
	var resp BatchResponse
	err := c.call("RetryBatch", BatchRequest{ID: id}, &resp)
	return resp.Batch, err
}

// ReleaseBatch forgets a finished batch.
func (c *Client) ReleaseBatch(id string) error {
	return c.call("ReleaseBatch", BatchRequest{ID: id}, &EmptyResponse{})
}

// ListBatches lists batches held by the daemon.
func (c *Client) ListBatches() ([]transfer.Info, error) {
	var resp BatchListResponse
	err := c.call("ListBatches", StatusRequest{}, &resp)
	return resp.Batches, err
}

// BatchHistory lists journaled batches, newest first.
func (c *Client) BatchHistory(limit int) ([]transfer.BatchRecord, error) {
	var resp HistoryResponse
	err := c.call("BatchHistory", HistoryRequest{Limit: limit}, &resp)
	return resp.Batches, err
}
