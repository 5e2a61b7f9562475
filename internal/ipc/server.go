package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"samplecart/internal/bridge"
	"samplecart/internal/daemon"
	"samplecart/internal/faults"
	"samplecart/internal/logging"
)

// ServiceName is the RPC service prefix.
const ServiceName = "Bridge"

// Server exposes the daemon via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{
		daemon:  d,
		gateway: d.Gateway(),
		logger:  logging.NewComponentLogger(logger, "ipc"),
		ctx:     serverCtx,
	}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the server is closed.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file. Open client
// connections finish their current call.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun samplecart daemon stop"))
	}
}

type service struct {
	daemon  *daemon.Daemon
	gateway *bridge.Gateway
	logger  *slog.Logger
	ctx     context.Context
}

// wire flattens err to its coded form so the client can recover the marker.
func wire(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(faults.Encode(err))
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.logger.Info("daemon started via IPC", logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("daemon stopped via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.DaemonStatus = s.daemon.Status()
	return nil
}

func (s *service) List(req PathRequest, resp *ListResponse) error {
	entries, err := s.gateway.List(s.ctx, req.Path)
	resp.Entries = entries
	return wire(err)
}

func (s *service) Stat(req PathRequest, resp *StatResponse) error {
	entry, err := s.gateway.Stat(s.ctx, req.Path)
	resp.Entry = entry
	return wire(err)
}

func (s *service) CopyFile(req CopyRequest, resp *CopyFileResponse) error {
	n, err := s.gateway.CopyFile(s.ctx, req.Source, req.Dest)
	resp.Bytes = n
	return wire(err)
}

func (s *service) CopyDirectory(req CopyRequest, resp *CountsResponse) error {
	counts, err := s.gateway.CopyDirectory(s.ctx, req.Source, req.Dest, req.Recursive)
	resp.Counts = counts
	return wire(err)
}

func (s *service) DeleteFile(req PathRequest, _ *EmptyResponse) error {
	return wire(s.gateway.DeleteFile(s.ctx, req.Path))
}

func (s *service) DeleteDirectory(req PathRequest, resp *CountsResponse) error {
	counts, err := s.gateway.DeleteDirectory(s.ctx, req.Path, req.Recursive)
	resp.Counts = counts
	return wire(err)
}

func (s *service) CreateDirectory(req PathRequest, _ *EmptyResponse) error {
	return wire(s.gateway.CreateDirectory(s.ctx, req.Path))
}

func (s *service) EnumerateVolumes(_ StatusRequest, resp *VolumesResponse) error {
	resp.Volumes = s.gateway.EnumerateVolumes()
	return nil
}

func (s *service) GetVolumeInfo(req VolumeRequest, resp *VolumeResponse) error {
	vol, err := s.gateway.GetVolumeInfo(req.ID)
	resp.Volume = vol
	return wire(err)
}

func (s *service) EjectVolume(req VolumeRequest, _ *EmptyResponse) error {
	return wire(s.gateway.EjectVolume(s.ctx, req.ID))
}

func (s *service) Search(req SearchRequest, resp *SearchResponse) error {
	entries, err := s.gateway.Search(s.ctx, req.Query, req.Root, req.Limit)
	resp.Entries = entries
	return wire(err)
}

func (s *service) ConvertAndCopy(req ConvertRequest, resp *ItemResponse) error {
	item, err := s.gateway.ConvertAndCopy(s.ctx, req.Source, req.Dest, req.Spec)
	resp.Item = item
	return wire(err)
}

func (s *service) SubmitBatch(req SubmitRequest, resp *BatchResponse) error {
	info, err := s.gateway.SubmitBatch(s.ctx, req.Items)
	resp.Batch = info
	return wire(err)
}

func (s *service) BatchStatus(req BatchRequest, resp *BatchResponse) error {
	info, err := s.gateway.BatchStatus(req.ID)
	resp.Batch = info
	return wire(err)
}

func (s *service) WaitBatch(req BatchRequest, resp *WaitResponse) error {
	result, err := s.gateway.WaitBatch(s.ctx, req.ID)
	resp.Result = result
	return wire(err)
}

func (s *service) CancelBatch(req BatchRequest, _ *EmptyResponse) error {
	return wire(s.gateway.CancelBatch(req.ID))
}

func (s *service) RetryBatch(req BatchRequest, resp *BatchResponse) error {
	info, err := s.gateway.RetryBatch(s.ctx, req.ID)
	resp.Batch = info
	return wire(err)
}

func (s *service) ReleaseBatch(req BatchRequest, _ *EmptyResponse) error {
	return wire(s.gateway.ReleaseBatch(s.ctx, req.ID))
}

func (s *service) ListBatches(_ StatusRequest, resp *BatchListResponse) error {
	resp.Batches = s.gateway.ListBatches()
	return nil
}

func (s *service) BatchHistory(req HistoryRequest, resp *HistoryResponse) error {
	records, err := s.gateway.BatchHistory(s.ctx, req.Limit)
	resp.Batches = records
	return wire(err)
}
