package rpc

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/pointcloud/voxelstream/hash"
	"github.com/pointcloud/voxelstream/inter/dsrc"
	"github.com/pointcloud/voxelstream/streaming/multiread"
)

var (
	servedMeter     = metrics.GetOrRegisterMeter("voxelstream/rpc/server/calls", nil)
	servedBytes     = metrics.GetOrRegisterMeter("voxelstream/rpc/server/bytes", nil)
	serverFailCount = metrics.GetOrRegisterCounter("voxelstream/rpc/server/failed", nil)
)

// Server serves the data sources of a resolver to websocket clients.
type Server struct {
	cfg      Config
	resolver multiread.Resolver
	locks    *multiread.LockTable

	mu   sync.RWMutex
	guid hash.GUID

	upgrader websocket.Upgrader
	enc      *zstd.Encoder

	log log.Logger
}

func NewServer(guid hash.GUID, resolver multiread.Resolver, cfg Config) (*Server, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		resolver: resolver,
		locks:    multiread.NewLockTable(),
		guid:     guid,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		enc: enc,
		log: log.New("module", "rpc-server"),
	}, nil
}

// GUID is the binding every Return carries.
func (s *Server) GUID() hash.GUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guid
}

// Rebind replaces the server binding. Clients bound to the previous one get
// ErrHostLockFailed once.
func (s *Server) Rebind(guid hash.GUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guid = guid
}

func (s *Server) Close() error {
	return s.enc.Close()
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			s.log.Debug("Upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		defer conn.Close()
		conn.SetReadLimit(s.cfg.maxMessage())

		logger := s.log.New("remote", r.RemoteAddr)
		logger.Debug("Client connected")
		for {
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("Connection lost", "err", err)
				}
				return
			}
			if typ != websocket.BinaryMessage {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "expected binary frames"),
					time.Now().Add(time.Second))
				return
			}
			ret := s.serve(r.Context(), msg)
			b, err := rlp.EncodeToBytes(ret)
			if err != nil {
				logger.Error("Failed to encode return", "id", ret.ID, "err", err)
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
				logger.Debug("Write failed", "err", err)
				return
			}
		}
	}
}

func (s *Server) serve(ctx context.Context, msg []byte) *Return {
	call, err := decodeCall(msg)
	if err != nil {
		return s.fail(&Return{Host: s.GUID()}, err)
	}
	return s.Serve(ctx, call)
}

// Serve answers one call.
func (s *Server) Serve(ctx context.Context, call *Call) *Return {
	servedMeter.Mark(1)

	ret := &Return{ID: call.ID, Host: s.GUID()}
	if !call.Host.IsZero() && call.Host != ret.Host {
		return s.fail(ret, errors.Wrapf(ErrHostLockFailed, "bound to %s", call.Host.TerminalString()))
	}
	var err error
	switch call.Method {
	case MethodOpen:
		err = s.open(call, ret)
	case MethodRead:
		err = s.read(call, ret)
	case MethodMultiRead:
		err = s.multiRead(ctx, call, ret)
	default:
		err = errors.Wrapf(ErrBadRequest, "unknown %s", call.Method)
	}
	if err != nil {
		return s.fail(ret, err)
	}
	servedBytes.Mark(int64(ret.Size))
	return ret
}

func (s *Server) fail(ret *Return, err error) *Return {
	serverFailCount.Inc(1)
	s.log.Debug("Call failed", "id", ret.ID, "err", err)
	ret.Code = codeOf(err)
	ret.Message = err.Error()
	ret.Size = 0
	ret.Failed = nil
	ret.Payload = nil
	return ret
}

func (s *Server) open(call *Call, ret *Return) error {
	ds, err := s.resolver.Resolve(dsrc.ID(call.Name))
	if err != nil {
		return err
	}
	sizer, ok := ds.(dsrc.Sizer)
	if !ok {
		return errors.Wrapf(ErrInternal, "%q has no size", call.Name)
	}
	ret.Size = sizer.Size()
	return nil
}

func (s *Server) read(call *Call, ret *Return) error {
	if call.Length > s.cfg.MaxPayloadBytes {
		return errors.Wrapf(ErrPipeInitFailed, "cannot buffer %d bytes", call.Length)
	}
	id := dsrc.ID(call.Name)
	ds, err := s.resolver.Resolve(id)
	if err != nil {
		return err
	}
	buf := make([]byte, call.Length)

	release := s.locks.Acquire(id)
	defer release()
	if !ds.ValidHandle() {
		return errors.Wrapf(dsrc.ErrInvalidHandle, "source %s", id)
	}
	if err := ds.Read(call.Offset, buf); err != nil {
		return err
	}
	ret.Size = call.Length
	ret.setPayload(buf, s.cfg.CompressThreshold, s.enc)
	return nil
}

func (s *Server) multiRead(ctx context.Context, call *Call, ret *Return) error {
	set, err := multiread.DecodeSet(call.Set, s.cfg.MaxMultiReads)
	if err != nil {
		return err
	}
	if set.TotalReadSize() > s.cfg.MaxPayloadBytes {
		return errors.Wrapf(ErrPipeInitFailed, "cannot buffer %d bytes", set.TotalReadSize())
	}
	res, err := multiread.Execute(ctx, s.resolver, s.locks, set, nil)
	if err != nil {
		return err
	}
	defer res.Release()

	for ref, err := range res.Failed {
		ret.Failed = append(ret.Failed, Failure{
			Ref:     uint64(ref),
			Code:    codeOf(err),
			Message: err.Error(),
		})
	}
	sort.Slice(ret.Failed, func(i, j int) bool {
		return ret.Failed[i].Ref < ret.Failed[j].Ref
	})
	ret.Size = set.TotalReadSize()
	ret.setPayload(res.Buffer.Bytes()[:ret.Size], s.cfg.CompressThreshold, s.enc)
	return nil
}
