package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/pointcloud/voxelstream/hash"
	"github.com/pointcloud/voxelstream/streaming/multiread"
)

var (
	callsMeter      = metrics.GetOrRegisterMeter("voxelstream/rpc/client/calls", nil)
	receivedMeter   = metrics.GetOrRegisterMeter("voxelstream/rpc/client/bytes", nil)
	transportFailed = metrics.GetOrRegisterCounter("voxelstream/rpc/client/failed", nil)
)

// Client issues calls to one server, one round trip at a time. The
// connection is dialed lazily and redialed after a transport failure.
type Client struct {
	url    string
	cfg    Config
	dialer websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  uint64
	binding hash.GUID
	closed  bool

	dec *zstd.Decoder
	log log.Logger
}

func NewClient(url string, cfg Config) (*Client, error) {
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(uint64(cfg.maxMessage())),
		zstd.WithDecodeAllCapLimit(true))
	if err != nil {
		return nil, err
	}
	return &Client{
		url: url,
		cfg: cfg,
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
		},
		dec: dec,
		log: log.New("module", "rpc-client", "url", url),
	}, nil
}

// Dial makes a client and connects it.
func Dial(ctx context.Context, url string, cfg Config) (*Client, error) {
	c, err := NewClient(url, cfg)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(ctx); err != nil {
		c.dec.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) URL() string {
	return c.url
}

// Binding is the server binding received with the last Return.
func (c *Client) Binding() hash.GUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binding
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.dec.Close()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Open returns the size of object name.
func (c *Client) Open(ctx context.Context, name string) (uint64, error) {
	ret, err := c.call(ctx, &Call{Method: MethodOpen, Name: name})
	if err != nil {
		return 0, err
	}
	return ret.Size, nil
}

// Read fills dst with the bytes of object name at offset.
func (c *Client) Read(ctx context.Context, name string, offset uint64, dst []byte) error {
	ret, err := c.call(ctx, &Call{
		Method: MethodRead,
		Name:   name,
		Offset: offset,
		Length: uint64(len(dst)),
	})
	if err != nil {
		return err
	}
	data, err := ret.payload(c.dec, uint64(len(dst)))
	if err != nil {
		return err
	}
	if len(data) != len(dst) {
		return errors.Wrapf(ErrProtocol, "read returned %d of %d bytes", len(data), len(dst))
	}
	copy(dst, data)
	receivedMeter.Mark(int64(len(data)))
	return nil
}

// MultiRead executes set on the server and copies its data into dst. The
// returned map holds the multi-reads the server could not serve.
func (c *Client) MultiRead(ctx context.Context, set *multiread.Set, dst []byte) (map[int]error, error) {
	total := set.TotalReadSize()
	if uint64(len(dst)) < total {
		return nil, errors.Wrapf(multiread.ErrBufferTooSmall, "have %d, need %d", len(dst), total)
	}
	encoded, err := multiread.EncodeSet(set)
	if err != nil {
		return nil, err
	}
	ret, err := c.call(ctx, &Call{Method: MethodMultiRead, Set: encoded})
	if err != nil {
		return nil, err
	}
	data, err := ret.payload(c.dec, total)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) != total {
		return nil, errors.Wrapf(ErrProtocol, "multi-read returned %d of %d bytes", len(data), total)
	}
	failed := make(map[int]error, len(ret.Failed))
	for _, f := range ret.Failed {
		if f.Ref >= uint64(set.Len()) {
			return nil, errors.Wrapf(ErrProtocol, "failure of multi-read %d in a set of %d", f.Ref, set.Len())
		}
		failed[int(f.Ref)] = errorOf(f.Code, f.Message)
	}
	copy(dst, data)
	receivedMeter.Mark(int64(len(data)))
	return failed, nil
}

func (c *Client) connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return errors.Wrap(ErrUnreachable, err.Error())
	}
	conn.SetReadLimit(c.cfg.maxMessage())
	c.conn = conn
	c.log.Debug("Connected")
	return nil
}

// drop closes a connection which is no longer in sync with the server.
func (c *Client) drop() {
	transportFailed.Inc(1)
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) call(ctx context.Context, call *Call) (*Return, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	callsMeter.Mark(1)

	if c.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok && c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}
	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return nil, err
		}
	}
	c.nextID++
	call.ID = c.nextID
	call.Host = c.binding

	conn := c.conn
	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(time.Unix(1, 0))
		_ = conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	b, err := encodeCall(call)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		c.drop()
		return nil, c.transportError(ctx, err)
	}
	typ, msg, err := conn.ReadMessage()
	if err != nil {
		c.drop()
		return nil, c.transportError(ctx, err)
	}
	if typ != websocket.BinaryMessage {
		c.drop()
		return nil, errors.Wrap(ErrProtocol, "text frame")
	}
	ret, err := decodeReturn(msg)
	if err != nil {
		c.drop()
		return nil, err
	}
	if ret.ID != call.ID {
		c.drop()
		return nil, errors.Wrapf(ErrProtocol, "return %d for call %d", ret.ID, call.ID)
	}
	if !ret.Host.IsZero() {
		if ret.Host != c.binding && !c.binding.IsZero() {
			c.log.Warn("Server binding changed", "old", c.binding.TerminalString(), "new", ret.Host.TerminalString())
		}
		c.binding = ret.Host
	}
	if err := errorOf(ret.Code, ret.Message); err != nil {
		return nil, errors.Wrapf(err, "%s %q", call.Method, call.Name)
	}
	return ret, nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return errors.Wrap(ErrUnreachable, err.Error())
}
