package kv

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/jmgilman/go/errors"
)

// DefaultTimeout bounds a single request when the caller's context carries
// no deadline.
const DefaultTimeout = 500 * time.Millisecond

// Client implements KV over a Unix socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

var _ KV = (*Client)(nil)

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: DefaultTimeout}
}

// WithTimeout returns a copy of c using timeout for requests without a
// context deadline.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	cp := *c
	if timeout > 0 {
		cp.timeout = timeout
	}
	return &cp
}

// Ping checks that the daemon accepts connections.
func (c *Client) Ping(ctx context.Context) error {
	return c.withConn(ctx, func(net.Conn) error { return nil })
}

func (c *Client) withConn(ctx context.Context, fn func(conn net.Conn) error) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	d := net.Dialer{Deadline: deadline}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return classify(err, "dial cache daemon")
	}
	defer conn.Close()
	if err := conn.SetDeadline(deadline); err != nil {
		return errors.Wrap(err, errors.CodeNetwork, "set deadline")
	}
	return fn(conn)
}

func (c *Client) roundTrip(ctx context.Context, req Request) (Response, error) {
	var resp Response
	err := c.withConn(ctx, func(conn net.Conn) error {
		if err := json.NewEncoder(conn).Encode(&req); err != nil {
			return classify(err, "send "+req.Op)
		}
		if err := json.NewDecoder(conn).Decode(&resp); err != nil {
			return classify(err, "receive "+req.Op)
		}
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	if !resp.OK {
		return resp, responseError(resp)
	}
	return resp, nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.roundTrip(ctx, Request{Op: OpGet, Key: key})
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), resp.Value...), nil
}

func (c *Client) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.roundTrip(ctx, Request{Op: OpPut, Key: key, Value: value, TTLSeconds: ttlSeconds(ttl)})
	return err
}

func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.roundTrip(ctx, Request{Op: OpDelete, Key: key})
	return err
}

func (c *Client) Scan(ctx context.Context, pattern string) ([]string, error) {
	resp, err := c.roundTrip(ctx, Request{Op: OpScan, Pattern: pattern})
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

func (c *Client) FlushAll(ctx context.Context) error {
	_, err := c.roundTrip(ctx, Request{Op: OpFlush})
	return err
}

func responseError(resp Response) error {
	switch {
	case resp.Error == ErrExpired.Error():
		return ErrExpired
	case errors.ErrorCode(resp.Code) == errors.CodeNotFound:
		return ErrNotFound
	case resp.Code != "":
		return errors.New(errors.ErrorCode(resp.Code), resp.Error)
	default:
		return errors.New(errors.CodeInternal, resp.Error)
	}
}

// classify maps transport failures onto timeout or network codes so callers
// can tell a slow daemon from a missing one.
func classify(err error, msg string) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errors.Wrap(err, errors.CodeTimeout, msg)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.CodeTimeout, msg)
	}
	return errors.Wrap(err, errors.CodeNetwork, msg)
}
