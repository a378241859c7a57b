package miio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/brutella/hap/log"
)

// DefaultTimeout bounds a single request when the caller's context has no deadline
var DefaultTimeout = 5 * time.Second

var (
	ErrTimeout = errors.New("miio: no reply from device")
	ErrClosed  = errors.New("miio: client closed")
)

// Error is returned when the device answers a request with an error object
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("miio: device error %d: %s", e.Code, e.Message)
}

type request struct {
	ID     uint32        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type response struct {
	ID     uint32          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error,omitempty"`
}

// Client speaks the encrypted miio JSON-RPC dialect with a single device
type Client struct {
	conn  *net.UDPConn
	codec *codec

	mu       sync.Mutex
	deviceID uint32
	stamp    uint32
	stampAt  time.Time
	nextID   uint32
	pending  map[uint32]chan response
	closed   bool

	done chan struct{}
}

// Dial performs the hello handshake with the device at ip and starts the reply reader
func Dial(ctx context.Context, ip, token string) (*Client, error) {
	cd, err := newCodec(token)
	if err != nil {
		return nil, err
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ip, strconv.Itoa(Port)))
	if err != nil {
		return nil, err
	}
	return dialAddr(ctx, addr, cd)
}

func dialAddr(ctx context.Context, addr *net.UDPAddr, cd *codec) (*Client, error) {
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:    conn,
		codec:   cd,
		pending: make(map[uint32]chan response),
		done:    make(chan struct{}),
	}

	if err := c.handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultTimeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return err
	}
	defer c.conn.SetDeadline(time.Time{})

	if _, err := c.conn.Write(hello); err != nil {
		return fmt.Errorf("miio: hello: %w", err)
	}

	buf := make([]byte, 1024)
	n, err := c.conn.Read(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return ErrTimeout
		}
		return fmt.Errorf("miio: hello: %w", err)
	}

	p, err := c.codec.decode(buf[:n])
	if err != nil {
		return fmt.Errorf("miio: hello: %w", err)
	}

	c.mu.Lock()
	c.deviceID = p.deviceID
	c.stamp = p.stamp
	c.stampAt = time.Now()
	c.mu.Unlock()

	log.Debug.Printf("miio: handshake with %s: device id %d stamp %d", c.conn.RemoteAddr(), p.deviceID, p.stamp)
	return nil
}

func (c *Client) readLoop() {
	buf := make([]byte, 4096)

	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				close(c.done)
				return
			}
			// ICMP unreachable while the device is off or rebooting; calls time out until it is back
			log.Debug.Printf("miio: read from %s: %s", c.conn.RemoteAddr(), err.Error())
			continue
		}

		p, err := c.codec.decode(buf[:n])
		if err != nil {
			log.Debug.Printf("miio: dropping packet from %s: %s", c.conn.RemoteAddr(), err.Error())
			continue
		}

		if p.data == nil {
			c.mu.Lock()
			c.stamp = p.stamp
			c.stampAt = time.Now()
			c.mu.Unlock()
			continue
		}

		var resp response
		if err := json.Unmarshal(p.data, &resp); err != nil {
			log.Info.Printf("miio: unparsable reply: %s: %s", err.Error(), string(p.data))
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()

		if !ok {
			log.Debug.Printf("miio: reply for unknown request %d", resp.ID)
			continue
		}
		ch <- resp
	}
}

// Call sends method with params and returns the raw result on success
func (c *Client) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	stamp := c.stamp + uint32(time.Since(c.stampAt)/time.Second)
	deviceID := c.deviceID
	ch := make(chan response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	payload, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	raw, err := c.codec.encode(deviceID, stamp, payload)
	if err != nil {
		return nil, err
	}

	log.Debug.Printf("miio: -> %s", string(payload))
	if _, err := c.conn.Write(raw); err != nil {
		return nil, fmt.Errorf("miio: %s: %w", method, err)
	}

	timer := time.NewTimer(DefaultTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		log.Debug.Printf("miio: <- %d %s", resp.ID, string(resp.Result))
		return resp.Result, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// Close shuts the socket down; pending calls fail with ErrClosed
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.conn.Close()
}
