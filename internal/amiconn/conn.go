// Package amiconn owns the TCP connection to the PBX and feeds it into
// an ami.Multiplexer. It is deliberately thin: all wire parsing and
// action bookkeeping lives in internal/ami, so this package only dials,
// authenticates, reconnects, and shuttles bytes.
//
// ami.Multiplexer and internal/calls.Manager are built to spec.md's
// single-threaded-cooperative contract: neither locks its own state,
// and both assume one logical executor drives them. Conn IS that
// executor -- its read loop is the only goroutine that ever calls
// Mux.DataReceived. Anything elsewhere in the application (the
// campaign sweeper's per-contact goroutines, in particular) that needs
// to call into Mux or a Manager bound to it -- SendAction, Originate,
// SetupFilters -- must go through Dispatch rather than calling it
// directly, so that call also runs on the read loop's goroutine
// instead of racing it.
package amiconn

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"apicall/internal/ami"
	"apicall/internal/config"
	"apicall/internal/wire"
)

// Conn manages one reconnecting AMI session and the Multiplexer bound
// to it. Build a Manager/Executor (internal/calls, internal/asyncagi)
// on top of Mux before calling Connect, since the handlers they
// register must be in place before events start arriving.
type Conn struct {
	cfg *config.AMIConfig
	Mux *ami.Multiplexer

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	done      chan struct{}
	workCh    chan func()

	// OnConnected is called (from the read loop's goroutine) after each
	// successful login, including reconnects.
	OnConnected func()
}

// New returns a Conn with its Multiplexer already constructed. Register
// event handlers and bind any internal/calls.Manager or
// internal/asyncagi.Executor to Mux before calling Connect.
func New(cfg *config.AMIConfig) *Conn {
	c := &Conn{
		cfg:    cfg,
		done:   make(chan struct{}),
		workCh: make(chan func()),
	}
	c.Mux = ami.NewMultiplexer(c)
	return c
}

// Dispatch runs fn on the read loop's goroutine and blocks until fn
// returns. Call it to reach into Mux (or a calls.Manager/asyncagi.Executor
// bound to it) from any goroutine other than the one that called
// Connect; calling Mux directly from another goroutine races the read
// loop's own calls into the same unlocked state. Dispatch must only be
// called while the connection is up -- there is no read loop to
// service it otherwise.
func (c *Conn) Dispatch(fn func()) {
	done := make(chan struct{})
	c.workCh <- func() {
		fn()
		close(done)
	}
	<-done
}

// Write implements ami.Writer, sending serialized actions to the PBX.
// It is only valid to call once Connect has succeeded.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("amiconn: not connected")
	}
	return conn.Write(p)
}

// Connect dials the PBX, logs in, and starts the background read loop.
// On read failure the loop reconnects with the configured backoff
// until Close is called; callers only need to call Connect once.
func (c *Conn) Connect() error {
	if err := c.dialAndLogin(); err != nil {
		return err
	}
	go c.readLoop()
	return nil
}

func (c *Conn) dialAndLogin() error {
	addr := c.cfg.Address()
	log.Printf("[AMIConn] connecting to %s", addr)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("amiconn: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.login(); err != nil {
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	log.Printf("[AMIConn] connected")
	if c.OnConnected != nil {
		c.OnConnected()
	}
	return nil
}

func (c *Conn) login() error {
	h := wire.NewHeader()
	h.Set("Username", c.cfg.Username)
	h.Set("Secret", c.cfg.Secret)

	result := make(chan error, 1)
	tok := c.Mux.SendAction("Login", h, nil)
	tok.OnResult(func(ami.Result) { result <- nil })
	tok.OnException(func(err error) { result <- err })

	// The greeting line must be parsed before the Login response, both
	// of which arrive over the same connection; pump the socket here
	// instead of relying on the background loop, which isn't running
	// yet.
	buf := make([]byte, 4096)
	for {
		select {
		case err := <-result:
			return err
		default:
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			return fmt.Errorf("amiconn: reading login response: %w", err)
		}
		if err := c.Mux.DataReceived(buf[:n]); err != nil {
			return fmt.Errorf("amiconn: %w", err)
		}
		select {
		case err := <-result:
			return err
		default:
		}
	}
}

// readLoop is the single logical executor spec.md requires driving
// Mux: a raw-reader goroutine turns socket bytes into chunks on an
// unbuffered channel, and this loop is the only place that ever calls
// c.Mux.DataReceived, interleaved with closures submitted through
// Dispatch. Both run on this one goroutine, so neither needs a lock.
func (c *Conn) readLoop() {
	type chunk struct {
		data []byte
		err  error
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	chunks := make(chan chunk)
	stopReader := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				select {
				case chunks <- chunk{err: err}:
				case <-stopReader:
				}
				return
			}
			cp := make([]byte, n)
			copy(cp, buf[:n])
			select {
			case chunks <- chunk{data: cp}:
			case <-stopReader:
				return
			}
		}
	}()
	defer close(stopReader)

	for {
		select {
		case <-c.done:
			return
		case work := <-c.workCh:
			work()
		case ch := <-chunks:
			if ch.err != nil {
				log.Printf("[AMIConn] read error: %v", ch.err)
				c.reconnect()
				return
			}
			if err := c.Mux.DataReceived(ch.data); err != nil {
				log.Printf("[AMIConn] protocol error, reconnecting: %v", err)
				c.reconnect()
				return
			}
		}
	}
}

func (c *Conn) reconnect() {
	c.mu.Lock()
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		interval := time.Duration(c.cfg.ReconnectInterval) * time.Second
		log.Printf("[AMIConn] reconnecting in %s", interval)
		time.Sleep(interval)

		if err := c.dialAndLogin(); err != nil {
			log.Printf("[AMIConn] reconnect failed: %v", err)
			continue
		}
		go c.readLoop()
		return
	}
}

// Connected reports whether the underlying socket is currently up.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears down the connection and stops any further reconnects.
func (c *Conn) Close() error {
	close(c.done)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
