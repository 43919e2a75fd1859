package transport

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Conn implements Transport over a net.Conn
type Conn struct {
	conn         net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger

	mu     sync.Mutex
	closed bool
	broken error
}

// NewConn wraps an established connection
func NewConn(conn net.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		conn:         conn,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
	}
}

// Send writes b in full under the write timeout
func (c *Conn) Send(b []byte) error {
	if err := c.usable(); err != nil {
		return err
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return c.fail("set write deadline", err)
	}

	if _, err := c.conn.Write(b); err != nil {
		return c.fail("write", err)
	}

	c.logger.Debug("sent", zap.Int("bytes", len(b)))
	return nil
}

// ReceiveExact reads exactly n bytes. Each call gets its own read deadline.
func (c *Conn) ReceiveExact(n int) ([]byte, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return nil, c.fail("set read deadline", err)
	}

	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return nil, c.fail(fmt.Sprintf("read %d bytes", n), err)
	}

	c.logger.Debug("received", zap.Int("bytes", n))
	return buf, nil
}

// Close closes the connection. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.conn.Close()
}

// RemoteAddr returns the server address
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return fmt.Errorf("%w: %v", ErrBroken, c.broken)
	}
	if c.closed {
		return ErrClosed
	}
	return nil
}

// fail marks the connection broken and closes it
func (c *Conn) fail(what string, err error) error {
	c.mu.Lock()
	closedByCaller := c.closed && c.broken == nil
	if c.broken == nil {
		c.broken = err
	}
	c.mu.Unlock()

	c.logger.Warn("transport failure", zap.String("during", what), zap.Error(err))
	c.Close()

	if closedByCaller {
		return fmt.Errorf("%s: %w", what, ErrClosed)
	}
	return fmt.Errorf("%s: %w", what, err)
}
