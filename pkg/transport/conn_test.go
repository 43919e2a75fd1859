package transport

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T, opts Options) (*Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return NewConn(client, opts), server
}

func TestConnSendReceive(t *testing.T) {
	conn, server := pipe(t, Options{})

	go func() {
		buf := make([]byte, 3)
		server.Read(buf)
		server.Write([]byte("pong!"))
	}()

	require.NoError(t, conn.Send([]byte("pin")))

	head, err := conn.ReceiveExact(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("po"), head)

	rest, err := conn.ReceiveExact(3)
	require.NoError(t, err)
	assert.Equal(t, []byte("ng!"), rest)
}

func TestConnReceiveZero(t *testing.T) {
	conn, _ := pipe(t, Options{})

	buf, err := conn.ReceiveExact(0)
	require.NoError(t, err)
	assert.Empty(t, buf)
}

func TestConnReadTimeoutBreaksConnection(t *testing.T) {
	conn, server := pipe(t, Options{ReadTimeout: 50 * time.Millisecond})

	go server.Write([]byte{1, 2})

	_, err := conn.ReceiveExact(4)
	require.Error(t, err)

	var netErr net.Error
	assert.True(t, errors.As(err, &netErr) && netErr.Timeout(), "want timeout, got %v", err)

	_, err = conn.ReceiveExact(1)
	assert.ErrorIs(t, err, ErrBroken)

	err = conn.Send([]byte{0})
	assert.ErrorIs(t, err, ErrBroken)
}

func TestConnShortReadBreaksConnection(t *testing.T) {
	conn, server := pipe(t, Options{})

	go func() {
		server.Write([]byte{1, 2, 3})
		server.Close()
	}()

	_, err := conn.ReceiveExact(7)
	require.Error(t, err)

	_, err = conn.ReceiveExact(1)
	assert.ErrorIs(t, err, ErrBroken)
}

func TestConnCloseUnblocksRead(t *testing.T) {
	conn, _ := pipe(t, Options{ReadTimeout: time.Minute})

	done := make(chan error, 1)
	go func() {
		_, err := conn.ReceiveExact(7)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, conn.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("ReceiveExact did not return after Close")
	}
}

func TestConnCloseIdempotent(t *testing.T) {
	conn, _ := pipe(t, Options{})

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	err := conn.Send([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConnSendLargePayload(t *testing.T) {
	conn, server := pipe(t, Options{})
	payload := bytes.Repeat([]byte{0xAB}, 64*1024)

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len(payload))
		n := 0
		for n < len(buf) {
			m, err := server.Read(buf[n:])
			if err != nil {
				break
			}
			n += m
		}
		got <- buf[:n]
	}()

	require.NoError(t, conn.Send(payload))
	assert.Equal(t, payload, <-got)
}
