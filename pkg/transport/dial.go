package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"go.uber.org/zap"
)

// DefaultServerAddress is used when no server.info is available
const DefaultServerAddress = "127.0.0.1:1234"

// Dial connects to the relay. address is host:port or a multiaddr such as
// /ip4/127.0.0.1/tcp/1234 or /dns4/relay.example/tcp/1234.
func Dial(ctx context.Context, address string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	network, hostport, err := ResolveAddress(address)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, network, hostport)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	opts.Logger.Info("connected to relay",
		zap.String("address", hostport),
		zap.String("network", network))

	return NewConn(conn, opts), nil
}

// ResolveAddress turns a configured address into net.Dial arguments
func ResolveAddress(address string) (network, hostport string, err error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", "", fmt.Errorf("empty server address")
	}

	if !strings.HasPrefix(address, "/") {
		if _, _, err := net.SplitHostPort(address); err != nil {
			return "", "", fmt.Errorf("invalid server address %q: %w", address, err)
		}
		return "tcp", address, nil
	}

	maddr, err := multiaddr.NewMultiaddr(address)
	if err != nil {
		return "", "", fmt.Errorf("invalid multiaddr %q: %w", address, err)
	}

	network, hostport, err = manet.DialArgs(maddr)
	if err != nil {
		return "", "", fmt.Errorf("unsupported multiaddr %q: %w", address, err)
	}
	if !strings.HasPrefix(network, "tcp") {
		return "", "", fmt.Errorf("unsupported multiaddr %q: relay speaks tcp, not %s", address, network)
	}

	return network, hostport, nil
}

// ReadServerInfo reads the legacy server.info file: host:port on the first
// line. A missing or malformed file yields DefaultServerAddress.
func ReadServerInfo(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return DefaultServerAddress
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return DefaultServerAddress
	}

	line := strings.TrimSpace(scanner.Text())
	host, port, err := net.SplitHostPort(line)
	if err != nil || host == "" {
		return DefaultServerAddress
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return DefaultServerAddress
	}

	return line
}
