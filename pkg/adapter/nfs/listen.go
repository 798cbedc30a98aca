package nfs

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	// autoPrefix selects a loopback address from 127.88.0.0/16.
	autoPrefix = "auto:"

	// maxAutoAttempts bounds how many 127.88.x.y addresses are probed.
	maxAutoAttempts = 32
)

// ListenFunc opens a listener. net.Listen satisfies it; tests inject
// failures.
type ListenFunc func(network, address string) (net.Listener, error)

// Listen binds addr. Besides "host:port", it accepts "auto:port", which tries
// 127.88.0.1:port, 127.88.0.2:port and so on, taking the first address that
// binds. This lets several servers share a port on one host, each on its own
// loopback address.
func Listen(addr string, listen ListenFunc) (net.Listener, error) {
	if listen == nil {
		listen = net.Listen
	}

	if !strings.HasPrefix(addr, autoPrefix) {
		return listen("tcp", addr)
	}

	port, err := strconv.ParseUint(strings.TrimPrefix(addr, autoPrefix), 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid auto listen address %q: %w", addr, err)
	}

	var lastErr error
	for counter := uint16(1); counter <= maxAutoAttempts; counter++ {
		candidate := autoAddress(counter, uint16(port))
		l, err := listen("tcp", candidate)
		if err == nil {
			return l, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("no free address for %q after %d attempts: %w", addr, maxAutoAttempts, lastErr)
}

// autoAddress maps a 16-bit counter to 127.88.<hi>.<lo>:port.
func autoAddress(counter, port uint16) string {
	ip := net.IPv4(127, 88, byte(counter>>8), byte(counter))
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
}
