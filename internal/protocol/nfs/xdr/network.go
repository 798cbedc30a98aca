package xdr

import "net"

// ExtractClientIP returns the host part of an "ip:port" address for logging.
// Unparseable input is returned unchanged.
func ExtractClientIP(clientAddr string) string {
	if clientAddr == "" {
		return "unknown"
	}

	ip, _, err := net.SplitHostPort(clientAddr)
	if err != nil {
		return clientAddr
	}
	return ip
}
