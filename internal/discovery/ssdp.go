package discovery

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/pilightgo/pilightd/internal/logging"
)

// SearchTarget is the SSDP service type C8.DISCOVER searches for and this
// node's responder advertises (§4.11).
const SearchTarget = "urn:pilightd:broker:1"

const ssdpAddr = "239.255.255.250:1900"

// Responder answers M-SEARCH requests naming SearchTarget with a unicast
// LOCATION reply carrying this node's TCP address.
type Responder struct {
	location string
	logger   *slog.Logger
}

// NewResponder builds a responder advertising location (host:port of the
// session TCP listener).
func NewResponder(location string) *Responder {
	return &Responder{location: location, logger: logging.L()}
}

// Run listens on the SSDP multicast group until ctx is cancelled.
func (r *Responder) Run(ctx context.Context) error {
	group, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return fmt.Errorf("discovery: resolve ssdp group: %w", err)
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return fmt.Errorf("discovery: join ssdp group: %w", err)
	}
	defer conn.Close()

	go func() { <-ctx.Done(); _ = conn.Close() }()

	buf := make([]byte, 2048)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if !isSearchFor(buf[:n], SearchTarget) {
			continue
		}
		resp := fmt.Sprintf("HTTP/1.1 200 OK\r\nST: %s\r\nLOCATION: %s\r\nCACHE-CONTROL: max-age=1800\r\n\r\n", SearchTarget, r.location)
		if _, err := conn.WriteToUDP([]byte(resp), from); err != nil {
			r.logger.Warn("ssdp_reply_failed", "to", from.String(), "error", err)
		}
	}
}

func isSearchFor(data []byte, target string) bool {
	sc := bufio.NewScanner(bytes.NewReader(data))
	first := true
	isSearch := false
	hasTarget := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if first {
			first = false
			isSearch = strings.HasPrefix(line, "M-SEARCH")
			continue
		}
		if strings.HasPrefix(strings.ToUpper(line), "ST:") && strings.Contains(line, target) {
			hasTarget = true
		}
	}
	return isSearch && hasTarget
}

// Seek sends an M-SEARCH to the multicast group and returns the LOCATION
// from the first reply received within timeout (C8.DISCOVER's SSDP path).
func Seek(ctx context.Context, timeout time.Duration) (string, error) {
	group, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return "", fmt.Errorf("discovery: resolve ssdp group: %w", err)
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return "", fmt.Errorf("discovery: open ssdp socket: %w", err)
	}
	defer conn.Close()

	req := fmt.Sprintf("M-SEARCH * HTTP/1.1\r\nHOST: %s\r\nMAN: \"ssdp:discover\"\r\nST: %s\r\nMX: 2\r\n\r\n", ssdpAddr, SearchTarget)
	if _, err := conn.WriteToUDP([]byte(req), group); err != nil {
		return "", fmt.Errorf("discovery: send m-search: %w", err)
	}

	deadline := time.Now().Add(timeout)
	_ = conn.SetReadDeadline(deadline)
	buf := make([]byte, 2048)
	for {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return "", fmt.Errorf("discovery: no ssdp reply within %s: %w", timeout, err)
		}
		if loc, ok := locationHeader(buf[:n]); ok {
			return loc, nil
		}
	}
}

func locationHeader(data []byte) (string, bool) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if idx := strings.Index(strings.ToUpper(line), "LOCATION:"); idx == 0 {
			return strings.TrimSpace(line[len("LOCATION:"):]), true
		}
	}
	return "", false
}
