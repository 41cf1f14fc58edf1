// Package discovery implements peer discovery (C11, §4.11): an SSDP
// responder/seeker used by C8's DISCOVER step, and an mDNS advertisement
// mirroring the teacher's startMDNS convenience lifecycle.
package discovery

import (
	"context"
	"fmt"
	"os"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_pilightd._tcp"

// AdvertiseMDNS registers the broker via mDNS and returns a cleanup
// function; call after the TCP listener is bound and ready. A disabled
// advertisement is a no-op that still returns a valid cleanup func.
func AdvertiseMDNS(ctx context.Context, enabled bool, instanceName string, port int, meta []string) (func(), error) {
	if !enabled {
		return func() {}, nil
	}
	if instanceName == "" {
		host, _ := os.Hostname()
		instanceName = fmt.Sprintf("pilightd-%s", host)
	}
	svc, err := zeroconf.Register(instanceName, mdnsServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done) }, nil
}
