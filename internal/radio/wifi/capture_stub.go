//go:build !pcap
// +build !pcap

package wifi

import (
	"context"
	"fmt"
)

// capture is a stub implementation when live capture support is
// disabled. Build with -tags=pcap to enable monitor-mode sniffing.
func (s *Sniffer) capture(ctx context.Context) error {
	return fmt.Errorf("wifi: live capture not enabled: rebuild with -tags=pcap to sniff %s", s.Interface)
}
