package rx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/multisense/internal/monitoring"
)

// ReplayStats summarises a capture replay.
type ReplayStats struct {
	Packets  int           // packets read from the capture
	Matched  int           // UDP datagrams on the selected port
	Rejected int           // matched datagrams the engine dropped
	Elapsed  time.Duration // wall time spent
}

// ReplayFile feeds the UDP payloads in a pcap capture through the engine, as
// if they had arrived on the socket. Only datagrams to or from port are used;
// port 0 accepts every UDP datagram.
func (e *Engine) ReplayFile(ctx context.Context, path string, port uint16) (ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()
	return e.Replay(ctx, f, port)
}

// Replay is ReplayFile for an already opened capture stream.
func (e *Engine) Replay(ctx context.Context, r io.Reader, port uint16) (stats ReplayStats, err error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return stats, fmt.Errorf("failed to read PCAP header: %w", err)
	}

	start := time.Now()
	defer func() { stats.Elapsed = time.Since(start) }()

	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("rx: replay stopping after %d packets: %v", stats.Packets, err)
			return stats, err
		}

		data, _, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			monitoring.Logf("rx: replay complete: %d packets, %d datagrams, %d dropped in %v",
				stats.Packets, stats.Matched, stats.Rejected, time.Since(start))
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.NoCopy)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if port != 0 && uint16(udp.DstPort) != port && uint16(udp.SrcPort) != port {
			continue
		}

		stats.Matched++
		if err := e.Handle(udp.Payload); err != nil {
			stats.Rejected++
			monitoring.Debugf("rx: replay packet %d: %v", stats.Packets, err)
		}
	}
}
