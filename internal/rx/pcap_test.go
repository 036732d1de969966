package rx

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/multisense/internal/bufpool"
	"github.com/banshee-data/multisense/internal/dispatch"
	"github.com/banshee-data/multisense/internal/wire"
)

// writeCapture builds an Ethernet pcap holding one UDP datagram per payload.
func writeCapture(t *testing.T, dstPort uint16, payloads [][]byte) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for i, p := range payloads {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x01, 0x02, 0x03, 0x04, 0x05},
			DstMAC:       net.HardwareAddr{0x00, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(10, 66, 171, 21),
			DstIP:    net.IPv4(10, 66, 171, 1),
		}
		udp := &layers.UDP{SrcPort: 9001, DstPort: layers.UDPPort(dstPort)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(p)))

		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000, int64(i)*int64(time.Millisecond)),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return &out
}

func TestReplay(t *testing.T) {
	e, _ := newEngine(t, Config{})

	var scans []uint32
	e.Registry().AddLidarListener(dispatch.ListenerFunc[dispatch.LidarHeader](func(h *dispatch.LidarHeader, _ *bufpool.Buffer) {
		scans = append(scans, h.ScanID)
	}))

	var payloads [][]byte
	for seq := uint16(1); seq <= 3; seq++ {
		scan := &wire.LidarData{ScanCount: uint32(seq), Distances: make([]uint32, 200), Intensities: make([]uint32, 200)}
		payloads = append(payloads, fragments(t, seq, scan, 600)...)
	}
	payloads = append(payloads, []byte("not a multisense datagram"))

	capture := writeCapture(t, 9002, payloads)
	stats, err := e.Replay(context.Background(), capture, 9002)
	require.NoError(t, err)

	assert.Equal(t, []uint32{1, 2, 3}, scans)
	assert.Equal(t, len(payloads), stats.Packets)
	assert.Equal(t, len(payloads), stats.Matched)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, uint64(1), e.Stats().FramingErrors)
}

func TestReplayFiltersPort(t *testing.T) {
	e, _ := newEngine(t, Config{})
	capture := writeCapture(t, 5000, fragments(t, 1, &wire.SysPps{}, 100))

	stats, err := e.Replay(context.Background(), capture, 9002)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Packets)
	assert.Zero(t, stats.Matched)
	assert.Zero(t, e.Stats().Datagrams)
}

func TestReplayCancelled(t *testing.T) {
	e, _ := newEngine(t, Config{})
	capture := writeCapture(t, 9002, fragments(t, 1, &wire.SysPps{}, 100))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Replay(ctx, capture, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplayFileMissing(t *testing.T) {
	e, _ := newEngine(t, Config{})
	_, err := e.ReplayFile(context.Background(), t.TempDir()+"/missing.pcap", 0)
	assert.Error(t, err)
}
