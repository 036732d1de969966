// Command sim emulates a MultiSense device: it streams camera frames, lidar
// scans, IMU batches and PPS events to a host over UDP so the receive engine
// can be exercised end to end without hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/multisense/internal/wire"
)

var (
	target  = flag.String("target", "127.0.0.1:9001", "Host address to stream to")
	mtu     = flag.Int("mtu", 1500, "Link MTU used to size datagrams")
	fps     = flag.Float64("fps", 10, "Camera frames per second")
	width   = flag.Int("width", 256, "Image width in pixels")
	height  = flag.Int("height", 192, "Image height in pixels")
	frames  = flag.Int("frames", 0, "Stop after this many frames (0 to run until interrupted)")
	dropPct = flag.Float64("drop", 0, "Percentage of datagrams to drop, to exercise reassembly eviction")
	seed    = flag.Int64("seed", 1, "Random seed for datagram drops")
)

// datagramWriter is the part of a connected UDP socket the sender uses.
type datagramWriter interface {
	Write(b []byte) (int, error)
}

// sender encodes messages and writes their datagrams, one sequence number
// per message.
type sender struct {
	w          datagramWriter
	maxPayload int
	seq        uint16
	drop       float64
	rng        *rand.Rand

	messages  int
	datagrams int
	dropped   int
}

func (s *sender) send(m wire.Message) error {
	msg, err := wire.Encode(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.MessageID(), err)
	}
	datagrams, err := wire.Fragment(s.seq, msg, s.maxPayload)
	if err != nil {
		return fmt.Errorf("fragment %s: %w", m.MessageID(), err)
	}
	s.seq++
	s.messages++
	for _, d := range datagrams {
		if s.drop > 0 && s.rng.Float64()*100 < s.drop {
			s.dropped++
			continue
		}
		if _, err := s.w.Write(d); err != nil {
			return fmt.Errorf("write %s: %w", m.MessageID(), err)
		}
		s.datagrams++
	}
	return nil
}

func (s *sender) sendAll(ms ...wire.Message) error {
	for _, m := range ms {
		if err := s.send(m); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	flag.Parse()

	if *fps <= 0 {
		log.Fatal("fps must be positive")
	}
	if maxPayload(*mtu) <= 0 {
		log.Fatalf("mtu %d is too small", *mtu)
	}

	conn, err := net.Dial("udp", *target)
	if err != nil {
		log.Fatalf("failed to dial %s: %v", *target, err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := &sender{
		w:          conn,
		maxPayload: maxPayload(*mtu),
		drop:       *dropPct,
		rng:        rand.New(rand.NewSource(*seed)),
	}
	dev := newDevice(uint16(*width), uint16(*height), float32(*fps), time.Now())

	if err := run(ctx, s, dev, time.Duration(float64(time.Second) / *fps), *frames); err != nil {
		log.Printf("stopped: %v", err)
	}
	log.Printf("sent %d messages in %d datagrams to %s, %d datagrams dropped", s.messages, s.datagrams, *target, s.dropped)
}

// run streams until ctx is done or limit frames (when positive) have been
// sent. Lidar and IMU go out with every frame, PPS once per device second.
func run(ctx context.Context, s *sender, dev *device, period time.Duration, limit int) error {
	if err := s.sendAll(dev.startup()...); err != nil {
		return err
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	lastPps := int64(-1)
	for sent := 0; limit <= 0 || sent < limit; sent++ {
		now := time.Now()
		if err := s.sendAll(dev.frameMessages(now)...); err != nil {
			return err
		}
		if err := s.sendAll(dev.scanMessage(now, period), dev.imuMessage(now, 10)); err != nil {
			return err
		}
		if pps := dev.ppsMessage(now); pps.PpsNanoSeconds != lastPps {
			lastPps = pps.PpsNanoSeconds
			if err := s.send(pps); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
