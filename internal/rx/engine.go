// Package rx is the receive side of the MultiSense protocol: it reads
// datagrams from one UDP socket, reassembles multi-datagram messages and
// hands complete messages to the dispatcher.
package rx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/multisense/internal/bufpool"
	"github.com/banshee-data/multisense/internal/cache"
	"github.com/banshee-data/multisense/internal/config"
	"github.com/banshee-data/multisense/internal/dispatch"
	"github.com/banshee-data/multisense/internal/monitoring"
	"github.com/banshee-data/multisense/internal/reassembly"
	"github.com/banshee-data/multisense/internal/timeutil"
	"github.com/banshee-data/multisense/internal/wire"
)

var (
	// ErrStopped is returned once the engine has been closed.
	ErrStopped = errors.New("receive engine stopped")

	// ErrMissingFirstFragment is returned for a fragment of a message whose
	// first datagram was never seen. The message cannot be assembled.
	ErrMissingFirstFragment = errors.New("fragment without first datagram")

	// ErrUnexpectedReply is returned by AwaitAck when the key was signalled
	// with something other than an acknowledgement.
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// Defaults used for zero Config fields.
const (
	DefaultAddress           = ":0"
	DefaultTrackerCacheDepth = 10
	DefaultPollTimeout       = 200 * time.Millisecond
	DefaultMaxDatagramSize   = 9000
	DefaultReplyTimeout      = 200 * time.Millisecond
)

// Config configures an Engine. Zero fields take defaults.
type Config struct {
	// Address is the local UDP address to bind, ":0" for any free port.
	Address string
	// Socket, when set, is used instead of opening one.
	Socket UDPSocket
	// SocketFactory opens the socket when Socket is nil.
	SocketFactory UDPSocketFactory

	Pool              bufpool.Config
	TrackerCacheDepth int
	MetaCacheDepth    int
	PollTimeout       time.Duration
	RecvBufferBytes   int
	MaxDatagramSize   int
	NetworkTimeSync   bool
	ReplyTimeout      time.Duration
	StatsLogInterval  time.Duration

	Translator timeutil.Translator
	Clock      timeutil.Clock
	Registry   *dispatch.Registry
	// OnReply is passed to the dispatcher as its stored-reply hook.
	OnReply func(wire.Message)
}

// ConfigFromEngine maps the file configuration onto an engine Config.
func ConfigFromEngine(c *config.EngineConfig) Config {
	return Config{
		Pool: bufpool.Config{
			SmallSize:  c.GetSmallBufferSize(),
			SmallCount: c.GetSmallBufferCount(),
			LargeSize:  c.GetLargeBufferSize(),
			LargeCount: c.GetLargeBufferCount(),
		},
		TrackerCacheDepth: c.GetTrackerCacheDepth(),
		MetaCacheDepth:    c.GetMetaCacheDepth(),
		PollTimeout:       c.GetPollTimeout(),
		RecvBufferBytes:   c.GetRecvBufferBytes(),
		MaxDatagramSize:   c.GetMaxDatagramSize(),
		NetworkTimeSync:   c.GetNetworkTimeSync(),
		ReplyTimeout:      c.GetReplyTimeout(),
		StatsLogInterval:  c.GetStatsLogInterval(),
	}
}

// Engine owns the socket, buffer pool, tracker cache and dispatcher. Run
// drives it from a single goroutine; the query and registration methods are
// safe to call from any goroutine.
type Engine struct {
	sock          UDPSocket
	clock         timeutil.Clock
	pollTimeout   time.Duration
	maxDatagram   int
	replyTimeout  time.Duration
	statsInterval time.Duration

	pool       *bufpool.Pool
	asms       *reassembly.Assemblers
	trackers   *cache.Cache[int64, *reassembly.Tracker]
	dispatcher *dispatch.Dispatcher

	// rxMu is held while a datagram is handled. It serialises Run, Replay
	// and large buffer replacement.
	rxMu      sync.Mutex
	unwrapper reassembly.Unwrapper

	running atomic.Bool
	closed  atomic.Bool

	tailMu sync.Mutex
	tail   map[uuid.UUID]chan string

	stats   counters
	latency latencies
}

// New opens the socket described by cfg and builds the engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.TrackerCacheDepth <= 0 {
		cfg.TrackerCacheDepth = DefaultTrackerCacheDepth
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = DefaultMaxDatagramSize
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}

	sock := cfg.Socket
	if sock == nil {
		if cfg.Address == "" {
			cfg.Address = DefaultAddress
		}
		if cfg.SocketFactory == nil {
			cfg.SocketFactory = RealUDPSocketFactory{}
		}
		addr, err := net.ResolveUDPAddr("udp", cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
		}
		if sock, err = cfg.SocketFactory.ListenUDP("udp", addr); err != nil {
			return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
		}
	}
	if cfg.RecvBufferBytes > 0 {
		if err := sock.SetReadBuffer(cfg.RecvBufferBytes); err != nil {
			monitoring.Logf("rx: warning: failed to set UDP receive buffer size to %d: %v", cfg.RecvBufferBytes, err)
		}
	}

	e := &Engine{
		sock:          sock,
		clock:         cfg.Clock,
		pollTimeout:   cfg.PollTimeout,
		maxDatagram:   cfg.MaxDatagramSize,
		replyTimeout:  cfg.ReplyTimeout,
		statsInterval: cfg.StatsLogInterval,
		pool:          bufpool.New(cfg.Pool),
		asms:          reassembly.NewAssemblers(),
		tail:          make(map[uuid.UUID]chan string),
	}
	e.trackers = cache.New[int64, *reassembly.Tracker](cfg.TrackerCacheDepth, e.evictTracker)
	e.dispatcher = dispatch.New(dispatch.Config{
		Registry:        cfg.Registry,
		Watch:           dispatch.NewWatch(cfg.Clock),
		Translator:      cfg.Translator,
		MetaCacheDepth:  cfg.MetaCacheDepth,
		NetworkTimeSync: cfg.NetworkTimeSync,
		OnStore:         cfg.OnReply,
	})
	return e, nil
}

func (e *Engine) evictTracker(seq int64, t *reassembly.Tracker) {
	e.stats.evictions.Add(1)
	monitoring.Debugf("rx: evicting incomplete %s message seq=%d (%d/%d bytes in %d datagrams)",
		t.ID(), seq, t.Received(), t.Length(), t.Packets())
	t.Release()
}

// Run reads and handles datagrams until ctx is done or the engine is closed.
// Each read waits at most the poll timeout so cancellation is noticed
// promptly. Errors and panics from a single datagram are logged and counted
// and never stop the loop.
func (e *Engine) Run(ctx context.Context) error {
	if e.closed.Load() {
		return ErrStopped
	}
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("receive engine already running")
	}
	defer e.running.Store(false)

	monitoring.Logf("rx: receive loop started on %s", e.sock.LocalAddr())
	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	go e.logStats(statsCtx)

	buf := make([]byte, e.maxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("rx: receive loop stopping: %v", err)
			return err
		}
		if e.closed.Load() {
			return ErrStopped
		}

		e.sock.SetReadDeadline(time.Now().Add(e.pollTimeout))
		n, addr, err := e.sock.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			if errors.Is(err, net.ErrClosed) || e.closed.Load() {
				return fmt.Errorf("%w: %v", ErrStopped, err)
			}
			e.stats.readErrors.Add(1)
			monitoring.Logf("rx: UDP read error: %v", err)
			continue
		}

		if err := e.Handle(buf[:n]); err != nil {
			monitoring.Debugf("rx: dropped datagram from %v: %v", addr, err)
		}
	}
}

// Handle processes one datagram. It is what Run calls for every read and is
// exported for replay and tests. A panic while handling is recovered and
// returned as an error.
func (e *Engine) Handle(datagram []byte) (err error) {
	e.rxMu.Lock()
	defer e.rxMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			e.stats.panics.Add(1)
			err = fmt.Errorf("panic handling datagram: %v", r)
			monitoring.Logf("rx: %v", err)
		}
	}()
	return e.handle(datagram)
}

func (e *Engine) handle(datagram []byte) error {
	e.stats.datagrams.Add(1)
	e.stats.bytes.Add(uint64(len(datagram)))

	h, fragment, err := wire.ParseHeader(datagram)
	if err != nil {
		e.stats.framingErrors.Add(1)
		return err
	}
	seq := e.unwrapper.Unwrap(h.Sequence)

	t, cached := e.trackers.Find(seq)
	if !cached {
		// Without the first datagram there is no id to pick an assembler.
		if h.ByteOffset != 0 {
			e.stats.lateFragments.Add(1)
			return fmt.Errorf("%w: seq=%d offset=%d", ErrMissingFirstFragment, seq, h.ByteOffset)
		}
		if t, err = reassembly.NewTracker(e.pool, e.asms, h.MessageLength, fragment, e.clock.Now()); err != nil {
			switch {
			case errors.Is(err, bufpool.ErrAllocation):
				e.stats.allocFailures.Add(1)
			case errors.Is(err, bufpool.ErrPoolExhausted):
				e.stats.poolExhausted.Add(1)
			default:
				e.stats.assembleErrors.Add(1)
			}
			return fmt.Errorf("seq=%d: %w", seq, err)
		}
	}

	// An uncached tracker belongs to this call and is released on return,
	// including when a panic unwinds through here.
	owned := !cached
	defer func() {
		if owned {
			t.Release()
		}
	}()

	done, err := t.Assemble(h.ByteOffset, fragment)
	if err != nil {
		e.stats.assembleErrors.Add(1)
		if cached {
			e.trackers.Remove(seq)
			owned = true
		}
		return fmt.Errorf("seq=%d: %w", seq, err)
	}
	if !done {
		if !cached {
			e.trackers.Insert(seq, t)
			owned = false
		}
		return nil
	}

	if cached {
		e.trackers.Remove(seq)
		owned = true
		e.latency.add(e.clock.Since(t.Started()))
	}

	e.stats.messages.Add(1)
	e.publishTail(seq, t)
	if err := e.dispatcher.Dispatch(t.Buffer()); err != nil {
		e.stats.dispatchErrors.Add(1)
		return fmt.Errorf("seq=%d: %w", seq, err)
	}
	return nil
}

// Close stops Run and closes the socket. Trackers still in flight are
// released and queued listeners are drained.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := e.sock.Close()

	e.rxMu.Lock()
	e.trackers.Clear()
	e.rxMu.Unlock()

	e.dispatcher.Registry().Close()

	e.tailMu.Lock()
	for id, ch := range e.tail {
		close(ch)
		delete(e.tail, id)
	}
	e.tailMu.Unlock()
	return err
}

// Running reports whether Run is active.
func (e *Engine) Running() bool { return e.running.Load() }

// LocalAddr returns the address the engine is receiving on.
func (e *Engine) LocalAddr() net.Addr { return e.sock.LocalAddr() }

// Registry returns the listener registry.
func (e *Engine) Registry() *dispatch.Registry { return e.dispatcher.Registry() }

// Dispatcher returns the message dispatcher.
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }

// RegisterAssembler sets the reassembly strategy for messages with id. A nil
// assembler restores the plain copy.
func (e *Engine) RegisterAssembler(id wire.ID, asm reassembly.Assembler) {
	e.asms.Register(id, asm)
}

// SetNetworkTimeSync turns device-to-host time translation on or off.
func (e *Engine) SetNetworkTimeSync(enabled bool) {
	e.dispatcher.SetNetworkTimeSync(enabled)
}

// ReplaceLargeBuffers swaps the large buffer tier. In-flight messages are
// dropped first so no tracker straddles the old and new tier.
func (e *Engine) ReplaceLargeBuffers(buffers [][]byte) error {
	e.rxMu.Lock()
	defer e.rxMu.Unlock()
	e.trackers.Clear()
	if err := e.pool.ReplaceLarge(buffers); err != nil {
		return fmt.Errorf("replace large buffers: %w", err)
	}
	return nil
}

// LargeBufferDetails returns the recommended number and size of large
// buffers.
func (e *Engine) LargeBufferDetails() (count, size int) {
	return e.pool.LargeDetails()
}

// Expect registers interest in the next message or acknowledgement keyed by
// id. Call it before sending the command so a fast reply is not missed.
func (e *Engine) Expect(id wire.ID) *dispatch.Ticket {
	return e.dispatcher.Watch().Prepare(id)
}

// AwaitReply waits for the next message with id. A zero timeout uses the
// configured reply timeout.
func (e *Engine) AwaitReply(ctx context.Context, id wire.ID, timeout time.Duration) (wire.Message, error) {
	return e.AwaitTicket(ctx, e.Expect(id), timeout)
}

// AwaitTicket waits on a ticket from Expect.
func (e *Engine) AwaitTicket(ctx context.Context, t *dispatch.Ticket, timeout time.Duration) (wire.Message, error) {
	if e.closed.Load() {
		t.Cancel()
		return nil, ErrStopped
	}
	if timeout <= 0 {
		timeout = e.replyTimeout
	}
	return t.Wait(ctx, timeout)
}

// AwaitAck waits for the acknowledgement of command and returns its status.
func (e *Engine) AwaitAck(ctx context.Context, command wire.ID, timeout time.Duration) (wire.Status, error) {
	m, err := e.AwaitReply(ctx, command, timeout)
	if err != nil {
		return 0, err
	}
	return AckStatus(m)
}

// AckStatus extracts the status from a reply signalled under a command id.
func AckStatus(m wire.Message) (wire.Status, error) {
	ack, ok := m.(*wire.Ack)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnexpectedReply, m.MessageID())
	}
	return ack.Status, nil
}
