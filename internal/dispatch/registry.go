package dispatch

import (
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/multisense/internal/bufpool"
	"github.com/banshee-data/multisense/internal/wire"
)

// Listener receives decoded headers of one category. buf backs any slices in
// the header and is only valid during the call; call buf.Retain to keep it
// and buf.Release when done.
//
// Listeners run on the receive goroutine while the dispatch lock is held.
// They must return quickly and must not add or remove listeners. Wrap slow
// consumers with Queued.
type Listener[H any] interface {
	Dispatch(h *H, buf *bufpool.Buffer)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc[H any] func(h *H, buf *bufpool.Buffer)

func (f ListenerFunc[H]) Dispatch(h *H, buf *bufpool.Buffer) { f(h, buf) }

// Category names a listener set.
type Category string

const (
	CategoryImage Category = "image"
	CategoryLidar Category = "lidar"
	CategoryPps   Category = "pps"
	CategoryImu   Category = "imu"
)

type entry[H any] struct {
	id   uuid.UUID
	mask wire.SourceType
	l    Listener[H]
}

type listenerSet[H any] []entry[H]

func (s listenerSet[H]) fanout(source wire.SourceType, h *H, buf *bufpool.Buffer) int {
	n := 0
	for _, e := range s {
		if source.Matches(e.mask) {
			e.l.Dispatch(h, buf)
			n++
		}
	}
	return n
}

func (s *listenerSet[H]) remove(id uuid.UUID) (Listener[H], bool) {
	for i, e := range *s {
		if e.id == id {
			*s = append((*s)[:i], (*s)[i+1:]...)
			return e.l, true
		}
	}
	return nil, false
}

// Registry holds the four listener sets. Fan-out runs under a read lock and
// registration under the write lock, so a listener is never called after
// Remove returns.
type Registry struct {
	mu    sync.RWMutex
	image listenerSet[ImageHeader]
	lidar listenerSet[LidarHeader]
	pps   listenerSet[PpsHeader]
	imu   listenerSet[ImuHeader]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddImageListener subscribes l to images whose source is selected by mask.
func (r *Registry) AddImageListener(mask wire.SourceType, l Listener[ImageHeader]) uuid.UUID {
	id := uuid.New()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.image = append(r.image, entry[ImageHeader]{id: id, mask: mask, l: l})
	return id
}

// AddLidarListener subscribes l to laser scans.
func (r *Registry) AddLidarListener(l Listener[LidarHeader]) uuid.UUID {
	id := uuid.New()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lidar = append(r.lidar, entry[LidarHeader]{id: id, mask: wire.SourceLidarScan, l: l})
	return id
}

// AddPpsListener subscribes l to PPS events.
func (r *Registry) AddPpsListener(l Listener[PpsHeader]) uuid.UUID {
	id := uuid.New()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pps = append(r.pps, entry[PpsHeader]{id: id, mask: wire.SourceAll, l: l})
	return id
}

// AddImuListener subscribes l to IMU batches.
func (r *Registry) AddImuListener(l Listener[ImuHeader]) uuid.UUID {
	id := uuid.New()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.imu = append(r.imu, entry[ImuHeader]{id: id, mask: wire.SourceImu, l: l})
	return id
}

// Remove unsubscribes the listener registered under id. Queued listeners are
// closed. It reports whether id was registered.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	var removed any
	if l, ok := r.image.remove(id); ok {
		removed = l
	} else if l, ok := r.lidar.remove(id); ok {
		removed = l
	} else if l, ok := r.pps.remove(id); ok {
		removed = l
	} else if l, ok := r.imu.remove(id); ok {
		removed = l
	}
	r.mu.Unlock()

	if removed == nil {
		return false
	}
	if c, ok := removed.(interface{ Close() }); ok {
		c.Close()
	}
	return true
}

// Close removes every listener, closing queued ones.
func (r *Registry) Close() {
	r.mu.Lock()
	var all []any
	for _, e := range r.image {
		all = append(all, e.l)
	}
	for _, e := range r.lidar {
		all = append(all, e.l)
	}
	for _, e := range r.pps {
		all = append(all, e.l)
	}
	for _, e := range r.imu {
		all = append(all, e.l)
	}
	r.image, r.lidar, r.pps, r.imu = nil, nil, nil, nil
	r.mu.Unlock()

	for _, l := range all {
		if c, ok := l.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// Counts returns the number of listeners per category.
func (r *Registry) Counts() map[Category]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[Category]int{
		CategoryImage: len(r.image),
		CategoryLidar: len(r.lidar),
		CategoryPps:   len(r.pps),
		CategoryImu:   len(r.imu),
	}
}

func (r *Registry) dispatchImage(h *ImageHeader, buf *bufpool.Buffer) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.image.fanout(h.Source, h, buf)
}

func (r *Registry) dispatchLidar(h *LidarHeader, buf *bufpool.Buffer) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lidar.fanout(wire.SourceLidarScan, h, buf)
}

func (r *Registry) dispatchPps(h *PpsHeader, buf *bufpool.Buffer) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pps.fanout(wire.SourceAll, h, buf)
}

func (r *Registry) dispatchImu(h *ImuHeader, buf *bufpool.Buffer) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.imu.fanout(wire.SourceImu, h, buf)
}
