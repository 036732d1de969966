package reassembly

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/multisense/internal/wire"
)

// ErrFragmentBounds is returned for a fragment that would write past the end
// of its message.
var ErrFragmentBounds = errors.New("fragment out of bounds")

// Assembler writes one fragment of a message into the message buffer. offset
// is the fragment's byte offset within the message as sent on the wire.
type Assembler interface {
	Assemble(dst []byte, offset uint32, fragment []byte) error
}

// AssemblerFunc adapts a function to Assembler.
type AssemblerFunc func(dst []byte, offset uint32, fragment []byte) error

func (f AssemblerFunc) Assemble(dst []byte, offset uint32, fragment []byte) error {
	return f(dst, offset, fragment)
}

// Sizer is implemented by assemblers whose output differs in size from the
// message on the wire. BufferSize receives the wire message length and the
// first fragment and returns the number of buffer bytes to reserve.
type Sizer interface {
	BufferSize(messageLength uint32, first []byte) (int, error)
}

// Finisher is implemented by assemblers that transform the buffer once every
// fragment has arrived.
type Finisher interface {
	Finish(dst []byte) error
}

// Copy is the default assembler: it writes each fragment at its offset.
var Copy Assembler = copyAssembler{}

type copyAssembler struct{}

func (copyAssembler) Assemble(dst []byte, offset uint32, fragment []byte) error {
	end := uint64(offset) + uint64(len(fragment))
	if end > uint64(len(dst)) {
		return fmt.Errorf("%w: %d bytes at offset %d, buffer holds %d", ErrFragmentBounds, len(fragment), offset, len(dst))
	}
	copy(dst[offset:], fragment)
	return nil
}

// Assemblers maps message ids to assembler strategies. Unregistered ids use
// Copy. It is safe for concurrent use.
type Assemblers struct {
	mu     sync.RWMutex
	custom map[wire.ID]Assembler
}

// NewAssemblers returns a registry preloaded with the disparity unpacker.
func NewAssemblers() *Assemblers {
	return &Assemblers{custom: map[wire.ID]Assembler{
		wire.IDDisparity: Disparity{},
	}}
}

// Register sets the assembler for id. A nil assembler restores Copy.
func (a *Assemblers) Register(id wire.ID, asm Assembler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if asm == nil {
		delete(a.custom, id)
		return
	}
	a.custom[id] = asm
}

// For returns the assembler for id.
func (a *Assemblers) For(id wire.ID) Assembler {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if asm, ok := a.custom[id]; ok {
		return asm
	}
	return Copy
}

// Disparity unpacks 12-bit disparity images into 16-bit pixels. Packed pixel
// bytes are staged at the tail of the buffer while fragments arrive and
// expanded in place by Finish.
type Disparity struct{}

func disparityGeometry(first []byte) (pixels int, err error) {
	if len(first) < wire.DisparityMetaSize {
		return 0, fmt.Errorf("%w: disparity first fragment of %d bytes", ErrFragmentBounds, len(first))
	}
	r := wire.NewReader(first[wire.MessagePrefixSize:])
	r.Int64() // frame id
	w, h := r.Uint16(), r.Uint16()
	return int(w) * int(h), nil
}

// BufferSize implements Sizer.
func (Disparity) BufferSize(messageLength uint32, first []byte) (int, error) {
	pixels, err := disparityGeometry(first)
	if err != nil {
		return 0, err
	}
	want := wire.DisparityMetaSize + wire.PackedDisparityLength(pixels)
	if int(messageLength) != want {
		return 0, fmt.Errorf("disparity message of %d bytes, geometry needs %d", messageLength, want)
	}
	return wire.DisparityMetaSize + pixels*2, nil
}

func (Disparity) layout(dst []byte) (pixels, stage int) {
	pixels = (len(dst) - wire.DisparityMetaSize) / 2
	stage = len(dst) - wire.PackedDisparityLength(pixels)
	return pixels, stage
}

// Assemble implements Assembler. The meta header is copied in place and the
// packed pixel bytes go to the staging area.
func (d Disparity) Assemble(dst []byte, offset uint32, fragment []byte) error {
	_, stage := d.layout(dst)
	packedLen := len(dst) - stage

	end := uint64(offset) + uint64(len(fragment))
	if end > uint64(wire.DisparityMetaSize+packedLen) {
		return fmt.Errorf("%w: disparity fragment ends at %d, message holds %d", ErrFragmentBounds, end, wire.DisparityMetaSize+packedLen)
	}

	off := int(offset)
	if off < wire.DisparityMetaSize {
		n := min(len(fragment), wire.DisparityMetaSize-off)
		copy(dst[off:], fragment[:n])
		fragment = fragment[n:]
		off += n
	}
	copy(dst[stage+off-wire.DisparityMetaSize:], fragment)
	return nil
}

// Finish implements Finisher.
func (d Disparity) Finish(dst []byte) error {
	pixels, stage := d.layout(dst)
	wire.UnpackDisparity(dst[wire.DisparityMetaSize:], dst[stage:], pixels)
	return nil
}
