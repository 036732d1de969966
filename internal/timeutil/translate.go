package timeutil

import (
	"sync/atomic"
	"time"
)

// Translator converts a device timestamp into host time. The receive engine
// only consults it when network time synchronisation is enabled.
type Translator interface {
	DeviceToHost(seconds, microseconds uint32) (uint32, uint32)
}

// TranslatorFunc adapts a plain function to Translator.
type TranslatorFunc func(seconds, microseconds uint32) (uint32, uint32)

func (f TranslatorFunc) DeviceToHost(s, us uint32) (uint32, uint32) { return f(s, us) }

// Identity passes device time through unchanged.
var Identity = TranslatorFunc(func(s, us uint32) (uint32, uint32) { return s, us })

// OffsetTranslator applies a fixed device-to-host offset. The offset is
// typically estimated by the command layer from status round trips and may be
// updated from any goroutine while the receive loop is translating.
type OffsetTranslator struct {
	offset atomic.Int64 // nanoseconds, host minus device
}

// SetOffset records host minus device time.
func (o *OffsetTranslator) SetOffset(d time.Duration) {
	o.offset.Store(int64(d))
}

// Offset returns the current host minus device offset.
func (o *OffsetTranslator) Offset() time.Duration {
	return time.Duration(o.offset.Load())
}

// DeviceToHost implements Translator.
func (o *OffsetTranslator) DeviceToHost(s, us uint32) (uint32, uint32) {
	ns := int64(s)*int64(time.Second) + int64(us)*int64(time.Microsecond)
	return SplitMicros(ns + o.offset.Load())
}

// SplitMicros splits nanoseconds into whole seconds and microseconds. Negative
// values clamp to zero.
func SplitMicros(ns int64) (uint32, uint32) {
	if ns < 0 {
		return 0, 0
	}
	return uint32(ns / int64(time.Second)), uint32((ns % int64(time.Second)) / int64(time.Microsecond))
}

// TranslateNanos converts a device nanosecond timestamp through tr. The
// sub-microsecond remainder is discarded, matching the seconds/microseconds
// resolution of the device headers.
func TranslateNanos(tr Translator, ns int64) (uint32, uint32) {
	s, us := SplitMicros(ns)
	return tr.DeviceToHost(s, us)
}
