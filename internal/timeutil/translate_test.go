package timeutil

import (
	"testing"
	"time"
)

func TestIdentity(t *testing.T) {
	s, us := Identity.DeviceToHost(12, 345)
	if s != 12 || us != 345 {
		t.Errorf("Identity.DeviceToHost(12, 345) = (%d, %d)", s, us)
	}
}

func TestOffsetTranslator(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
		s, us  uint32
		wantS  uint32
		wantUs uint32
	}{
		{"zero offset", 0, 10, 500, 10, 500},
		{"positive carries into seconds", 600 * time.Millisecond, 10, 500000, 11, 100000},
		{"negative borrows from seconds", -time.Second - 250*time.Microsecond, 10, 100, 8, 999850},
		{"clamps before epoch", -time.Hour, 1, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tr OffsetTranslator
			tr.SetOffset(tt.offset)
			if tr.Offset() != tt.offset {
				t.Fatalf("Offset() = %v, want %v", tr.Offset(), tt.offset)
			}
			s, us := tr.DeviceToHost(tt.s, tt.us)
			if s != tt.wantS || us != tt.wantUs {
				t.Errorf("DeviceToHost(%d, %d) = (%d, %d), want (%d, %d)",
					tt.s, tt.us, s, us, tt.wantS, tt.wantUs)
			}
		})
	}
}

func TestTranslateNanos(t *testing.T) {
	s, us := TranslateNanos(Identity, 3*int64(time.Second)+1500)
	if s != 3 || us != 1 {
		t.Errorf("TranslateNanos = (%d, %d), want (3, 1)", s, us)
	}
}
