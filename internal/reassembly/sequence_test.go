package reassembly

import "testing"

// Feeding a logical counter truncated to 16 bits reproduces the counter,
// across several wraps.
func TestUnwrapMonotonic(t *testing.T) {
	var u Unwrapper
	const n = 3*65536 + 1234
	for logical := int64(0); logical < n; logical++ {
		got := u.Unwrap(uint16(logical))
		if got != logical {
			t.Fatalf("Unwrap(%d) = %d, want %d", uint16(logical), got, logical)
		}
	}
}

func TestUnwrapStrides(t *testing.T) {
	// Larger steps still unwrap as long as consecutive values straddle the
	// center at the wrap.
	var u Unwrapper
	logical := int64(100)
	u.Unwrap(uint16(logical))
	for i := 0; i < 1000; i++ {
		logical += 997
		if got := u.Unwrap(uint16(logical)); got != logical {
			t.Fatalf("step %d: Unwrap = %d, want %d", i, got, logical)
		}
	}
}

func TestUnwrapSeedAndRepeats(t *testing.T) {
	var u Unwrapper
	if _, ok := u.Current(); ok {
		t.Fatal("zero Unwrapper reports a value")
	}

	if got := u.Unwrap(65530); got != 65530 {
		t.Errorf("seed = %d, want 65530", got)
	}
	if got := u.Unwrap(65530); got != 65530 {
		t.Errorf("repeat = %d, want 65530", got)
	}
	if got := u.Unwrap(2); got != 65538 {
		t.Errorf("wrap = %d, want 65538", got)
	}
	// A step backwards is taken as is; duplicates are not detected.
	if got := u.Unwrap(1); got != 65537 {
		t.Errorf("backwards = %d, want 65537", got)
	}
	if cur, ok := u.Current(); !ok || cur != 65537 {
		t.Errorf("Current = %d, %v", cur, ok)
	}
}
