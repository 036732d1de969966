package cache

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestInsertEvictsOldest(t *testing.T) {
	var evicted []int64
	c := New[int64, string](3, func(k int64, _ string) { evicted = append(evicted, k) })

	for k := int64(1); k <= 5; k++ {
		c.Insert(k, "v")
	}

	if diff := cmp.Diff([]int64{1, 2}, evicted); diff != "" {
		t.Errorf("evicted (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{3, 4, 5}, c.Keys()); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}
	if c.Len() != 3 || c.Evictions() != 2 {
		t.Errorf("Len = %d, Evictions = %d", c.Len(), c.Evictions())
	}
}

func TestFindDoesNotRefresh(t *testing.T) {
	c := New[int, int](2, nil)
	c.Insert(1, 10)
	c.Insert(2, 20)

	if v, ok := c.Find(1); !ok || v != 10 {
		t.Fatalf("Find(1) = %d, %v", v, ok)
	}
	c.Insert(3, 30)

	if _, ok := c.Find(1); ok {
		t.Error("key 1 survived; lookups must not change eviction order")
	}
	if _, ok := c.Find(2); !ok {
		t.Error("key 2 evicted out of order")
	}
}

func TestRemoveIsNotEviction(t *testing.T) {
	calls := 0
	c := New[int, int](2, func(int, int) { calls++ })
	c.Insert(1, 1)

	if !c.Remove(1) {
		t.Fatal("Remove(1) = false")
	}
	if c.Remove(1) {
		t.Error("second Remove(1) = true")
	}
	if calls != 0 {
		t.Errorf("onEvict called %d times for Remove", calls)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after Remove", c.Len())
	}
}

func TestReplaceKeepsPosition(t *testing.T) {
	var got []int
	c := New[int, int](2, func(_ int, v int) { got = append(got, v) })
	c.Insert(1, 100)
	c.Insert(2, 200)
	c.Insert(1, 101) // replaces in place, old value handed back

	c.Insert(3, 300) // evicts key 1, still the oldest

	if diff := cmp.Diff([]int{100, 101}, got); diff != "" {
		t.Errorf("evicted values (-want +got):\n%s", diff)
	}
}

func TestClear(t *testing.T) {
	n := 0
	c := New[string, int](4, func(string, int) { n++ })
	c.Insert("a", 1)
	c.Insert("b", 2)
	c.Clear()
	if n != 2 || c.Len() != 0 {
		t.Errorf("Clear: evicted %d, Len %d", n, c.Len())
	}
	c.Insert("c", 3)
	if v, ok := c.Find("c"); !ok || v != 3 {
		t.Error("cache unusable after Clear")
	}
}

func TestDepthFloor(t *testing.T) {
	c := New[int, int](0, nil)
	if c.Depth() != 1 {
		t.Errorf("Depth = %d, want 1", c.Depth())
	}
}

func TestEachVisitsOldestFirst(t *testing.T) {
	c := New[int, string](3, nil)
	c.Insert(2, "b")
	c.Insert(1, "a")
	c.Insert(3, "c")

	var keys []int
	var values []string
	c.Each(func(k int, v string) {
		keys = append(keys, k)
		values = append(values, v)
	})
	if diff := cmp.Diff([]int{2, 1, 3}, keys); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b", "a", "c"}, values); diff != "" {
		t.Errorf("values (-want +got):\n%s", diff)
	}
}
