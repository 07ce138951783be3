package csync

import (
	"sort"
	"sync"
	"testing"
)

func TestSetIfAbsentOnlyOneWinner(t *testing.T) {
	m := NewMap[string, int]()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, stored := m.SetIfAbsent("conv", i); stored {
				mu.Lock()
				winners = append(winners, i)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %v", winners)
	}
	if v, _ := m.Get("conv"); v != winners[0] {
		t.Errorf("stored value %d does not match winner %d", v, winners[0])
	}
}

func TestDeleteIfMatchesCurrentValue(t *testing.T) {
	m := NewMap[string, int]()
	m.SetIfAbsent("a", 1)

	if m.DeleteIf("a", func(v int) bool { return v == 2 }) {
		t.Fatalf("expected no delete for mismatched value")
	}
	if !m.DeleteIf("a", func(v int) bool { return v == 1 }) {
		t.Fatalf("expected delete for matching value")
	}
	if _, ok := m.Get("a"); ok {
		t.Errorf("expected key to be gone")
	}
	if m.DeleteIf("missing", func(int) bool { return true }) {
		t.Errorf("expected false for missing key")
	}
}

func TestKeys(t *testing.T) {
	m := NewMap[string, int]()
	m.SetIfAbsent("a", 1)
	m.SetIfAbsent("b", 2)

	keys := m.Keys()
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("Keys() = %v", keys)
	}
}
