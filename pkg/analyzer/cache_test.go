package analyzer

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/objcflow/objcflow/pkg/loader"
)

// countingBinary counts how many times the analyzer indexes it.
type countingBinary struct {
	*loader.Memory
	indexed atomic.Int32
}

func (c *countingBinary) FunctionStarts() []uint64 {
	c.indexed.Add(1)
	return c.Memory.FunctionStarts()
}

func TestCacheAnalyzesOnce(t *testing.T) {
	bin := &countingBinary{Memory: newFixture()}
	cache := NewCache(nil)

	const workers = 16
	results := make([]*BinaryAnalyzer, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ba, err := cache.Get(bin)
			if err != nil {
				t.Errorf("Get() error = %v", err)
				return
			}
			results[i] = ba
		}(i)
	}
	wg.Wait()

	if n := bin.indexed.Load(); n != 1 {
		t.Errorf("binary indexed %d times, want 1", n)
	}
	for i, ba := range results {
		if ba != results[0] {
			t.Errorf("worker %d got a different analyzer", i)
		}
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}

	cache.Drop(bin)
	if cache.Len() != 0 {
		t.Errorf("Len() after Drop = %d, want 0", cache.Len())
	}
	ba, err := cache.Get(bin)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ba == results[0] {
		t.Error("Get() after Drop returned the dropped analyzer")
	}
	if n := bin.indexed.Load(); n != 2 {
		t.Errorf("binary indexed %d times, want 2", n)
	}
}

func TestCacheKeysByBinary(t *testing.T) {
	cache := NewCache(DefaultConfig())
	a, err := cache.Get(newFixture())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	b, err := cache.Get(newFixture())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if a == b {
		t.Error("distinct binaries share an analyzer")
	}
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}
}
