package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedSerializesSameKey(t *testing.T) {
	k := NewKeyed()

	var mu sync.Mutex
	var active, maxActive int

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := k.Acquire("identity-1")
			defer release()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "holders of the same key must never overlap")
}

func TestKeyedIndependentKeysDoNotBlock(t *testing.T) {
	k := NewKeyed()

	releaseA := k.Acquire("a")
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB := k.Acquire("b")
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquiring an independent key blocked behind another key")
	}
}

func TestKeyedDropsUnusedEntries(t *testing.T) {
	k := NewKeyed()

	release := k.Acquire("short-lived")
	release()
	// Double release must be a no-op.
	release()

	k.mu.Lock()
	defer k.mu.Unlock()
	require.Empty(t, k.entries)
}
