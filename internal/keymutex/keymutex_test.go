package keymutex

import (
	"sync"
	"testing"
)

func TestLock_SerializesSameKey(t *testing.T) {
	km := New()
	const workers = 32
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("ws-1")
			counter++
			km.Unlock("ws-1")
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Fatalf("counter = %d, want %d", counter, workers)
	}
}

func TestLock_IndependentKeys(t *testing.T) {
	km := New()
	km.Lock("a")
	// A different key must not block.
	done := make(chan struct{})
	go func() {
		km.Lock("b")
		km.Unlock("b")
		close(done)
	}()
	<-done
	km.Unlock("a")
}

func TestUnlock_UnknownKeyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	New().Unlock("never-locked")
}
