package config

import (
	"sync"
	"testing"
)

func TestManagerGetSet(t *testing.T) {
	initial := &Config{General: General{LogLevel: "info"}}
	mgr := NewManager(initial)

	if got := mgr.Get(); got != initial {
		t.Fatal("expected Get to return the initial config")
	}

	next := &Config{General: General{LogLevel: "debug"}}
	mgr.Set(next)
	if got := mgr.Get(); got != next {
		t.Fatal("expected Get to return the swapped config")
	}
}

func TestManagerReload(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	mgr := NewManager(Default())

	if err := mgr.Reload(path); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if mgr.Get().General.LogLevel != "debug" {
		t.Fatalf("expected reloaded log level, got %q", mgr.Get().General.LogLevel)
	}
}

func TestManagerReloadKeepsOldConfigOnFailure(t *testing.T) {
	initial := Default()
	mgr := NewManager(initial)

	badPath := writeTestConfig(t, `
[calendar]
timezone = "Nowhere/Nothing"
`)
	if err := mgr.Reload(badPath); err == nil {
		t.Fatal("expected reload of invalid config to fail")
	}
	if mgr.Get() != initial {
		t.Fatal("failed reload must leave the previous config active")
	}
}

func TestManagerReloadRequiresPath(t *testing.T) {
	mgr := NewManager(Default())
	if err := mgr.Reload(""); err == nil {
		t.Fatal("expected error for empty reload path")
	}
}

func TestManagerConcurrentReadWithWrites(t *testing.T) {
	mgr := NewManager(Default())

	const readers = 16
	const readsPerReader = 500
	const writes = 100

	var wg sync.WaitGroup
	wg.Add(readers + 1)

	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < readsPerReader; j++ {
				if cfg := mgr.Get(); cfg == nil {
					t.Error("got nil config during concurrent read")
					return
				}
			}
		}()
	}

	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			mgr.Set(Default())
		}
	}()

	wg.Wait()
}
