// ABOUTME: Tests for the tool registry: ordering, duplicates, replacement and change listeners.
// ABOUTME: Includes a concurrent read/write check under the race detector.

package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
)

func noopDescriptor(name, source string) Descriptor {
	return Descriptor{
		Name:   name,
		Source: source,
		Handler: func(context.Context, Arguments) (any, error) {
			return name, nil
		},
	}
}

func TestRegistryRegister(t *testing.T) {
	t.Run("preserves insertion order", func(t *testing.T) {
		r := NewRegistry(slog.Default())
		for _, name := range []string{"zeta", "alpha", "mid"} {
			if err := r.Register(noopDescriptor(name, "test")); err != nil {
				t.Fatalf("Register(%s) error = %v", name, err)
			}
		}

		list := r.List()
		got := make([]string, len(list))
		for i, fn := range list {
			got[i] = fn.Name()
		}
		want := []string{"zeta", "alpha", "mid"}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("List() order = %v, want %v", got, want)
			}
		}
	})

	t.Run("rejects duplicate names", func(t *testing.T) {
		r := NewRegistry(slog.Default())
		if err := r.Register(noopDescriptor("dup", "test")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		err := r.Register(noopDescriptor("dup", "test"))
		var dupErr *DuplicateToolError
		if !errors.As(err, &dupErr) {
			t.Fatalf("expected DuplicateToolError, got %v", err)
		}
		if dupErr.Name != "dup" {
			t.Errorf("Name = %q, want %q", dupErr.Name, "dup")
		}
		if r.Len() != 1 {
			t.Errorf("Len() = %d, want 1", r.Len())
		}
	})

	t.Run("rejects invalid descriptors", func(t *testing.T) {
		r := NewRegistry(slog.Default())
		if err := r.Register(Descriptor{Name: "no-handler"}); err == nil {
			t.Fatal("expected error for descriptor without handler")
		}
	})
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry(slog.Default())
	_ = r.Register(noopDescriptor("a", "test"))
	_ = r.Register(noopDescriptor("b", "test"))
	_ = r.Register(noopDescriptor("c", "test"))

	if !r.Unregister("b") {
		t.Fatal("Unregister(b) = false, want true")
	}
	if r.Unregister("b") {
		t.Fatal("second Unregister(b) = true, want false")
	}
	if _, ok := r.Lookup("b"); ok {
		t.Error("b still resolvable after Unregister")
	}
	list := r.List()
	if len(list) != 2 || list[0].Name() != "a" || list[1].Name() != "c" {
		t.Errorf("unexpected list after unregister: %v", list)
	}
}

func TestRegistryReplace(t *testing.T) {
	r := NewRegistry(slog.Default())
	_ = r.Register(noopDescriptor("builtin_one", "builtin"))
	if err := r.Replace("weather", []Descriptor{noopDescriptor("weather_now", ""), noopDescriptor("weather_week", "")}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	t.Run("swaps a source's tools", func(t *testing.T) {
		if err := r.Replace("weather", []Descriptor{noopDescriptor("weather_today", "")}); err != nil {
			t.Fatalf("Replace() error = %v", err)
		}
		if _, ok := r.Lookup("weather_now"); ok {
			t.Error("weather_now should be gone")
		}
		fn, ok := r.Lookup("weather_today")
		if !ok {
			t.Fatal("weather_today missing")
		}
		if fn.Descriptor().Source != "weather" {
			t.Errorf("Source = %q, want weather", fn.Descriptor().Source)
		}
	})

	t.Run("refuses to shadow another source", func(t *testing.T) {
		err := r.Replace("weather", []Descriptor{noopDescriptor("builtin_one", "")})
		var dupErr *DuplicateToolError
		if !errors.As(err, &dupErr) {
			t.Fatalf("expected DuplicateToolError, got %v", err)
		}
		if _, ok := r.Lookup("weather_today"); !ok {
			t.Error("failed replacement must leave registry unchanged")
		}
	})

	t.Run("empty replacement removes the source", func(t *testing.T) {
		if err := r.Replace("weather", nil); err != nil {
			t.Fatalf("Replace() error = %v", err)
		}
		if r.Len() != 1 {
			t.Errorf("Len() = %d, want 1", r.Len())
		}
	})
}

func TestRegistryOnChange(t *testing.T) {
	r := NewRegistry(slog.Default())
	var calls atomic.Int32
	r.OnChange(func() { calls.Add(1) })

	_ = r.Register(noopDescriptor("a", "test"))
	_ = r.Register(noopDescriptor("a", "test")) // duplicate, no change
	r.Unregister("a")
	_ = r.Replace("svc", []Descriptor{noopDescriptor("svc_x", "")})

	if got := calls.Load(); got != 3 {
		t.Errorf("change notifications = %d, want 3", got)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(slog.Default())
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(noopDescriptor(fmt.Sprintf("tool-%d", i), "test"))
		}(i)
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, fn := range r.List() {
				_, _ = r.Lookup(fn.Name())
			}
		}()
	}
	wg.Wait()

	if r.Len() != 10 {
		t.Errorf("Len() = %d, want 10", r.Len())
	}
}
