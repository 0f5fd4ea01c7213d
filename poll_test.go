package vfs

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestPollDiff(t *testing.T) {
	mtime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := snapshot{
		"x:///same.txt":    {size: 1, mtime: mtime},
		"x:///grown.txt":   {size: 1},
		"x:///touched.txt": {size: 1, mtime: mtime},
		"x:///gone.txt":    {size: 1},
		"x:///olddir":      {dir: true},
	}
	next := snapshot{
		"x:///same.txt":    {size: 1, mtime: mtime},
		"x:///grown.txt":   {size: 2},
		"x:///touched.txt": {size: 1, mtime: mtime.Add(time.Second)},
		"x:///new.txt":     {size: 0},
		"x:///newdir":      {dir: true},
	}

	var got []string
	for _, c := range diff(prev, next) {
		got = append(got, c.Method+" "+c.File.Path)
	}
	want := []string{
		"vfs:unlink x:///gone.txt",
		"vfs:write x:///grown.txt",
		"vfs:write x:///new.txt",
		"vfs:mkdir x:///newdir",
		"vfs:unlink x:///olddir",
		"vfs:write x:///touched.txt",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("diff() = %v, want %v", got, want)
	}
}

func TestPollingTransportNotify(t *testing.T) {
	m := newMockTransport("cloud", nil)
	m.put("cloud:///a.txt", "a")
	p := NewPollingTransport(m, 10*time.Millisecond, "cloud:///")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var changes []Change
	done := make(chan error, 1)
	go func() {
		done <- p.Notify(ctx, func(c Change) {
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
		})
	}()

	// the first tick starts after the baseline listing
	for m.count("scandir") < 2 {
		time.Sleep(time.Millisecond)
	}
	m.put("cloud:///b.txt", "b")

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(changes)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !IsCanceled(err) {
		t.Errorf("Notify() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 || changes[0].Method != EventWrite || changes[0].File.Path != "cloud:///b.txt" {
		t.Errorf("changes = %+v", changes)
	}
}

func TestPollingTransportCapabilities(t *testing.T) {
	m := newMockTransport("cloud", nil)
	p := NewPollingTransport(m, 0)

	if p.interval != DefaultPollInterval {
		t.Errorf("interval = %v", p.interval)
	}
	if _, ok := capability[Notifier](p); !ok {
		t.Error("PollingTransport is not a Notifier")
	}
	if _, ok := capability[Initializer](p); !ok {
		t.Error("capability lookup does not unwrap")
	}
	if err := p.Notify(context.Background(), func(Change) {}); err == nil {
		t.Error("Notify without directories should fail")
	}
}

func TestMountConfigPolling(t *testing.T) {
	mc := MountConfig{
		Name:      "shared",
		Transport: "null",
		Options:   map[string]any{"pollInterval": "2s", "pollPaths": "docs, other:///inbox"},
	}
	m, err := mc.Build(context.Background(), &Config{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	p, ok := m.Transport.(*PollingTransport)
	if !ok {
		t.Fatalf("Transport = %T, want *PollingTransport", m.Transport)
	}
	if p.interval != 2*time.Second || !reflect.DeepEqual(p.dirs, []string{"shared:///docs", "other:///inbox"}) {
		t.Errorf("interval = %v, dirs = %v", p.interval, p.dirs)
	}

	mc.Options["pollInterval"] = "soon"
	if _, err := mc.Build(context.Background(), &Config{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad interval error = %v", err)
	}
}
