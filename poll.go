package vfs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/os-js/OS.js-sub002/internal/logging"
	"go.uber.org/zap"
)

// DefaultPollInterval is used when a PollingTransport gets no interval
const DefaultPollInterval = 5 * time.Second

// PollingTransport gives backends without native change events a Notifier
// by listing a set of directories periodically and diffing the results.
type PollingTransport struct {
	Transport

	interval time.Duration
	dirs     []string
}

// NewPollingTransport wraps t and watches dirs, which default to the
// root of t's mount.
func NewPollingTransport(t Transport, interval time.Duration, dirs ...string) *PollingTransport {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollingTransport{Transport: t, interval: interval, dirs: dirs}
}

// Unwrap returns the wrapped transport
func (p *PollingTransport) Unwrap() Transport {
	return p.Transport
}

// entryState is what a poll compares between two listings
type entryState struct {
	dir   bool
	size  int64
	mtime time.Time
}

type snapshot map[string]entryState

func (p *PollingTransport) snapshot(ctx context.Context) (snapshot, error) {
	snap := snapshot{}
	for _, d := range p.dirs {
		list, err := p.Transport.Scandir(ctx, NewDir(d))
		if err != nil {
			return nil, fmt.Errorf("poll %s: %w", d, err)
		}
		for _, f := range list {
			snap[f.Path] = entryState{dir: f.IsDir(), size: f.Size, mtime: f.Mtime}
		}
	}
	return snap, nil
}

// diff reports the changes turning prev into next, sorted by path
func diff(prev, next snapshot) []Change {
	var changes []Change
	for p, st := range next {
		old, ok := prev[p]
		switch {
		case !ok && st.dir:
			changes = append(changes, Change{Method: EventMkdir, File: NewDir(p)})
		case !ok, old.dir != st.dir, old.size != st.size, !old.mtime.Equal(st.mtime):
			changes = append(changes, Change{Method: EventWrite, File: NewFile(p)})
		}
	}
	for p, st := range prev {
		if _, ok := next[p]; ok {
			continue
		}
		f := NewFile(p)
		if st.dir {
			f = NewDir(p)
		}
		changes = append(changes, Change{Method: EventUnlink, File: f})
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].File.Path < changes[j].File.Path
	})
	return changes
}

// Notify polls until ctx is done. A failed listing is logged and retried on
// the next tick; the baseline is kept so nothing is reported twice.
func (p *PollingTransport) Notify(ctx context.Context, fn func(Change)) error {
	if len(p.dirs) == 0 {
		return fmt.Errorf("%w: no directories to poll", ErrInvalidArgument)
	}
	logger := logging.FromContext(ctx, zap.NewNop())

	prev, err := p.snapshot(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			next, err := p.snapshot(ctx)
			if err != nil {
				if IsCanceled(err) {
					return err
				}
				logger.Warn("poll failed", zap.Strings("dirs", p.dirs), zap.Error(err))
				continue
			}
			for _, c := range diff(prev, next) {
				fn(c)
			}
			prev = next
		}
	}
}

// pollingFor wraps t in a PollingTransport when mc asks for one through the
// pollInterval and pollPaths options.
func pollingFor(t Transport, mc MountConfig, root string) (Transport, error) {
	raw := mc.Option("pollInterval", "")
	if raw == "" {
		return t, nil
	}
	interval, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: pollInterval %q: %v", ErrInvalidArgument, raw, err)
	}

	dirs := []string{root}
	if paths := mc.Option("pollPaths", ""); paths != "" {
		dirs = dirs[:0]
		for _, d := range strings.Split(paths, ",") {
			d = strings.TrimSpace(d)
			if !HasScheme(d) {
				d = Join(root, d)
			}
			dirs = append(dirs, d)
		}
	}
	return NewPollingTransport(t, interval, dirs...), nil
}
