package ratelimit

import (
	"context"
	"sync"
	"time"
)

// userWindow is one user's count for a single wall-clock second.
type userWindow struct {
	sec  int64
	used int
}

// memoryWindow keeps per-user windows in a map keyed by user ID. Stale
// entries are swept when the clock advances so the map stays bounded by the
// number of users active in the last two seconds.
type memoryWindow struct {
	mu      sync.Mutex
	windows map[uint64]userWindow
	sweptAt int64
}

func newMemoryWindow() *memoryWindow {
	return &memoryWindow{windows: make(map[uint64]userWindow)}
}

func (w *memoryWindow) take(_ context.Context, userID uint64, limit int, now time.Time) (Result, error) {
	sec := now.Unix()
	resetAt := time.Unix(sec+1, 0).UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.sweep(sec)

	win := w.windows[userID]
	if win.sec != sec {
		win = userWindow{sec: sec}
	}
	if win.used >= limit {
		w.windows[userID] = win
		return Result{Allowed: false, Limit: limit, ResetAt: resetAt}, nil
	}
	win.used++
	w.windows[userID] = win
	return Result{Allowed: true, Limit: limit, Remaining: limit - win.used, ResetAt: resetAt}, nil
}

// sweep drops windows older than the previous second, at most once per second.
func (w *memoryWindow) sweep(sec int64) {
	if w.sweptAt == sec {
		return
	}
	w.sweptAt = sec
	for id, win := range w.windows {
		if win.sec < sec-1 {
			delete(w.windows, id)
		}
	}
}
