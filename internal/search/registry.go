package search

import (
	"sync"
	"time"
)

// Registry はクライアントIDごとのRunnerを管理する。
// 一定時間使われていないRunnerはバックグラウンドで破棄する。
type Registry struct {
	mu      sync.RWMutex
	runners map[string]*Runner
	ttl     time.Duration
	stopCh  chan struct{}
	done    chan struct{}
}

// NewRegistry はRegistryを生成し、破棄ループを開始する。
// 不要になったらStopを呼ぶこと。
func NewRegistry(ttl, cleanupInterval time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	r := &Registry{
		runners: make(map[string]*Runner),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.cleanupLoop(cleanupInterval)
	return r
}

// For はクライアントのRunnerを返す。存在しない場合は作成する。
func (r *Registry) For(clientID string) *Runner {
	r.mu.RLock()
	runner, ok := r.runners[clientID]
	r.mu.RUnlock()
	if ok {
		runner.touch()
		return runner
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if runner, ok = r.runners[clientID]; ok {
		return runner
	}
	runner = NewRunner()
	r.runners[clientID] = runner
	return runner
}

// Forget はクライアントのRunnerを破棄する。
func (r *Registry) Forget(clientID string) {
	r.mu.Lock()
	delete(r.runners, clientID)
	r.mu.Unlock()
}

// Len は保持しているRunner数を返す。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runners)
}

// Stop は破棄ループを停止する。
func (r *Registry) Stop() {
	close(r.stopCh)
	<-r.done
}

func (r *Registry) cleanupLoop(interval time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictIdle(time.Now())
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) evictIdle(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, runner := range r.runners {
		if runner.idleSince(now) > r.ttl {
			delete(r.runners, id)
		}
	}
}
