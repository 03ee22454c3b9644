package identity

import "sync"

// Bus は識別情報の状態遷移を購読者に配信する。
// Publishは呼び出し元のゴルーチンで全購読者を順に呼び出す。
type Bus struct {
	mu   sync.RWMutex
	subs map[int]func(Event)
	next int
}

// NewBus は空のBusを生成する。
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe は購読者を登録し、登録解除用の関数を返す。
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish はイベントを全購読者に配信する。
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
