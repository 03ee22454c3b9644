package search

import (
	"sync"
	"time"

	"github.com/hitoshi/kuzamarket/internal/model"
)

// Ticket は発行済みの検索1回分を表す。Seqはクライアント内で単調増加する。
type Ticket struct {
	Seq   uint64
	Query Query
}

// Runner はクライアント1つ分の検索状態を保持する。
// 最後に発行した検索の応答だけを確定させ、古い応答は破棄する。
type Runner struct {
	mu        sync.Mutex
	issued    uint64
	performed bool
	committed Ticket
	results   []*model.Item
	lastUsed  time.Time
}

// NewRunner は空のRunnerを生成する。
func NewRunner() *Runner {
	return &Runner{lastUsed: time.Now()}
}

// Begin は新しい検索を発行し、シーケンス番号を割り当てる。
func (r *Runner) Begin(q Query) Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued++
	r.performed = true
	r.lastUsed = time.Now()
	return Ticket{Seq: r.issued, Query: q}
}

// Commit は応答を確定させる。最新の発行でない場合は破棄してfalseを返す。
func (r *Runner) Commit(t Ticket, items []*model.Item) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.Seq != r.issued {
		return false
	}
	r.committed = t
	r.results = items
	return true
}

// Fail は失敗した検索を記録する。確定済みの結果はそのまま残す。
// 最新の発行に対する失敗であればtrueを返す。
func (r *Runner) Fail(t Ticket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return t.Seq == r.issued
}

// Results は最後に確定した検索条件と結果を返す。
func (r *Runner) Results() (Ticket, []*model.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed, r.results
}

// Performed は一度でも検索を発行したかを返す。
func (r *Runner) Performed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.performed
}

// Latest は最後に発行したシーケンス番号を返す。
func (r *Runner) Latest() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.issued
}

func (r *Runner) idleSince(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return now.Sub(r.lastUsed)
}

func (r *Runner) touch() {
	r.mu.Lock()
	r.lastUsed = time.Now()
	r.mu.Unlock()
}
