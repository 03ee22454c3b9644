package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/kuzamarket/internal/metrics"
	"github.com/hitoshi/kuzamarket/internal/model"
)

// ItemSearcher は検索計画に従って商品を読み込む。
type ItemSearcher interface {
	Search(ctx context.Context, plan Plan) ([]*model.Item, error)
}

// HistoryRecorder は実行された検索条件を履歴に残す。
type HistoryRecorder interface {
	Record(ctx context.Context, rec *model.SearchRecord) error
}

// Request は1回の検索要求を表す。
type Request struct {
	ClientID string // 検索状態を保持するクライアントの識別子
	UserID   string // サインイン中の利用者。未サインインなら空
	Query    Query
	Explicit bool // 検索フォームからの明示的な送信
}

// Outcome は検索要求の結果を表す。
type Outcome struct {
	Query     Query
	Params    string // クライアントがURLに反映するクエリ文字列
	Performed bool   // ストアへの読み込みを行ったか
	Stale     bool   // より新しい検索が発行済みのため結果を破棄したか
	Seq       uint64
	Items     []*model.Item
}

// Service は検索の実行とクライアントごとの状態管理を行う。
type Service struct {
	store   ItemSearcher
	history HistoryRecorder
	runners *Registry
	catalog CategoryChecker
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewService はServiceを生成する。historyはnilでもよい。
func NewService(store ItemSearcher, history HistoryRecorder, runners *Registry, catalog CategoryChecker, mc metrics.MetricsCollector, logger *slog.Logger) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		history: history,
		runners: runners,
		catalog: catalog,
		metrics: mc,
		logger:  logger,
	}
}

// Execute は検索条件を正規化・検証し、必要な場合のみストアを読み込む。
// 読み込みに失敗した場合は確定済みの結果を変更せずにエラーを返す。
func (s *Service) Execute(ctx context.Context, req Request) (*Outcome, error) {
	q := req.Query.Normalize()
	if err := q.Validate(s.catalog); err != nil {
		return nil, err
	}

	runner := s.runners.For(req.ClientID)
	out := &Outcome{Query: q, Params: q.Encode()}

	if !q.ShouldExecute(req.Explicit || runner.Performed()) {
		s.metrics.RecordSearch(metrics.SearchSkipped)
		return out, nil
	}

	ticket := runner.Begin(q)
	out.Seq = ticket.Seq
	out.Performed = true

	start := time.Now()
	items, err := s.store.Search(ctx, q.Plan())
	s.metrics.RecordSearchLatency(time.Since(start))
	if err != nil {
		runner.Fail(ticket)
		s.metrics.RecordSearch(metrics.SearchFailed)
		s.logger.Error("search failed",
			slog.String("client_id", req.ClientID),
			slog.String("params", out.Params),
			slog.String("error", err.Error()),
		)
		return nil, model.NewRemoteFailureError("load search results", err)
	}

	if !runner.Commit(ticket, items) {
		s.metrics.RecordSearch(metrics.SearchStale)
		out.Stale = true
		return out, nil
	}
	s.metrics.RecordSearch(metrics.SearchExecuted)
	out.Items = items

	s.recordHistory(ctx, req.UserID, q)
	return out, nil
}

// recordHistory はサインイン中の利用者の検索条件を履歴に残す。
// 失敗しても検索結果には影響させない。
func (s *Service) recordHistory(ctx context.Context, userID string, q Query) {
	if s.history == nil || userID == "" || q.IsDefault() {
		return
	}
	rec := &model.SearchRecord{
		UserID:   userID,
		Query:    q.Term,
		PriceMin: q.PriceMin,
		PriceMax: q.PriceMax,
	}
	if q.Category != All {
		rec.Category = q.Category
	}
	if q.Location != All {
		rec.Location = q.Location
	}
	if err := s.history.Record(ctx, rec); err != nil {
		s.logger.Warn("failed to record search history",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// Last はクライアントが最後に確定させた検索結果を返す。
func (s *Service) Last(clientID string) (Ticket, []*model.Item) {
	return s.runners.For(clientID).Results()
}
