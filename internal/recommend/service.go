// Package recommend は検索履歴と閲覧・保存の実績から、
// 注目の検索語とおすすめの出品を求める。
package recommend

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/model"
	"github.com/hitoshi/kuzamarket/internal/repository"
	"github.com/hitoshi/kuzamarket/internal/search"
)

// 集計期間と件数
const (
	TrendingWindow   = 7 * 24 * time.Hour
	PopularWindow    = 14 * 24 * time.Hour
	TrendingLimit    = 5
	DefaultLimit     = 8
	MaxLimit         = 24
	recentCategories = 3
)

// ItemSource は出品の読み込み。
type ItemSource interface {
	Search(ctx context.Context, plan search.Plan) ([]*model.Item, error)
	ListPopular(ctx context.Context, since time.Time, limit int) ([]*model.Item, error)
}

// Service は注目の検索語とおすすめの出品を返す。
type Service struct {
	items    ItemSource
	history  repository.SearchHistoryRepository
	fallback []string
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceを生成する。fallbackは履歴がない場合の検索語。
func NewService(items ItemSource, history repository.SearchHistoryRepository, fallback []string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{items: items, history: history, fallback: fallback, logger: logger, now: time.Now}
}

// Trending は直近7日間に多く検索された語を返す。
// 履歴が空か読み込みに失敗した場合はカタログの既定の語を返す。
func (s *Service) Trending(ctx context.Context) []string {
	terms, err := s.history.TopTerms(ctx, s.now().Add(-TrendingWindow), TrendingLimit)
	if err != nil {
		s.logger.Warn("failed to load trending terms", slog.String("error", err.Error()))
	}
	if len(terms) == 0 {
		out := make([]string, len(s.fallback))
		copy(out, s.fallback)
		return out
	}
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		out = append(out, t.Term)
	}
	return out
}

// Recommendations はおすすめの出品を返す。
// サインイン中なら最近検索したカテゴリの新着（自分の出品を除く）、
// 該当がなければ直近14日間の閲覧・保存の多い出品、それもなければ新着を返す。
func (s *Service) Recommendations(ctx context.Context, id *identity.Identity, limit int) ([]*model.Item, error) {
	if limit <= 0 || limit > MaxLimit {
		limit = DefaultLimit
	}

	if id.SignedIn() {
		items, err := s.fromHistory(ctx, id.UserID, limit)
		if err != nil {
			s.logger.Warn("history-based recommendations failed",
				slog.String("user_id", id.UserID),
				slog.String("error", err.Error()),
			)
		} else if len(items) > 0 {
			return items, nil
		}
	}

	popular, err := s.items.ListPopular(ctx, s.now().Add(-PopularWindow), limit)
	if err != nil {
		s.logger.Warn("popular items failed", slog.String("error", err.Error()))
	} else if len(popular) > 0 {
		return popular, nil
	}

	latest, err := s.items.Search(ctx, search.Plan{Order: search.OrderDateDesc, Limit: limit})
	if err != nil {
		return nil, model.NewRemoteFailureError("load recommendations", err)
	}
	return latest, nil
}

func (s *Service) fromHistory(ctx context.Context, userID string, limit int) ([]*model.Item, error) {
	categories, err := s.history.RecentCategories(ctx, userID, recentCategories)
	if err != nil || len(categories) == 0 {
		return nil, err
	}
	return s.items.Search(ctx, search.Plan{
		Categories:   categories,
		ExcludeOwner: userID,
		Order:        search.OrderDateDesc,
		Limit:        limit,
	})
}
