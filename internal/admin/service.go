// Package admin は管理ダッシュボードの集計と一覧、出品の強制削除を提供する。
package admin

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/model"
)

// ItemStats は出品の集計を返す。
type ItemStats interface {
	Stats(ctx context.Context) (count int, totalValue float64, err error)
}

// UserDirectory は利用者の件数と一覧を返す。
type UserDirectory interface {
	Count(ctx context.Context) (int, error)
	ListSummaries(ctx context.Context) ([]model.UserSummary, error)
}

// Listings は出品の一覧と削除を行う。
type Listings interface {
	ListAll(ctx context.Context) ([]*model.Item, error)
	Delete(ctx context.Context, id *identity.Identity, itemID string) (*model.Notice, error)
}

// Service は管理者向けのサービス。全ての操作でCapAdminDashboardを要求する。
type Service struct {
	items    ItemStats
	users    UserDirectory
	listings Listings
	authz    identity.Authorizer
}

// NewService はServiceを生成する。
func NewService(items ItemStats, users UserDirectory, listings Listings, authz identity.Authorizer) *Service {
	return &Service{items: items, users: users, listings: listings, authz: authz}
}

// Authorize は管理画面へのアクセス可否を判定する。
func (s *Service) Authorize(id *identity.Identity) error {
	if !id.SignedIn() {
		return model.NewAuthRequiredError("access the admin dashboard")
	}
	if s.authz == nil || !s.authz.Can(id, identity.CapAdminDashboard) {
		return model.NewForbiddenError("access the admin dashboard")
	}
	return nil
}

// Stats は出品数・利用者数・出品価格合計を並行して集計する。
func (s *Service) Stats(ctx context.Context, id *identity.Identity) (*model.DashboardStats, error) {
	if err := s.Authorize(id); err != nil {
		return nil, err
	}

	var stats model.DashboardStats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		count, total, err := s.items.Stats(gctx)
		if err != nil {
			return err
		}
		stats.TotalItems, stats.TotalValue = count, total
		return nil
	})
	g.Go(func() error {
		n, err := s.users.Count(gctx)
		if err != nil {
			return err
		}
		stats.TotalUsers = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, model.NewRemoteFailureError("load dashboard statistics", err)
	}
	return &stats, nil
}

// Items は全出品を新しい順に返す。
func (s *Service) Items(ctx context.Context, id *identity.Identity) ([]*model.Item, error) {
	if err := s.Authorize(id); err != nil {
		return nil, err
	}
	return s.listings.ListAll(ctx)
}

// Users は全利用者を出品数付きで返す。
func (s *Service) Users(ctx context.Context, id *identity.Identity) ([]model.UserSummary, error) {
	if err := s.Authorize(id); err != nil {
		return nil, err
	}
	users, err := s.users.ListSummaries(ctx)
	if err != nil {
		return nil, model.NewRemoteFailureError("load users", err)
	}
	return users, nil
}

// DeleteItem は出品を削除する。所有者確認は出品サービスの権限判定に委ねる。
func (s *Service) DeleteItem(ctx context.Context, id *identity.Identity, itemID string) (*model.Notice, error) {
	if err := s.Authorize(id); err != nil {
		return nil, err
	}
	return s.listings.Delete(ctx, id, itemID)
}
