// Package user は利用者のプロフィール管理を提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/model"
	"github.com/hitoshi/kuzamarket/internal/repository"
	"github.com/hitoshi/kuzamarket/internal/search"
	"github.com/hitoshi/kuzamarket/internal/security"
)

// 氏名の文字数制限
const (
	minNameLength = 2
	maxNameLength = 50
)

// ItemLister は出品者の出品一覧を取得する。
type ItemLister interface {
	Search(ctx context.Context, plan search.Plan) ([]*model.Item, error)
}

// Service はプロフィール管理のサービス層。
type Service struct {
	profiles  repository.ProfileRepository
	items     ItemLister
	sanitizer *security.TextSanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(profiles repository.ProfileRepository, items ItemLister, sanitizer *security.TextSanitizer) *Service {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	return &Service{profiles: profiles, items: items, sanitizer: sanitizer}
}

// UpdateInput はプロフィール更新の入力。nilの項目は変更しない。
type UpdateInput struct {
	FullName   *string `json:"full_name"`
	Phone      *string `json:"phone"`
	University *string `json:"university"`
	Location   *string `json:"location"`
	AvatarURL  *string `json:"avatar_url"`
}

// Get はサインイン中の利用者のプロフィールを返す。
func (s *Service) Get(ctx context.Context, id *identity.Identity) (*model.Profile, error) {
	if !id.SignedIn() {
		return nil, model.NewAuthRequiredError("view your profile")
	}
	return s.find(ctx, id.UserID)
}

func (s *Service) find(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewRemoteFailureError("load the profile", err)
	}
	if p == nil {
		return nil, model.NewProfileNotFoundError(userID)
	}
	return p, nil
}

// Update はサインイン中の利用者のプロフィールを更新する。
// 所有者以外のプロフィールは更新できないため、対象は常に識別情報の利用者になる。
func (s *Service) Update(ctx context.Context, id *identity.Identity, in UpdateInput) (*model.Profile, *model.Notice, error) {
	if !id.SignedIn() {
		return nil, nil, model.NewAuthRequiredError("update your profile")
	}

	current, err := s.find(ctx, id.UserID)
	if err != nil {
		return nil, nil, err
	}

	next := *current
	if in.FullName != nil {
		name := s.sanitizer.Line(*in.FullName)
		if n := len([]rune(name)); n < minNameLength || n > maxNameLength {
			return nil, nil, model.NewValidationError("full name", fmt.Sprintf("must be %d to %d characters", minNameLength, maxNameLength))
		}
		next.FullName = name
	}
	if in.Phone != nil {
		next.Phone = s.sanitizer.Line(*in.Phone)
	}
	if in.University != nil {
		next.University = s.sanitizer.Line(*in.University)
	}
	if in.Location != nil {
		next.Location = s.sanitizer.Line(*in.Location)
	}
	if in.AvatarURL != nil {
		raw := strings.TrimSpace(*in.AvatarURL)
		avatar := security.HTTPURL(raw)
		if raw != "" && avatar == "" {
			return nil, nil, model.NewInvalidURLError("avatar must be an http or https URL")
		}
		next.AvatarURL = avatar
	}

	updated, err := s.profiles.Update(ctx, &next)
	if err != nil {
		slog.Error("failed to update profile",
			slog.String("user_id", id.UserID),
			slog.String("error", err.Error()),
		)
		return nil, nil, model.NewRemoteFailureError("update your profile", err)
	}
	if updated == nil {
		return nil, nil, model.NewProfileNotFoundError(id.UserID)
	}
	return updated, model.NewNotice("Profile Updated", "Your profile information has been updated successfully."), nil
}

// PublicProfile は出品者ページに表示する公開情報。
type PublicProfile struct {
	ID          string        `json:"id"`
	FullName    string        `json:"full_name"`
	AvatarURL   string        `json:"avatar_url,omitempty"`
	University  string        `json:"university,omitempty"`
	Location    string        `json:"location,omitempty"`
	MemberSince time.Time     `json:"member_since"`
	Items       []*model.Item `json:"items"`
}

// Public は出品者の公開プロフィールと出品一覧を返す。電話番号は含めない。
func (s *Service) Public(ctx context.Context, userID string) (*PublicProfile, error) {
	p, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := &PublicProfile{
		ID:          p.ID,
		FullName:    p.FullName,
		AvatarURL:   p.AvatarURL,
		University:  p.University,
		Location:    p.Location,
		MemberSince: p.CreatedAt,
		Items:       []*model.Item{},
	}
	if s.items != nil {
		items, err := s.items.Search(ctx, search.Plan{OwnerID: p.ID, Order: search.OrderDateDesc})
		if err != nil {
			return nil, model.NewRemoteFailureError("load the seller's listings", err)
		}
		out.Items = items
	}
	return out, nil
}
