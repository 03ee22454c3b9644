// Package item は出品の作成・削除・閲覧と、出品一覧の取得を提供する。
package item

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kuzamarket/internal/config"
	"github.com/hitoshi/kuzamarket/internal/contact"
	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/metrics"
	"github.com/hitoshi/kuzamarket/internal/model"
	"github.com/hitoshi/kuzamarket/internal/repository"
	"github.com/hitoshi/kuzamarket/internal/search"
	"github.com/hitoshi/kuzamarket/internal/security"
	"github.com/hitoshi/kuzamarket/internal/storage"
)

// 一覧の件数
const (
	LatestLimit    = 8
	MaxLatestLimit = 50
	maxTitleLength = 120

	// maxPrice はprice列 NUMERIC(12,2) に収まる最大値。
	maxPrice = 9999999999.99

	DefaultMaxImageSize = 5 << 20
)

// SavedStore は出品に紐づく保存済み参照の操作。
type SavedStore interface {
	ListEntries(ctx context.Context, userID string) ([]model.SavedEntry, error)
	DeleteByItem(ctx context.Context, itemID string) (int64, error)
}

// ImageImporter は外部URLから画像を取り込む。
type ImageImporter interface {
	Fetch(ctx context.Context, rawURL string) (*security.FetchedImage, error)
}

// SavedChecker は閲覧者が出品を保存済みかを判定する。
type SavedChecker interface {
	IsSaved(ctx context.Context, id *identity.Identity, itemID string) bool
}

// Deps はServiceの依存。
type Deps struct {
	Items      repository.ItemRepository
	Saved      SavedStore
	Views      repository.ItemViewRepository
	Profiles   repository.ProfileRepository
	Objects    storage.ObjectStore
	Keys       *storage.KeyGenerator
	Importer   ImageImporter
	Sanitizer  *security.TextSanitizer
	Catalog    *config.Catalog
	Authorizer identity.Authorizer
	Metrics    metrics.MetricsCollector
	Logger     *slog.Logger

	PublicBaseURL string
	MaxImageSize  int64
}

// Service は出品に関するビジネスロジックを提供する。
type Service struct {
	Deps
	now func() time.Time
}

// NewService はServiceを生成する。
func NewService(d Deps) *Service {
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Sanitizer == nil {
		d.Sanitizer = security.NewTextSanitizer()
	}
	if d.Keys == nil {
		d.Keys = storage.NewKeyGenerator()
	}
	if d.MaxImageSize <= 0 {
		d.MaxImageSize = DefaultMaxImageSize
	}
	return &Service{Deps: d, now: time.Now}
}

// ImageUpload は直接アップロードされた画像。形式は申告ではなく内容から判定する。
type ImageUpload struct {
	Body io.Reader
}

// CreateInput は出品作成の入力。
type CreateInput struct {
	Title          string   `json:"title"`
	Price          *float64 `json:"price"`
	Category       string   `json:"category"`
	Description    string   `json:"description"`
	Location       string   `json:"location"`
	ContactEmail   string   `json:"contact_email"`
	ContactPhone   string   `json:"contact_phone"`
	ImageSourceURL string   `json:"image_source_url"`

	Image *ImageUpload `json:"-"`
}

// Create は出品を作成する。画像があれば先にオブジェクトストレージへ保存する。
// 画像の保存後に出品の登録が失敗した場合、画像は残ったままになる。
func (s *Service) Create(ctx context.Context, id *identity.Identity, in CreateInput) (*model.Item, *model.Notice, error) {
	if !id.SignedIn() {
		return nil, nil, model.NewAuthRequiredError("create a listing")
	}

	item, err := s.buildItem(id, in)
	if err != nil {
		return nil, nil, err
	}

	image, err := s.readImage(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	if image != nil {
		url, err := s.storeImage(ctx, image)
		if err != nil {
			return nil, nil, err
		}
		item.ImageURL = url
	}

	if err := s.Items.Create(ctx, item); err != nil {
		s.Logger.Error("failed to create listing",
			slog.String("user_id", id.UserID),
			slog.String("error", err.Error()),
		)
		return nil, nil, model.NewRemoteFailureError("create your listing", err)
	}
	s.Metrics.RecordListingCreated()

	s.Logger.Info("listing created",
		slog.String("item_id", item.ID),
		slog.String("user_id", id.UserID),
		slog.String("category", item.Category),
	)
	return item, model.NewNotice("Listing Created", "Your item has been listed successfully."), nil
}

// buildItem は入力を検証し、保存する出品を組み立てる。
func (s *Service) buildItem(id *identity.Identity, in CreateInput) (*model.Item, error) {
	category := strings.ToLower(strings.TrimSpace(in.Category))
	if category == "" {
		return nil, model.NewCategoryRequiredError()
	}
	if s.Catalog != nil && !s.Catalog.HasCategory(category) {
		return nil, model.NewUnknownCategoryError(category)
	}

	title := s.Sanitizer.Line(in.Title)
	if title == "" {
		return nil, model.NewValidationError("title", "is required")
	}
	if len([]rune(title)) > maxTitleLength {
		return nil, model.NewValidationError("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
	}
	if in.Price == nil {
		return nil, model.NewValidationError("price", "is required")
	}
	price := *in.Price
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return nil, model.NewValidationError("price", "must be zero or more")
	}
	if price > maxPrice {
		return nil, model.NewValidationError("price", "is too large")
	}

	email := strings.TrimSpace(in.ContactEmail)
	if email == "" {
		email = id.Email
	}
	if !contact.ValidEmail(email) {
		return nil, model.NewValidationError("contact_email", "is not a valid address")
	}

	return &model.Item{
		ID:           uuid.New().String(),
		Title:        title,
		Price:        price,
		Category:     category,
		Description:  s.Sanitizer.Text(in.Description),
		Location:     s.Sanitizer.Line(in.Location),
		ContactEmail: email,
		ContactPhone: s.Sanitizer.Line(in.ContactPhone),
		UserID:       id.UserID,
		CreatedAt:    s.now(),
	}, nil
}

type imageData struct {
	data        []byte
	contentType string
}

// readImage はアップロードまたは取り込みで画像を用意する。どちらもなければnilを返す。
func (s *Service) readImage(ctx context.Context, in CreateInput) (*imageData, error) {
	if in.Image != nil && in.Image.Body != nil {
		limit := s.MaxImageSize
		data, err := io.ReadAll(io.LimitReader(in.Image.Body, limit+1))
		if err != nil {
			return nil, model.NewValidationError("image", "could not be read")
		}
		if int64(len(data)) > limit {
			return nil, model.NewValidationError("image", fmt.Sprintf("must be at most %d bytes", limit))
		}
		if len(data) == 0 {
			return nil, nil
		}
		ct := http.DetectContentType(data)
		return &imageData{data: data, contentType: ct}, nil
	}

	src := strings.TrimSpace(in.ImageSourceURL)
	if src == "" {
		return nil, nil
	}
	if s.Importer == nil {
		return nil, model.NewValidationError("image_source_url", "importing images is not enabled")
	}
	fetched, err := s.Importer.Fetch(ctx, src)
	if err != nil {
		s.Logger.Warn("image import failed",
			slog.String("url", src),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return &imageData{data: fetched.Data, contentType: fetched.ContentType}, nil
}

// storeImage は画像を保存して公開URLを返す。
func (s *Service) storeImage(ctx context.Context, img *imageData) (string, error) {
	key, err := s.Keys.ItemImageKey(img.contentType)
	if err != nil {
		return "", model.NewValidationError("image", "must be a JPEG, PNG, WebP or GIF file")
	}
	size := int64(len(img.data))
	if err := s.Objects.Put(ctx, key, bytes.NewReader(img.data), size, img.contentType); err != nil {
		s.Logger.Error("failed to store image",
			slog.String("key", key),
			slog.String("backend", s.Objects.Backend()),
			slog.String("error", err.Error()),
		)
		return "", model.NewRemoteFailureError("upload the image", err)
	}
	s.Metrics.RecordImageUpload(s.Objects.Backend(), size)
	return storage.PublicURL(s.PublicBaseURL, key), nil
}

// Delete は出品を削除する。所有者または削除権限を持つ利用者のみ実行できる。
// 出品を参照する保存を先に削除してから出品を削除する。
func (s *Service) Delete(ctx context.Context, id *identity.Identity, itemID string) (*model.Notice, error) {
	if !id.SignedIn() {
		return nil, model.NewAuthRequiredError("delete a listing")
	}

	item, err := s.Items.FindByID(ctx, itemID)
	if err != nil {
		return nil, model.NewRemoteFailureError("load the listing", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(itemID)
	}

	owner := item.UserID == id.UserID
	if !owner && !s.can(id, identity.CapModerateListings) {
		return nil, model.NewForbiddenError("delete this listing")
	}

	if _, err := s.Saved.DeleteByItem(ctx, itemID); err != nil {
		return nil, model.NewRemoteFailureError("delete the listing", err)
	}
	found, err := s.Items.Delete(ctx, itemID)
	if err != nil {
		return nil, model.NewRemoteFailureError("delete the listing", err)
	}
	if !found {
		return nil, model.NewItemNotFoundError(itemID)
	}
	s.Metrics.RecordListingDeleted(!owner)

	s.Logger.Info("listing deleted",
		slog.String("item_id", itemID),
		slog.String("by", id.UserID),
		slog.Bool("moderated", !owner),
	)
	if owner {
		return model.NewNotice("Item Deleted", "Your listing has been successfully removed"), nil
	}
	return model.NewNotice("Item Deleted", "The listing has been successfully removed"), nil
}

func (s *Service) can(id *identity.Identity, c identity.Capability) bool {
	return s.Authorizer != nil && s.Authorizer.Can(id, c)
}

// Seller は出品詳細に表示する出品者情報。
type Seller struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Detail は出品詳細。
type Detail struct {
	Item    *model.Item          `json:"item"`
	Seller  *Seller              `json:"seller,omitempty"`
	IsSaved bool                 `json:"is_saved"`
	IsOwner bool                 `json:"is_owner"`
	Views   int                  `json:"views"`
	Contact contact.Links        `json:"contact"`
	Pickup  []contact.PickupLink `json:"pickup_points"`
}

// Detail は出品詳細を返す。閲覧者がサインイン中で所有者でなければ閲覧を記録する。
// 出品者情報と閲覧数は取得できなくても詳細の表示を妨げない。
func (s *Service) Detail(ctx context.Context, viewer *identity.Identity, itemID string, saved SavedChecker) (*Detail, error) {
	item, err := s.Items.FindByID(ctx, itemID)
	if err != nil {
		return nil, model.NewRemoteFailureError("load item details", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(itemID)
	}

	d := &Detail{
		Item:    item,
		IsOwner: viewer.SignedIn() && viewer.UserID == item.UserID,
		Contact: contact.ForItem(item.Title, item.Price, item.ContactEmail, item.ContactPhone),
	}
	if s.Catalog != nil {
		d.Pickup = contact.PickupLinks(s.Catalog.PickupPoints)
	}
	if saved != nil && viewer.SignedIn() {
		d.IsSaved = saved.IsSaved(ctx, viewer, item.ID)
	}

	if profile, err := s.Profiles.FindByID(ctx, item.UserID); err != nil {
		s.Logger.Warn("failed to load seller profile",
			slog.String("item_id", item.ID),
			slog.String("error", err.Error()),
		)
	} else if profile != nil {
		d.Seller = &Seller{ID: profile.ID, FullName: profile.FullName, AvatarURL: profile.AvatarURL}
	}

	if s.Views != nil {
		if viewer.SignedIn() && !d.IsOwner {
			if err := s.Views.Record(ctx, item.ID, viewer.UserID); err != nil {
				s.Logger.Warn("failed to record item view",
					slog.String("item_id", item.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		if n, err := s.Views.CountByItem(ctx, item.ID); err == nil {
			d.Views = n
		}
	}
	return d, nil
}

// Latest は新着の出品を返す。limitが範囲外ならLatestLimitを使う。
func (s *Service) Latest(ctx context.Context, limit int) ([]*model.Item, error) {
	if limit <= 0 || limit > MaxLatestLimit {
		limit = LatestLimit
	}
	items, err := s.Items.Search(ctx, search.Plan{Order: search.OrderDateDesc, Limit: limit})
	if err != nil {
		return nil, model.NewRemoteFailureError("load the latest listings", err)
	}
	return items, nil
}

// カテゴリページの並び順
const (
	SortNewest    = "newest"
	SortOldest    = "oldest"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
)

var categoryOrders = map[string]search.Order{
	SortNewest:    search.OrderDateDesc,
	SortOldest:    search.OrderDateAsc,
	SortPriceAsc:  search.OrderPriceAsc,
	SortPriceDesc: search.OrderPriceDesc,
}

// ByCategory はカテゴリの出品を返す。sortが不明な場合は新着順、
// locationが空または"all"の場合は場所で絞り込まない。
func (s *Service) ByCategory(ctx context.Context, category, sortBy, location string) ([]*model.Item, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	if s.Catalog != nil && !s.Catalog.HasCategory(category) {
		return nil, model.NewUnknownCategoryError(category)
	}

	plan := search.Plan{Categories: []string{category}, Order: categoryOrders[sortBy]}
	if loc := strings.TrimSpace(location); loc != "" && !strings.EqualFold(loc, search.All) {
		plan.Location = loc
	}

	items, err := s.Items.Search(ctx, plan)
	if err != nil {
		return nil, model.NewRemoteFailureError("load category items", err)
	}
	return items, nil
}

// ListMine はサインイン中の利用者の出品を新しい順に返す。
func (s *Service) ListMine(ctx context.Context, id *identity.Identity) ([]*model.Item, error) {
	if !id.SignedIn() {
		return nil, model.NewAuthRequiredError("view your listings")
	}
	items, err := s.Items.Search(ctx, search.Plan{OwnerID: id.UserID, Order: search.OrderDateDesc})
	if err != nil {
		return nil, model.NewRemoteFailureError("load your listings", err)
	}
	return items, nil
}

// ListAll は全出品を新しい順に返す。管理画面用。
func (s *Service) ListAll(ctx context.Context) ([]*model.Item, error) {
	items, err := s.Items.Search(ctx, search.Plan{Order: search.OrderDateDesc})
	if err != nil {
		return nil, model.NewRemoteFailureError("load listings", err)
	}
	return items, nil
}

// SavedEntries は保存済みの出品を詳細付きで返す。
// 参照先の出品が削除済みの行はItemがnilのまま含める。
func (s *Service) SavedEntries(ctx context.Context, id *identity.Identity) ([]model.SavedEntry, error) {
	if !id.SignedIn() {
		return nil, model.NewAuthRequiredError("view saved items")
	}
	entries, err := s.Saved.ListEntries(ctx, id.UserID)
	if err != nil {
		return nil, model.NewRemoteFailureError("load your saved items", err)
	}
	return entries, nil
}
