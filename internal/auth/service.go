// Package auth はメールアドレスとパスワードによるサインイン、サインアップ、
// セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/model"
	"github.com/hitoshi/kuzamarket/internal/repository"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	BcryptCost    int // 0の場合はbcrypt.DefaultCost
}

// SignUpInput はサインアップの入力。
type SignUpInput struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
}

// Result はサインインまたはサインアップの結果。
type Result struct {
	Identity identity.Identity
	Session  *model.Session
	Notice   *model.Notice
}

// Service は認証に関するビジネスロジックを提供する。
// 状態遷移はBusに配信する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	bus         *identity.Bus
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。busはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	bus *identity.Bus,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		bus:         bus,
		config:      config,
		now:         time.Now,
	}
}

// SignUp はユーザーとプロフィールを作成し、そのままサインイン状態にする。
// 検証はストア呼び出しより前に行う。
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*Result, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	firstName := strings.TrimSpace(in.FirstName)
	lastName := strings.TrimSpace(in.LastName)
	if firstName == "" {
		return nil, model.NewValidationError("first name", "is required")
	}
	if lastName == "" {
		return nil, model.NewValidationError("last name", "is required")
	}
	if len(in.Password) < MinPasswordLength {
		return nil, model.NewValidationError("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	if in.Password != in.ConfirmPassword {
		return nil, model.NewPasswordMismatchError()
	}

	user, err := s.createUser(ctx, email, in.Password, firstName, lastName)
	if err != nil {
		return nil, err
	}

	res, err := s.startSession(ctx, user)
	if err != nil {
		return nil, err
	}
	res.Notice = model.NewNotice("Account Created", "Your account has been created successfully.")
	return res, nil
}

// CreateUser は管理コマンドからユーザーを作成する。サインインは行わない。
func (s *Service) CreateUser(ctx context.Context, email, password, firstName, lastName string) (*model.User, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, model.NewValidationError("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	return s.createUser(ctx, normalized, password, strings.TrimSpace(firstName), strings.TrimSpace(lastName))
}

func (s *Service) createUser(ctx context.Context, email, password, firstName, lastName string) (*model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	profile := &model.Profile{
		ID:        user.ID,
		FullName:  strings.TrimSpace(firstName + " " + lastName),
		FirstName: firstName,
		LastName:  lastName,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.userRepo.CreateWithProfile(ctx, user, profile); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailTakenError()
		}
		return nil, model.NewRemoteFailureError("create your account", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return user, nil
}

// SignIn はメールアドレスとパスワードを照合してセッションを発行する。
// ユーザーが存在しない場合とパスワード不一致は区別しない。
func (s *Service) SignIn(ctx context.Context, email, password string) (*Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, model.NewInvalidCredentialsError()
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewRemoteFailureError("sign you in", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Info("sign-in rejected", slog.String("user_id", user.ID))
		return nil, model.NewInvalidCredentialsError()
	}

	res, err := s.startSession(ctx, user)
	if err != nil {
		return nil, err
	}
	res.Notice = model.NewNotice("Login Successful", "Welcome back to Kuza-Market!")
	return res, nil
}

// SignOut はセッションを破棄し、サインアウトを配信する。
// セッションの削除に失敗した場合も購読者には通知する。
func (s *Service) SignOut(ctx context.Context, id *identity.Identity) (*model.Notice, error) {
	if !id.SignedIn() {
		return nil, model.NewAuthRequiredError("log out")
	}

	var deleteErr error
	if id.SessionID != "" {
		deleteErr = s.sessionRepo.DeleteByID(ctx, id.SessionID)
	}
	s.publish(identity.SignedOut, *id)

	if deleteErr != nil {
		slog.Error("failed to delete session",
			slog.String("user_id", id.UserID),
			slog.String("error", deleteErr.Error()),
		)
		return nil, model.NewRemoteFailureError("log you out", deleteErr)
	}

	slog.Info("user logged out", slog.String("user_id", id.UserID))
	return model.NewNotice("Logged Out", "You have been successfully logged out."), nil
}

// Resolve はセッションIDから識別情報を復元する。
// セッションが無効な場合はnil, nilを返す。
func (s *Service) Resolve(ctx context.Context, sessionID string) (*identity.Identity, error) {
	if sessionID == "" {
		return nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil
	}

	return &identity.Identity{UserID: user.ID, Email: user.Email, SessionID: session.ID}, nil
}

func (s *Service) startSession(ctx context.Context, user *model.User) (*Result, error) {
	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, model.NewRemoteFailureError("start your session", err)
	}
	id := identity.Identity{UserID: user.ID, Email: user.Email, SessionID: session.ID}
	s.publish(identity.SignedIn, id)
	return &Result{Identity: id, Session: session}, nil
}

func (s *Service) publish(t identity.EventType, id identity.Identity) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(identity.Event{Type: t, Identity: id})
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// normalizeEmail は前後の空白を除いて小文字にし、形式を検証する。
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", model.NewValidationError("email", "is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", model.NewValidationError("email", "is not a valid address")
	}
	return email, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
