package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/model"
	"github.com/hitoshi/kuzamarket/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn          func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn       func(ctx context.Context, email string) (*model.User, error)
	createWithProfileFn func(ctx context.Context, user *model.User, profile *model.Profile) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) CreateWithProfile(ctx context.Context, user *model.User, profile *model.Profile) error {
	if m.createWithProfileFn != nil {
		return m.createWithProfileFn(ctx, user, profile)
	}
	return nil
}

func (m *mockUserRepo) ListSummaries(context.Context) ([]model.UserSummary, error) {
	return nil, nil
}

func (m *mockUserRepo) Count(context.Context) (int, error) {
	return 0, nil
}

type mockSessionRepo struct {
	createFn     func(ctx context.Context, session *model.Session) error
	findByIDFn   func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(context.Context, string) error {
	return nil
}

func (m *mockSessionRepo) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}

var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)

// recordEvents はBusに配信されたイベントを記録する。
func recordEvents(bus *identity.Bus) *[]identity.Event {
	var events []identity.Event
	bus.Subscribe(func(ev identity.Event) { events = append(events, ev) })
	return &events
}

func newTestService(users *mockUserRepo, sessions *mockSessionRepo, bus *identity.Bus) *Service {
	return NewService(users, sessions, bus, ServiceConfig{SessionMaxAge: 86400, BcryptCost: bcrypt.MinCost})
}

func validSignUp() SignUpInput {
	return SignUpInput{
		Email:           "  Jane@Campus.ac.ke ",
		Password:        "secret1",
		ConfirmPassword: "secret1",
		FirstName:       "Jane",
		LastName:        "Wanjiru",
	}
}

// --- テスト ---

func TestSignUp_CreatesUserProfileAndSession(t *testing.T) {
	var createdUser *model.User
	var createdProfile *model.Profile
	var createdSession *model.Session

	users := &mockUserRepo{
		createWithProfileFn: func(_ context.Context, user *model.User, profile *model.Profile) error {
			createdUser, createdProfile = user, profile
			return nil
		},
	}
	sessions := &mockSessionRepo{
		createFn: func(_ context.Context, s *model.Session) error {
			createdSession = s
			return nil
		},
	}
	bus := identity.NewBus()
	events := recordEvents(bus)

	res, err := newTestService(users, sessions, bus).SignUp(context.Background(), validSignUp())
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	if createdUser == nil || createdUser.Email != "jane@campus.ac.ke" {
		t.Fatalf("user = %+v, want lowercased email", createdUser)
	}
	if bcrypt.CompareHashAndPassword([]byte(createdUser.PasswordHash), []byte("secret1")) != nil {
		t.Error("password hash does not match")
	}
	if createdProfile.ID != createdUser.ID || createdProfile.FullName != "Jane Wanjiru" {
		t.Errorf("profile = %+v", createdProfile)
	}
	if !createdProfile.CreatedAt.Equal(createdUser.CreatedAt) {
		t.Error("profile and user creation times should match")
	}
	if createdSession == nil || createdSession.UserID != createdUser.ID {
		t.Fatalf("session = %+v", createdSession)
	}
	if createdSession.ExpiresAt.Before(time.Now().Add(23 * time.Hour)) {
		t.Error("session should last SessionMaxAge")
	}
	if res.Identity.SessionID != createdSession.ID || res.Notice == nil || res.Notice.Title != "Account Created" {
		t.Errorf("result = %+v", res)
	}
	if len(*events) != 1 || (*events)[0].Type != identity.SignedIn {
		t.Errorf("events = %+v, want one SignedIn", *events)
	}
}

func TestSignUp_ValidationHappensBeforeStore(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*SignUpInput)
		code   string
	}{
		{"missing email", func(in *SignUpInput) { in.Email = " " }, model.ErrCodeValidation},
		{"malformed email", func(in *SignUpInput) { in.Email = "jane-at-campus" }, model.ErrCodeValidation},
		{"short password", func(in *SignUpInput) { in.Password, in.ConfirmPassword = "abc", "abc" }, model.ErrCodeValidation},
		{"mismatch", func(in *SignUpInput) { in.ConfirmPassword = "secret2" }, model.ErrCodePasswordMismatch},
		{"missing first name", func(in *SignUpInput) { in.FirstName = "" }, model.ErrCodeValidation},
		{"missing last name", func(in *SignUpInput) { in.LastName = "  " }, model.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &mockUserRepo{
				createWithProfileFn: func(context.Context, *model.User, *model.Profile) error {
					t.Fatal("store must not be called")
					return nil
				},
			}
			in := validSignUp()
			tt.modify(&in)

			_, err := newTestService(users, &mockSessionRepo{}, nil).SignUp(context.Background(), in)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want APIError", err)
			}
			if apiErr.Code != tt.code || apiErr.Kind != model.KindValidationFailed {
				t.Errorf("code = %s kind = %v, want %s", apiErr.Code, apiErr.Kind, tt.code)
			}
		})
	}
}

func TestSignUp_DuplicateEmail(t *testing.T) {
	users := &mockUserRepo{
		createWithProfileFn: func(context.Context, *model.User, *model.Profile) error {
			return repository.ErrDuplicateEmail
		},
	}
	_, err := newTestService(users, &mockSessionRepo{}, nil).SignUp(context.Background(), validSignUp())

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeEmailTaken {
		t.Errorf("err = %v, want EMAIL_TAKEN", err)
	}
}

func TestSignUp_StoreFailureIsRemoteFailure(t *testing.T) {
	users := &mockUserRepo{
		createWithProfileFn: func(context.Context, *model.User, *model.Profile) error {
			return errors.New("connection refused")
		},
	}
	_, err := newTestService(users, &mockSessionRepo{}, nil).SignUp(context.Background(), validSignUp())
	if model.KindOf(err) != model.KindRemoteFailure {
		t.Errorf("kind = %v, want remote_failure", model.KindOf(err))
	}
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(h)
}

func TestSignIn_Success(t *testing.T) {
	user := &model.User{ID: "user-1", Email: "jane@campus.ac.ke", PasswordHash: hashed(t, "secret1")}
	var lookedUp string
	users := &mockUserRepo{
		findByEmailFn: func(_ context.Context, email string) (*model.User, error) {
			lookedUp = email
			return user, nil
		},
	}
	bus := identity.NewBus()
	events := recordEvents(bus)

	res, err := newTestService(users, &mockSessionRepo{}, bus).SignIn(context.Background(), " JANE@campus.ac.ke", "secret1")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if lookedUp != "jane@campus.ac.ke" {
		t.Errorf("looked up %q", lookedUp)
	}
	if res.Identity.UserID != "user-1" || res.Identity.Email != user.Email || res.Identity.SessionID == "" {
		t.Errorf("identity = %+v", res.Identity)
	}
	if res.Notice.Title != "Login Successful" {
		t.Errorf("notice = %+v", res.Notice)
	}
	if len(*events) != 1 || (*events)[0].Identity.SessionID != res.Session.ID {
		t.Errorf("events = %+v", *events)
	}
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	user := &model.User{ID: "user-1", Email: "jane@campus.ac.ke", PasswordHash: hashed(t, "secret1")}
	tests := []struct {
		name     string
		found    *model.User
		email    string
		password string
	}{
		{"wrong password", user, "jane@campus.ac.ke", "secret2"},
		{"unknown email", nil, "nobody@campus.ac.ke", "secret1"},
		{"empty password", user, "jane@campus.ac.ke", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &mockUserRepo{
				findByEmailFn: func(context.Context, string) (*model.User, error) { return tt.found, nil },
			}
			sessions := &mockSessionRepo{
				createFn: func(context.Context, *model.Session) error {
					t.Fatal("no session should be created")
					return nil
				},
			}
			_, err := newTestService(users, sessions, nil).SignIn(context.Background(), tt.email, tt.password)

			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidCredentials {
				t.Fatalf("err = %v, want INVALID_CREDENTIALS", err)
			}
			if apiErr.Kind != model.KindUnauthenticated {
				t.Errorf("kind = %v", apiErr.Kind)
			}
		})
	}
}

func TestSignOut_DeletesSessionAndPublishes(t *testing.T) {
	var deleted string
	sessions := &mockSessionRepo{
		deleteByIDFn: func(_ context.Context, id string) error {
			deleted = id
			return nil
		},
	}
	bus := identity.NewBus()
	events := recordEvents(bus)

	id := &identity.Identity{UserID: "user-1", Email: "jane@campus.ac.ke", SessionID: "sess-1"}
	notice, err := newTestService(&mockUserRepo{}, sessions, bus).SignOut(context.Background(), id)
	if err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if deleted != "sess-1" {
		t.Errorf("deleted = %q", deleted)
	}
	if notice.Title != "Logged Out" {
		t.Errorf("notice = %+v", notice)
	}
	if len(*events) != 1 || (*events)[0].Type != identity.SignedOut || (*events)[0].Identity.SessionID != "sess-1" {
		t.Errorf("events = %+v", *events)
	}
}

func TestSignOut_PublishesEvenWhenDeleteFails(t *testing.T) {
	sessions := &mockSessionRepo{
		deleteByIDFn: func(context.Context, string) error { return errors.New("db down") },
	}
	bus := identity.NewBus()
	events := recordEvents(bus)

	id := &identity.Identity{UserID: "user-1", SessionID: "sess-1"}
	_, err := newTestService(&mockUserRepo{}, sessions, bus).SignOut(context.Background(), id)
	if model.KindOf(err) != model.KindRemoteFailure {
		t.Errorf("kind = %v", model.KindOf(err))
	}
	if len(*events) != 1 {
		t.Errorf("SignedOut should still be published, got %d events", len(*events))
	}
}

func TestSignOut_WithoutIdentity(t *testing.T) {
	_, err := newTestService(&mockUserRepo{}, &mockSessionRepo{}, nil).SignOut(context.Background(), nil)
	if model.KindOf(err) != model.KindUnauthenticated {
		t.Errorf("kind = %v, want unauthenticated", model.KindOf(err))
	}
}

func TestResolve(t *testing.T) {
	sessions := &mockSessionRepo{
		findByIDFn: func(_ context.Context, id string) (*model.Session, error) {
			if id == "sess-1" {
				return &model.Session{ID: "sess-1", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
			}
			return nil, nil
		},
	}
	users := &mockUserRepo{
		findByIDFn: func(_ context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "jane@campus.ac.ke"}, nil
		},
	}
	svc := newTestService(users, sessions, nil)

	id, err := svc.Resolve(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := identity.Identity{UserID: "user-1", Email: "jane@campus.ac.ke", SessionID: "sess-1"}
	if id == nil || *id != want {
		t.Errorf("Resolve() = %+v, want %+v", id, want)
	}

	for _, sid := range []string{"", "expired"} {
		id, err := svc.Resolve(context.Background(), sid)
		if err != nil || id != nil {
			t.Errorf("Resolve(%q) = %+v, %v; want nil, nil", sid, id, err)
		}
	}
}

func TestResolve_StoreErrorIsReturned(t *testing.T) {
	sessions := &mockSessionRepo{
		findByIDFn: func(context.Context, string) (*model.Session, error) { return nil, errors.New("db down") },
	}
	if _, err := newTestService(&mockUserRepo{}, sessions, nil).Resolve(context.Background(), "sess-1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCreateUser_DoesNotStartSession(t *testing.T) {
	var created *model.User
	users := &mockUserRepo{
		createWithProfileFn: func(_ context.Context, u *model.User, _ *model.Profile) error {
			created = u
			return nil
		},
	}
	sessions := &mockSessionRepo{
		createFn: func(context.Context, *model.Session) error {
			t.Fatal("CreateUser must not create a session")
			return nil
		},
	}
	u, err := newTestService(users, sessions, nil).CreateUser(context.Background(), "Admin@KuzaMarket.com", "secret1", "Site", "Admin")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if u != created || u.Email != "admin@kuzamarket.com" {
		t.Errorf("user = %+v", u)
	}
}

func TestGenerateSessionID_IsUniqueHex(t *testing.T) {
	a, err := generateSessionID()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := generateSessionID()
	if len(a) != 64 || a == b {
		t.Errorf("ids = %q, %q", a, b)
	}
}
