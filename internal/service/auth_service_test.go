package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"auth-core/internal/domain"
	"auth-core/internal/repository"
)

type mockUserRepo struct {
	usersByID    map[string]domain.User
	usersByEmail map[string]string
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		usersByID:    make(map[string]domain.User),
		usersByEmail: make(map[string]string),
	}
}

func (m *mockUserRepo) Create(_ context.Context, user domain.User) error {
	if _, ok := m.usersByEmail[user.Email]; ok {
		return repository.ErrEmailTaken
	}
	m.usersByID[user.ID] = user
	m.usersByEmail[user.Email] = user.ID
	return nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	id, ok := m.usersByEmail[email]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return m.usersByID[id], nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	user, ok := m.usersByID[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (m *mockUserRepo) AddAuthMethod(_ context.Context, id, method, provider, providerID string) (domain.User, error) {
	user, ok := m.usersByID[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	if !user.HasMethod(method) {
		user.AuthMethods = append(user.AuthMethods, method)
	}
	if provider != "" {
		user.Provider = provider
	}
	if providerID != "" {
		user.ProviderID = providerID
	}
	m.usersByID[id] = user
	return user, nil
}

type mockSender struct {
	registrationTo    []string
	registrationToken string
	loginTo           []string
	loginToken        string
	err               error
}

func (m *mockSender) SendRegistrationLink(_ context.Context, toEmail, token string) error {
	m.registrationTo = append(m.registrationTo, toEmail)
	m.registrationToken = token
	return m.err
}

func (m *mockSender) SendLoginLink(_ context.Context, toEmail, token string) error {
	m.loginTo = append(m.loginTo, toEmail)
	m.loginToken = token
	return m.err
}

func newTestAuthService(repo *mockUserRepo, sender *mockSender) *AuthService {
	sessions := NewSessionService(NewHS256Signer("test-secret"), time.Hour, 7*24*time.Hour)
	return NewAuthService(zap.NewNop(), repo, nil, sessions, nil, sender, nil, nil, 0)
}

func TestRegister_SecondCallConflicts(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), &mockSender{})

	user, err := svc.Register(context.Background(), "a@x.com", "Ann", "Secret1!")
	if err != nil {
		t.Fatalf("expected first register to succeed, got %v", err)
	}
	if !user.HasMethod(domain.MethodPassword) {
		t.Fatalf("expected password method, got %v", user.AuthMethods)
	}
	if user.PasswordHash != "" {
		t.Fatalf("expected password hash stripped from returned user")
	}

	if _, err := svc.Register(context.Background(), "a@x.com", "Ann", "Secret1!"); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}

func TestRegister_RequiresPassword(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), &mockSender{})

	if _, err := svc.Register(context.Background(), "a@x.com", "Ann", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestValidateUser_MatchAndNoMatch(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), &mockSender{})

	if _, err := svc.Register(context.Background(), "a@x.com", "Ann", "Secret1!"); err != nil {
		t.Fatalf("register: %v", err)
	}

	user, ok, err := svc.ValidateUser(context.Background(), "a@x.com", "Secret1!")
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
	if user.PasswordHash != "" {
		t.Fatalf("expected user view without password hash")
	}

	// Contraseña mala y correo inexistente responden igual: sin match, sin error.
	if _, ok, err := svc.ValidateUser(context.Background(), "a@x.com", "wrong"); err != nil || ok {
		t.Fatalf("expected no match for wrong password, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := svc.ValidateUser(context.Background(), "nobody@x.com", "Secret1!"); err != nil || ok {
		t.Fatalf("expected no match for unknown email, got ok=%v err=%v", ok, err)
	}
}

func TestValidateUser_UserWithoutPasswordMethod(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestAuthService(repo, &mockSender{})

	_ = repo.Create(context.Background(), domain.User{
		ID:          "u1",
		Email:       "link@x.com",
		AuthMethods: []string{domain.MethodMagicLink},
		CreatedAt:   time.Now().UTC(),
	})

	if _, ok, err := svc.ValidateUser(context.Background(), "link@x.com", "whatever"); err != nil || ok {
		t.Fatalf("expected no match for user without password method, got ok=%v err=%v", ok, err)
	}
}

func TestRegisterWithEmail_NewAndExisting(t *testing.T) {
	repo := newMockUserRepo()
	sender := &mockSender{}
	svc := newTestAuthService(repo, sender)

	sent, err := svc.RegisterWithEmail(context.Background(), "new@x.com")
	if err != nil || !sent {
		t.Fatalf("expected link sent for new email, got sent=%v err=%v", sent, err)
	}
	if len(sender.registrationTo) != 1 || sender.registrationTo[0] != "new@x.com" {
		t.Fatalf("expected one registration mail to new@x.com, got %v", sender.registrationTo)
	}

	if _, err := svc.Register(context.Background(), "taken@x.com", "T", "Secret1!"); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Correo ya registrado: sin envio y sin error distinguible.
	sent, err = svc.RegisterWithEmail(context.Background(), "taken@x.com")
	if err != nil {
		t.Fatalf("expected silent no-op for existing email, got %v", err)
	}
	if sent {
		t.Fatalf("expected no mail for existing email")
	}
	if len(sender.registrationTo) != 1 {
		t.Fatalf("expected sender not invoked again, got %v", sender.registrationTo)
	}
}

func TestRegisterWithEmail_SenderFailure(t *testing.T) {
	sender := &mockSender{err: errors.New("smtp down")}
	svc := newTestAuthService(newMockUserRepo(), sender)

	if _, err := svc.RegisterWithEmail(context.Background(), "new@x.com"); !errors.Is(err, ErrEmailSendFailure) {
		t.Fatalf("expected ErrEmailSendFailure, got %v", err)
	}
}

func TestRegisterWithEmail_RateLimited(t *testing.T) {
	repo := newMockUserRepo()
	sender := &mockSender{}
	sessions := NewSessionService(NewHS256Signer("test-secret"), time.Hour, 7*24*time.Hour)
	svc := NewAuthService(zap.NewNop(), repo, nil, sessions, nil, sender, NewLinkRateLimiter(time.Minute, 1), nil, 0)

	if _, err := svc.RegisterWithEmail(context.Background(), "new@x.com"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := svc.RegisterWithEmail(context.Background(), "new@x.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestCompleteRegistration_Success(t *testing.T) {
	repo := newMockUserRepo()
	sender := &mockSender{}
	svc := newTestAuthService(repo, sender)

	if _, err := svc.RegisterWithEmail(context.Background(), "dana@x.com"); err != nil {
		t.Fatalf("request link: %v", err)
	}

	user, session, err := svc.CompleteRegistration(context.Background(), sender.registrationToken, "Dana")
	if err != nil {
		t.Fatalf("expected completion to succeed, got %v", err)
	}
	if user.Email != "dana@x.com" || user.Name != "Dana" {
		t.Fatalf("unexpected user %+v", user)
	}
	if !user.HasMethod(domain.MethodMagicLink) {
		t.Fatalf("expected magic-link method, got %v", user.AuthMethods)
	}
	if session.AccessToken == "" || session.RefreshToken == "" || session.ExpiresIn != 3600 {
		t.Fatalf("unexpected session %+v", session)
	}

	// El token quedo consumido.
	if _, _, err := svc.CompleteRegistration(context.Background(), sender.registrationToken, "Dana"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound on reuse, got %v", err)
	}
}

func TestCompleteRegistration_EmailTakenBetweenIssueAndComplete(t *testing.T) {
	repo := newMockUserRepo()
	sender := &mockSender{}
	svc := newTestAuthService(repo, sender)

	if _, err := svc.RegisterWithEmail(context.Background(), "race@x.com"); err != nil {
		t.Fatalf("request link: %v", err)
	}
	// El correo se registra por otra via antes de completar.
	if _, err := svc.Register(context.Background(), "race@x.com", "R", "Secret1!"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, _, err := svc.CompleteRegistration(context.Background(), sender.registrationToken, "R"); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}

func TestCompleteRegistration_WrongKindToken(t *testing.T) {
	repo := newMockUserRepo()
	sender := &mockSender{}
	svc := newTestAuthService(repo, sender)

	if _, err := svc.Register(context.Background(), "c@x.com", "C", "Secret1!"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.RequestLoginLink(context.Background(), "c@x.com"); err != nil {
		t.Fatalf("request login link: %v", err)
	}

	if _, _, err := svc.CompleteRegistration(context.Background(), sender.loginToken, "Dana"); !errors.Is(err, ErrTokenWrongKind) {
		t.Fatalf("expected ErrTokenWrongKind, got %v", err)
	}
	if _, ok := repo.usersByEmail["dana@x.com"]; ok {
		t.Fatalf("expected no user created on wrong-kind token")
	}
}

func TestLoginSocial_CreatesAndMergesMethods(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestAuthService(repo, &mockSender{})

	user, session, err := svc.LoginSocial(context.Background(), SocialLoginInput{
		Email: "b@x.com", Name: "Bob", Provider: "google", ProviderID: "g1",
	})
	if err != nil {
		t.Fatalf("expected social login to succeed, got %v", err)
	}
	if session.AccessToken == "" {
		t.Fatalf("expected session issued")
	}
	if len(user.AuthMethods) != 1 || user.AuthMethods[0] != "google" {
		t.Fatalf("expected auth methods [google], got %v", user.AuthMethods)
	}

	second, _, err := svc.LoginSocial(context.Background(), SocialLoginInput{
		Email: "b@x.com", Name: "Bob", Provider: "github", ProviderID: "h1",
	})
	if err != nil {
		t.Fatalf("second social login: %v", err)
	}
	if second.ID != user.ID {
		t.Fatalf("expected same identity, got %s and %s", user.ID, second.ID)
	}
	if len(second.AuthMethods) != 2 || !second.HasMethod("google") || !second.HasMethod("github") {
		t.Fatalf("expected auth methods [google github], got %v", second.AuthMethods)
	}
}

func TestLoginSocial_Idempotent(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestAuthService(repo, &mockSender{})

	input := SocialLoginInput{Email: "b@x.com", Name: "Bob", Provider: "google", ProviderID: "g1"}
	first, _, err := svc.LoginSocial(context.Background(), input)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, _, err := svc.LoginSocial(context.Background(), input)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(second.AuthMethods) != len(first.AuthMethods) {
		t.Fatalf("expected auth methods unchanged, got %v then %v", first.AuthMethods, second.AuthMethods)
	}
}

func TestLoginSocial_InvalidInput(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), &mockSender{})

	if _, _, err := svc.LoginSocial(context.Background(), SocialLoginInput{Email: "b@x.com"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRequestLoginLink_ExistingAndUnknown(t *testing.T) {
	repo := newMockUserRepo()
	sender := &mockSender{}
	svc := newTestAuthService(repo, sender)

	if _, err := svc.Register(context.Background(), "c@x.com", "C", "Secret1!"); err != nil {
		t.Fatalf("register: %v", err)
	}

	sent, err := svc.RequestLoginLink(context.Background(), "c@x.com")
	if err != nil || !sent {
		t.Fatalf("expected link sent for existing user, got sent=%v err=%v", sent, err)
	}

	sent, err = svc.RequestLoginLink(context.Background(), "ghost@x.com")
	if err != nil {
		t.Fatalf("expected silent no-op for unknown email, got %v", err)
	}
	if sent || len(sender.loginTo) != 1 {
		t.Fatalf("expected no mail for unknown email, got %v", sender.loginTo)
	}
}

func TestVerifyLoginToken_SuccessAndSingleUse(t *testing.T) {
	repo := newMockUserRepo()
	sender := &mockSender{}
	svc := newTestAuthService(repo, sender)

	if _, err := svc.Register(context.Background(), "c@x.com", "C", "Secret1!"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.RequestLoginLink(context.Background(), "c@x.com"); err != nil {
		t.Fatalf("request link: %v", err)
	}

	user, session, err := svc.VerifyLoginToken(context.Background(), sender.loginToken)
	if err != nil {
		t.Fatalf("expected verify to succeed, got %v", err)
	}
	if session.AccessToken == "" || session.ExpiresIn != 3600 {
		t.Fatalf("unexpected session %+v", session)
	}
	// El metodo magic-link se agrega al conjunto sin quitar password.
	if !user.HasMethod(domain.MethodMagicLink) || !user.HasMethod(domain.MethodPassword) {
		t.Fatalf("expected merged methods, got %v", user.AuthMethods)
	}

	if _, _, err := svc.VerifyLoginToken(context.Background(), sender.loginToken); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound on reuse, got %v", err)
	}
}

func TestVerifyLoginToken_Garbage(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), &mockSender{})

	if _, _, err := svc.VerifyLoginToken(context.Background(), "not-a-token"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), &mockSender{})

	if _, err := svc.GetUser(context.Background(), "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
