package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"auth-core/internal/domain"
	"auth-core/internal/email"
	"auth-core/internal/metrics"
	"auth-core/internal/repository"
)

// AuthService orquesta registro, login y vinculacion de metodos de
// autenticacion sobre una sola identidad anclada al correo.
type AuthService struct {
	logger      *zap.Logger
	users       repository.UserRepository
	tokens      OneTimeTokenStore
	sessions    *SessionService
	hasher      PasswordHasher
	emailSender email.Sender
	linkLimiter LinkRateLimiter
	collector   metrics.Collector
	linkTTL     time.Duration
}

const defaultLinkTTL = 15 * time.Minute

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrEmailExists      = errors.New("email already registered")
	ErrUserNotFound     = errors.New("user not found")
	ErrEmailSendFailure = errors.New("email send failed")
	ErrRateLimited      = errors.New("rate limited")
)

func NewAuthService(
	logger *zap.Logger,
	users repository.UserRepository,
	tokens OneTimeTokenStore,
	sessions *SessionService,
	hasher PasswordHasher,
	emailSender email.Sender,
	linkLimiter LinkRateLimiter,
	collector metrics.Collector,
	linkTTL time.Duration,
) *AuthService {
	if tokens == nil {
		tokens = NewMemoryOneTimeTokenStore()
	}
	if hasher == nil {
		hasher = NewBcryptHasher()
	}
	if linkLimiter == nil {
		linkLimiter = NewLinkRateLimiter(defaultLinkTTL, 3)
	}
	if collector == nil {
		collector = metrics.NoopCollector{}
	}
	if linkTTL <= 0 {
		linkTTL = defaultLinkTTL
	}
	return &AuthService{
		logger:      logger,
		users:       users,
		tokens:      tokens,
		sessions:    sessions,
		hasher:      hasher,
		emailSender: emailSender,
		linkLimiter: linkLimiter,
		collector:   collector,
		linkTTL:     linkTTL,
	}
}

// Register crea un usuario con contraseña. El conjunto de metodos nunca se
// persiste vacio, asi que la contraseña es obligatoria en esta ruta.
func (s *AuthService) Register(ctx context.Context, emailAddr, name, password string) (domain.User, error) {
	emailAddr = normalizeEmail(emailAddr)
	name = strings.TrimSpace(name)
	password = strings.TrimSpace(password)
	if emailAddr == "" || password == "" {
		return domain.User{}, ErrInvalidInput
	}

	_, err := s.users.GetByEmail(ctx, emailAddr)
	if err == nil {
		return domain.User{}, ErrEmailExists
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, err
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return domain.User{}, err
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Email:        emailAddr,
		Name:         name,
		PasswordHash: passwordHash,
		AuthMethods:  []string{domain.MethodPassword},
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return domain.User{}, ErrEmailExists
		}
		return domain.User{}, err
	}
	return user.WithoutSecret(), nil
}

// RegisterWithEmail emite un token de registro y lo envia por correo. Si el
// correo ya esta registrado no hace nada: la respuesta externa es identica en
// ambas ramas para no revelar existencia de cuentas. El booleano devuelto es
// solo para uso interno (tests, metricas), nunca para la respuesta.
func (s *AuthService) RegisterWithEmail(ctx context.Context, emailAddr string) (bool, error) {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return false, ErrInvalidInput
	}
	if s.linkLimiter != nil && !s.linkLimiter.Allow(emailAddr) {
		return false, ErrRateLimited
	}

	_, err := s.users.GetByEmail(ctx, emailAddr)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}

	token, err := s.tokens.Issue(ctx, emailAddr, TokenKindRegistration, s.linkTTL)
	if err != nil {
		return false, err
	}
	s.collector.RecordTokenIssued(string(TokenKindRegistration))

	if s.emailSender == nil {
		return false, ErrEmailSendFailure
	}
	if err := s.emailSender.SendRegistrationLink(ctx, emailAddr, token); err != nil {
		if s.logger != nil {
			s.logger.Warn("send registration link failed", zap.Error(err))
		}
		return false, ErrEmailSendFailure
	}
	return true, nil
}

// CompleteRegistration consume un token de registro y crea el usuario. La
// existencia del correo se reevalua aqui, no al emitir el token: el indice
// unico del directorio cierra la carrera entre dos completaciones.
func (s *AuthService) CompleteRegistration(ctx context.Context, token, name string) (domain.User, Session, error) {
	tokenEmail, err := s.tokens.Consume(ctx, token, TokenKindRegistration)
	s.collector.RecordTokenConsumed(string(TokenKindRegistration), consumeResult(err))
	if err != nil {
		return domain.User{}, Session{}, err
	}

	_, err = s.users.GetByEmail(ctx, tokenEmail)
	if err == nil {
		return domain.User{}, Session{}, ErrEmailExists
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, Session{}, err
	}

	user := domain.User{
		ID:          uuid.NewString(),
		Email:       tokenEmail,
		Name:        strings.TrimSpace(name),
		AuthMethods: []string{domain.MethodMagicLink},
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return domain.User{}, Session{}, ErrEmailExists
		}
		return domain.User{}, Session{}, err
	}

	session, err := s.issueSession(user.ID)
	if err != nil {
		return domain.User{}, Session{}, err
	}
	return user.WithoutSecret(), session, nil
}

// ValidateUser compara credenciales de contraseña. Un mismatch no es un
// error: devuelve ok=false, indistinguible entre correo y contraseña
// equivocados. El error queda reservado para fallas del directorio o del
// hasher.
func (s *AuthService) ValidateUser(ctx context.Context, emailAddr, password string) (domain.User, bool, error) {
	emailAddr = normalizeEmail(emailAddr)
	password = strings.TrimSpace(password)
	if emailAddr == "" || password == "" {
		return domain.User{}, false, nil
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.collector.RecordLogin(domain.MethodPassword, false)
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	if user.PasswordHash == "" || !user.HasMethod(domain.MethodPassword) {
		s.collector.RecordLogin(domain.MethodPassword, false)
		return domain.User{}, false, nil
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		s.collector.RecordLogin(domain.MethodPassword, false)
		return domain.User{}, false, nil
	}
	s.collector.RecordLogin(domain.MethodPassword, true)
	return user.WithoutSecret(), true, nil
}

// Login emite una sesion para un usuario ya validado.
func (s *AuthService) Login(user domain.User) (Session, error) {
	return s.issueSession(user.ID)
}

// SocialLoginInput es la identidad externa ya verificada por el proveedor.
type SocialLoginInput struct {
	Email      string
	Name       string
	Provider   string
	ProviderID string
}

// LoginSocial resuelve una identidad externa sobre el correo: si el usuario
// existe se agrega el proveedor a su conjunto de metodos (union, idempotente);
// si no existe se crea. Siempre emite una sesion nueva.
func (s *AuthService) LoginSocial(ctx context.Context, input SocialLoginInput) (domain.User, Session, error) {
	emailAddr := normalizeEmail(input.Email)
	provider := strings.ToLower(strings.TrimSpace(input.Provider))
	providerID := strings.TrimSpace(input.ProviderID)
	name := strings.TrimSpace(input.Name)
	if emailAddr == "" || provider == "" || providerID == "" {
		return domain.User{}, Session{}, ErrInvalidInput
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	switch {
	case err == nil:
		user, err = s.linkProvider(ctx, user, provider, providerID)
		if err != nil {
			return domain.User{}, Session{}, err
		}
	case errors.Is(err, pgx.ErrNoRows):
		user = domain.User{
			ID:          uuid.NewString(),
			Email:       emailAddr,
			Name:        name,
			AuthMethods: []string{provider},
			Provider:    provider,
			ProviderID:  providerID,
			CreatedAt:   time.Now().UTC(),
		}
		if createErr := s.users.Create(ctx, user); createErr != nil {
			if !errors.Is(createErr, repository.ErrEmailTaken) {
				return domain.User{}, Session{}, createErr
			}
			// Otro login social gano la carrera de creacion: reintenta
			// como vinculacion sobre el usuario ya persistido.
			user, err = s.users.GetByEmail(ctx, emailAddr)
			if err != nil {
				return domain.User{}, Session{}, err
			}
			user, err = s.linkProvider(ctx, user, provider, providerID)
			if err != nil {
				return domain.User{}, Session{}, err
			}
		}
	default:
		return domain.User{}, Session{}, err
	}

	session, err := s.issueSession(user.ID)
	if err != nil {
		return domain.User{}, Session{}, err
	}
	s.collector.RecordLogin(provider, true)
	return user.WithoutSecret(), session, nil
}

func (s *AuthService) linkProvider(ctx context.Context, user domain.User, provider, providerID string) (domain.User, error) {
	if user.HasMethod(provider) {
		return user, nil
	}
	return s.users.AddAuthMethod(ctx, user.ID, provider, provider, providerID)
}

// RequestLoginLink emite un token de login y lo envia por correo solo si el
// usuario existe; la respuesta externa es identica en ambas ramas.
func (s *AuthService) RequestLoginLink(ctx context.Context, emailAddr string) (bool, error) {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return false, ErrInvalidInput
	}
	if s.linkLimiter != nil && !s.linkLimiter.Allow(emailAddr) {
		return false, ErrRateLimited
	}

	_, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	token, err := s.tokens.Issue(ctx, emailAddr, TokenKindLogin, s.linkTTL)
	if err != nil {
		return false, err
	}
	s.collector.RecordTokenIssued(string(TokenKindLogin))

	if s.emailSender == nil {
		return false, ErrEmailSendFailure
	}
	if err := s.emailSender.SendLoginLink(ctx, emailAddr, token); err != nil {
		if s.logger != nil {
			s.logger.Warn("send login link failed", zap.Error(err))
		}
		return false, ErrEmailSendFailure
	}
	return true, nil
}

// VerifyLoginToken consume un token de login, agrega magic-link al conjunto
// de metodos si falta y emite una sesion.
func (s *AuthService) VerifyLoginToken(ctx context.Context, token string) (domain.User, Session, error) {
	tokenEmail, err := s.tokens.Consume(ctx, token, TokenKindLogin)
	s.collector.RecordTokenConsumed(string(TokenKindLogin), consumeResult(err))
	if err != nil {
		return domain.User{}, Session{}, err
	}

	user, err := s.users.GetByEmail(ctx, tokenEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, Session{}, ErrUserNotFound
		}
		return domain.User{}, Session{}, err
	}

	if !user.HasMethod(domain.MethodMagicLink) {
		user, err = s.users.AddAuthMethod(ctx, user.ID, domain.MethodMagicLink, "", "")
		if err != nil {
			return domain.User{}, Session{}, err
		}
	}

	session, err := s.issueSession(user.ID)
	if err != nil {
		return domain.User{}, Session{}, err
	}
	s.collector.RecordLogin(domain.MethodMagicLink, true)
	return user.WithoutSecret(), session, nil
}

// GetUser busca un usuario por id y devuelve la vista sin secretos.
func (s *AuthService) GetUser(ctx context.Context, id string) (domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user.WithoutSecret(), nil
}

func (s *AuthService) issueSession(userID string) (Session, error) {
	if s.sessions == nil {
		return Session{}, errors.New("session service not configured")
	}
	session, err := s.sessions.IssueSession(userID)
	if err != nil {
		return Session{}, err
	}
	s.collector.RecordSessionIssued()
	return session, nil
}

// IsTokenError agrupa las fallas de token de un solo uso que el transporte
// mapea a no-autorizado.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenWrongKind)
}

func consumeResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTokenNotFound):
		return "not_found"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenWrongKind):
		return "wrong_kind"
	default:
		return "error"
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
