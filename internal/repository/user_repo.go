package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"auth-core/internal/domain"
)

// ErrEmailTaken indica que el indice unico de correo rechazo la insercion.
var ErrEmailTaken = errors.New("email already taken")

const pgUniqueViolation = "23505"

// UserRepository define el contrato de persistencia para usuarios. El correo
// es la clave de busqueda; el id es la clave de union para tokens de sesion.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, id string) (domain.User, error)
	// AddAuthMethod agrega un metodo al conjunto del usuario de forma atomica
	// (union, nunca sobrescritura) y actualiza la referencia del proveedor.
	AddAuthMethod(ctx context.Context, id, method, provider, providerID string) (domain.User, error)
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	const query = `
		INSERT INTO users (id, email, name, password_hash, auth_methods, provider, provider_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.AuthMethods,
		user.Provider,
		user.ProviderID,
		user.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrEmailTaken
	}
	return err
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	const query = `
		SELECT id, email, name, password_hash, auth_methods, provider, provider_id, created_at
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`
	return r.scanUser(r.pool.QueryRow(ctx, query, email))
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	const query = `
		SELECT id, email, name, password_hash, auth_methods, provider, provider_id, created_at
		FROM users
		WHERE id = $1
	`
	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *PgUserRepository) AddAuthMethod(ctx context.Context, id, method, provider, providerID string) (domain.User, error) {
	// La union se resuelve dentro del UPDATE para que logins sociales
	// concurrentes del mismo usuario no pierdan metodos entre si.
	const query = `
		UPDATE users
		SET auth_methods = CASE
				WHEN $2 = ANY(auth_methods) THEN auth_methods
				ELSE array_append(auth_methods, $2)
			END,
			provider = COALESCE(NULLIF($3, ''), provider),
			provider_id = COALESCE(NULLIF($4, ''), provider_id)
		WHERE id = $1
		RETURNING id, email, name, password_hash, auth_methods, provider, provider_id, created_at
	`
	return r.scanUser(r.pool.QueryRow(ctx, query, id, method, provider, providerID))
}

func (r *PgUserRepository) scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&u.AuthMethods,
		&u.Provider,
		&u.ProviderID,
		&u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, err
	}
	return u, err
}
