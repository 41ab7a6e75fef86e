// Package users stores wizard accounts and verifies their credentials.
package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the minimum accepted password length.
	MinPasswordLength = 8
	// BcryptCost is the work factor for password hashes.
	BcryptCost = 12

	uniqueViolation = "23505"
)

// Schema creates the users table.
const Schema = `CREATE TABLE IF NOT EXISTS users (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	email           TEXT NOT NULL UNIQUE,
	hashed_password TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrDuplicateEmail     = errors.New("user with this email already exists")
	ErrInvalidInput       = errors.New("invalid user input")
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// DB is the subset of pgxpool.Pool used by Store.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Store reads and writes the users table.
type Store struct {
	db     DB
	cost   int
	tracer trace.Tracer
}

// NewStore creates a store hashing with BcryptCost.
func NewStore(db DB) *Store {
	return &Store{db: db, cost: BcryptCost, tracer: otel.Tracer("users")}
}

// EnsureSchema creates the users table when missing.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	return nil
}

// ValidateInputs checks a new account's name, email and password.
func ValidateInputs(name, email, password string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("%w: invalid email format: %s", ErrInvalidInput, email)
	}
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters long", ErrInvalidInput, MinPasswordLength)
	}
	hasLetter := strings.IndexFunc(password, func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
	}) >= 0
	hasDigit := strings.IndexFunc(password, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0
	if !hasLetter || !hasDigit {
		return fmt.Errorf("%w: password must contain at least one letter and one number", ErrInvalidInput)
	}
	return nil
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts a user with a bcrypt password hash and returns its id.
func (s *Store) Create(ctx context.Context, name, email, password string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "users.create")
	defer span.End()

	email = normaliseEmail(email)
	if err := ValidateInputs(name, email, password); err != nil {
		return "", err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	var id string
	err = s.db.QueryRow(ctx,
		`INSERT INTO users (id, name, email, hashed_password)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		uuid.NewString(), strings.TrimSpace(name), email, string(hashed),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", fmt.Errorf("%w: %s", ErrDuplicateEmail, email)
		}
		span.RecordError(err)
		return "", fmt.Errorf("failed to insert user: %w", err)
	}
	span.SetAttributes(attribute.String("user.id", id))
	return id, nil
}

// FindByEmail returns the user with email, or pgx.ErrNoRows wrapped.
func (s *Store) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx,
		`SELECT id, name, email, hashed_password, created_at FROM users WHERE email = $1`,
		normaliseEmail(email),
	).Scan(&u.ID, &u.Name, &u.Email, &u.HashedPassword, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

// Authenticate returns the user when password matches. Unknown emails and
// wrong passwords both yield ErrInvalidCredentials.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	ctx, span := s.tracer.Start(ctx, "users.authenticate")
	defer span.End()

	u, err := s.FindByEmail(ctx, email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	return u, nil
}
