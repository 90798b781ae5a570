// Package auth handles accounts: bcrypt password hashes and HS256 access
// tokens whose subject is the user id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const DefaultTokenTTL = 24 * time.Hour

var (
	ErrEmailTaken         = errors.New("email is already in use")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
)

// UserStore persists accounts. CreateUser fails with ErrEmailTaken for a
// duplicate email; lookups and updates of unknown users fail with
// common.ErrNotFound. SetAPIKey with an empty hash removes the key.
type UserStore interface {
	CreateUser(ctx context.Context, user common.User) (common.User, error)
	GetUser(ctx context.Context, id string) (common.User, error)
	GetUserByEmail(ctx context.Context, email string) (common.User, error)
	GetUserByAPIKey(ctx context.Context, keyHash string) (common.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetAPIKey(ctx context.Context, id, keyHash, hint string, expiresAt *time.Time) error
}

// Claims are the claims of an access token.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Service registers users and issues tokens.
//
// A Service should be created using NewService.
type Service struct {
	users  UserStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService returns a Service signing with secret. A ttl <= 0 uses
// DefaultTokenTTL.
func NewService(users UserStore, secret string, ttl time.Duration) (*Service, error) {
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{
		users:  users,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a user with role "user".
func (s *Service) Register(ctx context.Context, email, name, password string) (common.User, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return common.User{}, fmt.Errorf("%w: invalid email", common.ErrInvalidInput)
	}
	if len(password) < 8 {
		return common.User{}, fmt.Errorf("%w: password must have at least 8 characters", common.ErrInvalidInput)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return common.User{}, err
	}
	user, err := s.users.CreateUser(ctx, common.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		Role:         "user",
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return common.User{}, err
	}
	logger.Info("[Auth] Registered user", "user_id", user.ID)
	return user, nil
}

// Login checks the credentials and returns a signed token with its expiry.
func (s *Service) Login(ctx context.Context, email, password string) (string, time.Time, common.User, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, common.ErrNotFound) {
		return "", time.Time{}, common.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", time.Time{}, common.User{}, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return "", time.Time{}, common.User{}, ErrInvalidCredentials
	}

	token, exp, err := s.Issue(user)
	if err != nil {
		return "", time.Time{}, common.User{}, err
	}
	return token, exp, user, nil
}

func (s *Service) Issue(user common.User) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse validates an HS256 token and returns its claims.
func (s *Service) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

func (s *Service) User(ctx context.Context, id string) (common.User, error) {
	return s.users.GetUser(ctx, id)
}
