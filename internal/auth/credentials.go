package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// APIKeyPrefix marks API keys so the middleware can tell them from JWTs.
	APIKeyPrefix = "ik-"
	APIKeyTTL    = 90 * 24 * time.Hour

	apiKeyAlphabet = "0123456789abcdef"
	apiKeyLength   = 32
	apiKeyHintLen  = len(APIKeyPrefix) + 4
)

// Credential describes one way a user can authenticate. Secrets are masked.
type Credential struct {
	Type      string     `json:"type"`
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ChangePassword replaces the password of userID after checking the
// current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !CheckPassword(user.PasswordHash, current) {
		return fmt.Errorf("%w: current password is incorrect", common.ErrInvalidInput)
	}
	if len(next) < 8 {
		return fmt.Errorf("%w: password must have at least 8 characters", common.ErrInvalidInput)
	}

	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	logger.Info("[Auth] Password changed", "user_id", userID)
	return nil
}

// GenerateAPIKey creates a new API key for userID, replacing any previous
// one. The key is only returned here; the store keeps its hash.
func (s *Service) GenerateAPIKey(ctx context.Context, userID string) (string, time.Time, error) {
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return "", time.Time{}, err
	}

	secret, err := gonanoid.Generate(apiKeyAlphabet, apiKeyLength)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate api key: %w", err)
	}
	key := APIKeyPrefix + secret
	exp := s.now().Add(APIKeyTTL).UTC()

	if err := s.users.SetAPIKey(ctx, userID, hashAPIKey(key), key[:apiKeyHintLen], &exp); err != nil {
		return "", time.Time{}, err
	}
	logger.Info("[Auth] API key generated", "user_id", userID, "expires_at", exp)
	return key, exp, nil
}

func (s *Service) RevokeAPIKey(ctx context.Context, userID string) error {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.APIKeyHash == "" {
		return fmt.Errorf("%w: api key", common.ErrNotFound)
	}
	if err := s.users.SetAPIKey(ctx, userID, "", "", nil); err != nil {
		return err
	}
	logger.Info("[Auth] API key revoked", "user_id", userID)
	return nil
}

// Credentials lists the password and the API key of userID, masked.
func (s *Service) Credentials(ctx context.Context, userID string) ([]Credential, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	creds := []Credential{}
	if user.PasswordHash != "" {
		creds = append(creds, Credential{Type: "password", Value: "********"})
	}
	if user.APIKeyHash != "" {
		creds = append(creds, Credential{
			Type:      "api_key",
			Value:     user.APIKeyHint + "...",
			ExpiresAt: user.APIKeyExpiresAt,
		})
	}
	return creds, nil
}

// AuthenticateAPIKey returns the owner of key. Unknown and expired keys
// fail with ErrInvalidToken.
func (s *Service) AuthenticateAPIKey(ctx context.Context, key string) (common.User, error) {
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return common.User{}, fmt.Errorf("%w: not an api key", ErrInvalidToken)
	}
	user, err := s.users.GetUserByAPIKey(ctx, hashAPIKey(key))
	if errors.Is(err, common.ErrNotFound) {
		return common.User{}, fmt.Errorf("%w: unknown api key", ErrInvalidToken)
	}
	if err != nil {
		return common.User{}, err
	}
	if user.APIKeyExpiresAt != nil && !s.now().Before(*user.APIKeyExpiresAt) {
		return common.User{}, fmt.Errorf("%w: api key expired", ErrInvalidToken)
	}
	return user, nil
}
