package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/pavelanni/ecd/internal/model"
)

const authSessionTTL = 24 * time.Hour

// CreateAuthSession creates a new API token for a user.
func (s *Store) CreateAuthSession(ctx context.Context, userID string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	err = putJSON(ctx, s.b, kindAuthSession, token, model.AuthSession{
		ID:        token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(authSessionTTL),
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// GetAuthSession returns the auth session for the given token, or nil if not found/expired.
func (s *Store) GetAuthSession(ctx context.Context, token string) (*model.AuthSession, error) {
	sess, err := getJSON[model.AuthSession](ctx, s.b, kindAuthSession, token)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.now().After(sess.ExpiresAt) {
		_ = s.DeleteAuthSession(ctx, token)
		return nil, nil
	}
	return &sess, nil
}

// DeleteAuthSession removes a token. Missing tokens are not an error.
func (s *Store) DeleteAuthSession(ctx context.Context, token string) error {
	err := s.b.deleteDoc(ctx, kindAuthSession, token)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	return err
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
