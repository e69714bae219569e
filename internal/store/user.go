package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pavelanni/ecd/internal/model"
)

// CreateUser inserts a new user and returns its ID.
func (s *Store) CreateUser(ctx context.Context, u model.User) (string, error) {
	if u.Username == "" {
		return "", model.Validationf("username is required")
	}
	if _, err := s.b.getDoc(ctx, kindUsername, u.Username); err == nil {
		return "", model.Validationf("username %s is taken", u.Username)
	} else if !errors.Is(err, model.ErrNotFound) {
		return "", err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = s.now()
	if err := putJSON(ctx, s.b, kindUser, u.ID, userDoc{User: u, PasswordHash: u.PasswordHash}); err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return "", err
	}
	if err := putJSON(ctx, s.b, kindUsername, u.Username, u.ID); err != nil {
		return "", err
	}
	slog.Info("created user", "id", u.ID, "username", u.Username, "role", u.Role)
	return u.ID, nil
}

// userDoc keeps the password hash, which model.User hides from JSON.
type userDoc struct {
	model.User
	PasswordHash string `json:"passwordHash"`
}

// GetUserByUsername returns a user by username, or nil if there is none.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	id, err := getJSON[string](ctx, s.b, kindUsername, username)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

// GetUserByID returns a user by ID, or nil if there is none.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	d, err := getJSON[userDoc](ctx, s.b, kindUser, id)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u := d.User
	u.PasswordHash = d.PasswordHash
	return &u, nil
}

// ListUsers returns all users.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	docs, err := listJSON[userDoc](ctx, s.b, kindUser)
	if err != nil {
		return nil, err
	}
	users := make([]model.User, len(docs))
	for i, d := range docs {
		users[i] = d.User
		users[i].PasswordHash = d.PasswordHash
	}
	return users, nil
}

// ToggleUserActive flips the active flag on a user.
func (s *Store) ToggleUserActive(ctx context.Context, id string) error {
	u, err := s.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		return model.NotFoundf("user %s", id)
	}
	u.Active = !u.Active
	return putJSON(ctx, s.b, kindUser, u.ID, userDoc{User: *u, PasswordHash: u.PasswordHash})
}

// UserCount returns the total number of users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	docs, err := s.b.listDocs(ctx, kindUser)
	return len(docs), err
}
