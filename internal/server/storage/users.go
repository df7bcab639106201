package storage

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/athena-ai/dashboard/internal/schema"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown user, an
// inactive user or a wrong password alike.
var ErrInvalidCredentials = errors.New("invalid username or password")

// prepareUser enforces username uniqueness and replaces the plaintext
// password with its bcrypt hash before a user is inserted.
func (s *Storage) prepareUser(ctx context.Context, tx Backend, rec Record) error {
	username, _ := rec["username"].(string)
	if err := s.usernameFree(ctx, tx, username, ""); err != nil {
		return err
	}
	hash, err := s.hashPassword(rec["password"])
	if err != nil {
		return err
	}
	rec["password"] = hash
	return nil
}

// prepareUserPatch applies the same rules to the fields a patch changes.
func (s *Storage) prepareUserPatch(ctx context.Context, tx Backend, id string, patch schema.Payload) error {
	if username, ok := patch["username"].(string); ok {
		if err := s.usernameFree(ctx, tx, username, id); err != nil {
			return err
		}
	}
	if pw, ok := patch["password"]; ok {
		hash, err := s.hashPassword(pw)
		if err != nil {
			return err
		}
		patch["password"] = hash
	}
	return nil
}

func (s *Storage) usernameFree(ctx context.Context, tx Backend, username, self string) error {
	taken, err := tx.List(ctx, schema.Users, Filter{Where: map[string]any{"username": username}})
	if err != nil {
		return err
	}
	for _, rec := range taken {
		if rec["id"] != self {
			return fmt.Errorf("username %q: %w", username, ErrConflict)
		}
	}
	return nil
}

func (s *Storage) hashPassword(v any) (string, error) {
	pw, _ := v.(string)
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Authenticate returns the active user whose password matches.
func (s *Storage) Authenticate(ctx context.Context, username, password string) (*User, error) {
	users, err := s.Users.List(ctx, Filter{Where: map[string]any{"username": username}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 || !users[0].IsActive {
		return nil, ErrInvalidCredentials
	}
	u := users[0]
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}
