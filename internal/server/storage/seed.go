package storage

import (
	"context"
	"fmt"
)

// Bootstrap describes the records Seed creates on an empty store.
type Bootstrap struct {
	AdminUsername string
	// AdminPassword enables the bootstrap admin. No account is created
	// without one; there are no built-in demo credentials.
	AdminPassword string
	AdminEmail    string
}

// Seed makes sure the AI control record exists and, when configured,
// creates the bootstrap admin if no user holds that username yet. It is
// safe to run on every start.
func (s *Storage) Seed(ctx context.Context, b Bootstrap) error {
	if _, err := s.Control.Get(ctx); err != nil {
		return fmt.Errorf("seed control settings: %w", err)
	}
	if b.AdminPassword == "" {
		return nil
	}

	existing, err := s.Users.List(ctx, Filter{Where: map[string]any{"username": b.AdminUsername}, Limit: 1})
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	admin := map[string]any{
		"username": b.AdminUsername,
		"password": b.AdminPassword,
		"role":     string(RoleAdmin),
	}
	if b.AdminEmail != "" {
		admin["email"] = b.AdminEmail
	}
	if _, err := s.Users.Create(ctx, admin); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	return nil
}
