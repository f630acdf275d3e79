package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TobiSchelling/gidakurdu/internal/database"
)

const permissionKey = "notification_permission"

// Permission is the user's authorization for alerts.
type Permission string

const (
	Granted       Permission = "granted"
	Denied        Permission = "denied"
	NotDetermined Permission = "not_determined"
)

// ParsePermission accepts the string form of a Permission.
func ParsePermission(s string) (Permission, error) {
	switch p := Permission(strings.ToLower(strings.TrimSpace(s))); p {
	case Granted, Denied, NotDetermined:
		return p, nil
	}
	return "", fmt.Errorf("unknown permission %q", s)
}

// Authorizer reports the current alert permission.
type Authorizer interface {
	Status(ctx context.Context) (Permission, error)
}

// PermissionStore persists the permission, falling back to a configured
// default until the user decides.
type PermissionStore struct {
	blobs database.BlobStore
	def   Permission
}

var _ Authorizer = (*PermissionStore)(nil)

// NewPermissionStore creates a store with the given default.
func NewPermissionStore(blobs database.BlobStore, def Permission) *PermissionStore {
	if def == "" {
		def = NotDetermined
	}
	return &PermissionStore{blobs: blobs, def: def}
}

// Status returns the stored permission, or the default when none is stored.
func (s *PermissionStore) Status(ctx context.Context) (Permission, error) {
	data, err := s.blobs.Get(ctx, permissionKey)
	if errors.Is(err, database.ErrNotFound) {
		return s.def, nil
	}
	if err != nil {
		return s.def, fmt.Errorf("loading permission: %w", err)
	}
	p, err := ParsePermission(string(data))
	if err != nil {
		return s.def, nil
	}
	return p, nil
}

// RequestAuthorization grants permission unless the user has denied it,
// and returns the resulting state.
func (s *PermissionStore) RequestAuthorization(ctx context.Context) (Permission, error) {
	current, err := s.Status(ctx)
	if err != nil {
		return current, err
	}
	if current == Denied {
		return Denied, nil
	}
	return Granted, s.Set(ctx, Granted)
}

// Revoke denies permission.
func (s *PermissionStore) Revoke(ctx context.Context) error {
	return s.Set(ctx, Denied)
}

// Set stores p. NotDetermined clears the stored decision.
func (s *PermissionStore) Set(ctx context.Context, p Permission) error {
	if _, err := ParsePermission(string(p)); err != nil {
		return err
	}
	if p == NotDetermined {
		if err := s.blobs.Delete(ctx, permissionKey); err != nil {
			return fmt.Errorf("clearing permission: %w", err)
		}
		return nil
	}
	if err := s.blobs.Put(ctx, permissionKey, []byte(p)); err != nil {
		return fmt.Errorf("saving permission: %w", err)
	}
	return nil
}
