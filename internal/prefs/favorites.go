package prefs

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/TobiSchelling/gidakurdu/internal/database"
)

// Favorites returns the favorited record IDs, sorted.
func (s *Store) Favorites(ctx context.Context) ([]string, error) {
	set, err := s.favoriteSet(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// IsFavorite reports whether id is favorited.
func (s *Store) IsFavorite(ctx context.Context, id string) (bool, error) {
	set, err := s.favoriteSet(ctx)
	if err != nil {
		return false, err
	}
	_, ok := set[id]
	return ok, nil
}

// ToggleFavorite adds id when absent and removes it when present. It returns
// whether id is a favorite afterwards.
func (s *Store) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	set, err := s.favoriteSet(ctx)
	if err != nil {
		return false, err
	}

	_, was := set[id]
	if was {
		delete(set, id)
	} else {
		set[id] = struct{}{}
	}

	ids := make([]string, 0, len(set))
	for k := range set {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	if err := database.SaveJSON(ctx, s.blobs, favoritesKey, ids); err != nil {
		return was, fmt.Errorf("saving favorites: %w", err)
	}
	return !was, nil
}

func (s *Store) favoriteSet(ctx context.Context) (map[string]struct{}, error) {
	var ids []string
	err := database.LoadJSON(ctx, s.blobs, favoritesKey, &ids)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("loading favorites: %w", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}
