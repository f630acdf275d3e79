// Package prefs persists the user's notification and display preferences,
// profile and favorite records.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/TobiSchelling/gidakurdu/internal/database"
	"github.com/TobiSchelling/gidakurdu/internal/recall"
)

const (
	preferencesKey = "preferences"
	profileKey     = "profile"
	favoritesKey   = "favorites"
)

// RefreshInterval is how often background refreshes are requested.
type RefreshInterval string

const (
	Hourly RefreshInterval = "hourly"
	Daily  RefreshInterval = "daily"
	Weekly RefreshInterval = "weekly"
)

// Duration returns the interval length. Unknown values count as hourly.
func (r RefreshInterval) Duration() time.Duration {
	switch r {
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// Label is the Turkish display name.
func (r RefreshInterval) Label() string {
	switch r {
	case Daily:
		return "Günlük"
	case Weekly:
		return "Haftalık"
	default:
		return "Saatlik"
	}
}

// Theme is the display color scheme.
type Theme string

const (
	ThemeSystem Theme = "system"
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
)

// Preferences are the user's filtering and notification settings.
type Preferences struct {
	NotificationsEnabled bool            `json:"notifications_enabled"`
	MinimumRisk          recall.RiskTier `json:"minimum_risk"`
	RefreshInterval      RefreshInterval `json:"refresh_interval"`
	SelectedCities       []string        `json:"selected_cities"`
	Theme                Theme           `json:"theme"`
}

// Defaults returns the preferences used before the user changes anything.
func Defaults() Preferences {
	return Preferences{
		NotificationsEnabled: false,
		MinimumRisk:          recall.RiskLow,
		RefreshInterval:      Hourly,
		SelectedCities:       []string{},
		Theme:                ThemeSystem,
	}
}

// Normalize validates enum fields and turns SelectedCities into a sorted set.
// Empty enum fields take their default.
func (p Preferences) Normalize() (Preferences, error) {
	switch p.RefreshInterval {
	case "":
		p.RefreshInterval = Hourly
	case Hourly, Daily, Weekly:
	default:
		return p, fmt.Errorf("unknown refresh interval %q", p.RefreshInterval)
	}

	switch p.Theme {
	case "":
		p.Theme = ThemeSystem
	case ThemeSystem, ThemeLight, ThemeDark:
	default:
		return p, fmt.Errorf("unknown theme %q", p.Theme)
	}

	if p.MinimumRisk < recall.RiskLow || p.MinimumRisk > recall.RiskHigh {
		return p, fmt.Errorf("unknown minimum risk %d", p.MinimumRisk)
	}

	seen := make(map[string]struct{}, len(p.SelectedCities))
	cities := make([]string, 0, len(p.SelectedCities))
	for _, c := range p.SelectedCities {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		cities = append(cities, c)
	}
	sort.Strings(cities)
	p.SelectedCities = cities
	return p, nil
}

// Allows reports whether a record passes the risk and city restrictions.
// An empty city set places no restriction.
func (p Preferences) Allows(r recall.Record) bool {
	if r.Risk < p.MinimumRisk {
		return false
	}
	if len(p.SelectedCities) == 0 {
		return true
	}
	for _, c := range p.SelectedCities {
		if c == r.Location.City {
			return true
		}
	}
	return false
}

// Filter returns the records Allows accepts, in input order.
func (p Preferences) Filter(records []recall.Record) []recall.Record {
	out := make([]recall.Record, 0, len(records))
	for _, r := range records {
		if p.Allows(r) {
			out = append(out, r)
		}
	}
	return out
}

// Store reads and writes preferences through a blob store.
type Store struct {
	blobs  database.BlobStore
	logger *slog.Logger
}

// NewStore creates a preference store.
func NewStore(blobs database.BlobStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{blobs: blobs, logger: logger}
}

// Get returns the persisted preferences, or defaults when nothing is stored.
// An unreadable blob also yields defaults; only storage failures are errors.
func (s *Store) Get(ctx context.Context) (Preferences, error) {
	data, err := s.blobs.Get(ctx, preferencesKey)
	if errors.Is(err, database.ErrNotFound) {
		return Defaults(), nil
	}
	if err != nil {
		return Defaults(), fmt.Errorf("loading preferences: %w", err)
	}

	p := Defaults()
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("stored preferences unreadable, using defaults", "error", err)
		return Defaults(), nil
	}

	n, err := p.Normalize()
	if err != nil {
		s.logger.Warn("stored preferences invalid, using defaults", "error", err)
		return Defaults(), nil
	}
	return n, nil
}

// Update validates and persists p, replacing what was stored.
func (s *Store) Update(ctx context.Context, p Preferences) (Preferences, error) {
	n, err := p.Normalize()
	if err != nil {
		return p, err
	}
	if err := database.SaveJSON(ctx, s.blobs, preferencesKey, n); err != nil {
		return p, fmt.Errorf("saving preferences: %w", err)
	}
	s.logger.Debug("preferences updated",
		"notifications", n.NotificationsEnabled,
		"minimum_risk", n.MinimumRisk.String(),
		"interval", string(n.RefreshInterval),
		"cities", len(n.SelectedCities))
	return n, nil
}
