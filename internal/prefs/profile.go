package prefs

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/TobiSchelling/gidakurdu/internal/database"
	"github.com/TobiSchelling/gidakurdu/internal/recall"
)

// DefaultRadiusKm is used by the nearby filter when the profile sets none.
const DefaultRadiusKm = 50.0

// Profile is presentation-only user data. It never influences syncing.
type Profile struct {
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	HomeLat  *float64 `json:"home_lat,omitempty"`
	HomeLon  *float64 `json:"home_lon,omitempty"`
	RadiusKm float64  `json:"radius_km,omitempty"`
}

// Nearby returns the nearby filter centered on the profile's home, or nil
// when no home location is set.
func (p Profile) Nearby() *recall.Nearby {
	if p.HomeLat == nil || p.HomeLon == nil {
		return nil
	}
	radius := p.RadiusKm
	if radius <= 0 {
		radius = DefaultRadiusKm
	}
	return &recall.Nearby{Latitude: *p.HomeLat, Longitude: *p.HomeLon, RadiusKm: radius}
}

// Profile returns the stored profile, empty when none is stored.
func (s *Store) Profile(ctx context.Context) (Profile, error) {
	var p Profile
	err := database.LoadJSON(ctx, s.blobs, profileKey, &p)
	if errors.Is(err, database.ErrNotFound) {
		return Profile{}, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile: %w", err)
	}
	return p, nil
}

// UpdateProfile validates and persists the profile.
func (s *Store) UpdateProfile(ctx context.Context, p Profile) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return fmt.Errorf("invalid email %q: %w", p.Email, err)
		}
	}
	if (p.HomeLat == nil) != (p.HomeLon == nil) {
		return errors.New("home location needs both latitude and longitude")
	}
	if p.HomeLat != nil && (*p.HomeLat < -90 || *p.HomeLat > 90 || *p.HomeLon < -180 || *p.HomeLon > 180) {
		return fmt.Errorf("home location %.4f,%.4f out of range", *p.HomeLat, *p.HomeLon)
	}
	if p.RadiusKm < 0 {
		return fmt.Errorf("negative radius %.1f", p.RadiusKm)
	}
	if err := database.SaveJSON(ctx, s.blobs, profileKey, p); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	return nil
}
