package recall

import (
	"sort"
	"time"
)

// Nearby restricts a view to records within RadiusKm of a point.
type Nearby struct {
	Latitude  float64
	Longitude float64
	RadiusKm  float64
}

// View holds the client-side filters applied on top of an already fetched
// and preference-filtered record set. Zero values mean "no restriction".
type View struct {
	City     string
	Day      time.Time
	Category string
	Near     *Nearby
}

// Active reports whether any filter is set.
func (v View) Active() bool {
	return v.City != "" || !v.Day.IsZero() || v.Category != "" || v.Near != nil
}

// Apply returns the records that pass every set filter, in input order.
// Day matching uses the calendar day in Day's location.
func (v View) Apply(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if v.City != "" && r.Location.City != v.City {
			continue
		}
		if !v.Day.IsZero() && !sameDay(r.DetectedAt, v.Day) {
			continue
		}
		if v.Category != "" && r.ProductGroup != v.Category {
			continue
		}
		if v.Near != nil {
			km, ok := r.Location.DistanceKm(v.Near.Latitude, v.Near.Longitude)
			if !ok || km > v.Near.RadiusKm {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func sameDay(t, day time.Time) bool {
	t = t.In(day.Location())
	y1, m1, d1 := t.Date()
	y2, m2, d2 := day.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// AvailableCities lists distinct non-empty city names, sorted.
func AvailableCities(records []Record) []string {
	return distinct(records, func(r Record) string { return r.Location.City })
}

// AvailableCategories lists distinct product groups, sorted.
func AvailableCategories(records []Record) []string {
	return distinct(records, func(r Record) string { return r.ProductGroup })
}

func distinct(records []Record, key func(Record) string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range records {
		k := key(r)
		if k == "" || k == "-" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
