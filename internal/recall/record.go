// Package recall holds the domain model for food-safety recall announcements.
package recall

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RiskTier is the severity derived from a record's nonconformity text.
type RiskTier int

const (
	RiskLow RiskTier = iota
	RiskMedium
	RiskHigh
)

// RiskTiers lists all tiers in ascending order.
var RiskTiers = []RiskTier{RiskLow, RiskMedium, RiskHigh}

func (r RiskTier) String() string {
	switch r {
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "low"
	}
}

// Label is the Turkish display name shown to users.
func (r RiskTier) Label() string {
	switch r {
	case RiskMedium:
		return "Orta"
	case RiskHigh:
		return "Yüksek"
	default:
		return "Düşük"
	}
}

// ParseRiskTier accepts the text form produced by String.
func ParseRiskTier(s string) (RiskTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	}
	return RiskLow, fmt.Errorf("unknown risk tier %q", s)
}

func (r RiskTier) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *RiskTier) UnmarshalText(b []byte) error {
	tier, err := ParseRiskTier(string(b))
	if err != nil {
		return err
	}
	*r = tier
	return nil
}

// Status is the lifecycle state of a recall. The feed only yields StatusActive.
type Status string

const (
	StatusActive             Status = "active"
	StatusResolved           Status = "resolved"
	StatusUnderInvestigation Status = "under_investigation"
)

// Classifier maps a nonconformity description to a risk tier.
type Classifier func(description string) RiskTier

// Record is one recall announcement normalized from the feed.
type Record struct {
	ID           string    `json:"id"`
	Announced    string    `json:"announced"`
	FirmName     string    `json:"firm_name"`
	ProductName  string    `json:"product_name"`
	Description  string    `json:"description,omitempty"`
	LotNumber    *string   `json:"lot_number,omitempty"`
	DetectedAt   time.Time `json:"detected_at"`
	Location     Location  `json:"location"`
	Risk         RiskTier  `json:"risk"`
	Status       Status    `json:"status"`
	Brand        string    `json:"brand"`
	ProductGroup string    `json:"product_group"`
	// DateEstimated is set when the upstream date was unparsable and
	// DetectedAt holds the fetch time instead.
	DateEstimated bool `json:"date_estimated,omitempty"`
}

// Fields are the raw inputs NewRecord builds a Record from.
type Fields struct {
	Announced     string
	FirmName      string
	ProductName   string
	Description   string
	LotNumber     string
	City          string
	District      string
	Brand         string
	ProductGroup  string
	DetectedAt    time.Time
	DateEstimated bool
}

// recordNamespace scopes name-based record identifiers.
var recordNamespace = uuid.MustParse("8f0c2b7e-4b8e-4d6a-9c51-6f1d0f3a2c11")

// NewRecord builds an active Record. The risk tier is computed once here and
// never recomputed.
func NewRecord(f Fields, classify Classifier) Record {
	r := Record{
		ID:            RecordID(f.Announced, f.FirmName, f.ProductName, f.LotNumber),
		Announced:     f.Announced,
		FirmName:      f.FirmName,
		ProductName:   f.ProductName,
		Description:   f.Description,
		LotNumber:     optional(f.LotNumber),
		DetectedAt:    f.DetectedAt,
		DateEstimated: f.DateEstimated,
		Location:      Location{City: f.City, District: optional(f.District)},
		Status:        StatusActive,
		Brand:         f.Brand,
		ProductGroup:  f.ProductGroup,
	}
	if classify != nil {
		r.Risk = classify(f.Description)
	}
	return r
}

// RecordID derives a stable identifier from the fields that distinguish two
// announcements published at the same upstream timestamp.
func RecordID(announced, firm, product, lot string) string {
	name := strings.Join([]string{announced, firm, product, lot}, "\x1f")
	return uuid.NewSHA1(recordNamespace, []byte(name)).String()
}

// SortNewestFirst orders records by detection time descending. Ties keep
// their input order.
func SortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].DetectedAt.After(records[j].DetectedAt)
	})
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return nil
	}
	return &s
}
