package recall

import (
	"encoding/json"
	"testing"
	"time"
)

func ptr[T any](v T) *T { return &v }

func constant(tier RiskTier) Classifier {
	return func(string) RiskTier { return tier }
}

func TestNewRecordDefaults(t *testing.T) {
	detected := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	r := NewRecord(Fields{
		Announced:    "/Date(1740823200000)/",
		FirmName:     "Acme Gıda",
		ProductName:  "Pul Biber",
		Description:  "Boya tespit edildi",
		LotNumber:    " - ",
		City:         "İzmir",
		District:     "",
		Brand:        "Acme",
		ProductGroup: "Baharat",
		DetectedAt:   detected,
	}, constant(RiskMedium))

	if r.Status != StatusActive {
		t.Errorf("expected active status, got %q", r.Status)
	}
	if r.Risk != RiskMedium {
		t.Errorf("expected medium risk, got %v", r.Risk)
	}
	if r.LotNumber != nil {
		t.Errorf("expected dash lot number to be absent, got %q", *r.LotNumber)
	}
	if r.Location.District != nil {
		t.Error("expected empty district to be absent")
	}
	if r.Announced != "/Date(1740823200000)/" {
		t.Errorf("unexpected announced %q", r.Announced)
	}
	if r.ID == "" {
		t.Error("expected non-empty id")
	}
}

func TestRecordIDDistinguishesSameTimestamp(t *testing.T) {
	a := RecordID("/Date(1)/", "Firm A", "Bal", "L1")
	b := RecordID("/Date(1)/", "Firm B", "Bal", "L1")
	if a == b {
		t.Error("records with the same timestamp but different firms must not collide")
	}
	if a != RecordID("/Date(1)/", "Firm A", "Bal", "L1") {
		t.Error("record id must be deterministic")
	}
}

func TestRiskTierOrderingAndText(t *testing.T) {
	if !(RiskLow < RiskMedium && RiskMedium < RiskHigh) {
		t.Fatal("risk tiers must be ordered low < medium < high")
	}

	data, err := json.Marshal(struct {
		Risk RiskTier `json:"risk"`
	}{RiskHigh})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"risk":"high"}` {
		t.Errorf("unexpected encoding %s", data)
	}

	var decoded struct {
		Risk RiskTier `json:"risk"`
	}
	if err := json.Unmarshal([]byte(`{"risk":"medium"}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Risk != RiskMedium {
		t.Errorf("expected medium, got %v", decoded.Risk)
	}

	if _, err := ParseRiskTier("extreme"); err == nil {
		t.Error("expected error for unknown tier")
	}
	if RiskHigh.Label() != "Yüksek" {
		t.Errorf("unexpected label %q", RiskHigh.Label())
	}
}

func TestSortNewestFirstIsStable(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []Record{
		{ID: "old", DetectedAt: base},
		{ID: "tie-1", DetectedAt: base.Add(time.Hour)},
		{ID: "new", DetectedAt: base.Add(2 * time.Hour)},
		{ID: "tie-2", DetectedAt: base.Add(time.Hour)},
	}
	SortNewestFirst(records)

	want := []string{"new", "tie-1", "tie-2", "old"}
	for i, id := range want {
		if records[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, records[i].ID)
		}
	}
}

func TestLocationEqual(t *testing.T) {
	a := Location{City: "Ankara", District: ptr("Çankaya"), Latitude: ptr(39.9), Longitude: ptr(32.8)}
	b := Location{City: "Ankara", District: ptr("Çankaya"), Latitude: ptr(39.9), Longitude: ptr(32.8)}
	if !a.Equal(b) {
		t.Error("expected structurally equal locations")
	}

	b.District = nil
	if a.Equal(b) {
		t.Error("expected locations with different districts to differ")
	}
}

func TestLocationDistance(t *testing.T) {
	istanbul := Location{City: "İstanbul", Latitude: ptr(41.0082), Longitude: ptr(28.9784)}
	km, ok := istanbul.DistanceKm(39.9334, 32.8597) // Ankara
	if !ok {
		t.Fatal("expected distance for location with coordinates")
	}
	if km < 340 || km > 360 {
		t.Errorf("expected roughly 350km between İstanbul and Ankara, got %.1f", km)
	}

	if _, ok := (Location{City: "İzmir"}).DistanceKm(0, 0); ok {
		t.Error("expected no distance without coordinates")
	}
}
