package feed

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/gidakurdu/internal/recall"
	"github.com/TobiSchelling/gidakurdu/internal/triage"
)

// Columns are the upstream table columns, in the order the server expects
// their descriptors.
var Columns = []string{
	"DuyuruTarihi",
	"FirmaAdi",
	"Marka",
	"UrunAdi",
	"Uygunsuzluk",
	"PartiSeriNo",
	"FirmaIlce",
	"FirmaIl",
	"UrunGrupAdi",
}

type envelope struct {
	Data            *[]row `json:"data"`
	Draw            int    `json:"draw"`
	RecordsTotal    int    `json:"recordsTotal"`
	RecordsFiltered int    `json:"recordsFiltered"`
}

type row struct {
	Announced     string `json:"DuyuruTarihi"`
	FirmName      string `json:"FirmaAdi"`
	Brand         string `json:"Marka"`
	ProductName   string `json:"UrunAdi"`
	Nonconformity string `json:"Uygunsuzluk"`
	LotNumber     string `json:"PartiSeriNo"`
	District      string `json:"FirmaIlce"`
	City          string `json:"FirmaIl"`
	ProductGroup  string `json:"UrunGrupAdi"`
}

var dateRe = regexp.MustCompile(`^/Date\((-?\d+)(?:[+-]\d{4})?\)/$`)

// ParseDate decodes the "/Date(<millis>)/" form used by the upstream table.
func ParseDate(s string) (time.Time, bool) {
	m := dateRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// CleanText strips markup and decodes entities from a table cell, then
// collapses runs of whitespace.
func CleanText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func (c *Client) toRecord(r row) recall.Record {
	detected, ok := ParseDate(r.Announced)
	if !ok {
		detected = c.now()
		c.logger.Debug("unparsable announcement date, using now", "value", r.Announced)
	}
	return recall.NewRecord(recall.Fields{
		Announced:     r.Announced,
		FirmName:      CleanText(r.FirmName),
		ProductName:   CleanText(r.ProductName),
		Description:   CleanText(r.Nonconformity),
		LotNumber:     CleanText(r.LotNumber),
		City:          CleanText(r.City),
		District:      CleanText(r.District),
		Brand:         CleanText(r.Brand),
		ProductGroup:  CleanText(r.ProductGroup),
		DetectedAt:    detected,
		DateEstimated: !ok,
	}, triage.Classify)
}
