// Package compose renders a Markdown digest of the current recall list and
// the alert log.
package compose

import (
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/gidakurdu/internal/notify"
	"github.com/TobiSchelling/gidakurdu/internal/recall"
	"github.com/TobiSchelling/gidakurdu/internal/triage"
)

// DefaultLimit caps the recent-records table.
const DefaultLimit = 20

// Digest is a composed summary ready for display.
type Digest struct {
	Title       string
	TLDR        string
	Body        string
	RecordCount int
	UnreadCount int
	GeneratedAt time.Time
}

// Markdown joins the digest parts into one document.
func (d Digest) Markdown() string {
	return fmt.Sprintf("# %s\n\n%s\n\n---\n\n%s\n", d.Title, d.TLDR, d.Body)
}

// Compose builds a digest from records (newest first) and the alert log.
// At most limit records are tabulated; limit <= 0 uses DefaultLimit.
func Compose(records []recall.Record, entries []notify.Entry, now time.Time, limit int) Digest {
	if limit <= 0 {
		limit = DefaultLimit
	}
	unread := unreadEntries(entries)
	d := Digest{
		Title:       "Gıda Kurdu Özeti, " + now.Format("02.01.2006"),
		RecordCount: len(records),
		UnreadCount: len(unread),
		GeneratedAt: now,
	}

	if len(records) == 0 {
		d.TLDR = "- Listelenecek kayıt yok."
		d.Body = "Tercihlerinize uyan duyuru bulunamadı."
		return d
	}

	d.TLDR = tldr(records, len(unread))

	sections := []string{recentTable(records, limit)}
	if len(unread) > 0 {
		sections = append(sections, unreadList(unread))
	}
	d.Body = strings.Join(sections, "\n\n---\n\n")
	return d
}

func tldr(records []recall.Record, unread int) string {
	counts := triage.Tally(records)
	bullets := []string{fmt.Sprintf("- Toplam %d kayıt", len(records))}
	for i := len(recall.RiskTiers) - 1; i >= 0; i-- {
		tier := recall.RiskTiers[i]
		if n := counts[tier]; n > 0 {
			bullets = append(bullets, fmt.Sprintf("- %s risk: %d", tier.Label(), n))
		}
	}
	if unread > 0 {
		bullets = append(bullets, fmt.Sprintf("- %d okunmamış bildirim", unread))
	}
	return strings.Join(bullets, "\n")
}

func recentTable(records []recall.Record, limit int) string {
	var b strings.Builder
	b.WriteString("## Son duyurular\n\n")
	b.WriteString("| Tarih | Şehir | Ürün | Firma | Risk |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for i, r := range records {
		if i == limit {
			break
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			r.DetectedAt.Local().Format("02.01.2006"),
			cell(r.Location.City),
			cell(r.ProductName),
			cell(r.FirmName),
			r.Risk.Label())
	}
	if len(records) > limit {
		fmt.Fprintf(&b, "\n_ve %d kayıt daha_\n", len(records)-limit)
	}
	return strings.TrimRight(b.String(), "\n")
}

func unreadList(entries []notify.Entry) string {
	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, "## Okunmamış bildirimler\n")
	for _, e := range entries {
		line := fmt.Sprintf("- **%s** (%s)", e.Record.ProductName, e.Record.FirmName)
		if e.Record.Description != "" {
			line += ": " + e.Record.Description
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func unreadEntries(entries []notify.Entry) []notify.Entry {
	var out []notify.Entry
	for _, e := range entries {
		if !e.Read {
			out = append(out, e)
		}
	}
	return out
}

// cell escapes text for a Markdown table cell.
func cell(s string) string {
	if s == "" {
		return "-"
	}
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}
