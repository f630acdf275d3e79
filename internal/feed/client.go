// Package feed fetches recall announcements from the public disclosure table
// of the Ministry of Agriculture and Forestry.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/gidakurdu/internal/recall"
)

const (
	upstreamOrigin  = "https://guvenilirgida.tarimorman.gov.tr"
	upstreamReferer = upstreamOrigin + "/GuvenilirGida/GKD/Index"
	userAgent       = "gidakurdu/1.0 (+https://github.com/TobiSchelling/gidakurdu)"

	// Bytes of an error response body kept in the error message.
	errorSnippetLen = 200
)

// Page is one decoded page of the table.
type Page struct {
	Records         []recall.Record
	Draw            int
	RecordsTotal    int
	RecordsFiltered int
}

// Client performs paged POST requests against the table endpoint.
type Client struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

// NewClient creates a client with the given per-request timeout.
func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
		now:      time.Now,
	}
}

// HTTPClient exposes the underlying client so tests can intercept it.
func (c *Client) HTTPClient() *http.Client { return c.client }

// Fetch returns the records on the given zero-based page.
func (c *Client) Fetch(ctx context.Context, page, pageSize int) ([]recall.Record, error) {
	p, err := c.FetchPage(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}
	return p.Records, nil
}

// FetchPage is Fetch plus the table totals reported by the server.
func (c *Client) FetchPage(ctx context.Context, page, pageSize int) (*Page, error) {
	endpoint, err := c.validEndpoint()
	if err != nil {
		return nil, err
	}
	if page < 0 || pageSize <= 0 {
		return nil, newError(KindConfiguration, fmt.Errorf("invalid page %d size %d", page, pageSize))
	}

	body := EncodeRequest(page, pageSize).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, newError(KindConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Origin", upstreamOrigin)
	req.Header.Set("Referer", upstreamReferer)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, newError(KindTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindTransport, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > errorSnippetLen {
			snippet = snippet[:errorSnippetLen]
		}
		return nil, &Error{
			Kind:       KindServer,
			StatusCode: resp.StatusCode,
			Err:        errors.New(snippet),
		}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, newError(KindDecoding, err)
	}
	if env.Data == nil {
		return nil, newError(KindDecoding, errors.New("response has no data array"))
	}

	records := make([]recall.Record, 0, len(*env.Data))
	for _, r := range *env.Data {
		records = append(records, c.toRecord(r))
	}

	c.logger.Debug("fetched page", "page", page, "records", len(records), "total", env.RecordsTotal)
	return &Page{
		Records:         records,
		Draw:            env.Draw,
		RecordsTotal:    env.RecordsTotal,
		RecordsFiltered: env.RecordsFiltered,
	}, nil
}

func (c *Client) validEndpoint() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", newError(KindConfiguration, fmt.Errorf("invalid endpoint %q: %w", c.endpoint, err))
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", newError(KindConfiguration, fmt.Errorf("invalid endpoint %q", c.endpoint))
	}
	return u.String(), nil
}

// EncodeRequest builds the DataTables form body for a page: paging, global
// search and ordering descriptors, the fixed disclosure filters, and one
// descriptor set per column.
func EncodeRequest(page, pageSize int) url.Values {
	v := url.Values{}
	v.Set("draw", strconv.Itoa(page+1))
	v.Set("start", strconv.Itoa(page*pageSize))
	v.Set("length", strconv.Itoa(pageSize))
	v.Set("search[value]", "")
	v.Set("search[regex]", "false")
	v.Set("order[0][column]", "0")
	v.Set("order[0][dir]", "desc")
	v.Set("Order[0][column]", "DuyuruTarihi")
	v.Set("Order[0][dir]", "desc")

	v.Set("KamuoyuDuyuruAra.IdariYaptirimYasalDayanakIdler", "2,20")
	v.Set("KamuoyuDuyuruAra.IdariYaptirimYasalDayanakId", "")
	v.Set("SiteYayinDurumu", "True")
	v.Set("_KamuoyuDuyuruAra_UrunGrupId", "")
	v.Set("KamuoyuDuyuruAra.UrunGrupId", "")

	for i, col := range Columns {
		prefix := fmt.Sprintf("columns[%d]", i)
		v.Set(prefix+"[data]", col)
		v.Set(prefix+"[name]", col)
		v.Set(prefix+"[searchable]", "true")
		v.Set(prefix+"[orderable]", "true")
		v.Set(prefix+"[search][value]", "")
		v.Set(prefix+"[search][regex]", "false")
	}
	return v
}
