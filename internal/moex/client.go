// Package moex pulls traded bonds from the Moscow Exchange ISS API and
// reduces them to the short list shown on the site's yield treemap.
package moex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/Zachkp/bond-site/internal/payload"
)

const (
	DefaultBaseURL   = "https://iss.moex.com/iss"
	DefaultPageLimit = 2000
	DefaultTimeout   = 40 * time.Second
)

// Bond is one merged ISS record keyed by column name.
type Bond = payload.Row

// block is the columnar layout ISS uses with iss.meta=off.
type block struct {
	Columns []string          `json:"columns"`
	Data    [][]payload.Value `json:"data"`
}

func (b block) records() []Bond {
	out := make([]Bond, 0, len(b.Data))
	for _, row := range b.Data {
		rec := make(Bond, len(b.Columns))
		for i, col := range b.Columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

type page struct {
	Securities       block `json:"securities"`
	MarketData       block `json:"marketdata"`
	MarketDataYields block `json:"marketdata_yields"`
}

// Client talks to ISS.
type Client struct {
	BaseURL   string
	PageLimit int
	HTTP      *http.Client
	// Progress receives a page counter; nil silences it.
	Progress io.Writer
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:   baseURL,
		PageLimit: DefaultPageLimit,
		HTTP:      &http.Client{Timeout: DefaultTimeout},
	}
}

// FetchTradedBonds walks every page of traded bonds and merges the
// securities, marketdata and marketdata_yields blocks by SECID.
func (c *Client) FetchTradedBonds(ctx context.Context) ([]Bond, error) {
	limit := c.PageLimit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	w := c.Progress
	if w == nil {
		w = io.Discard
	}
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Fetching MOEX bonds"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Finish()

	var sec, md, mdy []Bond
	for start := 0; ; start += limit {
		pg, err := c.fetchPage(ctx, start, limit)
		if err != nil {
			return nil, err
		}
		_ = bar.Add(1)

		s := pg.Securities.records()
		sec = append(sec, s...)
		md = append(md, pg.MarketData.records()...)
		mdy = append(mdy, pg.MarketDataYields.records()...)

		if len(s) < limit {
			break
		}
	}

	out := merge(sec, md, "_MD")
	out = merge(out, mdy, "_YLD")
	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, start, limit int) (*page, error) {
	u, err := url.Parse(strings.TrimRight(c.BaseURL, "/") + "/engines/stock/markets/bonds/securities.json")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("is_trading", "1")
	q.Set("iss.meta", "off")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("start", strconv.Itoa(start))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching bonds page at %d: %w", start, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching bonds page at %d: HTTP %d", start, resp.StatusCode)
	}

	var pg page
	if err := json.NewDecoder(resp.Body).Decode(&pg); err != nil {
		return nil, fmt.Errorf("decoding bonds page at %d: %w", start, err)
	}
	return &pg, nil
}

// merge left-joins right onto left by SECID. Columns already present on
// the left get suffix appended. The first right record per SECID wins.
func merge(left, right []Bond, suffix string) []Bond {
	if len(right) == 0 {
		return left
	}
	bySECID := make(map[string]Bond, len(right))
	for _, r := range right {
		id := r.SECID()
		if _, ok := bySECID[id]; !ok && id != "" {
			bySECID[id] = r
		}
	}

	out := make([]Bond, 0, len(left))
	for _, l := range left {
		rec := make(Bond, len(l))
		for k, v := range l {
			rec[k] = v
		}
		if r, ok := bySECID[l.SECID()]; ok {
			for k, v := range r {
				if k == "SECID" {
					continue
				}
				if _, clash := l[k]; clash {
					k += suffix
				}
				rec[k] = v
			}
		}
		out = append(out, rec)
	}
	return out
}
