package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joeblew999/greenedumap/internal/feature"
)

// DefaultPaths maps categories to backend endpoints.
var DefaultPaths = map[feature.Category]string{
	feature.CategoryWard:         "/api/air-quality/",
	feature.CategorySchool:       "/api/schools",
	feature.CategorySolar:        "/api/energy",
	feature.CategoryRequest:      "/api/" + feature.CategoryRequest.DatabaseTag(),
	feature.CategoryCenter:       "/api/" + feature.CategoryCenter.DatabaseTag(),
	feature.CategoryDistribution: "/api/" + feature.CategoryDistribution.DatabaseTag(),
}

// HTTP reads records from JSON endpoints. Responses may be a bare array or
// an envelope {"total": n, "items": [...]}.
type HTTP struct {
	BaseURL string
	Paths   map[feature.Category]string
	Client  *http.Client
}

// NewHTTP returns an HTTP source with the default paths.
func NewHTTP(baseURL string) *HTTP {
	return &HTTP{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Paths:   DefaultPaths,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTP) Name() string { return "http" }

// URL returns the request URL for a category and query.
func (h *HTTP) URL(c feature.Category, q Query) (string, error) {
	path, ok := h.Paths[c]
	if !ok {
		return "", fmt.Errorf("%s: %w", c, ErrUnsupported)
	}
	q = q.Normalized()
	v := url.Values{}
	v.Set("skip", strconv.Itoa(q.Skip))
	v.Set("limit", strconv.Itoa(q.Limit))
	for k, val := range q.Filters {
		v.Set(k, val)
	}
	return h.BaseURL + path + "?" + v.Encode(), nil
}

type envelope struct {
	Total int              `json:"total"`
	Items []feature.Record `json:"items"`
}

func (h *HTTP) Fetch(ctx context.Context, c feature.Category, q Query) ([]feature.Record, error) {
	start := time.Now()
	u, err := h.URL(c, q)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("http source: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		observe(h.Name(), start, "error")
		return nil, fmt.Errorf("http source: fetching %s: %w", c, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observe(h.Name(), start, "error")
		return nil, fmt.Errorf("http source: fetching %s: status %d", c, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		observe(h.Name(), start, "error")
		return nil, fmt.Errorf("http source: reading %s: %w", c, err)
	}
	records, err := decodeRecords(body)
	if err != nil {
		observe(h.Name(), start, "error")
		return nil, fmt.Errorf("http source: decoding %s: %w", c, err)
	}
	observe(h.Name(), start, "ok")
	return records, nil
}

// decodeRecords accepts an array or an {items} envelope. Numbers are kept
// as json.Number so integer ids survive.
func decodeRecords(body []byte) ([]feature.Record, error) {
	trimmed := bytes.TrimSpace(body)
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []feature.Record
		if err := dec.Decode(&records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	return env.Items, nil
}
