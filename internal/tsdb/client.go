// Package tsdb buffers sensor samples and ships them to the external
// time-series store. Writes are best-effort behind a circuit breaker; the
// control paths never block on this package.
package tsdb

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/openpdu/powerd/internal/sensor"
)

// Client speaks the store's v2 HTTP API: line protocol in, annotated CSV
// out. Queries use their own short-lived connection so a slow or failing
// query can never stall the write path.
type Client struct {
	baseURL string
	org     string
	bucket  string
	token   string

	writeClient *http.Client
	queryClient *http.Client
}

// NewClient builds a client for the store at baseURL.
func NewClient(baseURL, org, bucket, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		org:     org,
		bucket:  bucket,
		token:   token,
		writeClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		queryClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				// dedicated, non-pooled connections for queries
				DisableKeepAlives: true,
			},
		},
	}
}

// WriteBatch encodes the samples as line protocol and posts them in one
// request.
func (c *Client) WriteBatch(ctx context.Context, samples []sensor.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	var b strings.Builder
	for _, s := range samples {
		encodeLine(&b, s)
	}

	u := fmt.Sprintf("%s/api/v2/write?org=%s&bucket=%s&precision=ns",
		c.baseURL, url.QueryEscape(c.org), url.QueryEscape(c.bucket))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(b.String()))
	if err != nil {
		return fmt.Errorf("build write request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := c.writeClient.Do(req)
	if err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("write batch: store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// encodeLine appends one sample as a line-protocol record:
// samples,source=<id> field=value,... <ts-ns>
func encodeLine(b *strings.Builder, s sensor.Sample) {
	b.WriteString("samples,source=")
	b.WriteString(escapeTag(s.Source))
	b.WriteByte(' ')

	keys := make([]string, 0, len(s.Fields))
	for k := range s.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(s.Fields[k], 'f', -1, 64))
	}

	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(s.Timestamp.UnixNano(), 10))
	b.WriteByte('\n')
}

func escapeTag(s string) string {
	r := strings.NewReplacer(",", `\,`, " ", `\ `, "=", `\=`)
	return r.Replace(s)
}

// Point is one time/value pair of a query result.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// QueryParams select one field of one source over a window, optionally
// aggregated.
type QueryParams struct {
	Source string
	Field  string
	Start  time.Duration // lookback, e.g. -1h expressed as 1h
	Window time.Duration // aggregate window; 0 means raw points
}

// Query runs a synchronous pass-through query and returns the matching
// points in time order.
func (c *Client) Query(ctx context.Context, p QueryParams) ([]Point, error) {
	flux := buildFlux(c.bucket, p)

	u := fmt.Sprintf("%s/api/v2/query?org=%s", c.baseURL, url.QueryEscape(c.org))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(flux))
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Content-Type", "application/vnd.flux")
	req.Header.Set("Accept", "application/csv")

	resp, err := c.queryClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("query: store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return parseCSV(resp.Body)
}

func buildFlux(bucket string, p QueryParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", bucket)
	fmt.Fprintf(&b, "  |> range(start: -%s)\n", p.Start)
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == \"samples\" and r.source == %q and r._field == %q)\n",
		p.Source, p.Field)
	if p.Window > 0 {
		fmt.Fprintf(&b, "  |> aggregateWindow(every: %s, fn: mean, createEmpty: false)\n", p.Window)
	}
	return b.String()
}

// parseCSV extracts _time/_value pairs from annotated CSV output.
func parseCSV(r io.Reader) ([]Point, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	timeIdx, valueIdx := -1, -1
	var points []Point

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse query result: %w", err)
		}
		if len(rec) == 0 || strings.HasPrefix(rec[0], "#") {
			continue
		}
		// header row resets the column mapping on every table
		if contains(rec, "_time") {
			timeIdx, valueIdx = index(rec, "_time"), index(rec, "_value")
			continue
		}
		if timeIdx < 0 || valueIdx < 0 || len(rec) <= timeIdx || len(rec) <= valueIdx {
			continue
		}
		ts, terr := time.Parse(time.RFC3339Nano, rec[timeIdx])
		if terr != nil {
			continue
		}
		v, verr := strconv.ParseFloat(rec[valueIdx], 64)
		if verr != nil {
			continue
		}
		points = append(points, Point{Time: ts, Value: v})
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
	return points, nil
}

func contains(rec []string, s string) bool { return index(rec, s) >= 0 }

func index(rec []string, s string) int {
	for i, v := range rec {
		if v == s {
			return i
		}
	}
	return -1
}
