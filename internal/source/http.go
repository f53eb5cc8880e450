package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/matthewbaird/cascade/internal/cascade"
)

// HTTPSource fetches records from an OData-style collection endpoint that
// answers `GET <url>?$top=N&$filter=<field> eq <value>` with
// `{"value": [ {...}, ... ]}`.
type HTTPSource struct {
	endpoint *url.URL
	token    string
	query    Query
	http     *http.Client
}

// NewHTTPSource creates an HTTPSource. token may be empty.
func NewHTTPSource(endpoint, token string, q Query) (*HTTPSource, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("source URL is required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse source URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("source URL must include a host (got %q)", endpoint)
	}
	return &HTTPSource{
		endpoint: u,
		token:    strings.TrimSpace(token),
		query:    q,
		http:     &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// ReadTokenFile returns the trimmed contents of a bearer token file.
func ReadTokenFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

type collectionResponse struct {
	Value []map[string]any `json:"value"`
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]cascade.Record, error) {
	u := *s.endpoint
	q := u.Query()
	q.Set("$top", strconv.Itoa(s.query.limit()))
	if f := s.query.Filter; f.Field != "" {
		q.Set("$filter", fmt.Sprintf("%s eq %s", f.Field, odataLiteral(f.Value)))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, newHTTPError("fetchRecords", resp, b)
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out collectionResponse
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("parse records response: %w", err)
	}

	records := make([]cascade.Record, 0, len(out.Value))
	for _, raw := range out.Value {
		rec := make(cascade.Record, len(raw))
		for k, v := range raw {
			if s, ok := scalarString(v); ok {
				rec[k] = s
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// odataLiteral leaves numbers and booleans bare and quotes everything else.
func odataLiteral(v string) string {
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return v
	}
	if v == "true" || v == "false" {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// scalarString flattens a decoded JSON scalar. Nulls, objects and arrays are
// not representable as record fields.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// HTTPError is a sanitized summary of a non-2xx response from a record endpoint.
// Raw bodies are never included beyond a short truncated snippet.
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	Snippet    string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "source http error"
	}
	msg := fmt.Sprintf("source api error: op=%s status=%s", e.Op, strings.TrimSpace(e.Status))
	if e.Snippet != "" {
		msg += " body=" + e.Snippet
	}
	return msg
}

func newHTTPError(op string, resp *http.Response, body []byte) error {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}
	h.Snippet = truncateBody(body)
	return h
}

func truncateBody(body []byte) string {
	const limit = 256
	b := body
	if len(b) > limit {
		b = b[:limit]
	}
	s := strings.Join(strings.Fields(string(b)), " ")
	if s == "" {
		return ""
	}
	if len(body) > limit {
		return s + "..."
	}
	return s
}
