// Package jotform is a minimal client for the Jotform form-submissions API.
package jotform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // submission times are account-local

	"github.com/rotisserie/eris"

	"github.com/SWAB-ITO/swab-app-sub000/internal/resilience"
)

const (
	defaultBaseURL  = "https://api.jotform.com"
	defaultPageSize = 1000

	// createdAtLayout is the API's submission timestamp format. Jotform
	// reports times in the account's timezone, which is US Eastern.
	createdAtLayout = "2006-01-02 15:04:05"
)

// Client defines the Jotform operations the sync uses.
type Client interface {
	Submissions(ctx context.Context, formID string) ([]Submission, error)
	Ping(ctx context.Context) error
}

// Answer is one question's answer. Value holds the raw JSON since answers
// may be strings, arrays or multi-part objects.
type Answer struct {
	Name  string          `json:"name"`
	Text  string          `json:"text"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"answer"`
}

// String flattens the answer to text. Name answers join first and last,
// phone answers use the full number, lists are comma-joined.
func (a Answer) String() string {
	if len(a.Value) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(a.Value, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if err := json.Unmarshal(a.Value, &list); err == nil {
		return strings.Join(list, ", ")
	}
	var obj map[string]string
	if err := json.Unmarshal(a.Value, &obj); err == nil {
		if full := obj["full"]; full != "" {
			return strings.TrimSpace(full)
		}
		if obj["first"] != "" || obj["last"] != "" {
			return strings.TrimSpace(obj["first"] + " " + obj["last"])
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if v := strings.TrimSpace(obj[k]); v != "" {
				parts = append(parts, v)
			}
		}
		return strings.Join(parts, " ")
	}
	return strings.TrimSpace(string(a.Value))
}

// Part returns one key of a multi-part answer, such as "first" of a name.
func (a Answer) Part(key string) string {
	var obj map[string]string
	if err := json.Unmarshal(a.Value, &obj); err != nil {
		return ""
	}
	return strings.TrimSpace(obj[key])
}

// Submission is one form submission.
type Submission struct {
	ID        string
	FormID    string
	Status    string
	CreatedAt time.Time
	// Answers are keyed by the question's unique name.
	Answers map[string]Answer
}

// Answer looks up the first non-empty answer among the given question names.
func (s Submission) Answer(names ...string) (Answer, bool) {
	for _, n := range names {
		if a, ok := s.Answers[n]; ok && a.String() != "" {
			return a, true
		}
	}
	return Answer{}, false
}

type wireSubmission struct {
	ID        string            `json:"id"`
	FormID    string            `json:"form_id"`
	Status    string            `json:"status"`
	CreatedAt string            `json:"created_at"`
	Answers   map[string]Answer `json:"answers"`
}

type submissionsResponse struct {
	ResponseCode int              `json:"responseCode"`
	Message      string           `json:"message"`
	Content      []wireSubmission `json:"content"`
	ResultSet    struct {
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
		Count  int `json:"count"`
	} `json:"resultSet"`
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithPageSize sets how many submissions each request fetches.
func WithPageSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	apiKey   string
	baseURL  string
	pageSize int
	http     *http.Client
	retry    resilience.RetryConfig
	loc      *time.Location
}

// NewClient creates a Jotform client.
func NewClient(apiKey string, opts ...Option) Client {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	c := &httpClient{
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		pageSize: defaultPageSize,
		http:     &http.Client{Timeout: 30 * time.Second},
		retry:    resilience.DefaultRetryConfig(),
		loc:      loc,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.OnRetry = resilience.RetryLogger("jotform", "submissions")
	return c
}

// Submissions pages through every active submission of a form. Deleted
// submissions are dropped.
func (c *httpClient) Submissions(ctx context.Context, formID string) ([]Submission, error) {
	if formID == "" {
		return nil, eris.New("jotform: form id is required")
	}

	var out []Submission
	for offset := 0; ; offset += c.pageSize {
		page, err := resilience.Do(ctx, c.retry, func(ctx context.Context) (*submissionsResponse, error) {
			return c.page(ctx, formID, offset)
		})
		if err != nil {
			return nil, eris.Wrapf(err, "jotform: list submissions of form %s", formID)
		}
		for _, ws := range page.Content {
			if strings.EqualFold(ws.Status, "DELETED") {
				continue
			}
			created, err := time.ParseInLocation(createdAtLayout, ws.CreatedAt, c.loc)
			if err != nil {
				return nil, eris.Wrapf(err, "jotform: parse created_at of submission %s", ws.ID)
			}
			out = append(out, Submission{
				ID:        ws.ID,
				FormID:    ws.FormID,
				Status:    ws.Status,
				CreatedAt: created.UTC(),
				Answers:   byName(ws.Answers),
			})
		}
		if len(page.Content) < c.pageSize {
			break
		}
	}
	return out, nil
}

// byName rekeys answers from question id to question name.
func byName(answers map[string]Answer) map[string]Answer {
	out := make(map[string]Answer, len(answers))
	for qid, a := range answers {
		key := a.Name
		if key == "" {
			key = qid
		}
		out[key] = a
	}
	return out
}

func (c *httpClient) page(ctx context.Context, formID string, offset int) (*submissionsResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageSize))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("orderby", "created_at")

	var resp submissionsResponse
	if err := c.get(ctx, fmt.Sprintf("/form/%s/submissions?%s", url.PathEscape(formID), q.Encode()), &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != 0 && resp.ResponseCode != http.StatusOK {
		return nil, &resilience.StatusError{Service: "jotform", StatusCode: resp.ResponseCode, Body: resp.Message}
	}
	return &resp, nil
}

// Ping checks the key against the user endpoint.
func (c *httpClient) Ping(ctx context.Context) error {
	var resp struct {
		ResponseCode int `json:"responseCode"`
	}
	if err := c.get(ctx, "/user", &resp); err != nil {
		return eris.Wrap(err, "jotform: ping")
	}
	return nil
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("APIKEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := resilience.CheckResponse("jotform", resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
