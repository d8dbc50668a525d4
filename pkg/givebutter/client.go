// Package givebutter is a client for the Givebutter contacts and campaign
// members API.
package givebutter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/SWAB-ITO/swab-app-sub000/internal/resilience"
)

const (
	defaultBaseURL = "https://api.givebutter.com/v1"
	defaultPerPage = 100
)

// Client defines the Givebutter operations the sync uses.
type Client interface {
	Contacts(ctx context.Context) ([]Contact, error)
	Members(ctx context.Context, campaignID string) ([]Member, error)
	ArchiveContact(ctx context.Context, contactID string) error
	RestoreContact(ctx context.Context, contactID string) error
	Ping(ctx context.Context) error
}

// Value is a typed email or phone entry.
type Value struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Address is a contact postal address.
type Address struct {
	Address1 string `json:"address_1"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zipcode  string `json:"zipcode"`
}

// Contact is a Givebutter contact.
type Contact struct {
	ID           int64     `json:"id"`
	ExternalID   string    `json:"external_id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PrimaryEmail string    `json:"primary_email"`
	PrimaryPhone string    `json:"primary_phone"`
	Emails       []Value   `json:"emails"`
	Phones       []Value   `json:"phones"`
	Addresses    []Address `json:"addresses"`
	Tags         []string  `json:"tags"`
	ArchivedAt   *string   `json:"archived_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SecondaryEmail returns the first email other than the primary.
func (c Contact) SecondaryEmail() string {
	for _, e := range c.Emails {
		if e.Value != "" && !strings.EqualFold(e.Value, c.PrimaryEmail) {
			return e.Value
		}
	}
	return ""
}

// Member is a campaign member fundraising page.
type Member struct {
	ID        int64   `json:"id"`
	ContactID int64   `json:"contact_id,omitempty"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Email     string  `json:"email"`
	Phone     string  `json:"phone"`
	Raised    float64 `json:"raised"`
	Goal      float64 `json:"goal"`
	Donors    int     `json:"donors"`
	URL       string  `json:"url"`
}

type meta struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	Total       int `json:"total"`
}

type page[T any] struct {
	Data []T  `json:"data"`
	Meta meta `json:"meta"`
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

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a Givebutter client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Contacts pages through every live contact.
func (c *httpClient) Contacts(ctx context.Context) ([]Contact, error) {
	out, err := fetchAll[Contact](ctx, c, "/contacts")
	if err != nil {
		return nil, eris.Wrap(err, "givebutter: list contacts")
	}
	return out, nil
}

// Members pages through a campaign's members.
func (c *httpClient) Members(ctx context.Context, campaignID string) ([]Member, error) {
	if campaignID == "" {
		return nil, eris.New("givebutter: campaign id is required")
	}
	out, err := fetchAll[Member](ctx, c, "/campaigns/"+url.PathEscape(campaignID)+"/members")
	if err != nil {
		return nil, eris.Wrapf(err, "givebutter: list members of campaign %s", campaignID)
	}
	return out, nil
}

// ArchiveContact archives a contact. Archival is reversible with
// RestoreContact. Archival is a mutation, so it is attempted once.
func (c *httpClient) ArchiveContact(ctx context.Context, contactID string) error {
	if contactID == "" {
		return eris.New("givebutter: contact id is required")
	}
	if err := c.do(ctx, http.MethodDelete, "/contacts/"+url.PathEscape(contactID), nil); err != nil {
		return eris.Wrapf(err, "givebutter: archive contact %s", contactID)
	}
	return nil
}

// RestoreContact restores an archived contact.
func (c *httpClient) RestoreContact(ctx context.Context, contactID string) error {
	if contactID == "" {
		return eris.New("givebutter: contact id is required")
	}
	if err := c.do(ctx, http.MethodPatch, "/contacts/"+url.PathEscape(contactID)+"/restore", nil); err != nil {
		return eris.Wrapf(err, "givebutter: restore contact %s", contactID)
	}
	return nil
}

// Ping fetches one contact to check the key.
func (c *httpClient) Ping(ctx context.Context) error {
	var p page[Contact]
	if err := c.do(ctx, http.MethodGet, "/contacts?per_page=1", &p); err != nil {
		return eris.Wrap(err, "givebutter: ping")
	}
	return nil
}

func fetchAll[T any](ctx context.Context, c *httpClient, path string) ([]T, error) {
	var out []T
	for n := 1; ; n++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(n))
		q.Set("per_page", strconv.Itoa(defaultPerPage))
		target := fmt.Sprintf("%s?%s", path, q.Encode())

		retry := c.retry
		retry.OnRetry = resilience.RetryLogger("givebutter", path)
		p, err := resilience.Do(ctx, retry, func(ctx context.Context) (*page[T], error) {
			var p page[T]
			if err := c.do(ctx, http.MethodGet, target, &p); err != nil {
				return nil, err
			}
			return &p, nil
		})
		if err != nil {
			return nil, err
		}
		out = append(out, p.Data...)
		if len(p.Data) == 0 || p.Meta.LastPage == 0 || n >= p.Meta.LastPage {
			break
		}
	}
	return out, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := resilience.CheckResponse("givebutter", resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
