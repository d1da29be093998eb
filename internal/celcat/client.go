package celcat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	appLog "celcal/internal/log"
)

const (
	// DefaultResourceType is the Celcat resType of student groups.
	DefaultResourceType = 103

	dateLayout = "2006-01-02"
)

// ErrEmptyResponse is wrapped by FetchError when Celcat answers 2xx with
// no body, which it does for unknown groups.
var ErrEmptyResponse = errors.New("empty response body")

// FetchError reports an unusable answer from the Celcat server.
type FetchError struct {
	Op     string
	URL    string
	Status int // HTTP status, 0 when no response was received
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("celcat %s %s: status %d: %v", e.Op, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("celcat %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Result is a single group returned by Search.
type Result struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Dept string `json:"dept"`
}

// Client talks to the Celcat calendar endpoints under <server>/Home/.
type Client struct {
	root         string
	resourceType int
	http         *http.Client
	limiter      *rate.Limiter
}

type Option func(*Client)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithRateLimit caps outgoing requests per second. Zero or less disables pacing.
func WithRateLimit(perSecond float64) Option {
	return func(cl *Client) {
		if perSecond <= 0 {
			cl.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		cl.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// NewClient creates a client for the given server base URL.
func NewClient(server string, resourceType int, opts ...Option) *Client {
	if resourceType <= 0 {
		resourceType = DefaultResourceType
	}
	c := &Client{
		root:         strings.TrimRight(server, "/") + "/Home/",
		resourceType: resourceType,
		http:         &http.Client{Timeout: 30 * time.Second},
		limiter:      rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search looks up groups whose name matches query.
func (c *Client) Search(ctx context.Context, query string, max int) ([]Result, error) {
	if max <= 0 {
		max = 50
	}
	params := url.Values{}
	params.Set("myRessources", "false")
	params.Set("searchTerm", query)
	params.Set("pageSize", strconv.Itoa(max))
	params.Set("pageNumber", "1")
	params.Set("resType", strconv.Itoa(c.resourceType))

	endpoint := c.root + "ReadResourceListItems?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	body, err := c.do(req, "search")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Results []Result `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &FetchError{Op: "search", URL: req.URL.Path, Err: err}
	}
	return payload.Results, nil
}

// Fetch returns the raw calendar records of groups between the start and
// end dates (time of day is ignored by the server).
func (c *Client) Fetch(ctx context.Context, groups []string, start, end time.Time) ([]Record, error) {
	form := url.Values{}
	form.Set("start", start.Format(dateLayout))
	form.Set("end", end.Format(dateLayout))
	form.Set("resType", strconv.Itoa(c.resourceType))
	form.Set("calView", "agendaDay")
	for _, g := range groups {
		form.Add("federationIds[]", g)
	}
	form.Set("colourScheme", "3")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.root+"GetCalendarData", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	appLog.Info("celcat fetch start",
		"groups", len(groups),
		"start", start.Format(dateLayout),
		"end", end.Format(dateLayout),
	)

	body, err := c.do(req, "fetch")
	if err != nil {
		return nil, err
	}

	var records []Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, &FetchError{Op: "fetch", URL: req.URL.Path, Err: err}
	}

	appLog.Info("celcat fetch success", "records", len(records))
	return records, nil
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, &FetchError{Op: op, URL: req.URL.Path, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Op: op, URL: req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Op: op, URL: req.URL.Path, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Op: op, URL: req.URL.Path, Status: resp.StatusCode, Err: errors.New(resp.Status)}
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, &FetchError{Op: op, URL: req.URL.Path, Status: resp.StatusCode, Err: ErrEmptyResponse}
	}
	return body, nil
}
