// Package supplier talks to third-party supplier APIs: it validates
// credentials, fetches one page of sample records and infers the fields a
// merchant can map.
package supplier

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
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/aarushishahhh/supplysync/project/internal/models"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxPerHost   = 4
	DefaultMaxBodyBytes = 10 << 20
	DefaultUserAgent    = "SupplySync/1.0 (+supplier-import)"
)

var errBodyTooLarge = errors.New("response body too large")

type Config struct {
	Timeout      time.Duration
	MaxPerHost   int
	MaxBodyBytes int64
	UserAgent    string
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxPerHost <= 0 {
		c.MaxPerHost = DefaultMaxPerHost
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
}

type Client struct {
	client   *http.Client
	config   Config
	hostSems map[string]*semaphore.Weighted // Per-host concurrency caps
	hostMux  sync.Mutex
}

func New(config Config) *Client {
	config.defaults()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 30 * time.Second

	return &Client{
		config:   config,
		hostSems: make(map[string]*semaphore.Weighted),
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				return nil
			},
		},
	}
}

// NormalizeToken strips every leading case-insensitive "Bearer " prefix so
// that a token and its prefixed form produce the same header.
func NormalizeToken(token string) string {
	token = strings.TrimSpace(token)
	for len(token) > 6 && strings.EqualFold(token[:6], "bearer") && isSpace(token[6]) {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}

// Probe checks that the supplier answers apiUrl with a 2xx for the given
// credential. Failures are reported in the result, never as an error.
func (c *Client) Probe(ctx context.Context, req models.ProbeRequest) models.ProbeResult {
	status, err := c.Check(ctx, req)
	if err != nil {
		return failedProbe(err)
	}
	return models.ProbeResult{Success: true, Status: status}
}

// Check is Probe with the failure kept as a *Error.
func (c *Client) Check(ctx context.Context, req models.ProbeRequest) (int, error) {
	target, err := parseTarget(req)
	if err != nil {
		return 0, err
	}

	resp, err := c.get(ctx, target, req.AccessToken, false)
	if err != nil {
		return 0, err
	}

	if !isSuccess(resp.status) {
		return resp.status, upstreamError(resp.status, resp.contentType, resp.body)
	}

	return resp.status, nil
}

func failedProbe(err error) models.ProbeResult {
	var supplierErr *Error
	if errors.As(err, &supplierErr) {
		return models.ProbeResult{Success: false, Status: supplierErr.Status, Error: supplierErr.Message}
	}
	return models.ProbeResult{Success: false, Status: http.StatusBadGateway, Error: truncate(err.Error(), MaxErrorLength)}
}

// FetchSample retrieves one page of records. Pages above 1 are requested
// through a "page" query parameter; other query parameters are preserved.
func (c *Client) FetchSample(ctx context.Context, req models.ProbeRequest, page int) (*models.SampleFetchResult, error) {
	target, err := parseTarget(req)
	if err != nil {
		return nil, err
	}

	if page > 1 {
		q := target.Query()
		q.Set("page", strconv.Itoa(page))
		target.RawQuery = q.Encode()
	} else {
		page = 1
	}

	body, err := c.fetchJSON(ctx, target, req.AccessToken)
	if err != nil {
		return nil, err
	}

	p, err := decodePayload(body)
	if err != nil {
		return nil, malformedJSON(err)
	}

	items := p.items
	if items == nil {
		items = []models.Record{}
	}

	return &models.SampleFetchResult{
		Items:      items,
		Pagination: p.pagination(page),
	}, nil
}

// DiscoverFields fetches the first page and flattens its first record.
// An empty page yields no fields and a nil sample.
func (c *Client) DiscoverFields(ctx context.Context, req models.ProbeRequest) (*models.FieldSet, error) {
	target, err := parseTarget(req)
	if err != nil {
		return nil, err
	}

	body, err := c.fetchJSON(ctx, target, req.AccessToken)
	if err != nil {
		return nil, err
	}

	items, _ := LocateRecordArray(body)
	if len(items) == 0 {
		return &models.FieldSet{Fields: []string{}}, nil
	}

	sample := items[0]
	return &models.FieldSet{
		Fields: FlattenFields(sample),
		Sample: sample,
	}, nil
}

// fetchJSON is shared by FetchSample and DiscoverFields. The returned body
// is valid JSON.
func (c *Client) fetchJSON(ctx context.Context, target *url.URL, token string) ([]byte, error) {
	resp, err := c.get(ctx, target, token, true)
	if err != nil {
		return nil, err
	}

	if !isSuccess(resp.status) {
		return nil, upstreamError(resp.status, resp.contentType, resp.body)
	}

	if !isJSON(resp.contentType) {
		contentType := resp.contentType
		if contentType == "" {
			contentType = "none"
		}
		return nil, &Error{
			Kind:    KindContentType,
			Status:  http.StatusBadRequest,
			Message: truncate(fmt.Sprintf("Expected a JSON response from the supplier API, got content type %q", contentType), MaxErrorLength),
		}
	}

	if !json.Valid(resp.body) {
		return nil, malformedJSON(errInvalidJSON)
	}
	return resp.body, nil
}

func malformedJSON(err error) *Error {
	return &Error{
		Kind:    KindMalformed,
		Status:  http.StatusBadGateway,
		Message: "Supplier API returned malformed JSON",
		Err:     err,
	}
}

type response struct {
	status      int
	contentType string
	body        []byte
}

// get performs one bounded GET. The whole call, including the wait for a
// per-host slot and the body read, shares a single timeout. Success bodies
// are read only when readSuccessBody is set.
func (c *Client) get(ctx context.Context, target *url.URL, token string, readSuccessBody bool) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	sem := c.hostSemaphore(strings.ToLower(target.Host))
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, transportError(err, c.config.Timeout)
	}
	defer sem.Release(1)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, invalidInput("apiUrl is not a valid URL")
	}
	httpReq.Header.Set("Authorization", "Bearer "+NormalizeToken(token))
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError(err, c.config.Timeout)
	}
	defer resp.Body.Close()

	out := &response{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
	}

	if isSuccess(resp.StatusCode) && !readSuccessBody {
		return out, nil
	}

	body, err := readLimited(resp.Body, c.config.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return nil, &Error{
				Kind:    KindMalformed,
				Status:  http.StatusBadGateway,
				Message: fmt.Sprintf("Supplier response exceeds %d bytes", c.config.MaxBodyBytes),
				Err:     err,
			}
		}
		return nil, transportError(err, c.config.Timeout)
	}
	out.body = body

	return out, nil
}

func (c *Client) hostSemaphore(host string) *semaphore.Weighted {
	c.hostMux.Lock()
	defer c.hostMux.Unlock()

	sem, exists := c.hostSems[host]
	if !exists {
		sem = semaphore.NewWeighted(int64(c.config.MaxPerHost))
		c.hostSems[host] = sem
	}
	return sem
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func parseTarget(req models.ProbeRequest) (*url.URL, error) {
	rawURL := strings.TrimSpace(req.APIURL)
	if rawURL == "" || NormalizeToken(req.AccessToken) == "" {
		return nil, invalidInput("apiUrl and accessToken are required")
	}

	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		return nil, invalidInput("apiUrl must be an absolute URL")
	}

	scheme := strings.ToLower(target.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, invalidInput("apiUrl must use http or https")
	}

	return target, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
