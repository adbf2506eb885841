package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/totegamma/blurchat"
)

const (
	defaultTimeout = 10 * time.Second
	userAgent      = "blurchat-client"
)

// ErrNotFound is returned when the directory does not know a handle.
var ErrNotFound = errors.New("not found")

// Client talks to a blurchat directory server.
type Client struct {
	client  *http.Client
	cache   *cache.Cache
	baseURL string
}

// New creates a client for the directory at endpoint. A bare host is
// taken as https.
func New(endpoint string) *Client {
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}

	httpClient := http.Client{
		Timeout: defaultTimeout,
	}

	c := &Client{
		client:  &httpClient,
		cache:   cache.New(10*time.Minute, 15*time.Minute),
		baseURL: strings.TrimRight(endpoint, "/"),
	}
	httpClient.Transport = c
	log.Debug().Str("endpoint", c.baseURL).Msg("directory client initialized")
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	return http.DefaultTransport.RoundTrip(req)
}

// HttpRequest performs a JSON request. body may be nil; response may be nil.
func (c *Client) HttpRequest(ctx context.Context, method, path, token string, body, response any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if response == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetSnapshot fetches the whole directory. It is never cached.
func (c *Client) GetSnapshot(ctx context.Context) (blurchat.DirectorySnapshot, error) {
	var snapshot blurchat.DirectorySnapshot
	if err := c.HttpRequest(ctx, http.MethodGet, "/directory", "", nil, &snapshot); err != nil {
		return blurchat.DirectorySnapshot{}, err
	}
	return snapshot, nil
}

// GetEntry resolves a single handle. Hits are cached for ten minutes.
func (c *Client) GetEntry(ctx context.Context, handle string) (blurchat.DirectoryEntry, error) {
	cacheKey := "entry:" + handle
	if x, found := c.cache.Get(cacheKey); found {
		return x.(blurchat.DirectoryEntry), nil
	}

	var entry blurchat.DirectoryEntry
	if err := c.HttpRequest(ctx, http.MethodGet, "/directory/"+url.PathEscape(handle), "", nil, &entry); err != nil {
		return blurchat.DirectoryEntry{}, err
	}

	c.cache.Set(cacheKey, entry, cache.DefaultExpiration)
	return entry, nil
}

// PutEntry publishes handle for the identity the token was signed by.
func (c *Client) PutEntry(ctx context.Context, handle, token string) (blurchat.DirectoryEntry, error) {
	var entry blurchat.DirectoryEntry
	err := c.HttpRequest(ctx, http.MethodPut, "/directory/"+url.PathEscape(handle), token, struct{}{}, &entry)
	if err != nil {
		return blurchat.DirectoryEntry{}, err
	}
	c.cache.Set("entry:"+handle, entry, cache.DefaultExpiration)
	return entry, nil
}

// Host returns the host part of the endpoint, used as jwt audience.
func (c *Client) Host() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL
	}
	return u.Host
}
