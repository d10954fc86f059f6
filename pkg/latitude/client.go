package latitude

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrAuthFailure is returned for rejected credentials, malformed login responses and
	// data requests refused because the token is no longer valid.
	ErrAuthFailure = errors.New("latitude: authentication failed")

	// ErrFetchParse is returned when the location response is not the expected JSON document.
	ErrFetchParse = errors.New("latitude: malformed location response")

	// ErrRequestFailed is returned for transport errors, timeouts and unexpected status codes.
	ErrRequestFailed = errors.New("latitude: request failed")
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 1 << 20

// Fix is a single position report for an account.
type Fix struct {
	Latitude  float64
	Longitude float64
	Timestamp time.Time
}

// Config holds the endpoints used by Client.
type Config struct {
	AuthURL   string        // ClientLogin endpoint
	BridgeAPI string        // Base URL of the location bridge application
	AppName   string        // Reported as the login "source"
	Timeout   time.Duration // Per request timeout
}

// Client talks to the login and location endpoints.
type Client struct {
	authURL    string
	bridgeAPI  string
	appName    string
	httpClient *http.Client
}

// NewClient creates a Client. A zero timeout leaves requests bounded only by their context.
func NewClient(cfg Config) *Client {
	return &Client{
		authURL:   cfg.AuthURL,
		bridgeAPI: strings.TrimRight(cfg.BridgeAPI, "/"),
		appName:   cfg.AppName,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Authenticate performs a ClientLogin and returns the Auth token.
func (c *Client) Authenticate(ctx context.Context, username, password string) (string, error) {
	form := url.Values{
		"Email":       {username},
		"Passwd":      {password},
		"service":     {"ah"},
		"source":      {c.appName},
		"accountType": {"HOSTED_OR_GOOGLE"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: login: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: login returned status %d", ErrAuthFailure, resp.StatusCode)
	}

	values, err := parseKeyValues(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}

	token := values["Auth"]
	if token == "" {
		return "", fmt.Errorf("%w: no Auth entry in login response", ErrAuthFailure)
	}
	return token, nil
}

type locationResponse struct {
	Data *struct {
		Latitude    *float64     `json:"latitude"`
		Longitude   *float64     `json:"longitude"`
		TimestampMs *json.Number `json:"timestampMs"`
	} `json:"data"`
}

// FetchLocation retrieves the latest position for the account owning token.
func (c *Client) FetchLocation(ctx context.Context, token string) (Fix, error) {
	query := url.Values{
		"continue": {c.bridgeAPI},
		"auth":     {token},
	}
	reqURL := fmt.Sprintf("%s/_ah/login?%s", c.bridgeAPI, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Fix{}, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Fix{}, fmt.Errorf("%w: fetch: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Fix{}, fmt.Errorf("%w: fetch returned status %d", ErrAuthFailure, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Fix{}, fmt.Errorf("%w: fetch returned status %d", ErrRequestFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Fix{}, fmt.Errorf("%w: reading body: %v", ErrRequestFailed, err)
	}

	return parseLocation(body)
}

func parseLocation(body []byte) (Fix, error) {
	var lr locationResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return Fix{}, fmt.Errorf("%w: %v", ErrFetchParse, err)
	}
	if lr.Data == nil || lr.Data.Latitude == nil || lr.Data.Longitude == nil || lr.Data.TimestampMs == nil {
		return Fix{}, fmt.Errorf("%w: missing data.latitude, data.longitude or data.timestampMs", ErrFetchParse)
	}

	ms, err := lr.Data.TimestampMs.Int64()
	if err != nil {
		f, ferr := lr.Data.TimestampMs.Float64()
		if ferr != nil {
			return Fix{}, fmt.Errorf("%w: timestampMs %q: %v", ErrFetchParse, lr.Data.TimestampMs.String(), err)
		}
		ms = int64(f)
	}

	return Fix{
		Latitude:  *lr.Data.Latitude,
		Longitude: *lr.Data.Longitude,
		Timestamp: time.Unix(ms/1000, 0),
	}, nil
}

// parseKeyValues reads a line oriented Key=Value body.
func parseKeyValues(r io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}
