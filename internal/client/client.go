package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-snapshot-service/internal/observability"
)

// DefaultBaseURL is the One Call 3.0 endpoint.
const DefaultBaseURL = "https://api.openweathermap.org/data/3.0/onecall"

// maxBodyBytes bounds how much of an upstream response is read.
const maxBodyBytes = 4 << 20

// Fetcher performs one upstream fetch sequence (with retries) and returns the raw JSON payload.
type Fetcher interface {
	Fetch(ctx context.Context) (json.RawMessage, error)
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrInvalidBody     = errors.New("invalid response body")
)

// ExhaustedError is returned when every attempt failed. Its message is the last attempt's.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return e.Last.Error()
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Sleeper waits for d or until ctx is done. Injected so backoff can be tested without real delays.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Options configures a OneCallClient.
type Options struct {
	APIKey         string
	BaseURL        string
	Latitude       float64
	Longitude      float64
	Timeout        time.Duration // per attempt
	Attempts       int
	InitialBackoff time.Duration
	Logger         *zap.Logger
	HTTPClient     *http.Client
	Sleep          Sleeper
}

// OneCallClient fetches the One Call payload for a fixed coordinate.
type OneCallClient struct {
	apiKey         string
	baseURL        string
	lat            float64
	lon            float64
	timeout        time.Duration
	attempts       int
	initialBackoff time.Duration
	logger         *zap.Logger
	client         *http.Client
	sleep          Sleeper
}

// NewOneCallClient validates opts and applies defaults: 3 attempts, 1s initial backoff,
// 10s per-attempt timeout, DefaultBaseURL.
func NewOneCallClient(opts Options) (*OneCallClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Sleep == nil {
		opts.Sleep = SleepContext
	}

	return &OneCallClient{
		apiKey:         opts.APIKey,
		baseURL:        opts.BaseURL,
		lat:            opts.Latitude,
		lon:            opts.Longitude,
		timeout:        opts.Timeout,
		attempts:       opts.Attempts,
		initialBackoff: opts.InitialBackoff,
		logger:         opts.Logger,
		client:         opts.HTTPClient,
		sleep:          opts.Sleep,
	}, nil
}

// Backoff returns the delay after the given failed attempt (1-based): initial, 2x, 4x, ...
func Backoff(initial time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return initial << (attempt - 1)
}

// Fetch makes up to the configured number of attempts and returns the first valid JSON body.
// Between failed attempts it sleeps Backoff(initial, n). A cancelled ctx aborts immediately.
func (c *OneCallClient) Fetch(ctx context.Context) (json.RawMessage, error) {
	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			observability.WeatherAPIRetriesTotal.Inc()
		}

		body, err := c.callAPI(ctx)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		c.logger.Warn("fetch attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.attempts),
			zap.Error(err))

		if attempt < c.attempts {
			if err := c.sleep(ctx, Backoff(c.initialBackoff, attempt)); err != nil {
				return nil, err
			}
		}
	}

	return nil, &ExhaustedError{Attempts: c.attempts, Last: lastErr}
}

func (c *OneCallClient) callAPI(ctx context.Context) (json.RawMessage, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)

		// url.Error embeds the request URL, and with it the appid.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	if err := handleErrorResponse(resp); err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
		observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("parse response: %w", ErrInvalidBody)
	}

	return json.RawMessage(body), nil
}

func (c *OneCallClient) buildRequest(ctx context.Context) (*http.Request, error) {
	baseURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("lat", strconv.FormatFloat(c.lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(c.lon, 'f', -1, 64))
	params.Set("appid", c.apiKey)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

// handleErrorResponse maps non-2xx statuses to sentinel errors. Every non-2xx is retried.
func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", ErrRateLimited, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
