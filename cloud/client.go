package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/XANi/solis2mqtt/signer"
	"github.com/XANi/solis2mqtt/telemetry"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://www.soliscloud.com:13333"
	DetailPath     = "/v1/api/inverterDetailList"
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 512
)

// Response is the decoded JSON body, uninterpreted.
type Response map[string]any

type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
	// Now is used for the Date header, defaults to time.Now
	Now func() time.Time
}

type Client struct {
	baseURL string
	key     string
	secret  string
	http    *http.Client
	l       *zap.SugaredLogger
	now     func() time.Time
}

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.APISecret == "" {
		return nil, fmt.Errorf("api secret is required: %w", signer.ErrEmptySecret)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		baseURL: baseURL,
		key:     cfg.APIKey,
		secret:  cfg.APISecret,
		http:    httpClient,
		l:       cfg.Logger,
		now:     cfg.Now,
	}, nil
}

type detailRequest struct {
	DeviceID string `json:"deviceId"`
}

// FetchTelemetry queries the detail endpoint for one device. It does not retry.
func (c *Client) FetchTelemetry(ctx context.Context, deviceID string) (Response, error) {
	body, err := json.Marshal(detailRequest{DeviceID: deviceID})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	date := signer.Date(c.now())
	sig, err := signer.Sign(signer.Request{
		Method:      http.MethodPost,
		Body:        body,
		ContentType: signer.ContentType,
		Date:        date,
		Path:        DetailPath,
	}, c.secret)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	url := c.baseURL + DetailPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", signer.ContentType)
	req.Header.Set("Authorization", sig.Authorization(c.key))
	req.Header.Set("Content-MD5", sig.ContentMD5)
	req.Header.Set("Date", date)

	c.l.Debugf("POST %s device=%s", url, deviceID)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	var out Response
	dec := json.NewDecoder(bytes.NewReader(raw))
	// keeps large integers such as dataTimestamp exact
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil || out == nil {
		if err == nil {
			err = fmt.Errorf("body is not a JSON object")
		}
		return nil, fmt.Errorf("%w: decode response: %s", telemetry.ErrRejected, err)
	}
	return out, nil
}
