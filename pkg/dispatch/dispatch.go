// Package dispatch hands outbound messages to the SMS carrier.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agencyos/textline/pkg/config"
	"github.com/agencyos/textline/pkg/logger"
)

// ErrDispatch wraps carrier transport failures, including timeouts. A
// timeout is a dispatch failure; it is never retried automatically.
var ErrDispatch = errors.New("dispatch failed")

// Receipt is the carrier's acknowledgment of an accepted send.
type Receipt struct {
	ProviderID string
}

// Sender delivers one text message. Callers must not hold locks across a
// Send call; it blocks on network I/O up to the configured timeout.
type Sender interface {
	Send(ctx context.Context, from, to, text string) (*Receipt, error)
}

// CarrierClient sends through the carrier's form-POST API.
type CarrierClient struct {
	baseURL  string
	apiKey   string
	userID   string
	password string
	client   *http.Client
}

func NewCarrierClient(cfg config.CarrierConfig) *CarrierClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CarrierClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		userID:   cfg.UserID,
		password: cfg.Password,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *CarrierClient) Send(ctx context.Context, from, to, text string) (*Receipt, error) {
	start := time.Now()

	form := url.Values{}
	form.Set("userid", c.userID)
	form.Set("password", c.password)
	form.Set("from", from)
	form.Set("to", to)
	form.Set("msgType", "text")
	form.Set("msg", text)
	form.Set("output", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/send", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrDispatch, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		logger.ErrorCF("dispatch", "Carrier request failed", map[string]any{
			"to":    to,
			"error": err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		logger.ErrorCF("dispatch", "Carrier rejected send", map[string]any{
			"to":       to,
			"status":   resp.StatusCode,
			"duration": time.Since(start).String(),
		})
		return nil, fmt.Errorf("%w: carrier status %d: %s", ErrDispatch, resp.StatusCode, string(body))
	}

	logger.InfoCF("dispatch", "Message sent", map[string]any{
		"to":       to,
		"duration": time.Since(start).String(),
	})
	return &Receipt{ProviderID: resp.Header.Get("X-Message-Id")}, nil
}
