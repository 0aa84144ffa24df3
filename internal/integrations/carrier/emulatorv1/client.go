package emulatorv1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/trackengine/internal/apperr"
	"github.com/BearBump/trackengine/internal/integrations/carrier"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/pkg/errors"
)

const maxBodyBytes = 1 << 20

// Client talks to the carrier emulator, which answers pull requests with the same
// body a carrier would post to our webhook.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) GetTracking(ctx context.Context, carrierName models.CarrierName, trackingNumber string) (carrier.RawUpdate, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return carrier.RawUpdate{}, errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/v1/tracking/%s/%s", url.PathEscape(string(carrierName)), url.PathEscape(trackingNumber))
	q := u.Query()
	if c.apiKey != "" {
		q.Set("apiKey", c.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return carrier.RawUpdate{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carrier.RawUpdate{}, apperr.ExternalService("carrier request failed", errors.Wrap(err, "do request"))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return carrier.RawUpdate{}, apperr.RateLimited("carrier emulator rate limit (429)")
	}
	if resp.StatusCode/100 != 2 {
		return carrier.RawUpdate{}, apperr.ExternalService(fmt.Sprintf("carrier emulator http %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return carrier.RawUpdate{}, errors.Wrap(err, "read body")
	}
	body = bytes.TrimSpace(body)
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return carrier.RawUpdate{}, apperr.ExternalService("carrier emulator returned a non-object body", errors.Wrap(err, "decode"))
	}

	return carrier.RawUpdate{Carrier: carrierName, Payload: json.RawMessage(body)}, nil
}
