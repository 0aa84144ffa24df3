// Package shop is the HTTP client for the store backend that owns orders and accounts.
package shop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/trackengine/internal/apperr"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func New(baseURL, serviceToken string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8081"
	}
	return &Client{
		baseURL: baseURL,
		token:   serviceToken,
		httpc: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	var o models.Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &o); err != nil {
		return models.Order{}, err
	}
	if o.ID == "" {
		o.ID = orderID
	}
	return o, nil
}

func (c *Client) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus, reason string) error {
	body := struct {
		Status models.OrderStatus `json:"status"`
		Reason string             `json:"reason"`
	}{status, reason}
	return c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/status", body, nil)
}

func (c *Client) GetAccount(ctx context.Context, userID string) (models.Account, error) {
	var a models.Account
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &a); err != nil {
		return models.Account{}, err
	}
	if a.ID == "" {
		a.ID = userID
	}
	return a, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u.Path = path

	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return apperr.ExternalService("shop request failed", errors.Wrap(err, "do request"))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperr.NotFound("shop resource", path)
	case resp.StatusCode/100 != 2:
		return apperr.ExternalService(fmt.Sprintf("shop %s %s: http %d", method, path, resp.StatusCode), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.ExternalService("shop returned an invalid body", errors.Wrap(err, "decode"))
	}
	return nil
}
