package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	billingdomain "github.com/signalacademy/billing/internal/billing/domain"
	"github.com/signalacademy/billing/internal/config"
)

// Client performs the one provider API call the pipeline depends on:
// resolving a subscription object when event metadata is incomplete.
type Client struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		secretKey: strings.TrimSpace(cfg.Provider.SecretKey),
		baseURL:   strings.TrimRight(cfg.Provider.APIBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*billingdomain.ProviderSubscription, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("subscription id is required")
	}

	endpoint := fmt.Sprintf("%s/v1/subscriptions/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stripe subscription lookup: status %d", resp.StatusCode)
	}

	var sub stripeSubscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("stripe subscription lookup: %w", err)
	}

	return &billingdomain.ProviderSubscription{
		ID:         sub.ID,
		CustomerID: sub.Customer,
		UserID:     strings.TrimSpace(sub.Metadata["userId"]),
	}, nil
}
