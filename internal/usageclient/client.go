// Package usageclient fetches billing, subscription, and token-usage
// facts from the upstream provider and synthesizes UsageSnapshots.
package usageclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codex-manager/gateway/internal/gwmodel"
)

// Client fetches usage facts for one account at a time from an
// OpenAI-compatible provider.
type Client struct {
	http    *http.Client
	baseURL string
}

func New(baseURL string) *Client {
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
	}
}

func (c *Client) buildRequest(ctx context.Context, a *gwmodel.Account, method, path string, query string) (*http.Request, error) {
	url := c.baseURL + path
	if query != "" {
		url += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
	if a.OrgID != nil {
		req.Header.Set("OpenAI-Organization", *a.OrgID)
	}
	return req, nil
}

// FetchUsage issues the three independent GETs spec.md §4.2 names.
// Failure of any one is logged but does not abort the others; the
// returned snapshot contains whatever was successfully obtained.
func (c *Client) FetchUsage(ctx context.Context, a *gwmodel.Account) *gwmodel.UsageSnapshot {
	snapshot := gwmodel.NewUsageSnapshot(a.ID)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		usage, err := c.fetchBillingUsage(ctx, a)
		if err != nil {
			slog.Warn("fetch billing usage failed", "account_id", a.ID.String(), "label", a.Label, "error", err)
			return
		}
		snapshot.MonthlyUsage = usage.TotalUsage / 100.0
	}()

	go func() {
		defer wg.Done()
		sub, err := c.fetchSubscription(ctx, a)
		if err != nil {
			slog.Warn("fetch subscription failed", "account_id", a.ID.String(), "label", a.Label, "error", err)
			return
		}
		snapshot.HardLimit = sub.HardLimitUSD
		snapshot.SoftLimit = sub.SoftLimitUSD
	}()

	go func() {
		defer wg.Done()
		summary, err := c.fetchTokenUsage(ctx, a)
		if err != nil {
			slog.Debug("token usage unavailable", "account_id", a.ID.String(), "label", a.Label, "error", err)
			return
		}
		snapshot.TokensUsed = summary.totalTokens
		snapshot.CostEstimate = summary.totalCost
	}()

	wg.Wait()

	if snapshot.HardLimit != nil {
		remaining := *snapshot.HardLimit - snapshot.MonthlyUsage
		snapshot.RemainingBudget = &remaining
	}
	snapshot.Timestamp = time.Now().UTC()
	return snapshot
}

type billingUsageResponse struct {
	TotalUsage float64 `json:"total_usage"`
}

type subscriptionResponse struct {
	SoftLimitUSD *float64 `json:"soft_limit_usd"`
	HardLimitUSD *float64 `json:"hard_limit_usd"`
}

type tokenUsageResponse struct {
	Data []struct {
		NGeneratedTokens uint64 `json:"n_generated_tokens"`
		NContextTokens   uint64 `json:"n_context_tokens"`
	} `json:"data"`
}

type tokenUsageSummary struct {
	totalTokens uint64
	totalCost   float64
}

// transientRetry retries fn on genuine transport failures (dial/IO), not
// on HTTP-level errors — the caller's own status check decides those.
// Up to 2 retries, exponential backoff, per spec.md's distinction between
// this component's best-effort GETs and the routing path's "no retry".
func transientRetry(ctx context.Context, fn func() (*http.Response, error)) (*http.Response, error) {
	var resp *http.Response
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	err := backoff.Retry(func() error {
		r, err := fn()
		if err != nil {
			resp = nil
			return err
		}
		resp = r
		return nil
	}, backoff.WithContext(policy, ctx))
	return resp, err
}

func (c *Client) fetchBillingUsage(ctx context.Context, a *gwmodel.Account) (*billingUsageResponse, error) {
	now := time.Now().UTC()
	startDate := fmt.Sprintf("%04d-%02d-01", now.Year(), now.Month())
	query := fmt.Sprintf("start_date=%s&end_date=%s", startDate, now.Format("2006-01-02"))

	resp, err := transientRetry(ctx, func() (*http.Response, error) {
		req, err := c.buildRequest(ctx, a, http.MethodGet, "/v1/dashboard/billing/usage", query)
		if err != nil {
			return nil, err
		}
		return c.http.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("send billing usage request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("billing usage API error: %d: %s", resp.StatusCode, body)
	}

	var out billingUsageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("parse billing usage response: %w", err)
	}
	return &out, nil
}

func (c *Client) fetchSubscription(ctx context.Context, a *gwmodel.Account) (*subscriptionResponse, error) {
	resp, err := transientRetry(ctx, func() (*http.Response, error) {
		req, err := c.buildRequest(ctx, a, http.MethodGet, "/v1/dashboard/billing/subscription", "")
		if err != nil {
			return nil, err
		}
		return c.http.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("send subscription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("subscription API error: %d: %s", resp.StatusCode, body)
	}

	var out subscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("parse subscription response: %w", err)
	}
	return &out, nil
}

func (c *Client) fetchTokenUsage(ctx context.Context, a *gwmodel.Account) (*tokenUsageSummary, error) {
	resp, err := transientRetry(ctx, func() (*http.Response, error) {
		req, err := c.buildRequest(ctx, a, http.MethodGet, "/v1/usage", "")
		if err != nil {
			return nil, err
		}
		return c.http.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("send token usage request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("token usage endpoint not available (404)")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token usage API error: %d: %s", resp.StatusCode, body)
	}

	var parsed tokenUsageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse token usage response: %w", err)
	}

	var summary tokenUsageSummary
	for _, d := range parsed.Data {
		summary.totalTokens += d.NGeneratedTokens + d.NContextTokens
		summary.totalCost += float64(d.NContextTokens)*gwmodel.CostPerInputToken + float64(d.NGeneratedTokens)*gwmodel.CostPerOutputToken
	}
	return &summary, nil
}

// ValidateKey probes the provider's model-listing endpoint with the given
// credential.
func (c *Client) ValidateKey(ctx context.Context, apiKey string, orgID *string) (*gwmodel.ValidationResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if orgID != nil {
		req.Header.Set("OpenAI-Organization", *orgID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("validate api key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &gwmodel.ValidationResult{
			Valid: false,
			Error: fmt.Sprintf("%d: %s", resp.StatusCode, body),
		}, nil
	}

	return &gwmodel.ValidationResult{
		Valid: true,
		OrgID: resp.Header.Get("openai-organization"),
	}, nil
}
