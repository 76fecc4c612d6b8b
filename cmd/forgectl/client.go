package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// apiClient is a thin wrapper over the forgecored HTTP API. It carries
// no retry or circuit-breaking logic of its own — forgectl is an
// operator tool talking to a single daemon, not a fleet client.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if jsonErr := json.Unmarshal(raw, &apiErr); jsonErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, string(raw))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type goalView struct {
	ID                 string   `json:"id"`
	Kind               string   `json:"kind"`
	Description        string   `json:"description"`
	Rationale          string   `json:"rationale"`
	EstimatedBudgetUSD string   `json:"estimated_budget_usd"`
	Status             string   `json:"status"`
	ImpactScore        float64  `json:"impact_score"`
	IdentifiedAt       string   `json:"identified_at"`
	ApprovedAt         *string  `json:"approved_at,omitempty"`
	ApprovedBy         string   `json:"approved_by,omitempty"`
	EffectivenessScore *float64 `json:"effectiveness_score,omitempty"`
}

type jobView struct {
	Name       string `json:"name"`
	Trigger    string `json:"trigger"`
	NextRunAt  string `json:"next_run_at"`
	LastRunAt  string `json:"last_run_at,omitempty"`
	LastStatus string `json:"last_status,omitempty"`
}

type healthView struct {
	Healthy bool    `json:"healthy"`
	UptimeS float64 `json:"uptime_s"`
	Paused  bool    `json:"paused"`
	Pools   []struct {
		Name    string `json:"Name"`
		State   string `json:"State"`
		Healthy bool   `json:"Healthy"`
	} `json:"pools"`
}
