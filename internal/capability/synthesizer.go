package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/forgecore/autonomy/internal/netpool"
)

// HTTPSynthesizer calls a completion endpoint through a netpool Pool, so
// synthesis requests share that pool's circuit breaker and connection
// cap with every other call to the same upstream.
type HTTPSynthesizer struct {
	pool  *netpool.Pool
	model string
}

func NewHTTPSynthesizer(pool *netpool.Pool, model string) *HTTPSynthesizer {
	return &HTTPSynthesizer{pool: pool, model: model}
}

type synthesizeRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type synthesizeResponse struct {
	Text string `json:"text"`
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(synthesizeRequest{Model: s.model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal synthesize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.pool.BaseURL()+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build synthesize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.pool.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read synthesize response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("synthesize: upstream status %d: %s", resp.StatusCode, string(data))
	}

	var out synthesizeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode synthesize response: %w", err)
	}
	return out.Text, nil
}
