package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/rs/zerolog"
)

const maxResponseBody = 1 << 20

// IdempotencyKey identifies one attempt of one payout. Retries use a new key
// because each retry is a new transfer attempt.
func IdempotencyKey(in domain.PayoutInstruction) string {
	return fmt.Sprintf("%s:%d", in.PayoutID, in.Attempt)
}

type executeResponse struct {
	Status         string  `json:"status"`
	ErrorReference *string `json:"errorReference"`
	ErrorMessage   *string `json:"errorMessage"`
}

// HTTPProvider executes payouts against the payout provider's JSON API
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider creates a new HTTPProvider. Per-call deadlines come from the
// caller's context.
func NewHTTPProvider(baseURL, apiKey string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

// Execute implements domain.PayoutProvider. A 2xx response carries the
// outcome; a 4xx is a declined transfer; anything else is an error.
func (p *HTTPProvider) Execute(ctx context.Context, in domain.PayoutInstruction) (domain.ProviderResult, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("encode payout instruction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/payouts", bytes.NewReader(body))
	if err != nil {
		return domain.ProviderResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", IdempotencyKey(in))
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.ProviderResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("read provider response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out executeResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return domain.ProviderResult{}, fmt.Errorf("decode provider response: %w", err)
		}
		if out.Status == "paid" {
			return domain.ProviderResult{Success: true}, nil
		}
		return domain.ProviderResult{ErrorReference: out.ErrorReference, ErrorMessage: out.ErrorMessage}, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var out executeResponse
		_ = json.Unmarshal(raw, &out)
		ref := fmt.Sprintf("http_%d", resp.StatusCode)
		if out.ErrorReference != nil && *out.ErrorReference != "" {
			ref = *out.ErrorReference
		}
		msg := strings.TrimSpace(string(raw))
		if out.ErrorMessage != nil {
			msg = *out.ErrorMessage
		}
		return domain.FailedResult(ref, msg), nil

	default:
		return domain.ProviderResult{}, fmt.Errorf("payout provider returned %d", resp.StatusCode)
	}
}

// SandboxProvider pays every instruction without moving money. It is used in
// development when no provider URL is configured.
type SandboxProvider struct {
	logger zerolog.Logger
}

// NewSandboxProvider creates a new SandboxProvider
func NewSandboxProvider(logger zerolog.Logger) *SandboxProvider {
	return &SandboxProvider{logger: logger.With().Str("component", "sandbox_provider").Logger()}
}

// Execute implements domain.PayoutProvider
func (p *SandboxProvider) Execute(ctx context.Context, in domain.PayoutInstruction) (domain.ProviderResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProviderResult{}, err
	}
	p.logger.Info().
		Str("payout_id", in.PayoutID.String()).
		Int("attempt", in.Attempt).
		Str("amount", in.Amount.String()).
		Str("currency", in.Currency).
		Msg("Sandbox payout executed")
	return domain.ProviderResult{Success: true}, nil
}
