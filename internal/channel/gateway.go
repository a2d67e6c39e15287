package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// gatewayResponse is the response shape shared by the messaging gateway
// endpoints the providers talk to.
type gatewayResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type gatewayClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func newGatewayClient(baseURL, apiKey string, timeoutSeconds int) *gatewayClient {
	timeout := 10 * time.Second
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	return &gatewayClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// post sends a JSON body and decodes the gateway response. A non-2xx status
// with a decodable body is a provider rejection, not a transport error; the
// caller receives it inside SendResult.
func (g *gatewayClient) post(ctx context.Context, path string, body interface{}) (*SendResult, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	var decoded gatewayResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil, fmt.Errorf("failed to decode gateway response: %w", err)
		}
		return &SendResult{
			Success:          false,
			ProviderResponse: string(raw),
			ErrorMessage:     fmt.Sprintf("gateway returned status %d", resp.StatusCode),
		}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMsg := decoded.Error
		if errMsg == "" {
			errMsg = fmt.Sprintf("gateway returned status %d", resp.StatusCode)
		}
		return &SendResult{
			Success:          false,
			ProviderResponse: string(raw),
			ErrorMessage:     errMsg,
		}, nil
	}

	return &SendResult{
		Success:           true,
		ProviderMessageID: decoded.MessageID,
		ProviderResponse:  string(raw),
	}, nil
}
