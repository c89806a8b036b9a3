package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/subscriptly/billing/internal/models"
	"github.com/subscriptly/billing/internal/vault"
)

// postJSON posts in as JSON and decodes the response into out. Transport
// errors and 5xx responses are reported as ErrGatewayUnavailable.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", models.ErrGatewayUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", models.ErrGatewayUnavailable, err)
	}
	return nil
}

func credential(sealer vault.Sealer, gw *models.Gateway, field string) (string, error) {
	var creds map[string]string
	if err := vault.OpenJSON(sealer, gw.Credentials, &creds); err != nil {
		return "", fmt.Errorf("gateway %d credentials: %w", gw.ID, err)
	}
	value, ok := creds[field]
	if !ok || value == "" {
		return "", fmt.Errorf("gateway %d credentials: missing %s", gw.ID, field)
	}
	return value, nil
}
