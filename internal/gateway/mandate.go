package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/subscriptly/billing/internal/models"
	"github.com/subscriptly/billing/internal/vault"
)

// MandateCredentials is the sealed client data stored on a mandate.
type MandateCredentials struct {
	ClientID    string `json:"client_id"`
	AccessToken string `json:"access_token"`
}

type mandateChargeRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type mandateChargeResponse struct {
	Status string `json:"status"`
	Result struct {
		TransactionID string `json:"transactionId"`
	} `json:"result"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DirectDebit charges direct-debit mandates at the collection provider.
type DirectDebit struct {
	baseURL string
	client  *http.Client
	sealer  vault.Sealer
}

func NewDirectDebit(baseURL string, client *http.Client, sealer vault.Sealer) *DirectDebit {
	return &DirectDebit{baseURL: strings.TrimRight(baseURL, "/"), client: client, sealer: sealer}
}

// Charge collects amount (already scaled for the provider) from the mandate
// and returns the provider's transaction reference.
func (d *DirectDebit) Charge(ctx context.Context, m *models.Mandate, amount int64, trackID string) (string, error) {
	var creds MandateCredentials
	if err := vault.OpenJSON(d.sealer, m.ClientData, &creds); err != nil {
		return "", fmt.Errorf("mandate %d client data: %w", m.ID, err)
	}

	endpoint := fmt.Sprintf("%s/directdebit/v1/clients/%s/mandates/%s/pay?trackId=%s",
		d.baseURL, url.PathEscape(creds.ClientID), url.PathEscape(m.ProviderRef), url.QueryEscape(trackID))
	header := http.Header{"Authorization": []string{"Bearer " + creds.AccessToken}}

	var resp mandateChargeResponse
	req := mandateChargeRequest{Amount: amount, Description: fmt.Sprintf("subscription %d", m.SubscriptionID)}
	if err := postJSON(ctx, d.client, endpoint, header, req, &resp); err != nil {
		return "", err
	}
	if resp.Status != "DONE" {
		return "", fmt.Errorf("%w: mandate %d: %s %s", models.ErrGatewayRejected, m.ID, resp.Error.Code, resp.Error.Message)
	}
	return resp.Result.TransactionID, nil
}
