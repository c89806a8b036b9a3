package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/subscriptly/billing/internal/models"
	"github.com/subscriptly/billing/internal/vault"
)

const zarinpalStartPay = "https://www.zarinpal.com/pg/StartPay/"

type zarinpalRequest struct {
	MerchantID  string `json:"merchant_id"`
	Amount      int64  `json:"amount"`
	CallbackURL string `json:"callback_url"`
	Description string `json:"description"`
}

type zarinpalVerifyRequest struct {
	MerchantID string `json:"merchant_id"`
	Amount     int64  `json:"amount"`
	Authority  string `json:"authority"`
}

type zarinpalResponse struct {
	Data struct {
		Code      int    `json:"code"`
		Message   string `json:"message"`
		Authority string `json:"authority"`
		RefID     int64  `json:"ref_id"`
	} `json:"data"`
}

// Zarinpal talks to the zarinpal payment gateway. Amounts are sent as stored.
type Zarinpal struct {
	client *http.Client
	sealer vault.Sealer
}

func NewZarinpal(client *http.Client, sealer vault.Sealer) *Zarinpal {
	return &Zarinpal{client: client, sealer: sealer}
}

func (z *Zarinpal) Request(ctx context.Context, gw *models.Gateway, p *models.Payment, callbackURL string, trail Trail) (*RequestResult, error) {
	merchantID, err := credential(z.sealer, gw, "merchant_id")
	if err != nil {
		return nil, err
	}

	req := zarinpalRequest{
		MerchantID:  merchantID,
		Amount:      p.Amount,
		CallbackURL: callbackURL,
		Description: fmt.Sprintf("invoice %s", p.InvoiceNumber),
	}
	trail.Append(ctx, p.ID, models.ScopeRequestHandler, map[string]any{"amount": req.Amount, "callback_url": req.CallbackURL})

	var resp zarinpalResponse
	if err := postJSON(ctx, z.client, gw.RequestURL, nil, req, &resp); err != nil {
		trail.Append(ctx, p.ID, models.ScopeResultHandler, err.Error())
		return nil, err
	}
	trail.Append(ctx, p.ID, models.ScopeResultHandler, resp.Data)

	if resp.Data.Code != 100 || resp.Data.Authority == "" {
		return nil, fmt.Errorf("%w: zarrinpal code %d", models.ErrGatewayRejected, resp.Data.Code)
	}
	return &RequestResult{
		Authority:   resp.Data.Authority,
		RedirectURL: zarinpalStartPay + resp.Data.Authority,
	}, nil
}

func (z *Zarinpal) Verify(ctx context.Context, gw *models.Gateway, p *models.Payment, data models.CallbackData, trail Trail) (bool, error) {
	if data != nil {
		trail.Append(ctx, p.ID, models.ScopeBankOperation, data)
	}

	merchantID, err := credential(z.sealer, gw, "merchant_id")
	if err != nil {
		return false, err
	}

	var resp zarinpalResponse
	req := zarinpalVerifyRequest{MerchantID: merchantID, Amount: p.Amount, Authority: p.Authority}
	if err := postJSON(ctx, z.client, gw.VerifyURL, nil, req, &resp); err != nil {
		trail.Append(ctx, p.ID, models.ScopePaymentChecker, err.Error())
		return false, err
	}
	trail.Append(ctx, p.ID, models.ScopePaymentChecker, resp.Data)

	// 101 means the payment was already verified on an earlier call.
	return resp.Data.Code == 100 || resp.Data.Code == 101, nil
}
