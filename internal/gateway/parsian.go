package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/subscriptly/billing/internal/models"
	"github.com/subscriptly/billing/internal/vault"
)

const (
	parsianStartPay = "https://pec.shaparak.ir/NewIPG/?Token="
	// Parsian expects rials; amounts are stored in tomans.
	parsianAmountFactor = 10
)

type parsianRequest struct {
	LoginAccount   string `json:"LoginAccount"`
	Amount         int64  `json:"Amount"`
	OrderID        int64  `json:"OrderId"`
	CallBackURL    string `json:"CallBackUrl"`
	AdditionalData string `json:"AdditionalData"`
}

type parsianConfirmRequest struct {
	LoginAccount string `json:"LoginAccount"`
	Token        int64  `json:"Token"`
}

type parsianResponse struct {
	Token            int64  `json:"Token"`
	Status           int    `json:"Status"`
	Message          string `json:"Message,omitempty"`
	RRN              int64  `json:"RRN,omitempty"`
	CardNumberMasked string `json:"CardNumberMasked,omitempty"`
}

func (r parsianResponse) ok() bool {
	return r.Status == 0 && r.Token > 0
}

// Parsian talks to the Parsian (PEC) gateway. The callback carries the
// payment id as OrderId.
type Parsian struct {
	client *http.Client
	sealer vault.Sealer
}

func NewParsian(client *http.Client, sealer vault.Sealer) *Parsian {
	return &Parsian{client: client, sealer: sealer}
}

func (g *Parsian) Request(ctx context.Context, gw *models.Gateway, p *models.Payment, callbackURL string, trail Trail) (*RequestResult, error) {
	pin, err := credential(g.sealer, gw, "pin")
	if err != nil {
		return nil, err
	}

	req := parsianRequest{
		LoginAccount: pin,
		Amount:       p.Amount * parsianAmountFactor,
		OrderID:      p.ID,
		CallBackURL:  callbackURL,
	}
	trail.Append(ctx, p.ID, models.ScopeRequestHandler, map[string]any{"amount": req.Amount, "order_id": req.OrderID})

	var resp parsianResponse
	if err := postJSON(ctx, g.client, gw.RequestURL, nil, req, &resp); err != nil {
		trail.Append(ctx, p.ID, models.ScopeResultHandler, err.Error())
		return nil, err
	}
	trail.Append(ctx, p.ID, models.ScopeResultHandler, resp)

	if !resp.ok() {
		return nil, fmt.Errorf("%w: parsian status %d: %s", models.ErrGatewayRejected, resp.Status, resp.Message)
	}
	token := strconv.FormatInt(resp.Token, 10)
	return &RequestResult{Authority: token, RedirectURL: parsianStartPay + token}, nil
}

func (g *Parsian) Verify(ctx context.Context, gw *models.Gateway, p *models.Payment, data models.CallbackData, trail Trail) (bool, error) {
	if data != nil {
		trail.Append(ctx, p.ID, models.ScopeBankOperation, data)
	}

	pin, err := credential(g.sealer, gw, "pin")
	if err != nil {
		return false, err
	}
	token, err := strconv.ParseInt(p.Authority, 10, 64)
	if err != nil {
		return false, fmt.Errorf("%w: payment %d has malformed parsian token %q", models.ErrGatewayRejected, p.ID, p.Authority)
	}

	var resp parsianResponse
	if err := postJSON(ctx, g.client, gw.VerifyURL, nil, parsianConfirmRequest{LoginAccount: pin, Token: token}, &resp); err != nil {
		trail.Append(ctx, p.ID, models.ScopePaymentChecker, err.Error())
		return false, err
	}
	trail.Append(ctx, p.ID, models.ScopePaymentChecker, resp)

	return resp.ok(), nil
}
