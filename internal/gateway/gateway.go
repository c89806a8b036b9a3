// Package gateway holds the payment provider adapters and the registry that
// maps a gateway code to its adapter.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/subscriptly/billing/internal/models"
	"github.com/subscriptly/billing/internal/vault"
)

// Trail appends a scope-tagged line to a payment's audit log. Implementations
// persist the line on their own so a failed state change never loses it.
type Trail interface {
	Append(ctx context.Context, paymentID int64, scope string, data any)
}

// RequestResult is the outcome of a successful payment request.
type RequestResult struct {
	Authority   string
	RedirectURL string
}

// Adapter is the request/verify contract every provider implements.
type Adapter interface {
	// Request registers the payment with the provider. A provider decline
	// returns ErrGatewayRejected; transport failures ErrGatewayUnavailable.
	Request(ctx context.Context, gw *models.Gateway, p *models.Payment, callbackURL string, trail Trail) (*RequestResult, error)
	// Verify confirms the payment with the provider using p.Authority.
	// A decline is (false, nil).
	Verify(ctx context.Context, gw *models.Gateway, p *models.Payment, data models.CallbackData, trail Trail) (bool, error)
}

// Registry maps gateway codes to adapters. Codes registered with a nil
// adapter are known but not wired.
type Registry struct {
	adapters map[models.GatewayCode]Adapter
}

func NewRegistry(adapters map[models.GatewayCode]Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// DefaultRegistry wires every known gateway code.
func DefaultRegistry(client *http.Client, sealer vault.Sealer) *Registry {
	return NewRegistry(map[models.GatewayCode]Adapter{
		models.GatewayZarrinpal: NewZarinpal(client, sealer),
		models.GatewayParsian:   NewParsian(client, sealer),
		models.GatewaySaman:     nil,
		models.GatewayShaparak:  nil,
		models.GatewayFinotech:  nil,
	})
}

// Lookup returns the adapter for code.
func (r *Registry) Lookup(code models.GatewayCode) (Adapter, error) {
	adapter, ok := r.adapters[code]
	if !ok || adapter == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedGateway, code)
	}
	return adapter, nil
}

// Supported lists the codes that have an adapter.
func (r *Registry) Supported() []models.GatewayCode {
	codes := make([]models.GatewayCode, 0, len(r.adapters))
	for code, adapter := range r.adapters {
		if adapter != nil {
			codes = append(codes, code)
		}
	}
	return codes
}
