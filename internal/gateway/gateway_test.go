package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subscriptly/billing/internal/models"
	"github.com/subscriptly/billing/internal/vault"
)

type trailLine struct {
	scope string
	data  any
}

type recordingTrail struct {
	mu    sync.Mutex
	lines []trailLine
}

func (r *recordingTrail) Append(_ context.Context, _ int64, scope string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, trailLine{scope: scope, data: data})
}

func (r *recordingTrail) scopes() []string {
	out := make([]string, 0, len(r.lines))
	for _, l := range r.lines {
		out = append(out, l.scope)
	}
	return out
}

func testVault(t *testing.T) *vault.Vault {
	v, err := vault.New(vault.Config{MasterKey: "test-master", Salt: "test-salt-123456"})
	require.NoError(t, err)
	return v
}

func testGateway(t *testing.T, v *vault.Vault, code models.GatewayCode, srv *httptest.Server, creds map[string]string) *models.Gateway {
	blob, err := vault.SealJSON(v, creds)
	require.NoError(t, err)
	return &models.Gateway{
		ID:          1,
		Code:        code,
		RequestURL:  srv.URL + "/request",
		VerifyURL:   srv.URL + "/verify",
		IsEnabled:   true,
		Credentials: blob,
	}
}

func TestRegistry_Lookup(t *testing.T) {
	registry := DefaultRegistry(http.DefaultClient, testVault(t))

	for _, code := range []models.GatewayCode{models.GatewayZarrinpal, models.GatewayParsian} {
		adapter, err := registry.Lookup(code)
		assert.NoError(t, err)
		assert.NotNil(t, adapter)
	}

	for _, code := range []models.GatewayCode{models.GatewaySaman, models.GatewayShaparak, models.GatewayFinotech, "paypal"} {
		_, err := registry.Lookup(code)
		assert.ErrorIs(t, err, models.ErrUnsupportedGateway, string(code))
	}

	assert.ElementsMatch(t, []models.GatewayCode{models.GatewayZarrinpal, models.GatewayParsian}, registry.Supported())
}

func TestZarinpal_Request(t *testing.T) {
	v := testVault(t)

	t.Run("success returns start pay url", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body zarinpalRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "merchant-1", body.MerchantID)
			assert.Equal(t, int64(1000), body.Amount)
			assert.Equal(t, "https://billing.example/payments/verify", body.CallbackURL)
			w.Write([]byte(`{"data":{"code":100,"authority":"A00000000000000000000000000217885159"},"errors":[]}`))
		}))
		defer srv.Close()

		gw := testGateway(t, v, models.GatewayZarrinpal, srv, map[string]string{"merchant_id": "merchant-1"})
		trail := &recordingTrail{}
		p := &models.Payment{ID: 9, Amount: 1000, InvoiceNumber: "inv"}

		res, err := NewZarinpal(srv.Client(), v).Request(context.Background(), gw, p, "https://billing.example/payments/verify", trail)
		require.NoError(t, err)
		assert.Equal(t, "A00000000000000000000000000217885159", res.Authority)
		assert.Equal(t, "https://www.zarinpal.com/pg/StartPay/A00000000000000000000000000217885159", res.RedirectURL)
		assert.Equal(t, []string{models.ScopeRequestHandler, models.ScopeResultHandler}, trail.scopes())
	})

	t.Run("provider decline", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{"code":-9},"errors":{"message":"validation error"}}`))
		}))
		defer srv.Close()

		gw := testGateway(t, v, models.GatewayZarrinpal, srv, map[string]string{"merchant_id": "merchant-1"})
		trail := &recordingTrail{}
		_, err := NewZarinpal(srv.Client(), v).Request(context.Background(), gw, &models.Payment{ID: 1, Amount: 10}, "cb", trail)
		assert.ErrorIs(t, err, models.ErrGatewayRejected)
		assert.Len(t, trail.lines, 2)
	})

	t.Run("missing credentials", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		gw := testGateway(t, v, models.GatewayZarrinpal, srv, map[string]string{"pin": "x"})
		_, err := NewZarinpal(srv.Client(), v).Request(context.Background(), gw, &models.Payment{ID: 1, Amount: 10}, "cb", &recordingTrail{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "missing merchant_id")
	})
}

func TestZarinpal_Verify(t *testing.T) {
	v := testVault(t)

	tests := []struct {
		name string
		body string
		want bool
	}{
		{"verified", `{"data":{"code":100,"ref_id":201}}`, true},
		{"already verified", `{"data":{"code":101,"ref_id":201}}`, true},
		{"not paid", `{"data":{"code":-51}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var body zarinpalVerifyRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "AUTH", body.Authority)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			gw := testGateway(t, v, models.GatewayZarrinpal, srv, map[string]string{"merchant_id": "m"})
			trail := &recordingTrail{}
			p := &models.Payment{ID: 3, Amount: 500, Authority: "AUTH"}

			paid, err := NewZarinpal(srv.Client(), v).Verify(context.Background(), gw, p, models.CallbackData{"Authority": "AUTH", "Status": "OK"}, trail)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, paid)
			assert.Equal(t, []string{models.ScopeBankOperation, models.ScopePaymentChecker}, trail.scopes())
		})
	}

	t.Run("timeout is unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		gw := testGateway(t, v, models.GatewayZarrinpal, srv, map[string]string{"merchant_id": "m"})
		client := &http.Client{Timeout: 20 * time.Millisecond}
		paid, err := NewZarinpal(client, v).Verify(context.Background(), gw, &models.Payment{ID: 3, Authority: "A"}, nil, &recordingTrail{})
		assert.False(t, paid)
		assert.True(t, errors.Is(err, models.ErrGatewayUnavailable))
	})

	t.Run("server error is unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		gw := testGateway(t, v, models.GatewayZarrinpal, srv, map[string]string{"merchant_id": "m"})
		_, err := NewZarinpal(srv.Client(), v).Verify(context.Background(), gw, &models.Payment{ID: 3, Authority: "A"}, nil, &recordingTrail{})
		assert.ErrorIs(t, err, models.ErrGatewayUnavailable)
	})
}

func TestParsian(t *testing.T) {
	v := testVault(t)

	t.Run("request scales amount", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body parsianRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, int64(10000), body.Amount)
			assert.Equal(t, int64(42), body.OrderID)
			assert.Equal(t, "pin-1", body.LoginAccount)
			w.Write([]byte(`{"Token":123456,"Status":0,"Message":"ok"}`))
		}))
		defer srv.Close()

		gw := testGateway(t, v, models.GatewayParsian, srv, map[string]string{"pin": "pin-1"})
		res, err := NewParsian(srv.Client(), v).Request(context.Background(), gw, &models.Payment{ID: 42, Amount: 1000}, "cb", &recordingTrail{})
		require.NoError(t, err)
		assert.Equal(t, "123456", res.Authority)
		assert.Equal(t, "https://pec.shaparak.ir/NewIPG/?Token=123456", res.RedirectURL)
	})

	t.Run("request rejected without token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"Token":0,"Status":-126,"Message":"invalid pin"}`))
		}))
		defer srv.Close()

		gw := testGateway(t, v, models.GatewayParsian, srv, map[string]string{"pin": "pin-1"})
		_, err := NewParsian(srv.Client(), v).Request(context.Background(), gw, &models.Payment{ID: 42, Amount: 1000}, "cb", &recordingTrail{})
		assert.ErrorIs(t, err, models.ErrGatewayRejected)
	})

	t.Run("verify confirms token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body parsianConfirmRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, int64(123456), body.Token)
			w.Write([]byte(`{"Token":123456,"Status":0,"RRN":998877}`))
		}))
		defer srv.Close()

		gw := testGateway(t, v, models.GatewayParsian, srv, map[string]string{"pin": "pin-1"})
		paid, err := NewParsian(srv.Client(), v).Verify(context.Background(), gw, &models.Payment{ID: 42, Authority: "123456"}, models.CallbackData{"OrderId": "42"}, &recordingTrail{})
		assert.NoError(t, err)
		assert.True(t, paid)
	})

	t.Run("verify declined", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"Token":123456,"Status":-1533}`))
		}))
		defer srv.Close()

		gw := testGateway(t, v, models.GatewayParsian, srv, map[string]string{"pin": "pin-1"})
		paid, err := NewParsian(srv.Client(), v).Verify(context.Background(), gw, &models.Payment{ID: 42, Authority: "123456"}, nil, &recordingTrail{})
		assert.NoError(t, err)
		assert.False(t, paid)
	})

	t.Run("malformed token is a rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("gateway must not be called")
		}))
		defer srv.Close()

		gw := testGateway(t, v, models.GatewayParsian, srv, map[string]string{"pin": "pin-1"})
		paid, err := NewParsian(srv.Client(), v).Verify(context.Background(), gw, &models.Payment{ID: 42, Authority: "tok-x"}, nil, &recordingTrail{})
		assert.ErrorIs(t, err, models.ErrGatewayRejected)
		assert.False(t, paid)
	})
}

func TestDirectDebit_Charge(t *testing.T) {
	v := testVault(t)
	clientData, err := vault.SealJSON(v, MandateCredentials{ClientID: "client-7", AccessToken: "tok"})
	require.NoError(t, err)
	mandate := &models.Mandate{ID: 5, SubscriptionID: 11, ProviderRef: "mnd-1", ClientData: clientData}

	t.Run("done", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/directdebit/v1/clients/client-7/mandates/mnd-1/pay", r.URL.Path)
			assert.Equal(t, "trk-1", r.URL.Query().Get("trackId"))
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			var body mandateChargeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, int64(50000), body.Amount)
			w.Write([]byte(`{"status":"DONE","result":{"transactionId":"tx-9"}}`))
		}))
		defer srv.Close()

		ref, err := NewDirectDebit(srv.URL+"/", srv.Client(), v).Charge(context.Background(), mandate, 50000, "trk-1")
		assert.NoError(t, err)
		assert.Equal(t, "tx-9", ref)
	})

	t.Run("failed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"status":"FAILED","error":{"code":"INSUFFICIENT_FUNDS","message":"no balance"}}`))
		}))
		defer srv.Close()

		_, err := NewDirectDebit(srv.URL, srv.Client(), v).Charge(context.Background(), mandate, 50000, "trk-1")
		assert.ErrorIs(t, err, models.ErrGatewayRejected)
	})
}
