package restclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kis-core/execution/internal/auth"
	"github.com/kis-core/execution/internal/kiserrors"
	"github.com/kis-core/execution/internal/ratelimit"
)

func authServer(t *testing.T, order http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "test-token"})
	})
	mux.HandleFunc("/oauth2/Approval", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"approval_key": "test-approval"})
	})
	if order != nil {
		mux.HandleFunc("/uapi/order", order)
	}
	return httptest.NewServer(mux)
}

func newTestEnv(t *testing.T, baseURL string) *auth.Env {
	t.Helper()
	env, err := auth.New(auth.Config{
		CustomerType: "P", UserAgent: "test-agent", HTSID: "tester", IsPaper: true,
		Paper: auth.Credentials{BaseURL: baseURL, AppKey: "k", AppSecret: "s", AccountNumber: "50000000-01"},
	})
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}
	return env
}

func TestClient_Call_SuccessParsesEnvelope(t *testing.T) {
	srv := authServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"rt_cd": "0", "msg1": "정상처리"})
	})
	defer srv.Close()

	c := NewClient(newTestEnv(t, srv.URL), ratelimit.NewBudget(nil, nil), nil)

	resp, err := c.Call(context.Background(), Request{
		Operation: "order_cash_buy", Method: http.MethodPost, Path: "/uapi/order", Class: ratelimit.ClassOrder,
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.IsOk() {
		t.Fatalf("expected an ok envelope, got rt_cd=%s msg1=%s", resp.ErrorCode(), resp.ErrorMessage())
	}
}

func TestClient_Call_VendorErrorWrapsErrVendor(t *testing.T) {
	srv := authServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"rt_cd": "1", "msg1": "insufficient balance"})
	})
	defer srv.Close()

	c := NewClient(newTestEnv(t, srv.URL), ratelimit.NewBudget(nil, nil), nil)
	c.retry = RetryConfig{MaxAttempts: 1}

	_, err := c.Call(context.Background(), Request{
		Operation: "order_cash_buy", Method: http.MethodPost, Path: "/uapi/order", Class: ratelimit.ClassOrder,
	})
	if !errors.Is(err, kiserrors.ErrVendor) {
		t.Fatalf("expected an ErrVendor-wrapped error, got %v", err)
	}
}

func TestClient_Call_TripsBreakerAfterRepeatedFailures(t *testing.T) {
	srv := authServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	c := NewClient(newTestEnv(t, srv.URL), ratelimit.NewBudget(nil, nil), nil)
	c.retry = RetryConfig{MaxAttempts: 1}

	req := Request{Operation: "order_cash_buy", Method: http.MethodPost, Path: "/uapi/order", Class: ratelimit.ClassOrder}
	for i := 0; i < 5; i++ {
		if _, err := c.Call(context.Background(), req); err == nil {
			t.Fatalf("attempt %d: expected a failure from the 500 response", i)
		}
	}

	_, err := c.Call(context.Background(), req)
	if !errors.Is(err, kiserrors.ErrTransport) {
		t.Fatalf("expected the circuit breaker open error once the threshold trips, got %v", err)
	}
}

func TestClient_ResolveTarget_PaperTRIDWhenNoFallback(t *testing.T) {
	srv := authServer(t, nil)
	defer srv.Close()

	c := NewClient(newTestEnv(t, srv.URL), ratelimit.NewBudget(nil, nil), nil)
	trID := c.tridFor("order_cash_buy")
	if trID != "VTTC0802U" {
		t.Fatalf("tridFor(order_cash_buy) = %q, want the paper TR-ID VTTC0802U", trID)
	}
}

func TestClient_TridFor_UnmappedOperationPassesThroughEmpty(t *testing.T) {
	srv := authServer(t, nil)
	defer srv.Close()

	c := NewClient(newTestEnv(t, srv.URL), ratelimit.NewBudget(nil, nil), nil)
	if got := c.tridFor("unknown_operation"); got != "" {
		t.Fatalf("tridFor(unknown) = %q, want empty passthrough", got)
	}
}
