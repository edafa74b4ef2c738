// Package restclient composes the authenticated KIS REST transport of spec
// §4.12 (C12): TR-ID mapping for paper vs live mode, a circuit breaker per
// endpoint, rate-budget gating, and jitter retry. Grounded on
// SynapseStrike/market/api_client.go's http.Client usage and
// original_source/kis_core/kis_decorators.py's throttling design, adapted
// to KIS's envelope/rt_cd error model instead of requests exceptions.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/kis-core/execution/internal/auth"
	"github.com/kis-core/execution/internal/envelope"
	"github.com/kis-core/execution/internal/kiserrors"
	"github.com/kis-core/execution/internal/logging"
	"github.com/kis-core/execution/internal/metrics"
	"github.com/kis-core/execution/internal/ratelimit"
)

// TRIDMapping holds the live-mode TR-ID for a named KIS operation.
// Paper trading uses a distinct TR-ID for any operation present in this
// map; an operation absent from the map resolves to an empty TR-ID, and
// Call then sends the request without a tr_id header.
type TRIDMapping struct {
	Live  string
	Paper string
}

// DefaultTRIDTable is the well-known set of KIS TR-IDs that differ between
// live and paper trading. Order-placement and balance-inquiry TR-IDs
// differ by mode; market-data operations are not listed, so they are sent
// without a tr_id header.
var DefaultTRIDTable = map[string]TRIDMapping{
	"order_cash_buy":   {Live: "TTTC0802U", Paper: "VTTC0802U"},
	"order_cash_sell":  {Live: "TTTC0801U", Paper: "VTTC0801U"},
	"order_cancel":     {Live: "TTTC0803U", Paper: "VTTC0803U"},
	"balance_inquiry":  {Live: "TTTC8434R", Paper: "VTTC8434R"},
	"order_inquiry":    {Live: "TTTC8036R", Paper: "VTTC8036R"},
}

// PassthroughOps are the operation names the paper trading server does not
// support at all; a Client with a configured auth.Env real-API fallback
// routes these through the real endpoint regardless of trading mode.
var PassthroughOps = map[string]struct{}{
	"program_trading_trend": {},
}

// RetryConfig controls the jitter-retry wrapper applied around each REST
// call.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxJitter   time.Duration
}

// DefaultRetryConfig is conservative: 3 attempts, 200ms base, up to 150ms
// jitter.
var DefaultRetryConfig = RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxJitter: 150 * time.Millisecond}

// Client is the authenticated REST transport used by every KIS endpoint
// caller in the system: it resolves TR-IDs for the active trading mode,
// gates calls through a ratelimit.Budget, trips a per-endpoint-class
// Breaker on repeated failure, and retries transient failures with jitter.
type Client struct {
	env     *auth.Env
	budget  budgetLike
	http    *http.Client
	trids   map[string]TRIDMapping
	retry   RetryConfig
	log     logging.Logger
	rng     *rand.Rand
	breaker map[ratelimit.EndpointClass]*Breaker
}

// budgetLike is satisfied by both *ratelimit.Budget and
// *ratelimit.SharedBudget, letting Client remain agnostic to whether rate
// coordination is in-process or cross-process.
type budgetLike interface {
	TryConsume(class ratelimit.EndpointClass, strategyID string, cost float64) bool
}

// NewClient builds a Client. trids may be nil, in which case
// DefaultTRIDTable is used.
func NewClient(env *auth.Env, budget budgetLike, trids map[string]TRIDMapping) *Client {
	if trids == nil {
		trids = DefaultTRIDTable
	}
	c := &Client{
		env:     env,
		budget:  budget,
		http:    &http.Client{Timeout: 10 * time.Second},
		trids:   trids,
		retry:   DefaultRetryConfig,
		log:     logging.Default().With("restclient"),
		rng:     rand.New(rand.NewSource(1)),
		breaker: make(map[ratelimit.EndpointClass]*Breaker),
	}
	for _, class := range []ratelimit.EndpointClass{
		ratelimit.ClassQuote, ratelimit.ClassChart, ratelimit.ClassFlow,
		ratelimit.ClassOrder, ratelimit.ClassBalance, ratelimit.ClassDefault,
	} {
		c.breaker[class] = NewBreaker(string(class), 5, 30*time.Second, 15*time.Second)
	}
	return c
}

// Request describes one REST call in terms independent of trading mode:
// the caller names a logical operation; Call resolves its TR-ID, target
// base URL (real-API fallback for passthrough ops), and headers.
type Request struct {
	Operation  string
	Method     string
	Path       string
	Class      ratelimit.EndpointClass
	StrategyID string
	Query      map[string]string
	Body       any
}

// Call executes req through the full composition: budget gate, breaker
// gate, HTTP round trip with jitter retry, envelope parse.
func (c *Client) Call(ctx context.Context, req Request) (*envelope.Response, error) {
	breaker := c.breaker[req.Class]
	if breaker == nil {
		breaker = c.breaker[ratelimit.ClassDefault]
	}

	if !c.budget.TryConsume(req.Class, req.StrategyID, 1) {
		return nil, fmt.Errorf("%s: %w", req.Operation, kiserrors.ErrRateLimited)
	}
	if !breaker.Allow() {
		return nil, fmt.Errorf("%s: circuit breaker open: %w", req.Operation, kiserrors.ErrTransport)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		resp, err := c.doOnce(ctx, req)
		if err == nil {
			breaker.RecordSuccess()
			return resp, nil
		}
		lastErr = err
		breaker.RecordFailure()
		if attempt < c.retry.MaxAttempts {
			delay := c.retry.BaseDelay + time.Duration(c.rng.Int63n(int64(c.retry.MaxJitter)+1))
			c.log.Warnf("%s: attempt %d/%d failed: %v, retrying in %s", req.Operation, attempt, c.retry.MaxAttempts, err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, req Request) (*envelope.Response, error) {
	baseURL, headers, trID, err := c.resolveTarget(req)
	if err != nil {
		return nil, err
	}

	url := baseURL + req.Path
	if len(req.Query) > 0 {
		url += "?" + encodeQuery(req.Query)
	}

	var bodyReader io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", err, kiserrors.ErrParser)
		}
		bodyReader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, kiserrors.ErrTransport)
	}
	for k, vs := range headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if trID != "" {
		httpReq.Header.Set("tr_id", trID)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	outcome := "ok"
	if err != nil {
		outcome = "transport_error"
	}
	metrics.RestCallDuration.WithLabelValues(req.Operation, outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, kiserrors.ErrTransport)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, kiserrors.ErrTransport)
	}

	out := envelope.Parse(resp.StatusCode, resp.Header, raw)
	if !out.IsOk() {
		return out, fmt.Errorf("%s: rt_cd=%s msg1=%s: %w", req.Operation, out.ErrorCode(), out.ErrorMessage(), kiserrors.ErrVendor)
	}
	return out, nil
}

// resolveTarget chooses between the primary and real-API-fallback
// credentials for req, and resolves the trading-mode-specific TR-ID.
func (c *Client) resolveTarget(req Request) (baseURL string, headers http.Header, trID string, err error) {
	_, isPassthrough := PassthroughOps[req.Operation]
	if isPassthrough && c.env.IsPaper() && c.env.HasRealFallback() {
		h, ok, ferr := c.env.RealAPIHeaders()
		if ferr != nil {
			return "", nil, "", ferr
		}
		if ok {
			return c.env.RealBaseURL(), h, c.tridFor(req.Operation), nil
		}
	}

	h, herr := c.env.BaseHeaders()
	if herr != nil {
		return "", nil, "", herr
	}
	return c.env.BaseURL(), h, c.tridFor(req.Operation), nil
}

func (c *Client) tridFor(operation string) string {
	mapping, ok := c.trids[operation]
	if !ok {
		return ""
	}
	if c.env.IsPaper() {
		return mapping.Paper
	}
	return mapping.Live
}

func encodeQuery(q map[string]string) string {
	values := make(url.Values, len(q))
	for k, v := range q {
		values.Set(k, v)
	}
	return values.Encode()
}
