// Package auth implements the KIS OAuth2 token lifecycle and WebSocket
// approval key acquisition of spec §4.10 (C10), adapted from
// original_source/kis_core/kis_auth.py's KoreaInvestEnv.
package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kis-core/execution/internal/kiserrors"
	"github.com/kis-core/execution/internal/logging"
)

// TokenValidity is the nominal lifetime KIS grants an access token.
const TokenValidity = 24 * time.Hour

// RefreshBuffer is subtracted from TokenValidity; a token is refreshed once
// time-to-expiry drops below this buffer.
const RefreshBuffer = 5 * time.Minute

// TokenRetryAttempts and TokenRetryBaseDelay govern the backoff used when
// the token endpoint responds 403 (KIS allows at most one token request per
// minute per key).
const (
	TokenRetryAttempts  = 5
	TokenRetryBaseDelay = 65 * time.Second
)

// Credentials is one (url, appkey, appsecret, account) quadruple, for
// either the paper or the live trading endpoint.
type Credentials struct {
	BaseURL       string
	AppKey        string
	AppSecret     string
	AccountNumber string
}

// Config is the typed configuration record consumed by New (spec §6).
// Paper trading is the operating mode when IsPaper is true; RealFallback
// is optional and only consulted while operating in paper mode.
type Config struct {
	CustomerType string
	UserAgent    string
	HTSID        string
	IsPaper      bool

	Paper Credentials
	Live  Credentials

	// RealFallback is used for endpoints the paper trading server does not
	// support (e.g. program-trading flow) while IsPaper is true. Zero value
	// means no fallback is configured.
	RealFallback Credentials
}

func (c Config) primary() Credentials {
	if c.IsPaper {
		return c.Paper
	}
	return c.Live
}

// tokenState holds one OAuth2 bearer token plus its expiry, refreshed under
// double-checked locking exactly as kis_auth.py does.
type tokenState struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// Env is the Go counterpart of KoreaInvestEnv: it owns the active
// credentials, the primary token's lifecycle, the optional real-API
// fallback token's lifecycle, and the WebSocket approval key fetched once
// at construction.
type Env struct {
	cfg    Config
	client *http.Client
	log    logging.Logger

	creds Credentials
	token tokenState

	hasFallback bool
	fallback    Credentials
	fallbackTok tokenState

	approvalKey string
}

// New validates cfg, fetches an initial access token and a WebSocket
// approval key, and returns a ready Env. It fails closed: any error during
// the initial token or approval-key fetch is returned rather than producing
// a half-initialized Env.
func New(cfg Config) (*Env, error) {
	if cfg.CustomerType == "" || cfg.UserAgent == "" || cfg.HTSID == "" {
		return nil, fmt.Errorf("auth: missing required config field: %w", kiserrors.ErrConfiguration)
	}
	creds := cfg.primary()
	if creds.BaseURL == "" || creds.AppKey == "" || creds.AppSecret == "" || creds.AccountNumber == "" {
		return nil, fmt.Errorf("auth: incomplete credentials for selected trading mode: %w", kiserrors.ErrConfiguration)
	}

	e := &Env{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logging.Default().With("auth"),
		creds:  creds,
	}

	if cfg.IsPaper && cfg.RealFallback.BaseURL != "" {
		e.hasFallback = true
		e.fallback = cfg.RealFallback
		e.log.Infof("real API fallback enabled for unsupported paper trading endpoints")
	}

	if err := e.refreshToken(&e.token, e.creds); err != nil {
		return nil, err
	}

	key, err := e.fetchApprovalKey(e.creds)
	if err != nil {
		return nil, err
	}
	e.approvalKey = key

	if e.hasFallback {
		if err := e.refreshToken(&e.fallbackTok, e.fallback); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// BaseHeaders returns a fresh header set carrying the current bearer token,
// refreshing it first if it is expired or within RefreshBuffer of expiry.
func (e *Env) BaseHeaders() (http.Header, error) {
	if err := e.ensureFresh(&e.token, e.creds); err != nil {
		return nil, err
	}
	return e.headersFor(e.creds, e.token.token), nil
}

// RealAPIHeaders returns headers built from the real-API fallback
// credentials, or (nil, false) if no fallback is configured.
func (e *Env) RealAPIHeaders() (http.Header, bool, error) {
	if !e.hasFallback {
		return nil, false, nil
	}
	if err := e.ensureFresh(&e.fallbackTok, e.fallback); err != nil {
		return nil, false, err
	}
	return e.headersFor(e.fallback, e.fallbackTok.token), true, nil
}

func (e *Env) headersFor(creds Credentials, token string) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "text/plain")
	h.Set("charset", "UTF-8")
	h.Set("User-Agent", e.cfg.UserAgent)
	h.Set("appkey", creds.AppKey)
	h.Set("appsecret", creds.AppSecret)
	h.Set("authorization", "Bearer "+token)
	return h
}

// ensureFresh implements the cheap check + double-checked-locking refresh
// of kis_auth.py's _refresh_token_if_needed.
func (e *Env) ensureFresh(ts *tokenState, creds Credentials) error {
	if time.Now().Before(ts.expiresAt.Add(-RefreshBuffer)) {
		return nil
	}
	return e.refreshToken(ts, creds)
}

func (e *Env) refreshToken(ts *tokenState, creds Credentials) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if time.Now().Before(ts.expiresAt.Add(-RefreshBuffer)) {
		return nil
	}

	e.log.Infof("refreshing access token for %s", creds.BaseURL)
	token, err := e.fetchAccessToken(creds)
	if err != nil {
		e.log.Errorf("failed to refresh token: %v", err)
		return err
	}
	ts.token = token
	ts.expiresAt = time.Now().Add(TokenValidity)
	e.log.Infof("access token refreshed")
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// fetchAccessToken performs the OAuth2 client-credentials POST, retrying on
// HTTP 403 (KIS's one-request-per-minute-per-key throttle) with a fixed
// backoff, up to TokenRetryAttempts times.
func (e *Env) fetchAccessToken(creds Credentials) (string, error) {
	url := creds.BaseURL + "/oauth2/tokenP"
	payload, _ := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     creds.AppKey,
		"appsecret":  creds.AppSecret,
	})

	var lastErr error
	for attempt := 1; attempt <= TokenRetryAttempts; attempt++ {
		resp, body, err := e.postJSON(url, payload)
		if err != nil {
			lastErr = err
			if attempt < TokenRetryAttempts {
				e.log.Warnf("token request failed (attempt %d/%d): %v, retrying in %s", attempt, TokenRetryAttempts, err, TokenRetryBaseDelay)
				time.Sleep(TokenRetryBaseDelay)
				continue
			}
			return "", lastErr
		}

		if resp.StatusCode == http.StatusForbidden && attempt < TokenRetryAttempts {
			e.log.Warnf("token rate-limited (attempt %d/%d), retrying in %s", attempt, TokenRetryAttempts, TokenRetryBaseDelay)
			time.Sleep(TokenRetryBaseDelay)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("auth: token endpoint returned %d: %w", resp.StatusCode, kiserrors.ErrAuth)
		}

		var tr tokenResponse
		if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
			return "", fmt.Errorf("auth: unexpected token response: %w", kiserrors.ErrParser)
		}
		return tr.AccessToken, nil
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("auth: token fetch failed unexpectedly: %w", kiserrors.ErrAuth)
}

type approvalResponse struct {
	ApprovalKey string `json:"approval_key"`
}

// fetchApprovalKey fetches the WebSocket approval key once; it is not
// refreshed for the lifetime of the Env, matching kis_auth.py.
func (e *Env) fetchApprovalKey(creds Credentials) (string, error) {
	url := creds.BaseURL + "/oauth2/Approval"
	payload, _ := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     creds.AppKey,
		"secretkey":  creds.AppSecret,
	})

	resp, body, err := e.postJSON(url, payload)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth: approval endpoint returned %d: %w", resp.StatusCode, kiserrors.ErrAuth)
	}

	var ar approvalResponse
	if err := json.Unmarshal(body, &ar); err != nil || ar.ApprovalKey == "" {
		return "", fmt.Errorf("auth: unexpected approval response: %w", kiserrors.ErrParser)
	}
	return ar.ApprovalKey, nil
}

func (e *Env) postJSON(url string, payload []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", err, kiserrors.ErrTransport)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", err, kiserrors.ErrTransport)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", err, kiserrors.ErrTransport)
	}
	return resp, body, nil
}

// ApprovalKey returns the WebSocket approval key fetched at construction.
func (e *Env) ApprovalKey() string { return e.approvalKey }

// AccountNumber returns the account number for the active trading mode.
func (e *Env) AccountNumber() string { return e.creds.AccountNumber }

// BaseURL returns the REST base URL for the active trading mode.
func (e *Env) BaseURL() string { return e.creds.BaseURL }

// IsPaper reports whether this Env operates in paper trading mode.
func (e *Env) IsPaper() bool { return e.cfg.IsPaper }

// HasRealFallback reports whether a real-API fallback is configured.
func (e *Env) HasRealFallback() bool { return e.hasFallback }

// RealBaseURL returns the real-API fallback base URL, or "" if none is
// configured.
func (e *Env) RealBaseURL() string {
	if !e.hasFallback {
		return ""
	}
	return e.fallback.BaseURL
}

// TokenExpiry parses the JWT "exp" claim of bearer without verifying the
// token's signature and returns it. It does not compare the claim with the
// locally tracked expiresAt; a caller that wants to detect clock skew
// between this process and the token issuer compares the result itself.
func TokenExpiry(bearer string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	_, _, err := parser.ParseUnverified(bearer, claims)
	if err != nil {
		return time.Time{}, fmt.Errorf("auth: cannot parse token claims: %w", kiserrors.ErrParser)
	}
	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, fmt.Errorf("auth: token has no exp claim: %w", kiserrors.ErrParser)
	}
	return time.Unix(int64(expFloat), 0), nil
}
