package engine

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/kis-core/execution/internal/oms"
	"github.com/kis-core/execution/internal/ratelimit"
	"github.com/kis-core/execution/internal/regime"
	"github.com/kis-core/execution/internal/restclient"
	"github.com/kis-core/execution/internal/universe"
)

// restMarketData adapts a restclient.Client to the universe package's
// PriceFetcher and ADTVFetcher interfaces, the oms package's Broker
// interface, and the regime package's Fetcher interface. Grounded on
// original_source/kis_core/universe_filter.py's get_current_price call
// and original_source/kis_core/kis_client.py's documented quotations and
// balance endpoints. A singleflight.Group collapses concurrent
// CurrentPrice/ADTV20Day calls for the same ticker into one REST round
// trip, grounded on stadam23-Eve-flipper/internal/esi/order_cache.go's
// OrderCache.
type restMarketData struct {
	rest  *restclient.Client
	group singleflight.Group
}

func newRestMarketData(rest *restclient.Client) *restMarketData {
	return &restMarketData{rest: rest}
}

// CurrentPrice calls KIS's inquire-price endpoint, satisfying
// universe.PriceFetcher.
func (m *restMarketData) CurrentPrice(ctx context.Context, ticker string) (*universe.PriceRecord, error) {
	v, err, _ := m.group.Do("price:"+ticker, func() (any, error) {
		return m.currentPrice(ctx, ticker)
	})
	if err != nil {
		return nil, err
	}
	return v.(*universe.PriceRecord), nil
}

func (m *restMarketData) currentPrice(ctx context.Context, ticker string) (*universe.PriceRecord, error) {
	resp, err := m.rest.Call(ctx, restclient.Request{
		Operation: "inquire_price",
		Method:    "GET",
		Path:      "/uapi/domestic-stock/v1/quotations/inquire-price",
		Class:     ratelimit.ClassQuote,
		Query: map[string]string{
			"FID_COND_MRKT_DIV_CODE": "J",
			"FID_INPUT_ISCD":         ticker,
		},
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("inquire_price %s: %s (%s)", ticker, resp.ErrorMessage(), resp.ErrorCode())
	}

	rec := &universe.PriceRecord{}
	if px, ok := parseFloatField(resp, "stck_prpr"); ok {
		rec.Price = px
	} else {
		return nil, fmt.Errorf("inquire_price %s: missing stck_prpr", ticker)
	}
	if mrkt, ok := resp.GetOutput("rprs_mrkt_kor_name", nil).(string); ok && mrkt != "" {
		rec.MarketName = mrkt
		rec.HasMarketName = true
	}
	if eok, ok := parseFloatField(resp, "hts_avls"); ok && eok > 0 {
		rec.MarketCapEok = eok
	} else if krw, ok := firstNonZero(resp, "total_mrkt_val", "mrkt_cap"); ok {
		rec.MarketCapKRW = krw
	}
	return rec, nil
}

// ADTV20Day calls KIS's daily-price chart endpoint and averages the last
// 20 sessions' trading value, satisfying universe.ADTVFetcher.
func (m *restMarketData) ADTV20Day(ctx context.Context, ticker string) (float64, error) {
	v, err, _ := m.group.Do("adtv:"+ticker, func() (any, error) {
		return m.adtv20Day(ctx, ticker)
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (m *restMarketData) adtv20Day(ctx context.Context, ticker string) (float64, error) {
	resp, err := m.rest.Call(ctx, restclient.Request{
		Operation: "inquire_daily_price",
		Method:    "GET",
		Path:      "/uapi/domestic-stock/v1/quotations/inquire-daily-price",
		Class:     ratelimit.ClassChart,
		Query: map[string]string{
			"FID_COND_MRKT_DIV_CODE": "J",
			"FID_INPUT_ISCD":         ticker,
			"FID_PERIOD_DIV_CODE":    "D",
			"FID_ORG_ADJ_PRC":        "1",
		},
	})
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, fmt.Errorf("inquire_daily_price %s: %s (%s)", ticker, resp.ErrorMessage(), resp.ErrorCode())
	}

	rows, _ := resp.GetOutput("output", nil).([]any)
	if len(rows) == 0 {
		return 0, fmt.Errorf("inquire_daily_price %s: no rows", ticker)
	}
	n := len(rows)
	if n > 20 {
		n = 20
	}
	var sum float64
	for _, raw := range rows[:n] {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		sum += numericField(row, "acml_tr_pbmn")
	}
	return sum / float64(n), nil
}

// Positions calls KIS's balance-inquiry endpoint, satisfying oms.Broker.
func (m *restMarketData) Positions(ctx context.Context) (map[string]oms.BrokerPosition, error) {
	resp, err := m.rest.Call(ctx, restclient.Request{
		Operation: "balance_inquiry",
		Method:    "GET",
		Path:      "/uapi/domestic-stock/v1/trading/inquire-balance",
		Class:     ratelimit.ClassBalance,
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("balance_inquiry: %s (%s)", resp.ErrorMessage(), resp.ErrorCode())
	}

	rows, _ := resp.GetOutput("output1", nil).([]any)
	out := make(map[string]oms.BrokerPosition, len(rows))
	for _, raw := range rows {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		sym, _ := row["pdno"].(string)
		if sym == "" {
			continue
		}
		qty := numericField(row, "hldg_qty")
		if qty <= 0 {
			continue
		}
		out[sym] = oms.BrokerPosition{Qty: qty, EntryPx: numericField(row, "pchs_avg_pric")}
	}
	return out, nil
}

// ProgramNetBuy calls KIS's program-trading-trend endpoint, satisfying
// regime.Fetcher. This is a PassthroughOps operation: in paper mode it is
// served from the real-API fallback credentials since KIS's paper server
// does not implement it.
func (m *restMarketData) ProgramNetBuy(ctx context.Context, market string) (float64, error) {
	resp, err := m.rest.Call(ctx, restclient.Request{
		Operation: "program_trading_trend",
		Method:    "GET",
		Path:      "/uapi/domestic-stock/v1/quotations/program-trade-by-market",
		Class:     ratelimit.ClassFlow,
		Query: map[string]string{
			"FID_COND_MRKT_DIV_CODE": market,
		},
	})
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, fmt.Errorf("program_trading_trend %s: %s (%s)", market, resp.ErrorMessage(), resp.ErrorCode())
	}
	v, _ := parseFloatField(resp, "whol_ntby_qty")
	return v, nil
}

type responseLike interface {
	GetOutput(key string, def any) any
}

func parseFloatField(resp responseLike, key string) (float64, bool) {
	v := resp.GetOutput(key, nil)
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func firstNonZero(resp responseLike, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := parseFloatField(resp, k); ok && v > 0 {
			return v, true
		}
	}
	return 0, false
}

func numericField(row map[string]any, key string) float64 {
	switch t := row[key].(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
