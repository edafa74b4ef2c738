// Package universe implements the shared universe pre-filter safety net of
// spec §4.17 (C17), adapted from
// original_source/kis_core/universe_filter.py's filter_universe.
//
// It validates tickers by price, market classification, market cap, and
// ADTV before a strategy builds per-symbol state, catching suspended,
// delisted, or illiquid stocks that would otherwise reach the FSM.
package universe

import (
	"context"
	"strings"

	"github.com/kis-core/execution/internal/logging"
)

// prefSuffixes holds preferred-share suffix characters, rejected without a
// network call.
var prefSuffixes = map[byte]struct{}{'5': {}, 'K': {}}

// equityMarketPrefixes are the market-classification prefixes accepted when
// ExcludeNonEquity is set.
var equityMarketPrefixes = []string{"KOSPI", "KOSDAQ", "KSQ"}

// mcapUnit is the KRW value of one unit of the 억원 (100,000,000 KRW)
// market-cap field KIS returns.
const mcapUnit = 1e8

// Rejection reasons.
const (
	ReasonPreferredShare = "PREFERRED_SHARE"
	ReasonAPIError       = "API_ERROR"
	ReasonNoPrice        = "NO_PRICE"
	ReasonNotEquity      = "NOT_EQUITY"
	ReasonLowMcap        = "LOW_MCAP"
	ReasonHighMcap       = "HIGH_MCAP"
	ReasonLowADTV        = "LOW_ADTV"
)

// PriceRecord is the subset of KIS's inquire-price response the filter
// inspects.
type PriceRecord struct {
	Price         float64
	MarketName    string // rprs_mrkt_kor_name, empty if absent
	HasMarketName bool
	MarketCapEok  float64 // hts_avls, in 억원 units, 0 if absent
	MarketCapKRW  float64 // total_mrkt_val / mrkt_cap fallback, raw KRW, 0 if absent
}

// PriceFetcher fetches the current-price record for a ticker.
type PriceFetcher interface {
	CurrentPrice(ctx context.Context, ticker string) (*PriceRecord, error)
}

// ADTVFetcher fetches the 20-day average traded value (KRW) for a ticker.
type ADTVFetcher interface {
	ADTV20Day(ctx context.Context, ticker string) (float64, error)
}

// Config holds the pre-filter thresholds.
type Config struct {
	McapMin          float64
	McapMax          float64 // 0 disables the upper bound
	ADTVMin          float64 // 0 disables the ADTV check
	ExcludeNonEquity bool
	SkipAPIErrors    bool // fail-open on transport errors
}

// DefaultConfig mirrors UniverseFilterConfig's dataclass defaults.
func DefaultConfig() Config {
	return Config{
		McapMin:          20e9,
		McapMax:          0,
		ADTVMin:          3e9,
		ExcludeNonEquity: true,
		SkipAPIErrors:    true,
	}
}

// Rejection records why a ticker failed the pre-filter.
type Rejection struct {
	Ticker string
	Reason string
	Value  float64
}

// Filter runs the pre-filter against tickers in order, returning the
// surviving tickers (in the same relative order as the input) and the
// rejections observed.
func Filter(ctx context.Context, prices PriceFetcher, adtv ADTVFetcher, tickers []string, config Config) ([]string, []Rejection) {
	log := logging.Default().With("universe_filter")

	valid := make([]string, 0, len(tickers))
	rejected := make([]Rejection, 0)

	for _, ticker := range tickers {
		if r := checkTicker(ctx, prices, adtv, ticker, config); r != nil {
			rejected = append(rejected, *r)
		} else {
			valid = append(valid, ticker)
		}
	}

	log.Infof("universe filter: %d passed, %d rejected out of %d", len(valid), len(rejected), len(tickers))
	return valid, rejected
}

func checkTicker(ctx context.Context, prices PriceFetcher, adtv ADTVFetcher, ticker string, config Config) *Rejection {
	if ticker != "" {
		last := ticker[len(ticker)-1]
		if _, isPref := prefSuffixes[last]; isPref {
			return &Rejection{Ticker: ticker, Reason: ReasonPreferredShare}
		}
	}

	rec, err := prices.CurrentPrice(ctx, ticker)
	if err != nil {
		if config.SkipAPIErrors {
			return nil
		}
		return &Rejection{Ticker: ticker, Reason: ReasonAPIError}
	}
	if rec == nil || rec.Price == 0 {
		if config.SkipAPIErrors && rec == nil {
			return nil
		}
		return &Rejection{Ticker: ticker, Reason: ReasonNoPrice}
	}

	if config.ExcludeNonEquity && rec.HasMarketName && rec.MarketName != "" {
		if !hasAnyPrefix(rec.MarketName, equityMarketPrefixes) {
			return &Rejection{Ticker: ticker, Reason: ReasonNotEquity}
		}
	}

	if mcap, ok := extractMcap(rec); ok {
		if mcap < config.McapMin {
			return &Rejection{Ticker: ticker, Reason: ReasonLowMcap, Value: mcap}
		}
		if config.McapMax > 0 && mcap > config.McapMax {
			return &Rejection{Ticker: ticker, Reason: ReasonHighMcap, Value: mcap}
		}
	}

	if config.ADTVMin > 0 {
		value, err := adtv.ADTV20Day(ctx, ticker)
		if err != nil {
			if config.SkipAPIErrors {
				return nil
			}
			return &Rejection{Ticker: ticker, Reason: ReasonAPIError}
		}
		if value < config.ADTVMin {
			return &Rejection{Ticker: ticker, Reason: ReasonLowADTV, Value: value}
		}
	}

	return nil
}

// extractMcap prefers the 억원-denominated field, scaled to KRW, then falls
// back to a raw-KRW field.
func extractMcap(rec *PriceRecord) (float64, bool) {
	if rec.MarketCapEok > 0 {
		return rec.MarketCapEok * mcapUnit, true
	}
	if rec.MarketCapKRW > 0 {
		return rec.MarketCapKRW, true
	}
	return 0, false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
