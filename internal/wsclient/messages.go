// Package wsclient implements the shared real-time WebSocket client of
// spec §4.13 (C13), adapted from
// original_source/kis_core/ws_client.py's KISWebSocketClient and parsers.
package wsclient

import (
	"strconv"
	"strings"
	"time"
)

// TickMessage is a parsed H0STCNT0 tick frame.
type TickMessage struct {
	Ticker    string
	Price     float64
	Volume    float64
	CumVol    float64
	CumVal    float64
	ViRef     float64
	Timestamp time.Time
}

// AskBidMessage is a parsed H0STASP0 top-of-book frame.
type AskBidMessage struct {
	Ticker string
	Bid    float64
	Ask    float64
}

// parseFrameHeader splits a raw KIS frame into (trID, dataBody). KIS frames
// are pipe-delimited: "header_field0^header_field1|data_type|...|data".
func parseFrameHeader(raw string) (trID, body string, ok bool) {
	if !strings.Contains(raw, "|") {
		return "", "", false
	}
	parts := strings.Split(raw, "|")
	if len(parts) < 4 {
		return "", "", false
	}
	headerParts := strings.Split(parts[0], "^")
	if len(headerParts) > 1 {
		trID = headerParts[1]
	}
	return trID, parts[3], true
}

// ParseTickMessage parses H0STCNT0 body fields (caret-delimited) into a
// TickMessage. now supplies the trading day for the HHMMSS timestamp field;
// callers should pass the current KST time.
func ParseTickMessage(body string, now time.Time) (*TickMessage, bool) {
	fields := strings.Split(body, "^")
	if len(fields) < 15 {
		return nil, false
	}
	ticker := fields[0]
	if ticker == "" {
		return nil, false
	}

	price := parseFloatField(fields, 2)
	volume := parseFloatField(fields, 12)
	cumVol := parseFloatField(fields, 13)
	cumVal := parseFloatField(fields, 14)
	viRef := parseFloatField(fields, 45)

	if price <= 0 {
		return nil, false
	}

	ts := parseHHMMSS(fields[1], now)

	return &TickMessage{
		Ticker:    ticker,
		Price:     price,
		Volume:    volume,
		CumVol:    cumVol,
		CumVal:    cumVal,
		ViRef:     viRef,
		Timestamp: ts,
	}, true
}

// ParseAskBidMessage parses H0STASP0 body fields into an AskBidMessage.
func ParseAskBidMessage(body string) (*AskBidMessage, bool) {
	fields := strings.Split(body, "^")
	if len(fields) < 4 {
		return nil, false
	}
	ticker := fields[0]
	if ticker == "" {
		return nil, false
	}
	return &AskBidMessage{
		Ticker: ticker,
		Ask:    parseFloatField(fields, 3),
		Bid:    parseFloatField(fields, 13),
	}, true
}

func parseFloatField(fields []string, idx int) float64 {
	if idx >= len(fields) || fields[idx] == "" {
		return 0
	}
	v, err := strconv.ParseFloat(fields[idx], 64)
	if err != nil {
		return 0
	}
	return v
}

func parseHHMMSS(s string, now time.Time) time.Time {
	if len(s) < 6 {
		return now
	}
	hh, err1 := strconv.Atoi(s[0:2])
	mm, err2 := strconv.Atoi(s[2:4])
	ss, err3 := strconv.Atoi(s[4:6])
	if err1 != nil || err2 != nil || err3 != nil {
		return now
	}
	return time.Date(now.Year(), now.Month(), now.Day(), hh, mm, ss, 0, now.Location())
}
