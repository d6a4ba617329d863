// Package cex provides centralized-exchange price source adapters.
package cex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rz1989s/saros-price-oracle/pkg/server/sources"
)

const (
	binanceDefaultBaseURL = "https://api.binance.com"
	binanceTimeout        = 10 * time.Second
)

// BinanceSource fetches prices from the Binance REST bookTicker endpoint.
// Exchanges publish no confidence interval, so the sample's width is derived
// from the order book: price is the bid/ask mid, width is the half-spread.
type BinanceSource struct {
	*sources.BaseSource

	baseURL string
	client  *http.Client
	now     func() time.Time
}

type binanceBookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

// NewBinanceSource creates a new Binance source.
// config["pairs"] maps unified symbols to Binance ticker symbols.
func NewBinanceSource(config map[string]interface{}) (sources.Source, error) {
	pairs, err := sources.ParsePairsFromMap(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pairs: %w", err)
	}

	baseURL := sources.GetStringFromConfig(config, "base_url", binanceDefaultBaseURL)
	logger := sources.GetLoggerFromConfig(config)

	base := sources.NewBaseSource("binance", sources.SourceTypeCEX, pairs, logger)

	return &BinanceSource{
		BaseSource: base,
		baseURL:    baseURL,
		client: &http.Client{
			Timeout: binanceTimeout,
		},
		now: time.Now,
	}, nil
}

// Fetch returns the latest mid price for the symbol.
func (s *BinanceSource) Fetch(ctx context.Context, symbol string) (sources.PriceSample, error) {
	ticker, ok := s.SourceSymbol(symbol)
	if !ok {
		return sources.PriceSample{}, fmt.Errorf("%w: %s on binance", sources.ErrNotConfigured, symbol)
	}

	url := fmt.Sprintf("%s/api/v3/ticker/bookTicker?symbol=%s", s.baseURL, ticker)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return sources.PriceSample{}, fmt.Errorf("%w: %v", sources.ErrProviderError, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return sources.PriceSample{}, fmt.Errorf("%w: %v", sources.ErrProviderTimeout, err)
		}
		return sources.PriceSample{}, fmt.Errorf("%w: %v", sources.ErrProviderError, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return sources.PriceSample{}, fmt.Errorf("%w: %d from binance", sources.ErrUnexpectedStatus, resp.StatusCode)
	}

	var book binanceBookTicker
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return sources.PriceSample{}, fmt.Errorf("%w: %v", sources.ErrInvalidResponse, err)
	}

	bid, err := decimal.NewFromString(book.BidPrice)
	if err != nil {
		return sources.PriceSample{}, fmt.Errorf("%w: bid %q", sources.ErrInvalidResponse, book.BidPrice)
	}
	ask, err := decimal.NewFromString(book.AskPrice)
	if err != nil {
		return sources.PriceSample{}, fmt.Errorf("%w: ask %q", sources.ErrInvalidResponse, book.AskPrice)
	}

	two := decimal.NewFromInt(2)
	mid := bid.Add(ask).Div(two)
	if !mid.IsPositive() {
		return sources.PriceSample{}, fmt.Errorf("%w: %s from binance", sources.ErrNonPositivePrice, mid)
	}

	return sources.PriceSample{
		Symbol:    symbol,
		Price:     mid,
		ConfWidth: ask.Sub(bid).Abs().Div(two),
		Timestamp: s.now(),
		Source:    s.Name(),
		Status:    sources.TradingStatusActive,
	}, nil
}
