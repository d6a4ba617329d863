package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rz1989s/saros-price-oracle/pkg/server/sources"
)

const (
	pythDefaultBaseURL = "https://hermes.pyth.network"
	pythDefaultTimeout = 10 * time.Second
)

// PythSource fetches prices from a Pyth Hermes-style REST endpoint.
// Pyth publishes prices as an integer mantissa with a decimal exponent plus an
// absolute confidence interval in the same fixed-point representation.
type PythSource struct {
	*sources.BaseSource

	baseURL string
	client  *http.Client
}

// pythPriceFeed mirrors one entry of the latest_price_feeds response.
type pythPriceFeed struct {
	ID    string    `json:"id"`
	Price pythPrice `json:"price"`
}

type pythPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
	Status      string `json:"status,omitempty"`
}

// NewPythSource creates a new Pyth source.
// config["pairs"] maps unified symbols to Pyth feed ids.
func NewPythSource(config map[string]interface{}) (sources.Source, error) {
	pairs, err := sources.ParsePairsFromMap(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pairs: %w", err)
	}

	baseURL := sources.GetStringFromConfig(config, "base_url", pythDefaultBaseURL)
	logger := sources.GetLoggerFromConfig(config)

	base := sources.NewBaseSource("pyth", sources.SourceTypeOracle, pairs, logger)

	return &PythSource{
		BaseSource: base,
		baseURL:    baseURL,
		client: &http.Client{
			Timeout: pythDefaultTimeout,
		},
	}, nil
}

// Fetch returns the latest normalized sample for the symbol.
func (s *PythSource) Fetch(ctx context.Context, symbol string) (sources.PriceSample, error) {
	feedID, ok := s.SourceSymbol(symbol)
	if !ok {
		return sources.PriceSample{}, fmt.Errorf("%w: %s on pyth", sources.ErrNotConfigured, symbol)
	}

	url := fmt.Sprintf("%s/api/latest_price_feeds?ids[]=%s&verbose=true", s.baseURL, feedID)
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
		return sources.PriceSample{}, fmt.Errorf("%w: %d from pyth", sources.ErrUnexpectedStatus, resp.StatusCode)
	}

	var feeds []pythPriceFeed
	if err := json.NewDecoder(resp.Body).Decode(&feeds); err != nil {
		return sources.PriceSample{}, fmt.Errorf("%w: %v", sources.ErrInvalidResponse, err)
	}
	if len(feeds) == 0 {
		return sources.PriceSample{}, fmt.Errorf("%w: empty feed list for %s", sources.ErrInvalidResponse, symbol)
	}

	return s.normalize(symbol, feeds[0].Price)
}

// normalize converts Pyth fixed-point values into a decimal PriceSample.
func (s *PythSource) normalize(symbol string, p pythPrice) (sources.PriceSample, error) {
	mantissa, err := strconv.ParseInt(p.Price, 10, 64)
	if err != nil {
		return sources.PriceSample{}, fmt.Errorf("%w: price mantissa %q", sources.ErrInvalidResponse, p.Price)
	}
	confMantissa, err := strconv.ParseInt(p.Conf, 10, 64)
	if err != nil {
		return sources.PriceSample{}, fmt.Errorf("%w: conf mantissa %q", sources.ErrInvalidResponse, p.Conf)
	}

	price := decimal.New(mantissa, p.Expo)
	if !price.IsPositive() {
		return sources.PriceSample{}, fmt.Errorf("%w: %s from pyth", sources.ErrNonPositivePrice, price)
	}

	return sources.PriceSample{
		Symbol:    symbol,
		Price:     price,
		ConfWidth: decimal.New(confMantissa, p.Expo),
		Timestamp: time.Unix(p.PublishTime, 0),
		Source:    s.Name(),
		Status:    mapPythStatus(p.Status),
	}, nil
}

func mapPythStatus(status string) sources.TradingStatus {
	switch status {
	case "trading":
		return sources.TradingStatusActive
	case "halted":
		return sources.TradingStatusHalted
	case "auction":
		return sources.TradingStatusAuction
	default:
		return sources.TradingStatusUnknown
	}
}
