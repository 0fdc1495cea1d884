package pyth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vreff/BitThetix/pkg/models"
)

const (
	// Bars requested per history load. Month-width bars get a smaller
	// count so the total time span stays reasonable.
	historyBarCount      = 3000
	historyBarCountMonth = 100

	// Resolution and lookbacks for the 24h reference lookup. Non-crypto
	// assets use a wider window to guarantee at least one bar across
	// weekends and market closures.
	referenceResolution     = "240"
	referenceLookbackCrypto = 24 * time.Hour
	referenceLookbackOther  = 5 * 24 * time.Hour
)

// BenchmarkClient fetches historical OHLC bars from the Pyth benchmarks
// API. Non-200 responses degrade to empty results: callers treat "no
// data" as not yet loaded, never as a fatal error.
type BenchmarkClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewBenchmarkClient(baseURL string, logger *logrus.Logger) *BenchmarkClient {
	return &BenchmarkClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// history responses arrive as parallel arrays.
type historyResponse struct {
	Open  []float64 `json:"o"`
	High  []float64 `json:"h"`
	Low   []float64 `json:"l"`
	Close []float64 `json:"c"`
	Time  []int64   `json:"t"`
}

// Symbol returns the benchmark symbol for an asset, denominated in USD.
func Symbol(asset models.OnChainAsset) string {
	return fmt.Sprintf("%s.%s/USD", asset.Type, asset.Ticker)
}

// BarHistory loads a lookback window of bars for an asset at the given
// granularity, sized inversely to bar width, sorted by bucket time.
func (c *BenchmarkClient) BarHistory(ctx context.Context, asset models.OnChainAsset, g models.Granularity) ([]models.Candle, error) {
	now := time.Now().Unix()
	barCount := int64(historyBarCount)
	if g.QueryParam == "M" {
		barCount = historyBarCountMonth
	}
	from := now - g.Resolution*barCount*60

	raw, err := c.fetchHistory(ctx, Symbol(asset), g.QueryParam, from, now)
	if err != nil {
		return nil, err
	}

	bars := make([]models.Candle, 0, len(raw.Time))
	for i := range raw.Time {
		if i >= len(raw.Open) || i >= len(raw.High) || i >= len(raw.Low) || i >= len(raw.Close) {
			break
		}
		bars = append(bars, models.Candle{
			Time:  raw.Time[i],
			Open:  raw.Open[i],
			High:  raw.High[i],
			Low:   raw.Low[i],
			Close: raw.Close[i],
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time < bars[j].Time })
	return bars, nil
}

// PriceReference24hr returns the open of the earliest bar within the
// last 24 hours, falling back to the most recent bar when the whole
// window is older than that.
func (c *BenchmarkClient) PriceReference24hr(ctx context.Context, asset models.OnChainAsset) (float64, error) {
	now := time.Now().Unix()
	lookback := referenceLookbackOther
	if asset.Type == "Crypto" {
		lookback = referenceLookbackCrypto
	}
	from := now - int64(lookback.Seconds())

	raw, err := c.fetchHistory(ctx, Symbol(asset), referenceResolution, from, now)
	if err != nil {
		return 0, err
	}

	cutoff := now - int64((24 * time.Hour).Seconds())
	var reference float64
	for i := range raw.Time {
		if i >= len(raw.Open) {
			break
		}
		reference = raw.Open[i]
		if raw.Time[i] >= cutoff {
			break
		}
	}
	return reference, nil
}

func (c *BenchmarkClient) fetchHistory(ctx context.Context, symbol, resolution string, from, to int64) (historyResponse, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("resolution", resolution)
	q.Set("from", fmt.Sprintf("%d", from))
	q.Set("to", fmt.Sprintf("%d", to))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return historyResponse{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return historyResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.WithFields(logrus.Fields{
			"symbol": symbol,
			"status": resp.StatusCode,
		}).Debug("Benchmark history unavailable")
		return historyResponse{}, nil
	}

	var raw historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return historyResponse{}, fmt.Errorf("decode history for %s: %w", symbol, err)
	}
	return raw, nil
}
