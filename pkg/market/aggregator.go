package market

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vreff/BitThetix/pkg/models"
)

// ChainReader is the read-only contract surface the aggregator needs.
type ChainReader interface {
	Assets(ctx context.Context) (map[string]models.OnChainAsset, error)
	AssetBalance(ctx context.Context, assetKey uint64, principal string) (float64, error)
	SBTCBalance(ctx context.Context, principal string) (float64, error)
}

// HistoryProvider serves historical bars and 24h reference prices.
type HistoryProvider interface {
	BarHistory(ctx context.Context, asset models.OnChainAsset, g models.Granularity) ([]models.Candle, error)
	PriceReference24hr(ctx context.Context, asset models.OnChainAsset) (float64, error)
}

// DefaultThrottleWindow bounds how often streamed ticks are applied for
// assets the user is not currently viewing.
const DefaultThrottleWindow = 5 * time.Second

// Aggregator owns the in-memory view of tradable assets, their on- and
// off-chain prices, balances and OHLC history. All state is guarded by
// one lock; concurrent fetch callbacks merge through it rather than
// replacing snapshots wholesale.
type Aggregator struct {
	chain   ChainReader
	history HistoryProvider
	logger  *logrus.Logger

	throttleWindow time.Duration
	now            func() time.Time

	mu           sync.RWMutex
	assets       map[string]models.OnChainAsset
	offChain     map[string]models.OffChainAsset
	balances     models.Balances
	sbtcBalance  float64
	candles      map[string][]models.Candle
	granularity  models.Granularity
	chartLoading bool
	focusTicker  string
	// Last applied publish time per asset key, used to throttle and to
	// drop duplicate or out-of-order ticks.
	lastApplied map[string]int64
}

func NewAggregator(chain ChainReader, history HistoryProvider, logger *logrus.Logger) *Aggregator {
	return &Aggregator{
		chain:          chain,
		history:        history,
		logger:         logger,
		throttleWindow: DefaultThrottleWindow,
		now:            time.Now,
		assets:         make(map[string]models.OnChainAsset),
		offChain:       make(map[string]models.OffChainAsset),
		balances:       make(models.Balances),
		candles:        make(map[string][]models.Candle),
		granularity:    models.DefaultGranularity,
		chartLoading:   true,
		lastApplied:    make(map[string]int64),
	}
}

// SetThrottleWindow overrides the tick throttling window for unfocused
// assets.
func (a *Aggregator) SetThrottleWindow(d time.Duration) {
	a.mu.Lock()
	a.throttleWindow = d
	a.mu.Unlock()
}

// LoadAssets replaces the asset mapping wholesale. A failed load resets
// it to empty; derived per-asset state (balances, history, references)
// must be refreshed by the caller afterwards.
func (a *Aggregator) LoadAssets(ctx context.Context) error {
	assets, err := a.chain.Assets(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to load on-chain assets")
		assets = make(map[string]models.OnChainAsset)
	}

	a.mu.Lock()
	a.assets = assets
	a.mu.Unlock()
	return err
}

// RefreshBalance fetches one asset's balance for the address and merges
// it into the balance mapping. Other keys are untouched; a failed fetch
// leaves the prior value in place.
func (a *Aggregator) RefreshBalance(ctx context.Context, assetKey string, address string) {
	a.mu.RLock()
	asset, ok := a.assets[assetKey]
	a.mu.RUnlock()
	if !ok || address == "" {
		return
	}

	balance, err := a.chain.AssetBalance(ctx, asset.Key, address)
	if err != nil {
		a.logger.WithError(err).WithField("asset", asset.Ticker).Debug("Failed to refresh balance")
		return
	}

	a.mu.Lock()
	a.balances[assetKey] = balance
	a.mu.Unlock()
}

// RefreshBalanceByTicker refreshes the balance of the asset carrying
// the given ticker, as happens when the user opens its trading view.
func (a *Aggregator) RefreshBalanceByTicker(ctx context.Context, ticker, address string) {
	a.mu.RLock()
	asset, ok := a.assetByTickerLocked(ticker)
	a.mu.RUnlock()
	if !ok {
		return
	}
	a.RefreshBalance(ctx, asset.AssetKey(), address)
}

// RefreshAllBalances refreshes every known asset's balance plus the
// base-asset balance, each as its own fire-and-forget fetch.
func (a *Aggregator) RefreshAllBalances(ctx context.Context, address string) {
	a.mu.RLock()
	keys := make([]string, 0, len(a.assets))
	for key := range a.assets {
		keys = append(keys, key)
	}
	a.mu.RUnlock()

	for _, key := range keys {
		go a.RefreshBalance(ctx, key, address)
	}
	go a.RefreshSBTCBalance(ctx, address)
}

// RefreshSBTCBalance fetches the address's base-asset balance.
func (a *Aggregator) RefreshSBTCBalance(ctx context.Context, address string) {
	if address == "" {
		return
	}
	balance, err := a.chain.SBTCBalance(ctx, address)
	if err != nil {
		a.logger.WithError(err).Debug("Failed to refresh sBTC balance")
		return
	}

	a.mu.Lock()
	a.sbtcBalance = balance
	a.mu.Unlock()
}

// SetFocus marks the asset being viewed in detail. Its ticks bypass
// throttling and its history is the one kept loaded.
func (a *Aggregator) SetFocus(ctx context.Context, ticker string) {
	a.mu.Lock()
	a.focusTicker = ticker
	a.mu.Unlock()
	a.LoadHistory(ctx, ticker)
}

// SetGranularity switches the selected bar width and reloads the
// focused asset's history.
func (a *Aggregator) SetGranularity(ctx context.Context, g models.Granularity) {
	a.mu.Lock()
	a.granularity = g
	ticker := a.focusTicker
	a.mu.Unlock()
	a.LoadHistory(ctx, ticker)
}

// LoadHistory replaces the candle series for a ticker wholesale. The
// loading flag is raised before the fetch and cleared regardless of
// outcome; the last writer wins when loads race.
func (a *Aggregator) LoadHistory(ctx context.Context, ticker string) {
	a.mu.Lock()
	a.chartLoading = true
	asset, ok := a.assetByTickerLocked(ticker)
	g := a.granularity
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.chartLoading = false
		a.mu.Unlock()
	}()

	if !ok {
		return
	}

	bars, err := a.history.BarHistory(ctx, asset, g)
	if err != nil {
		a.logger.WithError(err).WithField("asset", ticker).Warn("Failed to load bar history")
		bars = nil
	}
	if bars == nil {
		bars = []models.Candle{}
	}

	a.mu.Lock()
	a.candles[ticker] = bars
	a.mu.Unlock()
}

// LoadReferences fetches each asset's 24h reference price once and
// merges it into the off-chain record without disturbing other fields.
func (a *Aggregator) LoadReferences(ctx context.Context) {
	a.mu.RLock()
	assets := make([]models.OnChainAsset, 0, len(a.assets))
	for _, asset := range a.assets {
		assets = append(assets, asset)
	}
	a.mu.RUnlock()

	for _, asset := range assets {
		go func(asset models.OnChainAsset) {
			price, err := a.history.PriceReference24hr(ctx, asset)
			if err != nil {
				a.logger.WithError(err).WithField("asset", asset.Ticker).Debug("Failed to load 24h reference")
				return
			}
			a.applyReference(asset, price)
		}(asset)
	}
}

func (a *Aggregator) applyReference(asset models.OnChainAsset, price float64) {
	key := asset.AssetKey()

	a.mu.Lock()
	defer a.mu.Unlock()

	record := a.offChain[key]
	record.Ticker = asset.Ticker
	record.Type = asset.Type
	record.PriceReference24hr = price
	a.offChain[key] = record
}

// ApplyTick merges one streamed price sample: the off-chain record is
// updated and, when a candle series is loaded for the asset, the series
// is extended or its open bucket mutated. Ticks at or before the last
// applied publish time are dropped, as are throttled ticks for
// unfocused assets.
func (a *Aggregator) ApplyTick(update models.PriceUpdate) {
	a.mu.Lock()
	defer a.mu.Unlock()

	asset, ok := a.assetByFeedIDLocked(update.FeedID)
	if !ok || update.Price == 0 {
		return
	}
	key := asset.AssetKey()

	jitter := 0.0
	if asset.Ticker != a.focusTicker {
		jitter = rand.Float64() * a.throttleWindow.Seconds()
	}
	if float64(a.lastApplied[key]) >= float64(update.PublishTime)-jitter {
		return
	}
	a.lastApplied[key] = update.PublishTime

	record := a.offChain[key]
	record.Ticker = asset.Ticker
	record.Type = asset.Type
	record.PreviousPrice = record.Price
	record.Price = update.Price
	record.LastUpdateTimestamp = update.PublishTime
	a.offChain[key] = record

	a.applyTickToCandlesLocked(asset.Ticker, update)
}

func (a *Aggregator) applyTickToCandlesLocked(ticker string, update models.PriceUpdate) {
	series, ok := a.candles[ticker]
	if !ok {
		// No series loaded for this asset: the tick only feeds the
		// off-chain record.
		return
	}

	price := update.Price
	if len(series) == 0 {
		a.candles[ticker] = append(series, models.Candle{
			Time: update.PublishTime, Open: price, High: price, Low: price, Close: price,
		})
		return
	}

	now := a.now().Unix()
	width := a.granularity.BucketSeconds()
	last := series[len(series)-1]

	if now-last.Time > width {
		a.candles[ticker] = append(series, models.Candle{
			Time: update.PublishTime, Open: price, High: price, Low: price, Close: price,
		})
		return
	}

	last.Close = price
	if price > last.High {
		last.High = price
	}
	if price < last.Low {
		last.Low = price
	}
	series[len(series)-1] = last
}

// TotalPortfolioValue derives the portfolio's value denominated in the
// base asset: each balance weighted by its price relative to BTC, plus
// the base-asset balance itself. Without a priced BTC asset the value
// is zero.
func (a *Aggregator) TotalPortfolioValue() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	btc, ok := a.assetByTickerLocked(models.BaseAssetTicker)
	if !ok || btc.Price == 0 {
		return 0
	}

	total := a.sbtcBalance
	for key, balance := range a.balances {
		asset, ok := a.assets[key]
		if !ok {
			continue
		}
		total += balance * asset.Price / btc.Price
	}
	return total
}

// Assets returns a snapshot of the asset mapping.
func (a *Aggregator) Assets() map[string]models.OnChainAsset {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snapshot := make(map[string]models.OnChainAsset, len(a.assets))
	for key, asset := range a.assets {
		snapshot[key] = asset
	}
	return snapshot
}

// AssetByTicker looks an asset up by ticker, returning the empty
// sentinel when unknown so callers can render zero values.
func (a *Aggregator) AssetByTicker(ticker string) (models.OnChainAsset, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.assetByTickerLocked(ticker)
}

// FeedIDs returns every known asset's external price feed identifier.
func (a *Aggregator) FeedIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]string, 0, len(a.assets))
	for _, asset := range a.assets {
		ids = append(ids, asset.PythFeedID)
	}
	return ids
}

// OffChainAssets returns a snapshot of the streaming price records.
func (a *Aggregator) OffChainAssets() map[string]models.OffChainAsset {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snapshot := make(map[string]models.OffChainAsset, len(a.offChain))
	for key, record := range a.offChain {
		snapshot[key] = record
	}
	return snapshot
}

// Candles returns a copy of the loaded series for a ticker.
func (a *Aggregator) Candles(ticker string) []models.Candle {
	a.mu.RLock()
	defer a.mu.RUnlock()

	series := a.candles[ticker]
	out := make([]models.Candle, len(series))
	copy(out, series)
	return out
}

// Balances returns a snapshot of held quantities by asset key.
func (a *Aggregator) Balances() models.Balances {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snapshot := make(models.Balances, len(a.balances))
	for key, balance := range a.balances {
		snapshot[key] = balance
	}
	return snapshot
}

// Balance returns the held quantity for one asset key.
func (a *Aggregator) Balance(assetKey string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balances[assetKey]
}

// SBTCBalance returns the base-asset balance.
func (a *Aggregator) SBTCBalance() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sbtcBalance
}

// Granularity returns the selected bar width.
func (a *Aggregator) Granularity() models.Granularity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.granularity
}

// ChartLoading reports whether a history load is in flight.
func (a *Aggregator) ChartLoading() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.chartLoading
}

// Focus returns the ticker currently being viewed in detail.
func (a *Aggregator) Focus() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.focusTicker
}

func (a *Aggregator) assetByTickerLocked(ticker string) (models.OnChainAsset, bool) {
	for _, asset := range a.assets {
		if asset.Ticker == ticker {
			return asset, true
		}
	}
	return models.EmptyOnChainAsset, false
}

func (a *Aggregator) assetByFeedIDLocked(feedID string) (models.OnChainAsset, bool) {
	for _, asset := range a.assets {
		if asset.PythFeedID == feedID {
			return asset, true
		}
	}
	return models.EmptyOnChainAsset, false
}
