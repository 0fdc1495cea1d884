package models

import (
	"strconv"
	"time"
)

// SatoshisPerBTC is the fixed-point scale used by the BitThetix contract:
// all on-chain prices and amounts are unsigned integers denominated in
// satoshis and must be divided down for display.
const SatoshisPerBTC = 100_000_000

// BaseAssetTicker identifies the asset every portfolio value is
// denominated in.
const BaseAssetTicker = "BTC"

// OnChainAsset is a tradable synthetic asset as published by the price
// feed contract. The set of assets is replaced wholesale on each load,
// never merged incrementally.
type OnChainAsset struct {
	Key               uint64
	Ticker            string
	Name              string
	Type              string
	Price             float64
	ImpliedVolatility float64
	PythFeedID        string
}

// AssetKey returns the map key used for an asset across balances,
// off-chain records and orders.
func (a OnChainAsset) AssetKey() string {
	return strconv.FormatUint(a.Key, 10)
}

// EmptyOnChainAsset is the fallback returned by lookups for unknown
// assets so callers can render zero values instead of failing.
var EmptyOnChainAsset = OnChainAsset{}

// OffChainAsset is the streaming price record for an asset, updated
// incrementally as ticks arrive. It is independent of the on-chain
// reference price.
type OffChainAsset struct {
	Ticker              string
	Type                string
	Price               float64
	PreviousPrice       float64
	PriceReference24hr  float64
	LastUpdateTimestamp int64
}

// EmptyOffChainAsset is the fallback for assets with no ticks yet.
var EmptyOffChainAsset = OffChainAsset{}

// Balances maps asset keys to held quantities. Entries are refreshed
// independently per asset; the mapping is an eventually-consistent
// snapshot, not an atomic one.
type Balances map[string]float64

// PriceUpdate is a single streamed price sample for an external feed.
type PriceUpdate struct {
	FeedID      string
	Price       float64
	PublishTime int64
}

// Age reports how old the sample is relative to now.
func (p PriceUpdate) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(p.PublishTime, 0))
}
