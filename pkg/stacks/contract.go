package stacks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/vreff/BitThetix/pkg/models"
)

// Contract wraps the read-only entry points of the BitThetix contracts:
// the exchange contract itself and the price feed registry it consumes.
type Contract struct {
	client       *Client
	address      string
	exchangeName string
	feedName     string
	logger       *logrus.Logger
}

func NewContract(client *Client, address, exchangeName, feedName string, logger *logrus.Logger) *Contract {
	return &Contract{
		client:       client,
		address:      address,
		exchangeName: exchangeName,
		feedName:     feedName,
		logger:       logger,
	}
}

// ID returns the fully qualified exchange contract identifier, as it
// appears in explorer contract-call records.
func (c *Contract) ID() string {
	return c.address + "." + c.exchangeName
}

// SupportedFeedIDs returns the keys of every registered price feed.
func (c *Contract) SupportedFeedIDs(ctx context.Context) ([]uint64, error) {
	v, err := c.client.CallReadOnly(ctx, c.address, c.exchangeName, "get-supported-feeds-ids", c.address, nil)
	if err != nil {
		return nil, err
	}
	inner, err := v.ExpectOK()
	if err != nil {
		return nil, err
	}
	items, err := inner.ExpectList()
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(items))
	for _, item := range items {
		id, err := item.ExpectUInt()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Feed fetches a single asset record from the feed registry.
func (c *Contract) Feed(ctx context.Context, key uint64) (models.OnChainAsset, error) {
	args := []string{EncodeClarityUint(key)}
	v, err := c.client.CallReadOnly(ctx, c.address, c.feedName, "get-feed", c.address, args)
	if err != nil {
		return models.OnChainAsset{}, err
	}
	inner, err := v.ExpectOK()
	if err != nil {
		return models.OnChainAsset{}, err
	}
	return decodeAsset(key, inner)
}

func decodeAsset(key uint64, tuple ClarityValue) (models.OnChainAsset, error) {
	ticker, err := tuple.TupleString("ticker")
	if err != nil {
		return models.OnChainAsset{}, err
	}
	name, err := tuple.TupleString("name")
	if err != nil {
		return models.OnChainAsset{}, err
	}
	assetType, err := tuple.TupleString("type")
	if err != nil {
		return models.OnChainAsset{}, err
	}
	feedID, err := tuple.TupleString("pyth-feed-id")
	if err != nil {
		return models.OnChainAsset{}, err
	}
	price, err := tuple.TupleUInt("current-value")
	if err != nil {
		return models.OnChainAsset{}, err
	}
	vol, err := tuple.TupleUInt("implied-volatility")
	if err != nil {
		return models.OnChainAsset{}, err
	}

	return models.OnChainAsset{
		Key:               key,
		Ticker:            ticker,
		Name:              name,
		Type:              assetType,
		Price:             float64(price) / models.SatoshisPerBTC,
		ImpliedVolatility: float64(vol) / models.SatoshisPerBTC,
		PythFeedID:        feedID,
	}, nil
}

// Assets loads the full asset list, fetching feed records concurrently.
// Assets whose record fails to decode are skipped rather than failing
// the whole load.
func (c *Contract) Assets(ctx context.Context) (map[string]models.OnChainAsset, error) {
	ids, err := c.SupportedFeedIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed ids: %w", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	assets := make(map[string]models.OnChainAsset, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			asset, err := c.Feed(ctx, id)
			if err != nil {
				c.logger.WithError(err).WithField("feed_id", id).Warn("Failed to fetch feed record")
				return
			}
			mu.Lock()
			assets[asset.AssetKey()] = asset
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	return assets, nil
}

// AssetBalance returns the principal's holding of one asset, scaled to
// display units.
func (c *Contract) AssetBalance(ctx context.Context, assetKey uint64, principal string) (float64, error) {
	args := []string{EncodeClarityUint(assetKey)}
	v, err := c.client.CallReadOnly(ctx, c.address, c.exchangeName, "get-asset-balance", principal, args)
	if err != nil {
		return 0, err
	}
	inner, err := v.ExpectOK()
	if err != nil {
		return 0, err
	}
	raw, err := inner.ExpectUInt()
	if err != nil {
		return 0, err
	}
	return float64(raw) / models.SatoshisPerBTC, nil
}

// SBTCBalance returns the principal's base-asset balance.
func (c *Contract) SBTCBalance(ctx context.Context, principal string) (float64, error) {
	v, err := c.client.CallReadOnly(ctx, c.address, c.exchangeName, "get-sbtc-balance", principal, nil)
	if err != nil {
		return 0, err
	}
	inner, err := v.ExpectOK()
	if err != nil {
		return 0, err
	}
	raw, err := inner.ExpectUInt()
	if err != nil {
		return 0, err
	}
	return float64(raw) / models.SatoshisPerBTC, nil
}
