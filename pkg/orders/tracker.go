package orders

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vreff/BitThetix/pkg/models"
	"github.com/vreff/BitThetix/pkg/notify"
	"github.com/vreff/BitThetix/pkg/stacks"
)

// StatusReader is the explorer surface the tracker polls.
type StatusReader interface {
	TransactionByID(ctx context.Context, txID string) (stacks.Transaction, bool, error)
	AddressTransactions(ctx context.Context, address string) ([]stacks.Transaction, error)
	MempoolTransactions(ctx context.Context, address string) ([]stacks.Transaction, error)
}

const (
	functionPurchaseAsset = "purchase-asset"
	functionSellAsset     = "sell-asset"
	functionMintTestnet   = "mint-bitthetix-testnet"

	successMessage = "Done!"
	failureMessage = "Transaction failed"
	mintingMessage = "Minting 1 sBTC..."
)

// Tracker follows the user's submitted orders from submission through
// on-chain confirmation. Orders move pending -> success | failed; an ID
// never appears in both collections. Failed orders are dropped with
// only a failure notification retained.
type Tracker struct {
	chain          StatusReader
	contractID     string
	sbtcContractID string
	notifier       notify.Notifier
	logger         *logrus.Logger
	pollInterval   time.Duration

	mu        sync.RWMutex
	pending   models.Orders
	completed models.Orders
	txIDs     map[string]struct{}

	onCompleted func(models.Order)
	stopCh      chan struct{}
	stopOnce    sync.Once
}

func NewTracker(chain StatusReader, contractID, sbtcContractID string, notifier notify.Notifier, pollInterval time.Duration, logger *logrus.Logger) *Tracker {
	return &Tracker{
		chain:          chain,
		contractID:     contractID,
		sbtcContractID: sbtcContractID,
		notifier:       notifier,
		logger:         logger,
		pollInterval:   pollInterval,
		pending:        make(models.Orders),
		completed:      make(models.Orders),
		txIDs:          make(map[string]struct{}),
		stopCh:         make(chan struct{}),
	}
}

// SetOnOrderCompleted registers a hook invoked after each successful
// order confirmation, typically to refresh balances.
func (t *Tracker) SetOnOrderCompleted(fn func(models.Order)) {
	t.mu.Lock()
	t.onCompleted = fn
	t.mu.Unlock()
}

// Start runs the polling loop until the context is cancelled or Stop is
// called. Polling is unbounded for the session: there is no backoff and
// no retry cap.
func (t *Tracker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopCh:
				return
			case <-ticker.C:
				t.pollOnce(ctx)
			}
		}
	}()
}

func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// TrackOrder registers a freshly submitted order and emits its loading
// notification.
func (t *Tracker) TrackOrder(order models.Order, pendingMessage string) {
	t.logger.WithField("tx_id", order.TxID).Info("Tracking order")
	t.notifier.Loading(order.TxID, pendingMessage)

	t.mu.Lock()
	t.pending[order.TxID] = order
	t.mu.Unlock()
}

// TrackTransaction registers a raw transaction (no order semantics) for
// status notifications.
func (t *Tracker) TrackTransaction(txID, pendingMessage string) {
	t.logger.WithField("tx_id", txID).Info("Tracking transaction")
	t.notifier.Loading(txID, pendingMessage)

	t.mu.Lock()
	t.txIDs[txID] = struct{}{}
	t.mu.Unlock()
}

// pollOnce re-checks every pending order and tracked transaction. Each
// check is its own fire-and-forget fetch; resolutions serialize on the
// tracker lock.
func (t *Tracker) pollOnce(ctx context.Context) {
	t.mu.RLock()
	pending := make([]models.Order, 0, len(t.pending))
	for _, order := range t.pending {
		pending = append(pending, order)
	}
	txIDs := make([]string, 0, len(t.txIDs))
	for id := range t.txIDs {
		txIDs = append(txIDs, id)
	}
	t.mu.RUnlock()

	for _, order := range pending {
		go t.resolveOrder(ctx, order)
	}
	for _, id := range txIDs {
		go t.resolveTransaction(ctx, id)
	}
}

// resolveOrder transitions one pending order based on its remote
// status. A missing or still-pending transaction is "no information
// yet" and left for the next tick.
func (t *Tracker) resolveOrder(ctx context.Context, order models.Order) {
	tx, found, err := t.chain.TransactionByID(ctx, order.TxID)
	if err != nil {
		t.logger.WithError(err).WithField("tx_id", order.TxID).Debug("Order status fetch failed")
		return
	}
	if !found || tx.TxStatus == "pending" {
		return
	}

	if tx.TxStatus == "success" {
		confirmed := order
		confirmed.Status = models.OrderStatusSuccess
		confirmed.AmountAsset = amountAssetFromEvents(tx)
		confirmed.BlockNumber = tx.BlockHeight
		confirmed.Timestamp = tx.BurnBlockTime

		t.mu.Lock()
		delete(t.pending, order.TxID)
		t.completed[order.TxID] = confirmed
		hook := t.onCompleted
		t.mu.Unlock()

		t.notifier.Success(order.TxID, successMessage)
		if hook != nil {
			hook(confirmed)
		}
		return
	}

	// Any other terminal status: drop the order. No failure record is
	// retained beyond the notification.
	t.mu.Lock()
	delete(t.pending, order.TxID)
	t.mu.Unlock()

	t.notifier.Failure(order.TxID, failureMessage)
}

func (t *Tracker) resolveTransaction(ctx context.Context, txID string) {
	tx, found, err := t.chain.TransactionByID(ctx, txID)
	if err != nil {
		t.logger.WithError(err).WithField("tx_id", txID).Debug("Transaction status fetch failed")
		return
	}
	if !found || tx.TxStatus == "pending" {
		return
	}

	if tx.TxStatus == "success" {
		t.notifier.Success(txID, successMessage)
	} else {
		t.notifier.Failure(txID, failureMessage)
	}

	t.mu.Lock()
	delete(t.txIDs, txID)
	t.mu.Unlock()
}

// Reconcile seeds the tracker from the explorer once the wallet address
// is known: the mempool provides pending orders, the confirmed history
// provides completed ones. Each seeded completed order is enriched
// with its event-log output amount, silently.
func (t *Tracker) Reconcile(ctx context.Context, address string) {
	t.seedPending(ctx, address)
	t.seedCompleted(ctx, address)
}

func (t *Tracker) seedPending(ctx context.Context, address string) {
	txs, err := t.chain.MempoolTransactions(ctx, address)
	if err != nil {
		t.logger.WithError(err).Debug("Mempool fetch failed")
		return
	}

	for _, tx := range txs {
		if tx.TxStatus != "pending" || tx.ContractCall == nil {
			continue
		}
		if tx.ContractCall.ContractID != t.contractID && tx.ContractCall.ContractID != t.sbtcContractID {
			continue
		}

		if tx.ContractCall.FunctionName == functionMintTestnet {
			t.TrackTransaction(tx.TxID, mintingMessage)
			continue
		}

		order, ok := orderFromContractCall(tx, models.OrderStatusPending)
		if !ok {
			continue
		}

		t.mu.Lock()
		if _, done := t.completed[order.TxID]; !done {
			t.pending[order.TxID] = order
		}
		t.mu.Unlock()
	}
}

func (t *Tracker) seedCompleted(ctx context.Context, address string) {
	txs, err := t.chain.AddressTransactions(ctx, address)
	if err != nil {
		t.logger.WithError(err).Debug("Transaction history fetch failed")
		return
	}

	for _, tx := range txs {
		if tx.TxStatus != "success" || tx.ContractCall == nil || tx.ContractCall.ContractID != t.contractID {
			continue
		}

		order, ok := orderFromContractCall(tx, models.OrderStatusSuccess)
		if !ok {
			continue
		}

		t.mu.Lock()
		delete(t.pending, order.TxID)
		t.completed[order.TxID] = order
		t.mu.Unlock()

		go t.enrichOrder(ctx, order)
	}
}

// enrichOrder fills a seeded completed order with its realized output
// amount and confirmation details. No notification and no completion
// hook: the order confirmed before this session, it never transitioned
// locally.
func (t *Tracker) enrichOrder(ctx context.Context, order models.Order) {
	tx, found, err := t.chain.TransactionByID(ctx, order.TxID)
	if err != nil {
		t.logger.WithError(err).WithField("tx_id", order.TxID).Debug("Order enrichment fetch failed")
		return
	}
	if !found || tx.TxStatus != "success" {
		return
	}

	order.AmountAsset = amountAssetFromEvents(tx)
	order.BlockNumber = tx.BlockHeight
	order.Timestamp = tx.BurnBlockTime

	t.mu.Lock()
	t.completed[order.TxID] = order
	t.mu.Unlock()
}

// PendingOrders returns a snapshot of in-flight orders.
func (t *Tracker) PendingOrders() models.Orders {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneOrders(t.pending)
}

// CompletedOrders returns a snapshot of confirmed orders.
func (t *Tracker) CompletedOrders() models.Orders {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneOrders(t.completed)
}

func cloneOrders(orders models.Orders) models.Orders {
	out := make(models.Orders, len(orders))
	for id, order := range orders {
		out[id] = order
	}
	return out
}

// orderFromContractCall decodes a purchase or sell call's u-prefixed
// arguments into an order.
func orderFromContractCall(tx stacks.Transaction, status models.OrderStatus) (models.Order, bool) {
	call := tx.ContractCall
	var side models.OrderSide
	switch call.FunctionName {
	case functionPurchaseAsset:
		side = models.OrderSideBuy
	case functionSellAsset:
		side = models.OrderSideSell
	default:
		return models.Order{}, false
	}
	if len(call.FunctionArgs) < 2 {
		return models.Order{}, false
	}

	assetKey, err := stacks.ParseUintRepr(call.FunctionArgs[0].Repr)
	if err != nil {
		return models.Order{}, false
	}
	amount, err := stacks.ParseUintRepr(call.FunctionArgs[1].Repr)
	if err != nil {
		return models.Order{}, false
	}

	timestamp := tx.BurnBlockTime
	if status == models.OrderStatusPending {
		timestamp = tx.ReceiptTime
	}

	return models.Order{
		Status:      status,
		Side:        side,
		AssetKey:    strconv.FormatUint(assetKey, 10),
		AmountSBTC:  float64(amount) / models.SatoshisPerBTC,
		TxID:        tx.TxID,
		BlockNumber: tx.BlockHeight,
		Timestamp:   timestamp,
	}, true
}

// amountAssetFromEvents extracts the realized output amount from the
// transaction's second event-log entry. Missing or unparseable logs
// yield zero.
func amountAssetFromEvents(tx stacks.Transaction) float64 {
	if len(tx.Events) < 2 || tx.Events[1].ContractLog == nil {
		return 0
	}
	raw, err := stacks.ParseUintRepr(tx.Events[1].ContractLog.Value.Repr)
	if err != nil {
		return 0
	}
	return float64(raw) / models.SatoshisPerBTC
}
