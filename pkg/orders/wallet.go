package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Wallet submits state-changing contract calls through the user's
// wallet/session provider and returns the broadcast transaction ID.
// Signing and broadcasting live outside this process.
type Wallet interface {
	PurchaseAsset(ctx context.Context, assetKey, amountSats uint64) (string, error)
	SellAsset(ctx context.Context, assetKey, amountSats uint64) (string, error)
}

// NonceSource yields the next usable nonce for a sponsoring address.
type NonceSource interface {
	NextNonce(ctx context.Context, address string) (uint64, error)
}

// PostCondition guarantees a minimum counterparty token transfer. Every
// submitted order carries a "transfer at least zero sBTC" condition.
type PostCondition struct {
	Code   string `json:"code"`
	Amount uint64 `json:"amount"`
	Asset  string `json:"asset"`
}

type contractCallRequest struct {
	ContractID     string          `json:"contract_id"`
	Function       string          `json:"function"`
	Args           []uint64        `json:"args"`
	SponsorNonce   uint64          `json:"sponsor_nonce"`
	PostConditions []PostCondition `json:"post_conditions"`
}

type contractCallResponse struct {
	TxID string `json:"txid"`
}

// BridgeWallet forwards contract-call intents to a wallet bridge that
// signs, sponsors and broadcasts them. The sponsor nonce is fetched per
// call so the bridge never reuses one.
type BridgeWallet struct {
	url            string
	token          string
	contractID     string
	sponsorAddress string
	sbtcAsset      string
	nonces         NonceSource
	httpClient     *http.Client
	logger         *logrus.Logger
}

func NewBridgeWallet(url, token, contractID, sponsorAddress, sbtcAsset string, nonces NonceSource, logger *logrus.Logger) *BridgeWallet {
	return &BridgeWallet{
		url:            url,
		token:          token,
		contractID:     contractID,
		sponsorAddress: sponsorAddress,
		sbtcAsset:      sbtcAsset,
		nonces:         nonces,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger:         logger,
	}
}

func (w *BridgeWallet) PurchaseAsset(ctx context.Context, assetKey, amountSats uint64) (string, error) {
	return w.submit(ctx, functionPurchaseAsset, assetKey, amountSats)
}

func (w *BridgeWallet) SellAsset(ctx context.Context, assetKey, amountSats uint64) (string, error) {
	return w.submit(ctx, functionSellAsset, assetKey, amountSats)
}

func (w *BridgeWallet) submit(ctx context.Context, function string, assetKey, amountSats uint64) (string, error) {
	nonce, err := w.nonces.NextNonce(ctx, w.sponsorAddress)
	if err != nil {
		return "", fmt.Errorf("fetch sponsor nonce: %w", err)
	}

	body, err := json.Marshal(contractCallRequest{
		ContractID:   w.contractID,
		Function:     function,
		Args:         []uint64{assetKey, amountSats},
		SponsorNonce: nonce,
		PostConditions: []PostCondition{
			{Code: "ge", Amount: 0, Asset: w.sbtcAsset},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wallet bridge rejected %s: status %d", function, resp.StatusCode)
	}

	var decoded contractCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode wallet bridge response: %w", err)
	}
	if decoded.TxID == "" {
		return "", fmt.Errorf("wallet bridge returned no transaction id")
	}

	w.logger.WithFields(logrus.Fields{
		"function": function,
		"tx_id":    decoded.TxID,
	}).Info("Broadcast contract call")
	return decoded.TxID, nil
}
