package stacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Client talks to a Stacks node's RPC and extended (explorer) APIs.
// Outbound requests share a rate limiter so polling many transactions
// at once cannot hammer the node.
type Client struct {
	coreURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

func NewClient(coreURL string, logger *logrus.Logger) *Client {
	return &Client{
		coreURL:    coreURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(20), 10),
		logger:     logger,
	}
}

type readOnlyCallRequest struct {
	Sender    string   `json:"sender"`
	Arguments []string `json:"arguments"`
}

type readOnlyCallResponse struct {
	Okay   bool   `json:"okay"`
	Result string `json:"result"`
	Cause  string `json:"cause"`
}

// CallReadOnly invokes a read-only contract function and decodes the
// returned Clarity value. Arguments must already be serialized with
// EncodeClarityUint or equivalent.
func (c *Client) CallReadOnly(ctx context.Context, contractAddress, contractName, function, sender string, args []string) (ClarityValue, error) {
	if args == nil {
		args = []string{}
	}
	body, err := json.Marshal(readOnlyCallRequest{Sender: sender, Arguments: args})
	if err != nil {
		return ClarityValue{}, err
	}

	path := fmt.Sprintf("/v2/contracts/call-read/%s/%s/%s", contractAddress, contractName, function)
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return ClarityValue{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ClarityValue{}, fmt.Errorf("read-only call %s: status %d", function, resp.StatusCode)
	}

	var decoded readOnlyCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ClarityValue{}, fmt.Errorf("read-only call %s: %w", function, err)
	}
	if !decoded.Okay {
		return ClarityValue{}, fmt.Errorf("read-only call %s rejected: %s", function, decoded.Cause)
	}

	return DecodeClarityHex(decoded.Result)
}

// Transaction is the explorer's view of a transaction, pending or mined.
type Transaction struct {
	TxID          string             `json:"tx_id"`
	TxStatus      string             `json:"tx_status"`
	BlockHeight   uint64             `json:"block_height"`
	ReceiptTime   int64              `json:"receipt_time"`
	BurnBlockTime int64              `json:"burn_block_time"`
	ContractCall  *ContractCall      `json:"contract_call"`
	Events        []TransactionEvent `json:"events"`
}

type ContractCall struct {
	ContractID   string        `json:"contract_id"`
	FunctionName string        `json:"function_name"`
	FunctionArgs []FunctionArg `json:"function_args"`
}

type FunctionArg struct {
	Repr string `json:"repr"`
}

type TransactionEvent struct {
	EventType   string       `json:"event_type"`
	ContractLog *ContractLog `json:"contract_log"`
}

type ContractLog struct {
	ContractID string    `json:"contract_id"`
	Value      ReprValue `json:"value"`
}

type ReprValue struct {
	Repr string `json:"repr"`
}

type transactionList struct {
	Results []Transaction `json:"results"`
}

// TransactionByID fetches a transaction's current status and its first
// event-log entries. A not-yet-indexed transaction returns found=false,
// not an error, so callers retry on the next poll.
func (c *Client) TransactionByID(ctx context.Context, txID string) (Transaction, bool, error) {
	path := fmt.Sprintf("/extended/v1/tx/%s?event_limit=2", txID)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Transaction{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Transaction{}, false, nil
	}

	var tx Transaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return Transaction{}, false, fmt.Errorf("decode transaction %s: %w", txID, err)
	}
	return tx, true, nil
}

// AddressTransactions fetches an address's confirmed transaction history.
// Non-200 responses degrade to an empty list.
func (c *Client) AddressTransactions(ctx context.Context, address string) ([]Transaction, error) {
	path := fmt.Sprintf("/extended/v1/address/%s/transactions", url.PathEscape(address))
	return c.fetchTransactionList(ctx, path)
}

// MempoolTransactions fetches an address's not-yet-mined transactions.
func (c *Client) MempoolTransactions(ctx context.Context, address string) ([]Transaction, error) {
	path := "/extended/v1/tx/mempool?sender_address=" + url.QueryEscape(address)
	return c.fetchTransactionList(ctx, path)
}

func (c *Client) fetchTransactionList(ctx context.Context, path string) ([]Transaction, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var list transactionList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode transaction list: %w", err)
	}
	return list.Results, nil
}

type nonceInfo struct {
	PossibleNextNonce uint64 `json:"possible_next_nonce"`
}

// NextNonce returns the next usable nonce for an address, used when
// sponsoring transactions.
func (c *Client) NextNonce(ctx context.Context, address string) (uint64, error) {
	path := fmt.Sprintf("/extended/v1/address/%s/nonces", url.PathEscape(address))
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch nonces: status %d", resp.StatusCode)
	}

	var info nonceInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return 0, fmt.Errorf("decode nonces: %w", err)
	}
	return info.PossibleNextNonce, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.coreURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}
