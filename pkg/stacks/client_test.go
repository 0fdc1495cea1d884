package stacks

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestCallReadOnly(t *testing.T) {
	result := "0x" + hex.EncodeToString(cvOK(cvUint(42)))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/contracts/call-read/ST1TEST/bitthetix/get-sbtc-balance" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req readOnlyCallRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Sender != "ST1SENDER" {
			t.Errorf("unexpected sender: %s", req.Sender)
		}
		json.NewEncoder(w).Encode(readOnlyCallResponse{Okay: true, Result: result})
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())
	v, err := client.CallReadOnly(context.Background(), "ST1TEST", "bitthetix", "get-sbtc-balance", "ST1SENDER", nil)
	if err != nil {
		t.Fatalf("CallReadOnly failed: %v", err)
	}
	inner, err := v.ExpectOK()
	if err != nil {
		t.Fatalf("ExpectOK failed: %v", err)
	}
	if inner.UInt != 42 {
		t.Errorf("unexpected value: %d", inner.UInt)
	}
}

func TestCallReadOnlyRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(readOnlyCallResponse{Okay: false, Cause: "NoSuchContract"})
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())
	if _, err := client.CallReadOnly(context.Background(), "ST1TEST", "bitthetix", "get-feed", "ST1TEST", nil); err == nil {
		t.Error("expected error for rejected call")
	}
}

func TestTransactionByIDNotIndexed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())
	_, found, err := client.TransactionByID(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected found=false for 404")
	}
}

func TestTransactionByID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("event_limit") != "2" {
			t.Errorf("missing event_limit: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(Transaction{
			TxID:          "0xabc",
			TxStatus:      "success",
			BlockHeight:   12,
			BurnBlockTime: 1700000000,
			Events: []TransactionEvent{
				{EventType: "fungible_token_asset"},
				{EventType: "smart_contract_log", ContractLog: &ContractLog{Value: ReprValue{Repr: "u250000000"}}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())
	tx, found, err := client.TransactionByID(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected transaction to be found")
	}
	if tx.TxStatus != "success" || tx.BlockHeight != 12 {
		t.Errorf("unexpected transaction: %+v", tx)
	}
	if tx.Events[1].ContractLog.Value.Repr != "u250000000" {
		t.Errorf("unexpected event log: %+v", tx.Events)
	}
}

func TestAddressTransactionsDegradesToEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())
	txs, err := client.AddressTransactions(context.Background(), "ST1SENDER")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("expected empty result, got %d", len(txs))
	}
}

func TestMempoolTransactions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("sender_address"); got != "ST1SENDER" {
			t.Errorf("unexpected sender_address: %s", got)
		}
		json.NewEncoder(w).Encode(transactionList{Results: []Transaction{
			{TxID: "0x1", TxStatus: "pending"},
		}})
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())
	txs, err := client.MempoolTransactions(context.Background(), "ST1SENDER")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 1 || txs[0].TxID != "0x1" {
		t.Errorf("unexpected result: %+v", txs)
	}
}

func TestNextNonce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(nonceInfo{PossibleNextNonce: 7})
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())
	nonce, err := client.NextNonce(context.Background(), "ST1SPONSOR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nonce != 7 {
		t.Errorf("unexpected nonce: %d", nonce)
	}
}
