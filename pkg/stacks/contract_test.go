package stacks

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func feedTuple(ticker, name, assetType, feedID string, price, vol uint64) []byte {
	return cvTuple(map[string][]byte{
		"ticker":             cvStringASCII(ticker),
		"name":               cvStringASCII(name),
		"type":               cvStringASCII(assetType),
		"pyth-feed-id":       cvStringASCII(feedID),
		"current-value":      cvUint(price),
		"implied-volatility": cvUint(vol),
	})
}

func contractTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var result []byte
		switch {
		case strings.HasSuffix(r.URL.Path, "get-supported-feeds-ids"):
			result = cvOK(cvList(cvUint(0), cvUint(1)))
		case strings.HasSuffix(r.URL.Path, "get-feed"):
			var req readOnlyCallRequest
			json.NewDecoder(r.Body).Decode(&req)
			if len(req.Arguments) != 1 {
				t.Errorf("get-feed expects one argument, got %d", len(req.Arguments))
			}
			if req.Arguments[0] == EncodeClarityUint(0) {
				result = cvOK(feedTuple("BTC", "Bitcoin", "Crypto", "f1", 100_000_000, 50_000_000))
			} else {
				result = cvOK(feedTuple("ETH", "Ethereum", "Crypto", "f2", 5_000_000, 60_000_000))
			}
		case strings.HasSuffix(r.URL.Path, "get-asset-balance"):
			result = cvOK(cvUint(250_000_000))
		case strings.HasSuffix(r.URL.Path, "get-sbtc-balance"):
			result = cvOK(cvUint(50_000_000))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(readOnlyCallResponse{Okay: true, Result: "0x" + hex.EncodeToString(result)})
	}))
}

func TestContractAssets(t *testing.T) {
	server := contractTestServer(t)
	defer server.Close()

	contract := NewContract(NewClient(server.URL, testLogger()), "ST1TEST", "bitthetix", "mock-price-feed", testLogger())
	assets, err := contract.Assets(context.Background())
	if err != nil {
		t.Fatalf("Assets failed: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(assets))
	}

	btc, ok := assets["0"]
	if !ok {
		t.Fatal("missing asset key 0")
	}
	if btc.Ticker != "BTC" || btc.Name != "Bitcoin" || btc.Type != "Crypto" || btc.PythFeedID != "f1" {
		t.Errorf("unexpected asset: %+v", btc)
	}
	if btc.Price != 1.0 {
		t.Errorf("price not scaled down: %v", btc.Price)
	}

	eth := assets["1"]
	if eth.Price != 0.05 {
		t.Errorf("unexpected eth price: %v", eth.Price)
	}
}

func TestContractBalances(t *testing.T) {
	server := contractTestServer(t)
	defer server.Close()

	contract := NewContract(NewClient(server.URL, testLogger()), "ST1TEST", "bitthetix", "mock-price-feed", testLogger())

	balance, err := contract.AssetBalance(context.Background(), 0, "ST1SENDER")
	if err != nil {
		t.Fatalf("AssetBalance failed: %v", err)
	}
	if balance != 2.5 {
		t.Errorf("unexpected balance: %v", balance)
	}

	sbtc, err := contract.SBTCBalance(context.Background(), "ST1SENDER")
	if err != nil {
		t.Fatalf("SBTCBalance failed: %v", err)
	}
	if sbtc != 0.5 {
		t.Errorf("unexpected sbtc balance: %v", sbtc)
	}
}

func TestContractID(t *testing.T) {
	contract := NewContract(nil, "ST1TEST", "bitthetix", "mock-price-feed", testLogger())
	if contract.ID() != "ST1TEST.bitthetix" {
		t.Errorf("unexpected contract id: %s", contract.ID())
	}
}
