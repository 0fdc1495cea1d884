package pyth

import (
	"math"
	"testing"
	"time"
)

func streamMsg(feedID, price string, expo int32, publishTime int64) streamMessage {
	var msg streamMessage
	msg.Type = "price_update"
	msg.PriceFeed.ID = feedID
	msg.PriceFeed.Price.Price = price
	msg.PriceFeed.Price.Expo = expo
	msg.PriceFeed.Price.PublishTime = publishTime
	return msg
}

func TestParseUpdateScalesByExponent(t *testing.T) {
	sc := NewStreamClient("wss://example", testLogger())
	now := time.Now().Unix()

	update, ok := sc.parseUpdate(streamMsg("feed-btc", "123", -2, now))
	if !ok {
		t.Fatal("valid sample rejected")
	}
	if math.Abs(update.Price-1.23) > 1e-9 {
		t.Errorf("expo scaling wrong: got %v, want 1.23", update.Price)
	}
	if update.FeedID != "feed-btc" || update.PublishTime != now {
		t.Errorf("unexpected update: %+v", update)
	}
}

func TestParseUpdateRejectsStale(t *testing.T) {
	sc := NewStreamClient("wss://example", testLogger())

	fresh := time.Now().Add(-maxUpdateAge + time.Hour).Unix()
	if _, ok := sc.parseUpdate(streamMsg("feed-btc", "100", 0, fresh)); !ok {
		t.Error("sample within the staleness bound rejected")
	}

	stale := time.Now().Add(-maxUpdateAge - time.Hour).Unix()
	if _, ok := sc.parseUpdate(streamMsg("feed-btc", "100", 0, stale)); ok {
		t.Error("sample older than the staleness bound accepted")
	}
}

func TestParseUpdateRejectsZeroPrice(t *testing.T) {
	sc := NewStreamClient("wss://example", testLogger())
	now := time.Now().Unix()

	if _, ok := sc.parseUpdate(streamMsg("feed-btc", "0", -8, now)); ok {
		t.Error("zero price accepted")
	}
}

func TestParseUpdateRejectsUnparseablePrice(t *testing.T) {
	sc := NewStreamClient("wss://example", testLogger())
	now := time.Now().Unix()

	if _, ok := sc.parseUpdate(streamMsg("feed-btc", "not-a-number", 0, now)); ok {
		t.Error("unparseable price accepted")
	}
}
