package stacks

import (
	"encoding/binary"
	"encoding/hex"
	"testing"
)

// Wire-format builders for test fixtures.

func cvUint(u uint64) []byte {
	buf := make([]byte, 17)
	buf[0] = byte(ClarityTypeUInt)
	binary.BigEndian.PutUint64(buf[9:], u)
	return buf
}

func cvStringASCII(s string) []byte {
	buf := []byte{byte(ClarityTypeStringASCII), 0, 0, 0, 0}
	binary.BigEndian.PutUint32(buf[1:], uint32(len(s)))
	return append(buf, s...)
}

func cvOK(inner []byte) []byte {
	return append([]byte{byte(ClarityTypeResponseOK)}, inner...)
}

func cvList(items ...[]byte) []byte {
	buf := []byte{byte(ClarityTypeList), 0, 0, 0, 0}
	binary.BigEndian.PutUint32(buf[1:], uint32(len(items)))
	for _, item := range items {
		buf = append(buf, item...)
	}
	return buf
}

func cvTuple(fields map[string][]byte) []byte {
	buf := []byte{byte(ClarityTypeTuple), 0, 0, 0, 0}
	binary.BigEndian.PutUint32(buf[1:], uint32(len(fields)))
	for name, value := range fields {
		buf = append(buf, byte(len(name)))
		buf = append(buf, name...)
		buf = append(buf, value...)
	}
	return buf
}

func TestDecodeUint(t *testing.T) {
	v, err := DecodeClarityHex("0x" + hex.EncodeToString(cvUint(250_000_000)))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	u, err := v.ExpectUInt()
	if err != nil {
		t.Fatalf("ExpectUInt failed: %v", err)
	}
	if u != 250_000_000 {
		t.Errorf("unexpected uint: %d", u)
	}
}

func cvInt(hi, lo uint64) []byte {
	buf := make([]byte, 17)
	buf[0] = byte(ClarityTypeInt)
	binary.BigEndian.PutUint64(buf[1:9], hi)
	binary.BigEndian.PutUint64(buf[9:], lo)
	return buf
}

func TestDecodeInt(t *testing.T) {
	cases := []struct {
		hi, lo uint64
		want   int64
	}{
		{0, 0, 0},
		{0, 42, 42},
		{0, 1<<63 - 1, 1<<63 - 1},
		{^uint64(0), ^uint64(0), -1},
		{^uint64(0), 1 << 63, -1 << 63},
	}
	for _, tc := range cases {
		v, err := DecodeClarityHex(hex.EncodeToString(cvInt(tc.hi, tc.lo)))
		if err != nil {
			t.Fatalf("decode int hi=%x lo=%x: %v", tc.hi, tc.lo, err)
		}
		if v.Int != tc.want {
			t.Errorf("int hi=%x lo=%x: got %d, want %d", tc.hi, tc.lo, v.Int, tc.want)
		}
	}

	// Values outside the int64 range are rejected, not misdecoded.
	outOfRange := [][2]uint64{
		{^uint64(0), 1},           // below -2^63
		{^uint64(0), 0},           // below -2^63
		{0, 1 << 63},              // above 2^63-1
		{5, 0},                    // far positive
		{^uint64(0) - 1, 1 << 63}, // far negative
	}
	for _, pair := range outOfRange {
		if _, err := DecodeClarityHex(hex.EncodeToString(cvInt(pair[0], pair[1]))); err == nil {
			t.Errorf("int hi=%x lo=%x decoded without error", pair[0], pair[1])
		}
	}
}

func TestDecodeResponseOKList(t *testing.T) {
	raw := cvOK(cvList(cvUint(0), cvUint(1), cvUint(2)))
	v, err := DecodeClarityHex(hex.EncodeToString(raw))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	inner, err := v.ExpectOK()
	if err != nil {
		t.Fatalf("ExpectOK failed: %v", err)
	}
	items, err := inner.ExpectList()
	if err != nil {
		t.Fatalf("ExpectList failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("unexpected item count: %d", len(items))
	}
	for i, item := range items {
		if item.UInt != uint64(i) {
			t.Errorf("item %d: got %d", i, item.UInt)
		}
	}
}

func TestDecodeTuple(t *testing.T) {
	raw := cvOK(cvTuple(map[string][]byte{
		"ticker":        cvStringASCII("BTC"),
		"current-value": cvUint(100_000_000),
	}))

	v, err := DecodeClarityHex(hex.EncodeToString(raw))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	inner, err := v.ExpectOK()
	if err != nil {
		t.Fatalf("ExpectOK failed: %v", err)
	}

	ticker, err := inner.TupleString("ticker")
	if err != nil {
		t.Fatalf("TupleString failed: %v", err)
	}
	if ticker != "BTC" {
		t.Errorf("unexpected ticker: %q", ticker)
	}

	price, err := inner.TupleUInt("current-value")
	if err != nil {
		t.Fatalf("TupleUInt failed: %v", err)
	}
	if price != 100_000_000 {
		t.Errorf("unexpected price: %d", price)
	}
}

func TestDecodeMissingTupleField(t *testing.T) {
	raw := cvTuple(map[string][]byte{"ticker": cvStringASCII("BTC")})
	v, err := DecodeClarityHex(hex.EncodeToString(raw))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if _, err := v.TupleUInt("current-value"); err == nil {
		t.Error("expected error for missing field")
	}
}

func TestDecodeMistypedField(t *testing.T) {
	v, err := DecodeClarityHex(hex.EncodeToString(cvStringASCII("BTC")))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if _, err := v.ExpectUInt(); err == nil {
		t.Error("expected error for string treated as uint")
	}
}

func TestDecodeTruncated(t *testing.T) {
	cases := []string{
		"",
		"0x01",           // uint with no payload
		"0x0b00000002",   // list promising two items with none
		"0x0d0000000442", // string shorter than its length
	}
	for _, raw := range cases {
		if _, err := DecodeClarityHex(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	raw := append(cvUint(1), 0xff)
	if _, err := DecodeClarityHex(hex.EncodeToString(raw)); err == nil {
		t.Error("expected error for trailing bytes")
	}
}

func TestEncodeClarityUintRoundTrip(t *testing.T) {
	for _, u := range []uint64{0, 1, 250_000_000, 1 << 62} {
		v, err := DecodeClarityHex(EncodeClarityUint(u))
		if err != nil {
			t.Fatalf("decode of encoded uint %d failed: %v", u, err)
		}
		if v.UInt != u {
			t.Errorf("round trip mismatch: got %d, want %d", v.UInt, u)
		}
	}
}

func TestParseUintRepr(t *testing.T) {
	u, err := ParseUintRepr("u250000000")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if u != 250_000_000 {
		t.Errorf("unexpected value: %d", u)
	}

	for _, bad := range []string{"", "250", "u", "uabc", "u-1"} {
		if _, err := ParseUintRepr(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
