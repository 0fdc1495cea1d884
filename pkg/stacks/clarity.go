package stacks

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Clarity wire-format type prefixes (SIP-005 serialization).
type ClarityType byte

const (
	ClarityTypeInt               ClarityType = 0x00
	ClarityTypeUInt              ClarityType = 0x01
	ClarityTypeBuffer            ClarityType = 0x02
	ClarityTypeBoolTrue          ClarityType = 0x03
	ClarityTypeBoolFalse         ClarityType = 0x04
	ClarityTypePrincipalStandard ClarityType = 0x05
	ClarityTypePrincipalContract ClarityType = 0x06
	ClarityTypeResponseOK        ClarityType = 0x07
	ClarityTypeResponseErr       ClarityType = 0x08
	ClarityTypeNone              ClarityType = 0x09
	ClarityTypeSome              ClarityType = 0x0a
	ClarityTypeList              ClarityType = 0x0b
	ClarityTypeTuple             ClarityType = 0x0c
	ClarityTypeStringASCII       ClarityType = 0x0d
	ClarityTypeStringUTF8        ClarityType = 0x0e
)

// ClarityValue is a decoded chain-native value. Exactly one of the
// payload fields is meaningful for a given Type.
type ClarityValue struct {
	Type  ClarityType
	UInt  uint64
	Int   int64
	Bytes []byte
	Str   string
	List  []ClarityValue
	Tuple map[string]ClarityValue
	Inner *ClarityValue
}

// DecodeClarityHex decodes a single hex-encoded Clarity value, with or
// without a 0x prefix. Trailing bytes are a decode error.
func DecodeClarityHex(s string) (ClarityValue, error) {
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ClarityValue{}, fmt.Errorf("invalid hex clarity value: %w", err)
	}
	v, rest, err := decodeClarity(raw)
	if err != nil {
		return ClarityValue{}, err
	}
	if len(rest) != 0 {
		return ClarityValue{}, fmt.Errorf("clarity value has %d trailing bytes", len(rest))
	}
	return v, nil
}

func decodeClarity(b []byte) (ClarityValue, []byte, error) {
	if len(b) == 0 {
		return ClarityValue{}, nil, fmt.Errorf("empty clarity value")
	}
	t := ClarityType(b[0])
	b = b[1:]

	switch t {
	case ClarityTypeInt:
		if len(b) < 16 {
			return ClarityValue{}, nil, fmt.Errorf("truncated int value")
		}
		hi := binary.BigEndian.Uint64(b[:8])
		lo := binary.BigEndian.Uint64(b[8:16])
		// Only values representable as int64 are supported: the high
		// word must be pure sign extension of the low word's sign bit.
		positive := hi == 0 && lo < 1<<63
		negative := hi == ^uint64(0) && lo >= 1<<63
		if !positive && !negative {
			return ClarityValue{}, nil, fmt.Errorf("int value exceeds 64 bits")
		}
		return ClarityValue{Type: t, Int: int64(lo)}, b[16:], nil

	case ClarityTypeUInt:
		if len(b) < 16 {
			return ClarityValue{}, nil, fmt.Errorf("truncated uint value")
		}
		if hi := binary.BigEndian.Uint64(b[:8]); hi != 0 {
			return ClarityValue{}, nil, fmt.Errorf("uint value exceeds 64 bits")
		}
		return ClarityValue{Type: t, UInt: binary.BigEndian.Uint64(b[8:16])}, b[16:], nil

	case ClarityTypeBuffer:
		n, rest, err := decodeLen(b)
		if err != nil {
			return ClarityValue{}, nil, fmt.Errorf("buffer: %w", err)
		}
		buf := make([]byte, n)
		copy(buf, rest[:n])
		return ClarityValue{Type: t, Bytes: buf}, rest[n:], nil

	case ClarityTypeBoolTrue, ClarityTypeBoolFalse:
		return ClarityValue{Type: t}, b, nil

	case ClarityTypePrincipalStandard:
		if len(b) < 21 {
			return ClarityValue{}, nil, fmt.Errorf("truncated principal")
		}
		buf := make([]byte, 21)
		copy(buf, b[:21])
		return ClarityValue{Type: t, Bytes: buf}, b[21:], nil

	case ClarityTypePrincipalContract:
		if len(b) < 22 {
			return ClarityValue{}, nil, fmt.Errorf("truncated contract principal")
		}
		nameLen := int(b[21])
		if len(b) < 22+nameLen {
			return ClarityValue{}, nil, fmt.Errorf("truncated contract principal name")
		}
		buf := make([]byte, 21)
		copy(buf, b[:21])
		return ClarityValue{Type: t, Bytes: buf, Str: string(b[22 : 22+nameLen])}, b[22+nameLen:], nil

	case ClarityTypeResponseOK, ClarityTypeResponseErr, ClarityTypeSome:
		inner, rest, err := decodeClarity(b)
		if err != nil {
			return ClarityValue{}, nil, err
		}
		return ClarityValue{Type: t, Inner: &inner}, rest, nil

	case ClarityTypeNone:
		return ClarityValue{Type: t}, b, nil

	case ClarityTypeList:
		n, rest, err := decodeCount(b)
		if err != nil {
			return ClarityValue{}, nil, fmt.Errorf("list: %w", err)
		}
		items := make([]ClarityValue, 0, n)
		for i := 0; i < n; i++ {
			var item ClarityValue
			item, rest, err = decodeClarity(rest)
			if err != nil {
				return ClarityValue{}, nil, fmt.Errorf("list item %d: %w", i, err)
			}
			items = append(items, item)
		}
		return ClarityValue{Type: t, List: items}, rest, nil

	case ClarityTypeTuple:
		n, rest, err := decodeCount(b)
		if err != nil {
			return ClarityValue{}, nil, fmt.Errorf("tuple: %w", err)
		}
		fields := make(map[string]ClarityValue, n)
		for i := 0; i < n; i++ {
			if len(rest) == 0 {
				return ClarityValue{}, nil, fmt.Errorf("truncated tuple key")
			}
			keyLen := int(rest[0])
			if len(rest) < 1+keyLen {
				return ClarityValue{}, nil, fmt.Errorf("truncated tuple key")
			}
			key := string(rest[1 : 1+keyLen])
			rest = rest[1+keyLen:]
			var field ClarityValue
			field, rest, err = decodeClarity(rest)
			if err != nil {
				return ClarityValue{}, nil, fmt.Errorf("tuple field %q: %w", key, err)
			}
			fields[key] = field
		}
		return ClarityValue{Type: t, Tuple: fields}, rest, nil

	case ClarityTypeStringASCII, ClarityTypeStringUTF8:
		n, rest, err := decodeLen(b)
		if err != nil {
			return ClarityValue{}, nil, fmt.Errorf("string: %w", err)
		}
		return ClarityValue{Type: t, Str: string(rest[:n])}, rest[n:], nil

	default:
		return ClarityValue{}, nil, fmt.Errorf("unknown clarity type prefix 0x%02x", byte(t))
	}
}

func decodeLen(b []byte) (int, []byte, error) {
	n, rest, err := decodeCount(b)
	if err != nil {
		return 0, nil, err
	}
	if len(rest) < n {
		return 0, nil, fmt.Errorf("length %d exceeds remaining %d bytes", n, len(rest))
	}
	return n, rest, nil
}

func decodeCount(b []byte) (int, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("truncated length prefix")
	}
	return int(binary.BigEndian.Uint32(b[:4])), b[4:], nil
}

// EncodeClarityUint serializes a uint for use as a contract-call argument.
func EncodeClarityUint(u uint64) string {
	buf := make([]byte, 17)
	buf[0] = byte(ClarityTypeUInt)
	binary.BigEndian.PutUint64(buf[9:], u)
	return "0x" + hex.EncodeToString(buf)
}

// ExpectOK unwraps a response value, failing on err responses.
func (v ClarityValue) ExpectOK() (ClarityValue, error) {
	if v.Type != ClarityTypeResponseOK {
		return ClarityValue{}, fmt.Errorf("expected (ok ...) response, got type 0x%02x", byte(v.Type))
	}
	return *v.Inner, nil
}

// ExpectUInt returns the value as an unsigned integer.
func (v ClarityValue) ExpectUInt() (uint64, error) {
	if v.Type != ClarityTypeUInt {
		return 0, fmt.Errorf("expected uint, got type 0x%02x", byte(v.Type))
	}
	return v.UInt, nil
}

// ExpectList returns the value's items.
func (v ClarityValue) ExpectList() ([]ClarityValue, error) {
	if v.Type != ClarityTypeList {
		return nil, fmt.Errorf("expected list, got type 0x%02x", byte(v.Type))
	}
	return v.List, nil
}

// TupleUInt extracts a named uint field from a tuple value.
func (v ClarityValue) TupleUInt(name string) (uint64, error) {
	f, err := v.tupleField(name)
	if err != nil {
		return 0, err
	}
	return f.ExpectUInt()
}

// TupleString extracts a named string-ascii field from a tuple value.
func (v ClarityValue) TupleString(name string) (string, error) {
	f, err := v.tupleField(name)
	if err != nil {
		return "", err
	}
	if f.Type != ClarityTypeStringASCII && f.Type != ClarityTypeStringUTF8 {
		return "", fmt.Errorf("tuple field %q: expected string, got type 0x%02x", name, byte(f.Type))
	}
	return f.Str, nil
}

func (v ClarityValue) tupleField(name string) (ClarityValue, error) {
	if v.Type != ClarityTypeTuple {
		return ClarityValue{}, fmt.Errorf("expected tuple, got type 0x%02x", byte(v.Type))
	}
	f, ok := v.Tuple[name]
	if !ok {
		return ClarityValue{}, fmt.Errorf("tuple missing field %q", name)
	}
	return f, nil
}

// ParseUintRepr parses the textual repr of a Clarity uint ("u250000000")
// as used in explorer contract-call arguments and event logs.
func ParseUintRepr(repr string) (uint64, error) {
	if !strings.HasPrefix(repr, "u") {
		return 0, fmt.Errorf("not a uint repr: %q", repr)
	}
	u, err := strconv.ParseUint(repr[1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid uint repr %q: %w", repr, err)
	}
	return u, nil
}
