// Package fixedpoint decodes the on-chain number encodings used by the
// options protocol: felts as hex strings, 64.64 fixed-point rationals,
// Uint256 pairs and raw token amounts with a decimal precision.
package fixedpoint

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Math64Bits is the number of fractional bits of the 64.64 encoding
const Math64Bits = 64

var (
	two128 = new(big.Int).Lsh(big.NewInt(1), 128)
	ten    = big.NewInt(10)
)

// ParseHexInt parses a felt given as "0x"-prefixed hex or as a decimal string.
// Leading zeros are accepted since Starknet addresses are usually zero-padded,
// which is why this uses big.Int.SetString: hexutil.DecodeBig rejects them.
func ParseHexInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty felt")
	}

	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
		if digits == "" {
			return nil, fmt.Errorf("invalid hex felt %q", s)
		}
	}

	v, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("invalid felt %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative felt %q", s)
	}
	return v, nil
}

// EncodeHex formats an integer as a minimal 0x-prefixed hex string
func EncodeHex(v *big.Int) string {
	return hexutil.EncodeBig(v)
}

// DecodeMath64 converts a 64.64 fixed-point integer to a float (raw / 2^64)
func DecodeMath64(raw *big.Int) float64 {
	if raw == nil {
		return 0
	}
	f := new(big.Float).SetInt(raw)
	f.SetMantExp(f, -Math64Bits)
	out, _ := f.Float64()
	return out
}

// DecodeMath64Hex parses and decodes a hex-encoded 64.64 value
func DecodeMath64Hex(s string) (float64, error) {
	raw, err := ParseHexInt(s)
	if err != nil {
		return 0, err
	}
	return DecodeMath64(raw), nil
}

// EncodeMath64 converts a float to its 64.64 fixed-point integer
func EncodeMath64(v float64) (*big.Int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("cannot encode %v as fixed point", v)
	}
	f := new(big.Float).SetFloat64(v)
	f.SetMantExp(f, Math64Bits)
	out, _ := f.Int(nil)
	return out, nil
}

// EncodeMath64Hex encodes a non-negative float as a hex 64.64 felt
func EncodeMath64Hex(v float64) (string, error) {
	if v < 0 {
		return "", fmt.Errorf("felts are unsigned, got %v", v)
	}
	raw, err := EncodeMath64(v)
	if err != nil {
		return "", err
	}
	return EncodeHex(raw), nil
}

// ToUnits converts a raw integer amount to a float using the given decimals
func ToUnits(raw *big.Int, decimals int) float64 {
	if raw == nil {
		return 0
	}
	scale := new(big.Int).Exp(ten, big.NewInt(int64(decimals)), nil)
	f := new(big.Float).Quo(new(big.Float).SetInt(raw), new(big.Float).SetInt(scale))
	out, _ := f.Float64()
	return out
}

// Uint256 combines the low and high 128-bit limbs of a Cairo u256
func Uint256(low, high *big.Int) *big.Int {
	out := new(big.Int).Mul(high, two128)
	return out.Add(out, low)
}

// SignedMagnitude applies a cubit-style sign felt (1 = negative) to a magnitude
func SignedMagnitude(mag, sign *big.Int) *big.Int {
	out := new(big.Int).Set(mag)
	if sign != nil && sign.Sign() != 0 {
		out.Neg(out)
	}
	return out
}
