// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package seqmath

// Bips is a ratio in basis points (1/100th of a percent)
type Bips uint64

const OneInBips Bips = 10000

func PercentToBips(percentage uint64) Bips {
	return Bips(percentage) * 100
}

// UintMulByBips scales a uint by a bips ratio, rounding down
func UintMulByBips(value uint64, bips Bips) uint64 {
	return SaturatingUMul(value, uint64(bips)) / uint64(OneInBips)
}
