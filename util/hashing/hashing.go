// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package hashing

import (
	"golang.org/x/crypto/sha3"

	"github.com/ethereum/go-ethereum/common"
)

// SoliditySHA3 computes keccak256 over the tight concatenation of its arguments,
// matching solidity's abi.encodePacked hashing.
func SoliditySHA3(data ...[]byte) common.Hash {
	var ret common.Hash
	hash := sha3.NewLegacyKeccak256()
	for _, b := range data {
		_, err := hash.Write(b)
		if err != nil {
			// This code should never be reached
			panic("Error writing SoliditySHA3 data")
		}
	}
	hash.Sum(ret[:0])
	return ret
}
