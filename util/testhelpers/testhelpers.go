// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package testhelpers

import (
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rollforge/seqinbox/util/colors"
)

// Fail a test should an error occur
func RequireImpl(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	if err != nil {
		t.Fatal(colors.Red, printables, err, colors.Clear)
	}
}

func FailImpl(t *testing.T, printables ...interface{}) {
	t.Helper()
	t.Fatal(colors.Red, printables, colors.Clear)
}

func RandomizeSlice(slice []byte) []byte {
	_, err := rand.Read(slice)
	if err != nil {
		panic(err)
	}
	return slice
}

func RandomSlice(size uint64) []byte {
	return RandomizeSlice(make([]byte, size))
}

func RandomHash() common.Hash {
	var hash common.Hash
	RandomizeSlice(hash[:])
	return hash
}

func RandomAddress() common.Address {
	var address common.Address
	RandomizeSlice(address[:])
	return address
}

// Computes a psuedo-random uint64 on the interval [min, max]
func RandomUint64(min, max uint64) uint64 {
	return uint64(rand.Uint64()%(max-min+1) + min)
}

func RandomBool() bool {
	return rand.Int31n(2) == 0
}
