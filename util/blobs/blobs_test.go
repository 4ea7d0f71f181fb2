// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package blobs

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/params"

	"github.com/rollforge/seqinbox/util/testhelpers"
)

func TestBlobEncodeDecodeRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 31, 32, usableBytesPerBlob - 8, usableBytesPerBlob, usableBytesPerBlob * 2}
	for _, size := range sizes {
		data := testhelpers.RandomSlice(uint64(size))
		encoded, err := EncodeBlobs(data)
		Require(t, err)
		decoded, err := DecodeBlobs(encoded)
		Require(t, err)
		if !bytes.Equal(data, decoded) {
			Fail(t, "blob round trip changed data at size", size)
		}
	}
}

func TestBlobFieldElementsCanonical(t *testing.T) {
	data := testhelpers.RandomSlice(usableBytesPerBlob + 100)
	encoded, err := EncodeBlobs(data)
	Require(t, err)
	if len(encoded) != 2 {
		Fail(t, "expected 2 blobs, got", len(encoded))
	}
	for _, blob := range encoded {
		for i := 0; i < params.BlobTxFieldElementsPerBlob; i++ {
			if blob[i*params.BlobTxBytesPerFieldElement] != 0 {
				Fail(t, "field element", i, "has nonzero high byte")
			}
		}
	}
}

func TestBlobDecodeRejectsNonCanonical(t *testing.T) {
	encoded, err := EncodeBlobs([]byte("hello"))
	Require(t, err)
	encoded[0][0] = 0xff
	if _, err := DecodeBlobs(encoded); err == nil {
		Fail(t, "expected decode of non-canonical blob to fail")
	}
}

func Require(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	testhelpers.RequireImpl(t, err, printables...)
}

func Fail(t *testing.T, printables ...interface{}) {
	t.Helper()
	testhelpers.FailImpl(t, printables...)
}
