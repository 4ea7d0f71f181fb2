// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package blobs

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
	"github.com/ethereum/go-ethereum/params"
)

// Each field element must be a canonical value below the BLS modulus. We leave
// the high byte of every 32-byte element zero, giving 31 usable bytes.
const usableBytesPerFieldElement = params.BlobTxBytesPerFieldElement - 1
const usableBytesPerBlob = usableBytesPerFieldElement * params.BlobTxFieldElementsPerBlob

// EncodeBlobs packs data into 4844 blobs, prefixed with a big-endian length word.
func EncodeBlobs(data []byte) ([]kzg4844.Blob, error) {
	prefixed := make([]byte, 8, 8+len(data))
	binary.BigEndian.PutUint64(prefixed, uint64(len(data)))
	prefixed = append(prefixed, data...)

	var blobs []kzg4844.Blob
	for offset := 0; offset < len(prefixed); offset += usableBytesPerBlob {
		var blob kzg4844.Blob
		end := offset + usableBytesPerBlob
		if end > len(prefixed) {
			end = len(prefixed)
		}
		chunk := prefixed[offset:end]
		for i := 0; i < len(chunk); i += usableBytesPerFieldElement {
			fieldEnd := i + usableBytesPerFieldElement
			if fieldEnd > len(chunk) {
				fieldEnd = len(chunk)
			}
			// first byte of each element stays zero
			copy(blob[(i/usableBytesPerFieldElement)*params.BlobTxBytesPerFieldElement+1:], chunk[i:fieldEnd])
		}
		blobs = append(blobs, blob)
	}
	if len(blobs) == 0 {
		blobs = append(blobs, kzg4844.Blob{})
	}
	return blobs, nil
}

// DecodeBlobs reverses EncodeBlobs.
func DecodeBlobs(blobs []kzg4844.Blob) ([]byte, error) {
	var packed []byte
	for _, blob := range blobs {
		for fieldElement := 0; fieldElement < params.BlobTxFieldElementsPerBlob; fieldElement++ {
			start := fieldElement * params.BlobTxBytesPerFieldElement
			if blob[start] != 0 {
				return nil, errors.New("blob field element out of canonical range")
			}
			packed = append(packed, blob[start+1:start+params.BlobTxBytesPerFieldElement]...)
		}
	}
	if len(packed) < 8 {
		return nil, errors.New("blob data too short for length prefix")
	}
	length := binary.BigEndian.Uint64(packed[:8])
	if length > uint64(len(packed)-8) {
		return nil, fmt.Errorf("blob length prefix %v exceeds available data %v", length, len(packed)-8)
	}
	return packed[8 : 8+length], nil
}

// ComputeCommitmentsAndHashes returns the kzg commitments and their EIP-4844
// versioned hashes for the given blobs.
func ComputeCommitmentsAndHashes(blobs []kzg4844.Blob) ([]kzg4844.Commitment, []common.Hash, error) {
	commitments := make([]kzg4844.Commitment, len(blobs))
	versionedHashes := make([]common.Hash, len(blobs))
	hasher := sha256.New()
	for i := range blobs {
		var err error
		commitments[i], err = kzg4844.BlobToCommitment(&blobs[i])
		if err != nil {
			return nil, nil, err
		}
		versionedHashes[i] = kzg4844.CalcBlobHashV1(hasher, &commitments[i])
	}
	return commitments, versionedHashes, nil
}
