// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package inbox

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rollforge/seqinbox/bridge"
	"github.com/rollforge/seqinbox/seqmsg"
	"github.com/rollforge/seqinbox/util/seqmath"
)

// timeBounds derives the batch time window from the effective time variation
// at the current chain position.
func timeBounds(tv TimeVariation, blockNumber, timestamp uint64) bridge.TimeBounds {
	return bridge.TimeBounds{
		MinTimestamp:   seqmath.SaturatingUSub(timestamp, tv.DelaySeconds),
		MaxTimestamp:   seqmath.SaturatingUAdd(timestamp, tv.FutureSeconds),
		MinBlockNumber: seqmath.SaturatingUSub(blockNumber, tv.DelayBlocks),
		MaxBlockNumber: seqmath.SaturatingUAdd(blockNumber, tv.FutureBlocks),
	}
}

func batchHeader(bounds bridge.TimeBounds, afterDelayedMessagesRead uint64) seqmsg.BatchHeader {
	return seqmsg.BatchHeader{
		MinTimestamp:             bounds.MinTimestamp,
		MaxTimestamp:             bounds.MaxTimestamp,
		MinBlockNumber:           bounds.MinBlockNumber,
		MaxBlockNumber:           bounds.MaxBlockNumber,
		AfterDelayedMessagesRead: afterDelayedMessagesRead,
	}
}

// formCallDataHash validates an inline payload and produces the batch digest
// keccak(header ++ payload).
//
// The leading byte must be on the calldata allow-list: otherwise calldata could
// forge another payload kind's discriminator (the blob-hashes flag above all)
// and spoof that kind to a verifier. A DAS-flagged payload long enough to embed
// a keyset hash must name a currently valid keyset; this is an early sanity
// check only, since an invalid certificate that slips through is treated as an
// empty block downstream.
func (si *SequencerInbox) formCallDataHash(header seqmsg.BatchHeader, data []byte) (common.Hash, error) {
	headerBytes := header.Encode()
	if uint64(len(headerBytes)+len(data)) > si.config.MaxDataSize {
		return common.Hash{}, ErrDataTooLarge
	}
	if len(data) > 0 {
		if !seqmsg.IsValidCallDataHeaderByte(data[0]) {
			return common.Hash{}, ErrInvalidHeaderFlag
		}
		if seqmsg.IsDASMessageHeaderByte(data[0]) && len(data) >= 33 {
			var ksHash common.Hash
			copy(ksHash[:], data[1:33])
			if !si.isValidKeysetHash(ksHash) {
				return common.Hash{}, ErrNoSuchKeyset
			}
		}
	}
	return crypto.Keccak256Hash(headerBytes, data), nil
}

// formBlobDataHash mixes the blob-kind discriminator in before the versioned
// hashes so the digest can never collide with a calldata digest.
func formBlobDataHash(header seqmsg.BatchHeader, versionedHashes []common.Hash) (common.Hash, error) {
	if len(versionedHashes) == 0 {
		return common.Hash{}, ErrMissingBlobHashes
	}
	packed := make([]byte, 0, seqmsg.HeaderLength+1+32*len(versionedHashes))
	packed = append(packed, header.Encode()...)
	packed = append(packed, seqmsg.BlobHashesHeaderFlag)
	for _, h := range versionedHashes {
		packed = append(packed, h.Bytes()...)
	}
	return crypto.Keccak256Hash(packed), nil
}

// formEmptyDataHash is the digest of a forced-inclusion placeholder batch.
func formEmptyDataHash(header seqmsg.BatchHeader) common.Hash {
	return crypto.Keccak256Hash(header.Encode())
}
