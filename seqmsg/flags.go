// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package seqmsg

// DASMessageHeaderFlag indicates that this data is a certificate for the data
// availability service, which will retrieve the full batch data.
const DASMessageHeaderFlag byte = 0x80

// TreeDASMessageHeaderFlag indicates that this DAS certificate data employs the
// merkle-tree strategy. Ignored when DASMessageHeaderFlag is not set.
const TreeDASMessageHeaderFlag byte = 0x08

// L1AuthenticatedMessageHeaderFlag indicates that this message was authenticated
// by L1. Currently unused.
const L1AuthenticatedMessageHeaderFlag byte = 0x40

// ZeroheavyMessageHeaderFlag indicates that this message is zeroheavy-encoded.
const ZeroheavyMessageHeaderFlag byte = 0x20

// BlobHashesHeaderFlag indicates that this message contains EIP-4844 versioned
// hashes of the commitments calculated over the blob data for the batch.
const BlobHashesHeaderFlag byte = L1AuthenticatedMessageHeaderFlag | 0x10 // 0x50

// BrotliMessageHeaderByte indicates that the message is brotli-compressed.
const BrotliMessageHeaderByte byte = 0

// hasBits returns true if `checking` has all `bits`
func hasBits(checking byte, bits byte) bool {
	return (checking & bits) == bits
}

func IsDASMessageHeaderByte(header byte) bool {
	return hasBits(header, DASMessageHeaderFlag)
}

func IsTreeDASMessageHeaderByte(header byte) bool {
	return hasBits(header, TreeDASMessageHeaderFlag)
}

func IsZeroheavyEncodedHeaderByte(header byte) bool {
	return hasBits(header, ZeroheavyMessageHeaderFlag)
}

func IsBlobHashesHeaderByte(header byte) bool {
	return hasBits(header, BlobHashesHeaderFlag)
}

func IsBrotliMessageHeaderByte(b uint8) bool {
	return b == BrotliMessageHeaderByte
}

// callDataHeaderBytes is the exact allow-list of leading bytes a calldata batch
// may carry. Anything else is rejected so that no calldata payload can spoof a
// different payload kind's discriminator (the blob-hashes flag in particular).
var callDataHeaderBytes = []byte{
	BrotliMessageHeaderByte,
	DASMessageHeaderFlag,
	DASMessageHeaderFlag | TreeDASMessageHeaderFlag,
	ZeroheavyMessageHeaderFlag,
}

func IsValidCallDataHeaderByte(header byte) bool {
	for _, allowed := range callDataHeaderBytes {
		if header == allowed {
			return true
		}
	}
	return false
}
