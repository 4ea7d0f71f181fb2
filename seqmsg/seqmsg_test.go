// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package seqmsg

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rollforge/seqinbox/util/testhelpers"
)

func TestBatchHeaderExactness(t *testing.T) {
	header := BatchHeader{
		MinTimestamp:             1000,
		MaxTimestamp:             5000,
		MinBlockNumber:           100,
		MaxBlockNumber:           500,
		AfterDelayedMessagesRead: 42,
	}
	enc := header.Encode()
	if len(enc) != HeaderLength {
		Fail(t, "encoded header is", len(enc), "bytes")
	}
	decoded, err := DecodeBatchHeader(enc)
	Require(t, err)
	if decoded != header {
		Fail(t, "header did not survive the round trip")
	}
	if !bytes.Equal(decoded.Encode(), enc) {
		Fail(t, "re-encoding changed the bytes")
	}
}

func TestBatchHeaderBigEndianLayout(t *testing.T) {
	header := BatchHeader{MinTimestamp: 1}
	enc := header.Encode()
	if enc[7] != 1 {
		Fail(t, "minTimestamp is not big-endian")
	}
	for i, b := range enc[8:] {
		if b != 0 {
			Fail(t, "unexpected nonzero byte at offset", 8+i)
		}
	}
}

func TestDecodeBatchHeaderTooShort(t *testing.T) {
	if _, err := DecodeBatchHeader(make([]byte, HeaderLength-1)); err == nil {
		Fail(t, "expected error for truncated header")
	}
}

func TestMessageEncodeParseRoundTrip(t *testing.T) {
	msg := &Message{
		Header: BatchHeader{
			MinTimestamp:             10,
			MaxTimestamp:             20,
			MinBlockNumber:           30,
			MaxBlockNumber:           40,
			AfterDelayedMessagesRead: 2,
		},
		Segments: [][]byte{
			append([]byte{SegmentKindL2Message}, testhelpers.RandomSlice(200)...),
			{SegmentKindAdvanceTimestamp, 5},
			{SegmentKindDelayedMessages, 1},
		},
	}
	enc, err := msg.Encode()
	Require(t, err)
	if !IsBrotliMessageHeaderByte(enc[HeaderLength]) {
		Fail(t, "payload is not tagged as brotli")
	}
	parsed, err := Parse(enc)
	Require(t, err)
	if diff := cmp.Diff(msg.Header, parsed.Header); diff != "" {
		Fail(t, "header mismatch:", diff)
	}
	if diff := cmp.Diff(msg.Segments, parsed.Segments); diff != "" {
		Fail(t, "segments mismatch:", diff)
	}
}

func TestParseUnknownFormatYieldsNoSegments(t *testing.T) {
	data := make([]byte, HeaderLength)
	data = append(data, 0x7f)
	data = append(data, testhelpers.RandomSlice(32)...)
	parsed, err := Parse(data)
	Require(t, err)
	if len(parsed.Segments) != 0 {
		Fail(t, "garbage payload produced segments")
	}
}

func TestParseHeaderOnly(t *testing.T) {
	parsed, err := Parse(make([]byte, HeaderLength))
	Require(t, err)
	if len(parsed.Segments) != 0 {
		Fail(t)
	}
}

func TestCallDataHeaderByteAllowList(t *testing.T) {
	allowed := make(map[byte]bool)
	for _, b := range []byte{
		BrotliMessageHeaderByte,
		DASMessageHeaderFlag,
		DASMessageHeaderFlag | TreeDASMessageHeaderFlag,
		ZeroheavyMessageHeaderFlag,
	} {
		allowed[b] = true
	}
	for b := 0; b < 256; b++ {
		if IsValidCallDataHeaderByte(byte(b)) != allowed[byte(b)] {
			Fail(t, "allow-list mismatch for byte", b)
		}
	}
	// the blob-kind discriminator must never pass as calldata
	if IsValidCallDataHeaderByte(BlobHashesHeaderFlag) {
		Fail(t, "blob flag accepted as calldata header")
	}
}

func TestHeaderFlagPredicates(t *testing.T) {
	if !IsDASMessageHeaderByte(0x88) {
		Fail(t)
	}
	if IsDASMessageHeaderByte(0x08) {
		Fail(t)
	}
	if !IsTreeDASMessageHeaderByte(0x88) {
		Fail(t)
	}
	if !IsZeroheavyEncodedHeaderByte(0x20) {
		Fail(t)
	}
	if !IsBlobHashesHeaderByte(0x50) {
		Fail(t)
	}
	if IsBlobHashesHeaderByte(0x40) {
		Fail(t)
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
