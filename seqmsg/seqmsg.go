// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

// Package seqmsg defines the wire format of a sequencer batch: the fixed-width
// header followed by a brotli-compressed RLP list of segments.
package seqmsg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
)

// HeaderLength is the serialized size of a BatchHeader. It never changes: any
// divergence here would change every downstream accumulator hash.
const HeaderLength = 40

const maxDecompressedLen int64 = 1024 * 1024 * 16 // 16 MiB

const (
	SegmentKindL2Message            uint8 = 0
	SegmentKindDelayedMessages      uint8 = 1
	SegmentKindAdvanceTimestamp     uint8 = 2
	SegmentKindAdvanceL1BlockNumber uint8 = 3
)

// BatchHeader is the fixed 40-byte prefix of every batch, binding its time
// bounds and the delayed-message prefix it consumes.
type BatchHeader struct {
	MinTimestamp             uint64
	MaxTimestamp             uint64
	MinBlockNumber           uint64
	MaxBlockNumber           uint64
	AfterDelayedMessagesRead uint64
}

// Encode serializes the header to exactly HeaderLength big-endian bytes.
func (h BatchHeader) Encode() []byte {
	var header [HeaderLength]byte
	binary.BigEndian.PutUint64(header[:8], h.MinTimestamp)
	binary.BigEndian.PutUint64(header[8:16], h.MaxTimestamp)
	binary.BigEndian.PutUint64(header[16:24], h.MinBlockNumber)
	binary.BigEndian.PutUint64(header[24:32], h.MaxBlockNumber)
	binary.BigEndian.PutUint64(header[32:40], h.AfterDelayedMessagesRead)
	return header[:]
}

func DecodeBatchHeader(data []byte) (BatchHeader, error) {
	if len(data) < HeaderLength {
		return BatchHeader{}, fmt.Errorf("batch data of length %v is missing its header", len(data))
	}
	return BatchHeader{
		MinTimestamp:             binary.BigEndian.Uint64(data[:8]),
		MaxTimestamp:             binary.BigEndian.Uint64(data[8:16]),
		MinBlockNumber:           binary.BigEndian.Uint64(data[16:24]),
		MaxBlockNumber:           binary.BigEndian.Uint64(data[24:32]),
		AfterDelayedMessagesRead: binary.BigEndian.Uint64(data[32:40]),
	}, nil
}

// Message is a parsed sequencer batch.
type Message struct {
	Header   BatchHeader
	Segments [][]byte
}

// Parse decodes a full batch. Unknown payload formats yield a message with no
// segments rather than an error, matching the downstream treatment of garbage
// batches as empty blocks.
func Parse(data []byte) (*Message, error) {
	header, err := DecodeBatchHeader(data)
	if err != nil {
		return nil, err
	}
	var segments [][]byte
	if len(data) >= HeaderLength+1 && IsBrotliMessageHeaderByte(data[HeaderLength]) {
		reader := io.LimitReader(brotli.NewReader(bytes.NewReader(data[HeaderLength+1:])), maxDecompressedLen)
		stream := rlp.NewStream(reader, uint64(maxDecompressedLen))
		for {
			var segment []byte
			err := stream.Decode(&segment)
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					log.Warn("error parsing sequencer batch segment", "err", err.Error())
				}
				break
			}
			segments = append(segments, segment)
		}
	} else if len(data) > HeaderLength {
		log.Warn("unknown sequencer batch format", "headerByte", data[HeaderLength])
	}
	return &Message{Header: header, Segments: segments}, nil
}

// Encode serializes the batch: header, brotli version byte, compressed RLP
// segment list.
func (m *Message) Encode() ([]byte, error) {
	segmentsEnc, err := rlp.EncodeToBytes(&m.Segments)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	writer := brotli.NewWriter(buf)
	if _, err := writer.Write(segmentsEnc); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	out := m.Header.Encode()
	out = append(out, BrotliMessageHeaderByte)
	return append(out, buf.Bytes()...), nil
}
