// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package bridge

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rollforge/seqinbox/util/hashing"
	"github.com/rollforge/seqinbox/util/seqmath"
)

const (
	MessageType_L2Message          = 3
	MessageType_EndOfBlock         = 6
	MessageType_L2FundedByL1       = 7
	MessageType_RollupEvent        = 8
	MessageType_SubmitRetryable    = 9
	MessageType_Initialize         = 11
	MessageType_EthDeposit         = 12
	MessageType_BatchPostingReport = 13
	MessageType_Invalid            = 0xFF
)

type DelayedMessageHeader struct {
	Kind        uint8          `json:"kind"`
	Poster      common.Address `json:"sender"`
	BlockNumber uint64         `json:"blockNumber"`
	Timestamp   uint64         `json:"timestamp"`
	RequestId   common.Hash    `json:"requestId"`
	BaseFee     *big.Int       `json:"baseFee"`
}

// DelayedMessage is a message enqueued outside sequencer control, eligible for
// forced inclusion once it has aged past the delay window.
type DelayedMessage struct {
	Header DelayedMessageHeader `json:"header"`
	Data   []byte               `json:"data"`
}

// MessageHash computes the leaf hash binding every header field plus the data hash.
func MessageHash(
	kind uint8,
	poster common.Address,
	blockNumber uint64,
	timestamp uint64,
	requestId common.Hash,
	baseFee *big.Int,
	dataHash common.Hash,
) common.Hash {
	if baseFee == nil {
		baseFee = common.Big0
	}
	return hashing.SoliditySHA3(
		[]byte{kind},
		poster.Bytes(),
		seqmath.UintToBytes(blockNumber),
		seqmath.UintToBytes(timestamp),
		requestId.Bytes(),
		math.U256Bytes(new(big.Int).Set(baseFee)),
		dataHash.Bytes(),
	)
}

func (m *DelayedMessage) Hash() common.Hash {
	return MessageHash(
		m.Header.Kind,
		m.Header.Poster,
		m.Header.BlockNumber,
		m.Header.Timestamp,
		m.Header.RequestId,
		m.Header.BaseFee,
		crypto.Keccak256Hash(m.Data),
	)
}

// AfterAcc chains this message onto the accumulator before it.
func (m *DelayedMessage) AfterAcc(beforeAcc common.Hash) common.Hash {
	hash := m.Hash()
	return crypto.Keccak256Hash(beforeAcc[:], hash[:])
}

func (m *DelayedMessage) Serialize() ([]byte, error) {
	if m.Header.BaseFee == nil {
		return nil, errors.New("cannot serialize delayed message without base fee")
	}
	wr := &bytes.Buffer{}
	wr.WriteByte(m.Header.Kind)
	wr.Write(m.Header.Poster.Bytes())
	wr.Write(seqmath.UintToBytes(m.Header.BlockNumber))
	wr.Write(seqmath.UintToBytes(m.Header.Timestamp))
	wr.Write(m.Header.RequestId.Bytes())
	wr.Write(common.BigToHash(m.Header.BaseFee).Bytes())
	wr.Write(m.Data)
	return wr.Bytes(), nil
}

func ParseDelayedMessage(rd io.Reader) (*DelayedMessage, error) {
	var kindBuf [1]byte
	if _, err := io.ReadFull(rd, kindBuf[:]); err != nil {
		return nil, err
	}
	var poster common.Address
	if _, err := io.ReadFull(rd, poster[:]); err != nil {
		return nil, err
	}
	var numBuf [8]byte
	if _, err := io.ReadFull(rd, numBuf[:]); err != nil {
		return nil, err
	}
	blockNumber := binary.BigEndian.Uint64(numBuf[:])
	if _, err := io.ReadFull(rd, numBuf[:]); err != nil {
		return nil, err
	}
	timestamp := binary.BigEndian.Uint64(numBuf[:])
	var requestId common.Hash
	if _, err := io.ReadFull(rd, requestId[:]); err != nil {
		return nil, err
	}
	var baseFeeHash common.Hash
	if _, err := io.ReadFull(rd, baseFeeHash[:]); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	return &DelayedMessage{
		Header: DelayedMessageHeader{
			Kind:        kindBuf[0],
			Poster:      poster,
			BlockNumber: blockNumber,
			Timestamp:   timestamp,
			RequestId:   requestId,
			BaseFee:     baseFeeHash.Big(),
		},
		Data: data,
	}, nil
}

// BatchPostingReport is the decoded body of a MessageType_BatchPostingReport
// delayed message, used by the execution side to reimburse the batch poster.
type BatchPostingReport struct {
	BatchTimestamp *big.Int
	BatchPoster    common.Address
	DataHash       common.Hash
	BatchNumber    uint64
	L1BaseFee      *big.Int
	ExtraGas       uint64
}

func packBatchPostingReport(timestamp uint64, poster common.Address, dataHash common.Hash, batchNumber uint64, l1BaseFee *big.Int, extraGas uint64) []byte {
	data := make([]byte, 0, 32+20+32+32+32+8)
	data = append(data, common.BigToHash(seqmath.UintToBig(timestamp)).Bytes()...)
	data = append(data, poster.Bytes()...)
	data = append(data, dataHash.Bytes()...)
	data = append(data, common.BigToHash(seqmath.UintToBig(batchNumber)).Bytes()...)
	data = append(data, common.BigToHash(l1BaseFee).Bytes()...)
	data = append(data, seqmath.UintToBytes(extraGas)...)
	return data
}

func ParseBatchPostingReport(rd io.Reader) (*BatchPostingReport, error) {
	var tsHash, dataHash, numHash, feeHash common.Hash
	var poster common.Address
	if _, err := io.ReadFull(rd, tsHash[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rd, poster[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rd, dataHash[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rd, numHash[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rd, feeHash[:]); err != nil {
		return nil, err
	}
	batchNumBig := numHash.Big()
	if !batchNumBig.IsUint64() {
		return nil, fmt.Errorf("batch number %v is not a uint64", batchNumBig)
	}
	report := &BatchPostingReport{
		BatchTimestamp: tsHash.Big(),
		BatchPoster:    poster,
		DataHash:       dataHash,
		BatchNumber:    batchNumBig.Uint64(),
		L1BaseFee:      feeHash.Big(),
	}
	// extra gas is absent in reports posted before it was introduced
	var gasBuf [8]byte
	if _, err := io.ReadFull(rd, gasBuf[:]); err == nil {
		report.ExtraGas = binary.BigEndian.Uint64(gasBuf[:])
	} else if !errors.Is(err, io.EOF) {
		return nil, err
	}
	return report, nil
}
