// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package delaybuffer

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rollforge/seqinbox/bridge"
)

// ErrIncorrectPreimage is returned when a claimed message or prior accumulator
// does not reproduce the ledger's recorded accumulator.
var ErrIncorrectPreimage = errors.New("incorrect delayed accumulator preimage")

// AccumulatorReader is the slice of the ledger the verifier needs.
type AccumulatorReader interface {
	DelayedInboxAcc(index uint64) (common.Hash, error)
}

// ProofMessage is the claimed delayed message inside a proof. It carries the
// data hash rather than the data: proving knowledge of the header fields and
// the data hash suffices to pin the accumulator preimage.
type ProofMessage struct {
	Kind        uint8          `json:"kind"`
	Sender      common.Address `json:"sender"`
	BlockNumber uint64         `json:"blockNumber"`
	Timestamp   uint64         `json:"timestamp"`
	RequestId   common.Hash    `json:"requestId"`
	BaseFee     *big.Int       `json:"baseFee"`
	DataHash    common.Hash    `json:"dataHash"`
}

func (m *ProofMessage) Hash() common.Hash {
	return bridge.MessageHash(m.Kind, m.Sender, m.BlockNumber, m.Timestamp, m.RequestId, m.BaseFee, m.DataHash)
}

// DelayProof claims exact knowledge of the delayed message at some index:
// the accumulator before it plus the message itself.
type DelayProof struct {
	BeforeDelayedAcc common.Hash  `json:"beforeDelayedAcc"`
	Message          ProofMessage `json:"message"`
}

// AfterAcc is the accumulator value this proof claims for its index.
func (p *DelayProof) AfterAcc() common.Hash {
	hash := p.Message.Hash()
	return crypto.Keccak256Hash(p.BeforeDelayedAcc[:], hash[:])
}

// VerifyDelayProof accepts iff hashing the claimed prior accumulator with the
// claimed message reproduces the ledger's accumulator at index. Any single-bit
// change to the claim makes it fail.
func VerifyDelayProof(reader AccumulatorReader, index uint64, proof *DelayProof) error {
	recorded, err := reader.DelayedInboxAcc(index)
	if err != nil {
		return err
	}
	if proof.AfterAcc() != recorded {
		return ErrIncorrectPreimage
	}
	return nil
}

// VerifyAgainstAcc checks the proof against an accumulator value obtained out
// of band, such as the one returned by the ledger's enqueue.
func (p *DelayProof) VerifyAgainstAcc(delayedAcc common.Hash) error {
	if p.AfterAcc() != delayedAcc {
		return ErrIncorrectPreimage
	}
	return nil
}

// SyncProof certifies a window of consumed delayed messages in one call: Far
// proves the first newly consumed message against the ledger's recorded
// accumulator, and Near proves the last consumed one against the accumulator
// the enqueue itself reports. When the window is a single message the two
// halves coincide.
type SyncProof struct {
	Far  DelayProof `json:"far"`
	Near DelayProof `json:"near"`
}
