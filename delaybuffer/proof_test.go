// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package delaybuffer

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rollforge/seqinbox/bridge"
	"github.com/rollforge/seqinbox/util/testhelpers"
)

type testRollup struct{}

func (r *testRollup) Owner() common.Address {
	return common.Address{}
}

func newLedgerWithMessages(t *testing.T, count int) (*bridge.Bridge, []*bridge.DelayedMessage) {
	t.Helper()
	b := bridge.NewBridge(&testRollup{})
	var messages []*bridge.DelayedMessage
	for i := 0; i < count; i++ {
		msg := &bridge.DelayedMessage{
			Header: bridge.DelayedMessageHeader{
				Kind:        bridge.MessageType_L2Message,
				Poster:      testhelpers.RandomAddress(),
				BlockNumber: uint64(100 + i),
				Timestamp:   uint64(1000 + i),
				BaseFee:     big.NewInt(7),
			},
			Data: testhelpers.RandomSlice(48),
		}
		_, err := b.EnqueueDelayedMessage(msg)
		Require(t, err)
		messages = append(messages, msg)
	}
	return b, messages
}

func proofFor(t *testing.T, b *bridge.Bridge, messages []*bridge.DelayedMessage, index uint64) *DelayProof {
	t.Helper()
	var beforeAcc common.Hash
	if index > 0 {
		var err error
		beforeAcc, err = b.DelayedInboxAcc(index - 1)
		Require(t, err)
	}
	msg := messages[index]
	return &DelayProof{
		BeforeDelayedAcc: beforeAcc,
		Message: ProofMessage{
			Kind:        msg.Header.Kind,
			Sender:      msg.Header.Poster,
			BlockNumber: msg.Header.BlockNumber,
			Timestamp:   msg.Header.Timestamp,
			RequestId:   msg.Header.RequestId,
			BaseFee:     msg.Header.BaseFee,
			DataHash:    crypto.Keccak256Hash(msg.Data),
		},
	}
}

func TestDelayProofAccepts(t *testing.T) {
	b, messages := newLedgerWithMessages(t, 5)
	for index := uint64(0); index < 5; index++ {
		Require(t, VerifyDelayProof(b, index, proofFor(t, b, messages, index)))
	}
}

func TestDelayProofRejectsMutations(t *testing.T) {
	b, messages := newLedgerWithMessages(t, 3)
	index := uint64(1)

	mutations := []func(p *DelayProof){
		func(p *DelayProof) { p.BeforeDelayedAcc[0] ^= 1 },
		func(p *DelayProof) { p.Message.Kind ^= 1 },
		func(p *DelayProof) { p.Message.Sender[19] ^= 1 },
		func(p *DelayProof) { p.Message.BlockNumber ^= 1 },
		func(p *DelayProof) { p.Message.Timestamp ^= 1 },
		func(p *DelayProof) { p.Message.RequestId[31] ^= 1 },
		func(p *DelayProof) { p.Message.BaseFee = big.NewInt(8) },
		func(p *DelayProof) { p.Message.DataHash[16] ^= 1 },
	}
	for i, mutate := range mutations {
		proof := proofFor(t, b, messages, index)
		mutate(proof)
		err := VerifyDelayProof(b, index, proof)
		if !errors.Is(err, ErrIncorrectPreimage) {
			Fail(t, "mutation", i, "was not rejected, err:", err)
		}
	}
}

func TestDelayProofUnknownIndex(t *testing.T) {
	b, messages := newLedgerWithMessages(t, 2)
	proof := proofFor(t, b, messages, 1)
	if err := VerifyDelayProof(b, 7, proof); err == nil {
		Fail(t, "expected error for index past the ledger")
	}
}

func TestVerifyAgainstAcc(t *testing.T) {
	b, messages := newLedgerWithMessages(t, 2)
	proof := proofFor(t, b, messages, 1)
	acc, err := b.DelayedInboxAcc(1)
	Require(t, err)
	Require(t, proof.VerifyAgainstAcc(acc))
	if err := proof.VerifyAgainstAcc(testhelpers.RandomHash()); !errors.Is(err, ErrIncorrectPreimage) {
		Fail(t, "wrong accumulator accepted")
	}
}
