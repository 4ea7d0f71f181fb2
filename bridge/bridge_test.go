// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package bridge

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rollforge/seqinbox/util/testhelpers"
)

type mockRollup struct {
	owner common.Address
}

func (r *mockRollup) Owner() common.Address {
	return r.owner
}

func randomDelayedMessage() *DelayedMessage {
	return &DelayedMessage{
		Header: DelayedMessageHeader{
			Kind:        MessageType_L2Message,
			Poster:      testhelpers.RandomAddress(),
			BlockNumber: testhelpers.RandomUint64(1, 1_000_000),
			Timestamp:   testhelpers.RandomUint64(1, 1_000_000),
			BaseFee:     new(big.Int).SetUint64(testhelpers.RandomUint64(1, 1_000_000_000)),
		},
		Data: testhelpers.RandomSlice(64),
	}
}

func TestDelayedAccumulatorChaining(t *testing.T) {
	b := NewBridge(&mockRollup{})
	var prevAcc common.Hash
	for i := uint64(0); i < 10; i++ {
		msg := randomDelayedMessage()
		index, err := b.EnqueueDelayedMessage(msg)
		Require(t, err)
		if index != i {
			Fail(t, "expected index", i, "got", index)
		}
		if msg.Header.RequestId != common.BigToHash(new(big.Int).SetUint64(i)) {
			Fail(t, "request id not assigned from position")
		}
		acc, err := b.DelayedInboxAcc(i)
		Require(t, err)
		msgHash := msg.Hash()
		if acc != crypto.Keccak256Hash(prevAcc[:], msgHash[:]) {
			Fail(t, "accumulator does not chain at index", i)
		}
		prevAcc = acc
	}
	if b.DelayedMessageCount() != 10 {
		Fail(t)
	}
}

func TestSequencerAccumulatorChaining(t *testing.T) {
	b := NewBridge(&mockRollup{})
	var prevAcc common.Hash
	for i := uint64(0); i < 8; i++ {
		dataHash := testhelpers.RandomHash()
		index, beforeAcc, _, afterAcc, err := b.EnqueueSequencerMessage(
			dataHash, 0, 0, 0, TimeBounds{}, BatchDataTxInput, nil, nil)
		Require(t, err)
		if index != i {
			Fail(t, "expected index", i, "got", index)
		}
		if beforeAcc != prevAcc {
			Fail(t, "wrong before accumulator at index", i)
		}
		if afterAcc != crypto.Keccak256Hash(prevAcc[:], dataHash[:]) {
			Fail(t, "accumulator does not chain at index", i)
		}
		stored, err := b.SequencerInboxAcc(i)
		Require(t, err)
		if stored != afterAcc {
			Fail(t)
		}
		prevAcc = afterAcc
	}
}

func TestSubMessageCountChaining(t *testing.T) {
	b := NewBridge(&mockRollup{})
	_, _, _, _, err := b.EnqueueSequencerMessage(
		testhelpers.RandomHash(), 0, 0, 5, TimeBounds{}, BatchDataTxInput, nil, nil)
	Require(t, err)
	_, _, _, _, err = b.EnqueueSequencerMessage(
		testhelpers.RandomHash(), 0, 5, 9, TimeBounds{}, BatchDataTxInput, nil, nil)
	Require(t, err)
	if b.SequencerReportedSubMessageCount() != 9 {
		Fail(t)
	}

	// a batch whose prev count does not continue the chain is rejected
	_, _, _, _, err = b.EnqueueSequencerMessage(
		testhelpers.RandomHash(), 0, 5, 12, TimeBounds{}, BatchDataTxInput, nil, nil)
	if err != ErrBadSubMessageCount {
		Fail(t, "expected ErrBadSubMessageCount, got", err)
	}
	if b.SequencerMessageCount() != 2 {
		Fail(t, "failed submission changed the ledger")
	}
}

func TestSubMessageCountZeroExemption(t *testing.T) {
	// a fresh ledger's count of zero matches any claimed prev count, so chains
	// that predate sub-message accounting can adopt it mid-stream
	b := NewBridge(&mockRollup{})
	_, _, _, _, err := b.EnqueueSequencerMessage(
		testhelpers.RandomHash(), 0, 5, 9, TimeBounds{}, BatchDataTxInput, nil, nil)
	Require(t, err)
	// a claimed prev of zero is likewise accepted against any current count
	_, _, _, _, err = b.EnqueueSequencerMessage(
		testhelpers.RandomHash(), 0, 0, 12, TimeBounds{}, BatchDataTxInput, nil, nil)
	Require(t, err)
	// once both sides are nonzero the chain check is strict
	_, _, _, _, err = b.EnqueueSequencerMessage(
		testhelpers.RandomHash(), 0, 7, 20, TimeBounds{}, BatchDataTxInput, nil, nil)
	if err != ErrBadSubMessageCount {
		Fail(t, "expected ErrBadSubMessageCount, got", err)
	}
}

func TestFailedBatchEnqueuesNoReport(t *testing.T) {
	b := NewBridge(&mockRollup{})
	report := &SpendingReportParams{
		BatchPoster: testhelpers.RandomAddress(),
		BaseFee:     big.NewInt(1),
		BlockNumber: 100,
		Timestamp:   1000,
	}
	_, _, _, _, err := b.EnqueueSequencerMessage(
		testhelpers.RandomHash(), 4, 0, 0, TimeBounds{}, BatchDataTxInput, nil, report)
	if err != ErrDelayedTooFar {
		Fail(t, "expected ErrDelayedTooFar, got", err)
	}
	failCheck := func(common.Hash) error { return ErrUnknownIndex }
	_, _, _, _, err = b.EnqueueSequencerMessage(
		testhelpers.RandomHash(), 0, 0, 0, TimeBounds{}, BatchDataTxInput, failCheck, report)
	if err != ErrUnknownIndex {
		Fail(t, "check error not propagated")
	}
	// a rejected batch must not leave its spending report behind
	if b.SequencerMessageCount() != 0 || b.DelayedMessageCount() != 0 {
		Fail(t, "failed enqueue left residue")
	}
}

func TestDelayedReadBounds(t *testing.T) {
	b := NewBridge(&mockRollup{})
	for i := 0; i < 3; i++ {
		_, err := b.EnqueueDelayedMessage(randomDelayedMessage())
		Require(t, err)
	}
	_, _, _, _, err := b.EnqueueSequencerMessage(
		testhelpers.RandomHash(), 4, 0, 0, TimeBounds{}, BatchDataTxInput, nil, nil)
	if err != ErrDelayedTooFar {
		Fail(t, "expected ErrDelayedTooFar, got", err)
	}
	_, _, _, _, err = b.EnqueueSequencerMessage(
		testhelpers.RandomHash(), 2, 0, 0, TimeBounds{}, BatchDataTxInput, nil, nil)
	Require(t, err)
	_, _, _, _, err = b.EnqueueSequencerMessage(
		testhelpers.RandomHash(), 1, 0, 0, TimeBounds{}, BatchDataTxInput, nil, nil)
	if err != ErrDelayedBackwards {
		Fail(t, "expected ErrDelayedBackwards, got", err)
	}
	if b.TotalDelayedMessagesRead() != 2 {
		Fail(t)
	}
}

func TestDelayedAccCheckRunsBeforeMutation(t *testing.T) {
	b := NewBridge(&mockRollup{})
	msg := randomDelayedMessage()
	_, err := b.EnqueueDelayedMessage(msg)
	Require(t, err)

	var observed common.Hash
	failCheck := func(delayedAcc common.Hash) error {
		observed = delayedAcc
		return ErrUnknownIndex
	}
	_, _, _, _, err = b.EnqueueSequencerMessage(
		testhelpers.RandomHash(), 1, 0, 0, TimeBounds{}, BatchDataTxInput, failCheck, nil)
	if err != ErrUnknownIndex {
		Fail(t, "check error not propagated")
	}
	expected, err := b.DelayedInboxAcc(0)
	Require(t, err)
	if observed != expected {
		Fail(t, "check saw the wrong accumulator")
	}
	if b.SequencerMessageCount() != 0 || b.TotalDelayedMessagesRead() != 0 {
		Fail(t, "failing check left residue")
	}
}

func TestBatchSpendingReportRoundTrip(t *testing.T) {
	b := NewBridge(&mockRollup{})
	poster := testhelpers.RandomAddress()
	dataHash := testhelpers.RandomHash()
	baseFee := big.NewInt(1_000_000_000)

	_, _, _, _, err := b.EnqueueSequencerMessage(
		dataHash, 0, 0, 0, TimeBounds{}, BatchDataTxInput, nil,
		&SpendingReportParams{
			BatchPoster: poster,
			BaseFee:     baseFee,
			ExtraGas:    42,
			BlockNumber: 100,
			Timestamp:   2000,
		})
	Require(t, err)
	if b.DelayedMessageCount() != 1 {
		Fail(t, "report not enqueued with the batch")
	}
	msg, err := b.DelayedMessage(0)
	Require(t, err)
	if msg.Header.RequestId != common.BigToHash(common.Big0) {
		Fail(t, "report request id not assigned from position")
	}
	acc, err := b.DelayedInboxAcc(0)
	Require(t, err)
	if acc != msg.AfterAcc(common.Hash{}) {
		Fail(t, "report does not chain the delayed accumulator")
	}
	if msg.Header.Kind != MessageType_BatchPostingReport {
		Fail(t, "wrong message kind", msg.Header.Kind)
	}
	if msg.Header.Poster != poster {
		Fail(t)
	}

	report, err := ParseBatchPostingReport(bytes.NewReader(msg.Data))
	Require(t, err)
	if report.BatchPoster != poster {
		Fail(t)
	}
	if report.DataHash != dataHash {
		Fail(t)
	}
	if report.BatchNumber != 0 {
		Fail(t, "wrong batch number", report.BatchNumber)
	}
	if report.BatchTimestamp.Uint64() != 2000 {
		Fail(t)
	}
	if report.L1BaseFee.Cmp(baseFee) != 0 {
		Fail(t)
	}
	if report.ExtraGas != 42 {
		Fail(t)
	}
}

func TestDelayedMessageSerializeRoundTrip(t *testing.T) {
	msg := randomDelayedMessage()
	msg.Header.RequestId = testhelpers.RandomHash()
	enc, err := msg.Serialize()
	Require(t, err)
	decoded, err := ParseDelayedMessage(bytes.NewReader(enc))
	Require(t, err)
	if decoded.Header.Kind != msg.Header.Kind ||
		decoded.Header.Poster != msg.Header.Poster ||
		decoded.Header.BlockNumber != msg.Header.BlockNumber ||
		decoded.Header.Timestamp != msg.Header.Timestamp ||
		decoded.Header.RequestId != msg.Header.RequestId ||
		decoded.Header.BaseFee.Cmp(msg.Header.BaseFee) != 0 {
		Fail(t, "header did not survive the round trip")
	}
	if !bytes.Equal(decoded.Data, msg.Data) {
		Fail(t)
	}
	if decoded.Hash() != msg.Hash() {
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
