// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package bridge

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rollforge/seqinbox/util/testhelpers"
)

func TestPersistentLedgerReopen(t *testing.T) {
	dir := t.TempDir()
	rollup := &mockRollup{owner: testhelpers.RandomAddress()}

	b, err := OpenBridge(rollup, dir)
	Require(t, err)

	var messages []*DelayedMessage
	for i := 0; i < 5; i++ {
		msg := randomDelayedMessage()
		messages = append(messages, msg)
		_, err := b.EnqueueDelayedMessage(msg)
		Require(t, err)
	}
	var digests []common.Hash
	for i := 0; i < 3; i++ {
		digest := testhelpers.RandomHash()
		digests = append(digests, digest)
		_, _, _, _, err := b.EnqueueSequencerMessage(
			digest, uint64(i+1), 0, uint64(10+i), TimeBounds{}, BatchDataTxInput, nil, nil)
		Require(t, err)
	}

	delayedAccs := make([]common.Hash, 5)
	for i := range delayedAccs {
		delayedAccs[i], err = b.DelayedInboxAcc(uint64(i))
		Require(t, err)
	}
	seqAccs := make([]common.Hash, 3)
	for i := range seqAccs {
		seqAccs[i], err = b.SequencerInboxAcc(uint64(i))
		Require(t, err)
	}
	Require(t, b.Close())

	reopened, err := OpenBridge(rollup, dir)
	Require(t, err)
	defer func() { Require(t, reopened.Close()) }()

	if reopened.DelayedMessageCount() != 5 {
		Fail(t, "delayed count not persisted")
	}
	if reopened.SequencerMessageCount() != 3 {
		Fail(t, "batch count not persisted")
	}
	if reopened.TotalDelayedMessagesRead() != 3 {
		Fail(t, "read counter not persisted")
	}
	if reopened.SequencerReportedSubMessageCount() != 12 {
		Fail(t, "sub-message counter not persisted")
	}
	for i := range delayedAccs {
		acc, err := reopened.DelayedInboxAcc(uint64(i))
		Require(t, err)
		if acc != delayedAccs[i] {
			Fail(t, "delayed accumulator changed at index", i)
		}
	}
	for i := range seqAccs {
		acc, err := reopened.SequencerInboxAcc(uint64(i))
		Require(t, err)
		if acc != seqAccs[i] {
			Fail(t, "sequencer accumulator changed at index", i)
		}
	}
	for i, original := range messages {
		msg, err := reopened.DelayedMessage(uint64(i))
		Require(t, err)
		if msg.Hash() != original.Hash() {
			Fail(t, "delayed message changed at index", i)
		}
		if !bytes.Equal(msg.Data, original.Data) {
			Fail(t)
		}
	}
}

func TestPersistentBatchWithReportReopen(t *testing.T) {
	dir := t.TempDir()
	rollup := &mockRollup{owner: testhelpers.RandomAddress()}

	b, err := OpenBridge(rollup, dir)
	Require(t, err)
	poster := testhelpers.RandomAddress()
	dataHash := testhelpers.RandomHash()
	_, _, _, _, err = b.EnqueueSequencerMessage(
		dataHash, 0, 0, 0, TimeBounds{}, BatchDataTxInput, nil,
		&SpendingReportParams{
			BatchPoster: poster,
			BaseFee:     testhelpers.RandomHash().Big(),
			ExtraGas:    7,
			BlockNumber: 100,
			Timestamp:   1000,
		})
	Require(t, err)
	reportAcc, err := b.DelayedInboxAcc(0)
	Require(t, err)
	Require(t, b.Close())

	// batch and report land in one commit, so both survive a reopen together
	reopened, err := OpenBridge(rollup, dir)
	Require(t, err)
	defer func() { Require(t, reopened.Close()) }()
	if reopened.SequencerMessageCount() != 1 {
		Fail(t, "batch not persisted")
	}
	if reopened.DelayedMessageCount() != 1 {
		Fail(t, "spending report not persisted")
	}
	acc, err := reopened.DelayedInboxAcc(0)
	Require(t, err)
	if acc != reportAcc {
		Fail(t, "report accumulator changed across reopen")
	}
	msg, err := reopened.DelayedMessage(0)
	Require(t, err)
	if msg.Header.Kind != MessageType_BatchPostingReport || msg.Header.Poster != poster {
		Fail(t, "report body changed across reopen")
	}
	report, err := ParseBatchPostingReport(bytes.NewReader(msg.Data))
	Require(t, err)
	if report.DataHash != dataHash || report.ExtraGas != 7 {
		Fail(t, "report fields changed across reopen")
	}
}

func TestPersistentLedgerUnknownMessage(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenBridge(&mockRollup{}, dir)
	Require(t, err)
	defer func() { Require(t, b.Close()) }()

	if _, err := b.DelayedMessage(0); err != ErrUnknownDelayedMessage {
		Fail(t, "expected ErrUnknownDelayedMessage, got", err)
	}
}
