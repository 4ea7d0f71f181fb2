// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package bridge

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
)

// TimeBounds is the window within which a batch's relative time references may
// be resolved by the state transition.
type TimeBounds struct {
	MinTimestamp   uint64 `json:"minTimestamp"`
	MaxTimestamp   uint64 `json:"maxTimestamp"`
	MinBlockNumber uint64 `json:"minBlockNumber"`
	MaxBlockNumber uint64 `json:"maxBlockNumber"`
}

// BatchDataLocation tags where a batch's payload lives.
type BatchDataLocation uint8

const (
	BatchDataTxInput BatchDataLocation = iota
	BatchDataSeparateEvent
	BatchDataNone
	BatchDataBlobHashes
)

var (
	ErrDelayedBackwards      = errors.New("delayed message count regressed")
	ErrDelayedTooFar         = errors.New("delayed message count past the end of the queue")
	ErrBadSubMessageCount    = errors.New("sub-message count does not chain onto the previous batch")
	ErrUnknownIndex          = errors.New("no accumulator entry at index")
	ErrUnknownDelayedMessage = errors.New("no delayed message at index")
)

// RollupResolver resolves the current chain owner. It is queried live on every
// privileged call so that an upstream ownership transfer takes effect immediately.
type RollupResolver interface {
	Owner() common.Address
}

// Bridge is the append-only accumulator ledger: two hash chains (delayed
// messages and sequencer batches) plus the counters tying them together. It is
// the sole owner of both chains; all mutation goes through the enqueue calls.
type Bridge struct {
	mu sync.RWMutex

	store *Store // nil for a purely in-memory ledger

	delayedAccs   []common.Hash
	sequencerAccs []common.Hash
	delayedMsgs   []*DelayedMessage // memory mode only; store-backed otherwise

	totalDelayedMessagesRead   uint64
	seqReportedSubMessageCount uint64

	rollup RollupResolver
}

// NewBridge creates an in-memory ledger.
func NewBridge(rollup RollupResolver) *Bridge {
	return &Bridge{rollup: rollup}
}

// OpenBridge opens (or creates) a pebble-persisted ledger at dir.
func OpenBridge(rollup RollupResolver, dir string) (*Bridge, error) {
	store, err := OpenStore(dir)
	if err != nil {
		return nil, err
	}
	state, err := store.LoadState()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	b := &Bridge{
		store:                      store,
		delayedAccs:                state.DelayedAccs,
		sequencerAccs:              state.SequencerAccs,
		totalDelayedMessagesRead:   state.TotalDelayedMessagesRead,
		seqReportedSubMessageCount: state.SubMessageCount,
		rollup:                     rollup,
	}
	log.Info("opened bridge ledger",
		"delayedMessages", len(b.delayedAccs),
		"batches", len(b.sequencerAccs),
		"delayedMessagesRead", b.totalDelayedMessagesRead,
	)
	return b, nil
}

func (b *Bridge) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}

func (b *Bridge) Rollup() RollupResolver {
	return b.rollup
}

// SetRollup rebinds the owner-resolution source. Guarded by the orchestrator.
func (b *Bridge) SetRollup(rollup RollupResolver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollup = rollup
}

func (b *Bridge) DelayedMessageCount() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return uint64(len(b.delayedAccs))
}

func (b *Bridge) TotalDelayedMessagesRead() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalDelayedMessagesRead
}

func (b *Bridge) SequencerMessageCount() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return uint64(len(b.sequencerAccs))
}

func (b *Bridge) SequencerReportedSubMessageCount() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seqReportedSubMessageCount
}

func (b *Bridge) DelayedInboxAcc(index uint64) (common.Hash, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if index >= uint64(len(b.delayedAccs)) {
		return common.Hash{}, ErrUnknownIndex
	}
	return b.delayedAccs[index], nil
}

func (b *Bridge) SequencerInboxAcc(index uint64) (common.Hash, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if index >= uint64(len(b.sequencerAccs)) {
		return common.Hash{}, ErrUnknownIndex
	}
	return b.sequencerAccs[index], nil
}

// DelayedMessage returns the full body of a previously enqueued delayed message.
func (b *Bridge) DelayedMessage(index uint64) (*DelayedMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if index >= uint64(len(b.delayedAccs)) {
		return nil, ErrUnknownDelayedMessage
	}
	if b.store != nil {
		return b.store.GetDelayedMessage(index)
	}
	return b.delayedMsgs[index], nil
}

// EnqueueDelayedMessage appends a message to the delayed inbox chain, assigning
// its request id from its position. Returns the assigned index.
func (b *Bridge) EnqueueDelayedMessage(msg *DelayedMessage) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	index := uint64(len(b.delayedAccs))
	msg.Header.RequestId = common.BigToHash(new(big.Int).SetUint64(index))
	var beforeAcc common.Hash
	if index > 0 {
		beforeAcc = b.delayedAccs[index-1]
	}
	afterAcc := msg.AfterAcc(beforeAcc)
	if b.store != nil {
		if err := b.store.AppendDelayed(index, afterAcc, msg); err != nil {
			return 0, err
		}
	} else {
		b.delayedMsgs = append(b.delayedMsgs, msg)
	}
	b.delayedAccs = append(b.delayedAccs, afterAcc)
	return index, nil
}

// SpendingReportParams describes the batch spending report a sequencer enqueue
// should emit alongside the batch. The report's delayed message is written in
// the same ledger commit as the batch itself, so the two never diverge.
type SpendingReportParams struct {
	BatchPoster common.Address
	BaseFee     *big.Int
	ExtraGas    uint64
	BlockNumber uint64
	Timestamp   uint64
}

// EnqueueSequencerMessage appends a batch digest to the sequencer chain and
// advances the delayed-read and sub-message counters, all-or-nothing. When
// report is non-nil, the batch spending report is appended to the delayed chain
// in the same atomic step.
//
// delayedAccCheck, when non-nil, is evaluated against the delayed accumulator
// covering afterDelayedMessagesRead before any mutation takes place: that value
// is produced inside the enqueue and consumed by the check in the same atomic
// call, so a failing check leaves no residue.
func (b *Bridge) EnqueueSequencerMessage(
	dataHash common.Hash,
	afterDelayedMessagesRead uint64,
	prevMessageCount uint64,
	newMessageCount uint64,
	bounds TimeBounds,
	location BatchDataLocation,
	delayedAccCheck func(delayedAcc common.Hash) error,
	report *SpendingReportParams,
) (seqMessageIndex uint64, beforeAcc common.Hash, delayedAcc common.Hash, afterAcc common.Hash, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if afterDelayedMessagesRead < b.totalDelayedMessagesRead {
		return 0, common.Hash{}, common.Hash{}, common.Hash{}, ErrDelayedBackwards
	}
	if afterDelayedMessagesRead > uint64(len(b.delayedAccs)) {
		return 0, common.Hash{}, common.Hash{}, common.Hash{}, ErrDelayedTooFar
	}
	// a zero count on either side is exempt so ledgers predating sub-message
	// accounting can adopt it on their next batch
	if b.seqReportedSubMessageCount != prevMessageCount && prevMessageCount != 0 && b.seqReportedSubMessageCount != 0 {
		return 0, common.Hash{}, common.Hash{}, common.Hash{}, ErrBadSubMessageCount
	}

	seqMessageIndex = uint64(len(b.sequencerAccs))
	if seqMessageIndex > 0 {
		beforeAcc = b.sequencerAccs[seqMessageIndex-1]
	}
	if afterDelayedMessagesRead > 0 {
		delayedAcc = b.delayedAccs[afterDelayedMessagesRead-1]
	}
	if delayedAccCheck != nil {
		if err := delayedAccCheck(delayedAcc); err != nil {
			return 0, common.Hash{}, common.Hash{}, common.Hash{}, err
		}
	}
	afterAcc = crypto.Keccak256Hash(beforeAcc[:], dataHash[:])

	var reportMsg *DelayedMessage
	var reportIndex uint64
	var reportAcc common.Hash
	if report != nil {
		reportIndex = uint64(len(b.delayedAccs))
		reportMsg = newBatchSpendingReport(report, dataHash, seqMessageIndex)
		reportMsg.Header.RequestId = common.BigToHash(new(big.Int).SetUint64(reportIndex))
		var reportBeforeAcc common.Hash
		if reportIndex > 0 {
			reportBeforeAcc = b.delayedAccs[reportIndex-1]
		}
		reportAcc = reportMsg.AfterAcc(reportBeforeAcc)
	}

	if b.store != nil {
		var reportAppend *delayedAppend
		if reportMsg != nil {
			reportAppend = &delayedAppend{index: reportIndex, acc: reportAcc, msg: reportMsg}
		}
		if err := b.store.AppendSequencer(seqMessageIndex, afterAcc, afterDelayedMessagesRead, newMessageCount, reportAppend); err != nil {
			return 0, common.Hash{}, common.Hash{}, common.Hash{}, err
		}
	} else if reportMsg != nil {
		b.delayedMsgs = append(b.delayedMsgs, reportMsg)
	}
	b.sequencerAccs = append(b.sequencerAccs, afterAcc)
	b.totalDelayedMessagesRead = afterDelayedMessagesRead
	if newMessageCount > 0 {
		b.seqReportedSubMessageCount = newMessageCount
	}
	if reportMsg != nil {
		b.delayedAccs = append(b.delayedAccs, reportAcc)
	}

	log.Debug("sequencer batch enqueued",
		"seqMessageIndex", seqMessageIndex,
		"afterDelayedMessagesRead", afterDelayedMessagesRead,
		"location", location,
		"minTimestamp", bounds.MinTimestamp,
		"maxTimestamp", bounds.MaxTimestamp,
	)
	return seqMessageIndex, beforeAcc, delayedAcc, afterAcc, nil
}

// newBatchSpendingReport builds the delayed message through which the
// execution side reimburses the batch poster.
func newBatchSpendingReport(p *SpendingReportParams, dataHash common.Hash, seqMessageIndex uint64) *DelayedMessage {
	baseFee := p.BaseFee
	if baseFee == nil {
		baseFee = common.Big0
	}
	return &DelayedMessage{
		Header: DelayedMessageHeader{
			Kind:        MessageType_BatchPostingReport,
			Poster:      p.BatchPoster,
			BlockNumber: p.BlockNumber,
			Timestamp:   p.Timestamp,
			BaseFee:     new(big.Int).Set(baseFee),
		},
		Data: packBatchPostingReport(p.Timestamp, p.BatchPoster, dataHash, seqMessageIndex, baseFee, p.ExtraGas),
	}
}
