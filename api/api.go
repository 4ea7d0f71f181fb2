// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

// Package api exposes the sequencer inbox over JSON-RPC under the "seqinbox"
// namespace. Submissions carry an explicit observation of the parent-chain
// position so the inbox itself stays clock-free.
package api

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"

	"github.com/rollforge/seqinbox/bridge"
	"github.com/rollforge/seqinbox/delaybuffer"
	"github.com/rollforge/seqinbox/inbox"
)

// SubmissionContext is the wire form of inbox.BlockContext.
type SubmissionContext struct {
	Caller      common.Address `json:"caller"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	Timestamp   hexutil.Uint64 `json:"timestamp"`
	BaseFee     *hexutil.Big   `json:"baseFee"`
	BlobBaseFee *hexutil.Big   `json:"blobBaseFee"`
	ChainID     *hexutil.Big   `json:"chainId"`
}

func bigOrNil(value *hexutil.Big) *big.Int {
	if value == nil {
		return nil
	}
	return value.ToInt()
}

func (s *SubmissionContext) blockContext() *inbox.BlockContext {
	return &inbox.BlockContext{
		Caller:      s.Caller,
		BlockNumber: uint64(s.BlockNumber),
		Timestamp:   uint64(s.Timestamp),
		BaseFee:     bigOrNil(s.BaseFee),
		BlobBaseFee: bigOrNil(s.BlobBaseFee),
		ChainID:     bigOrNil(s.ChainID),
	}
}

// InboxAPI is the RPC receiver. One instance serves all connections; the inbox
// serializes submissions internally.
type InboxAPI struct {
	inbox  *inbox.SequencerInbox
	bridge *bridge.Bridge
}

func NewInboxAPI(si *inbox.SequencerInbox, b *bridge.Bridge) *InboxAPI {
	return &InboxAPI{inbox: si, bridge: b}
}

func (a *InboxAPI) AddSequencerL2Batch(
	ctx context.Context,
	sub SubmissionContext,
	sequenceNumber hexutil.Uint64,
	data hexutil.Bytes,
	afterDelayedMessagesRead hexutil.Uint64,
	prevMessageCount hexutil.Uint64,
	newMessageCount hexutil.Uint64,
) (hexutil.Uint64, error) {
	index, err := a.inbox.AddSequencerL2Batch(sub.blockContext(), uint64(sequenceNumber), data,
		uint64(afterDelayedMessagesRead), uint64(prevMessageCount), uint64(newMessageCount))
	return hexutil.Uint64(index), err
}

// decodeBlobs converts wire-form blob sidecars, one fixed-size hex string each.
func decodeBlobs(encoded []hexutil.Bytes) ([]kzg4844.Blob, error) {
	batchBlobs := make([]kzg4844.Blob, len(encoded))
	for i, blob := range encoded {
		if len(blob) != len(batchBlobs[i]) {
			return nil, fmt.Errorf("blob %v has length %v, want %v", i, len(blob), len(batchBlobs[i]))
		}
		copy(batchBlobs[i][:], blob)
	}
	return batchBlobs, nil
}

func (a *InboxAPI) AddSequencerL2BatchFromBlobs(
	ctx context.Context,
	sub SubmissionContext,
	sequenceNumber hexutil.Uint64,
	encodedBlobs []hexutil.Bytes,
	afterDelayedMessagesRead hexutil.Uint64,
	prevMessageCount hexutil.Uint64,
	newMessageCount hexutil.Uint64,
) (hexutil.Uint64, error) {
	batchBlobs, err := decodeBlobs(encodedBlobs)
	if err != nil {
		return 0, err
	}
	index, err := a.inbox.AddSequencerL2BatchFromBlobs(sub.blockContext(), uint64(sequenceNumber), batchBlobs,
		uint64(afterDelayedMessagesRead), uint64(prevMessageCount), uint64(newMessageCount))
	return hexutil.Uint64(index), err
}

func (a *InboxAPI) AddSequencerL2BatchDelayProof(
	ctx context.Context,
	sub SubmissionContext,
	sequenceNumber hexutil.Uint64,
	data hexutil.Bytes,
	afterDelayedMessagesRead hexutil.Uint64,
	prevMessageCount hexutil.Uint64,
	newMessageCount hexutil.Uint64,
	proof delaybuffer.DelayProof,
) (hexutil.Uint64, error) {
	index, err := a.inbox.AddSequencerL2BatchDelayProof(sub.blockContext(), uint64(sequenceNumber), data,
		uint64(afterDelayedMessagesRead), uint64(prevMessageCount), uint64(newMessageCount), &proof)
	return hexutil.Uint64(index), err
}

func (a *InboxAPI) AddSequencerL2BatchFromBlobsDelayProof(
	ctx context.Context,
	sub SubmissionContext,
	sequenceNumber hexutil.Uint64,
	encodedBlobs []hexutil.Bytes,
	afterDelayedMessagesRead hexutil.Uint64,
	prevMessageCount hexutil.Uint64,
	newMessageCount hexutil.Uint64,
	proof delaybuffer.DelayProof,
) (hexutil.Uint64, error) {
	batchBlobs, err := decodeBlobs(encodedBlobs)
	if err != nil {
		return 0, err
	}
	index, err := a.inbox.AddSequencerL2BatchFromBlobsDelayProof(sub.blockContext(), uint64(sequenceNumber), batchBlobs,
		uint64(afterDelayedMessagesRead), uint64(prevMessageCount), uint64(newMessageCount), &proof)
	return hexutil.Uint64(index), err
}

func (a *InboxAPI) AddSequencerL2BatchSyncProof(
	ctx context.Context,
	sub SubmissionContext,
	sequenceNumber hexutil.Uint64,
	data hexutil.Bytes,
	afterDelayedMessagesRead hexutil.Uint64,
	prevMessageCount hexutil.Uint64,
	newMessageCount hexutil.Uint64,
	proof delaybuffer.SyncProof,
) (hexutil.Uint64, error) {
	index, err := a.inbox.AddSequencerL2BatchSyncProof(sub.blockContext(), uint64(sequenceNumber), data,
		uint64(afterDelayedMessagesRead), uint64(prevMessageCount), uint64(newMessageCount), &proof)
	return hexutil.Uint64(index), err
}

func (a *InboxAPI) ForceInclusion(
	ctx context.Context,
	sub SubmissionContext,
	delayedMessagesRead hexutil.Uint64,
	kind hexutil.Uint64,
	l1BlockAndTime [2]hexutil.Uint64,
	baseFee *hexutil.Big,
	sender common.Address,
	messageDataHash common.Hash,
) error {
	return a.inbox.ForceInclusion(sub.blockContext(), uint64(delayedMessagesRead), uint8(kind),
		[2]uint64{uint64(l1BlockAndTime[0]), uint64(l1BlockAndTime[1])},
		bigOrNil(baseFee), sender, messageDataHash)
}

// EnqueueDelayedMessage accepts a message into the delayed inbox and returns
// its assigned index.
func (a *InboxAPI) EnqueueDelayedMessage(
	ctx context.Context,
	kind hexutil.Uint64,
	poster common.Address,
	blockNumber hexutil.Uint64,
	timestamp hexutil.Uint64,
	baseFee *hexutil.Big,
	data hexutil.Bytes,
) (hexutil.Uint64, error) {
	msg := &bridge.DelayedMessage{
		Header: bridge.DelayedMessageHeader{
			Kind:        uint8(kind),
			Poster:      poster,
			BlockNumber: uint64(blockNumber),
			Timestamp:   uint64(timestamp),
			BaseFee:     bigOrNil(baseFee),
		},
		Data: data,
	}
	index, err := a.bridge.EnqueueDelayedMessage(msg)
	return hexutil.Uint64(index), err
}

func (a *InboxAPI) BatchCount(ctx context.Context) hexutil.Uint64 {
	return hexutil.Uint64(a.inbox.BatchCount())
}

func (a *InboxAPI) InboxAccs(ctx context.Context, index hexutil.Uint64) (common.Hash, error) {
	return a.inbox.InboxAccs(uint64(index))
}

func (a *InboxAPI) DelayedInboxAccs(ctx context.Context, index hexutil.Uint64) (common.Hash, error) {
	return a.bridge.DelayedInboxAcc(uint64(index))
}

func (a *InboxAPI) DelayedMessageCount(ctx context.Context) hexutil.Uint64 {
	return hexutil.Uint64(a.bridge.DelayedMessageCount())
}

func (a *InboxAPI) TotalDelayedMessagesRead(ctx context.Context) hexutil.Uint64 {
	return hexutil.Uint64(a.inbox.TotalDelayedMessagesRead())
}

func (a *InboxAPI) MaxTimeVariation(ctx context.Context, sub SubmissionContext) inbox.TimeVariation {
	return a.inbox.MaxTimeVariation(sub.blockContext())
}

func (a *InboxAPI) DelayBufferState(ctx context.Context) (map[string]hexutil.Uint64, error) {
	bufferBlocks, bufferSeconds := a.inbox.DelayBufferState()
	return map[string]hexutil.Uint64{
		"bufferBlocks":  hexutil.Uint64(bufferBlocks),
		"bufferSeconds": hexutil.Uint64(bufferSeconds),
	}, nil
}

func (a *InboxAPI) IsBatchPoster(ctx context.Context, addr common.Address) bool {
	return a.inbox.IsBatchPoster(addr)
}

func (a *InboxAPI) IsSequencer(ctx context.Context, addr common.Address) bool {
	return a.inbox.IsSequencer(addr)
}

func (a *InboxAPI) IsValidKeysetHash(ctx context.Context, ksHash common.Hash) bool {
	return a.inbox.IsValidKeysetHash(ksHash)
}

func (a *InboxAPI) GetKeysetCreationBlock(ctx context.Context, ksHash common.Hash) (hexutil.Uint64, error) {
	block, err := a.inbox.GetKeysetCreationBlock(ksHash)
	return hexutil.Uint64(block), err
}

func (a *InboxAPI) SetIsBatchPoster(ctx context.Context, sub SubmissionContext, addr common.Address, isBatchPoster bool) error {
	return a.inbox.SetIsBatchPoster(sub.blockContext(), addr, isBatchPoster)
}

func (a *InboxAPI) SetIsSequencer(ctx context.Context, sub SubmissionContext, addr common.Address, isSequencer bool) error {
	return a.inbox.SetIsSequencer(sub.blockContext(), addr, isSequencer)
}

func (a *InboxAPI) SetBatchPosterManager(ctx context.Context, sub SubmissionContext, manager common.Address) error {
	return a.inbox.SetBatchPosterManager(sub.blockContext(), manager)
}

func (a *InboxAPI) SetMaxTimeVariation(ctx context.Context, sub SubmissionContext, tv inbox.TimeVariation) error {
	return a.inbox.SetMaxTimeVariation(sub.blockContext(), tv)
}

// staticRollup resolves a fixed owner, for rebinding the rollup over RPC.
type staticRollup struct {
	owner common.Address
}

func (r *staticRollup) Owner() common.Address {
	return r.owner
}

func (a *InboxAPI) UpdateRollupAddress(ctx context.Context, sub SubmissionContext, owner common.Address) error {
	return a.inbox.UpdateRollupAddress(sub.blockContext(), &staticRollup{owner: owner})
}

func (a *InboxAPI) SetValidKeyset(ctx context.Context, sub SubmissionContext, keysetBytes hexutil.Bytes) (common.Hash, error) {
	return a.inbox.SetValidKeyset(sub.blockContext(), keysetBytes)
}

func (a *InboxAPI) InvalidateKeysetHash(ctx context.Context, sub SubmissionContext, ksHash common.Hash) error {
	return a.inbox.InvalidateKeysetHash(sub.blockContext(), ksHash)
}
