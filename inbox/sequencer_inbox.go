// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

// Package inbox implements the batch submission orchestrator: it authenticates
// callers, forms batch digests, consults the delay buffer on whether a proof is
// required, verifies delay and sync proofs, and drives the accumulator ledger's
// enqueue. All submissions are serialized; each one either fully applies or
// leaves no trace.
package inbox

import (
	"math"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"

	"github.com/rollforge/seqinbox/bridge"
	"github.com/rollforge/seqinbox/delaybuffer"
	"github.com/rollforge/seqinbox/util/blobs"
	"github.com/rollforge/seqinbox/util/seqmath"
)

// AnySequenceNumber is the "don't care" sentinel: a submission carrying it
// accepts whatever batch index the ledger assigns.
const AnySequenceNumber = math.MaxUint64

// BlockContext carries the chain position and pricing observed at submission
// time, plus the identity of the caller. Every entry point takes one so the
// orchestrator itself stays clock-free and deterministic.
type BlockContext struct {
	Caller      common.Address
	BlockNumber uint64
	Timestamp   uint64
	BaseFee     *big.Int
	BlobBaseFee *big.Int
	ChainID     *big.Int
}

// SequencerInbox accepts sequencer batches and forced inclusions against a
// bridge ledger. It is the sole writer of the ledger and the delay buffer; a
// single mutex serializes every submission end to end, so no caller ever
// observes a partially applied batch.
type SequencerInbox struct {
	mu sync.Mutex

	bridge *bridge.Bridge
	config Config

	buffer            *delaybuffer.DelayBuffer
	isDelayBufferable bool

	deployChainID *big.Int

	batchPosters       map[common.Address]bool
	sequencers         map[common.Address]bool
	batchPosterManager common.Address
	keysets            map[common.Hash]*KeysetInfo
}

func NewSequencerInbox(b *bridge.Bridge, config Config, deployChainID *big.Int, bufferConfig delaybuffer.BufferConfig) (*SequencerInbox, error) {
	buffer, err := delaybuffer.NewDelayBuffer(bufferConfig)
	if err != nil {
		return nil, err
	}
	return &SequencerInbox{
		bridge:            b,
		config:            config,
		buffer:            buffer,
		isDelayBufferable: bufferConfig.Enabled(),
		deployChainID:     deployChainID,
		batchPosters:      make(map[common.Address]bool),
		sequencers:        make(map[common.Address]bool),
		keysets:           make(map[common.Hash]*KeysetInfo),
	}, nil
}

func (si *SequencerInbox) chainIDChanged(env *BlockContext) bool {
	if env.ChainID == nil || si.deployChainID == nil {
		return false
	}
	return env.ChainID.Cmp(si.deployChainID) != 0
}

// effectiveTimeVariation resolves the bounds in force for this caller at this
// chain position. A chain-id change collapses everything to the minimum window
// so no delay slack survives a fork or migration. In buffered mode a caller
// with a live synced cache gets the full buffer maxima without a proof; anyone
// else gets the current slack, never below the strict static bounds and never
// above the maxima.
func (si *SequencerInbox) effectiveTimeVariation(caller common.Address, env *BlockContext) TimeVariation {
	if si.chainIDChanged(env) {
		return TimeVariation{DelayBlocks: 1, FutureBlocks: 1, DelaySeconds: 1, FutureSeconds: 1}
	}
	tv := si.config.TimeVariation
	if !si.isDelayBufferable {
		return tv
	}
	cfg := si.buffer.Config()
	if caller != (common.Address{}) && si.buffer.IsSynced(caller, env.BlockNumber, env.Timestamp) {
		tv.DelayBlocks = cfg.MaxBlocks
		tv.DelaySeconds = cfg.MaxSeconds
		return tv
	}
	bufferBlocks, bufferSeconds := si.buffer.Buffers()
	tv.DelayBlocks = seqmath.MinInt(seqmath.MaxInt(bufferBlocks, tv.DelayBlocks), cfg.MaxBlocks)
	tv.DelaySeconds = seqmath.MinInt(seqmath.MaxInt(bufferSeconds, tv.DelaySeconds), cfg.MaxSeconds)
	return tv
}

func (si *SequencerInbox) requireOwner(caller common.Address) error {
	if caller != si.bridge.Rollup().Owner() {
		return ErrNotOwner
	}
	return nil
}

func (si *SequencerInbox) requireOwnerOrManager(caller common.Address) error {
	if caller != si.bridge.Rollup().Owner() && caller != si.batchPosterManager {
		return ErrNotBatchPosterManager
	}
	return nil
}

// requireBatchPoster admits registered posters and the rollup owner; the owner
// path exists so governance can always post a batch directly.
func (si *SequencerInbox) requireBatchPoster(caller common.Address) error {
	if !si.batchPosters[caller] && caller != si.bridge.Rollup().Owner() {
		return ErrNotBatchPoster
	}
	return nil
}

// delayProofRequired is the policy gate on the no-proof paths: a bufferable
// inbox whose caller has no live synced window may not leave delayed messages
// unread without proving where the queue head stands.
func (si *SequencerInbox) delayProofRequired(env *BlockContext, afterDelayedMessagesRead uint64) bool {
	if !si.isDelayBufferable {
		return false
	}
	if si.buffer.IsSynced(env.Caller, env.BlockNumber, env.Timestamp) {
		return false
	}
	return afterDelayedMessagesRead < si.bridge.DelayedMessageCount()
}

// enqueueBatch runs the shared tail of every submission: the sequence-number
// check and the ledger enqueue, with the spending report, when one is due,
// written inside the same atomic enqueue. The sequence number is checked
// against the ledger's next index before enqueuing so a mismatch rejects
// without any state change.
func (si *SequencerInbox) enqueueBatch(
	env *BlockContext,
	sequenceNumber uint64,
	dataHash common.Hash,
	afterDelayedMessagesRead uint64,
	prevMessageCount uint64,
	newMessageCount uint64,
	bounds bridge.TimeBounds,
	location bridge.BatchDataLocation,
	extraGas uint64,
	delayedAccCheck func(common.Hash) error,
) (uint64, error) {
	if sequenceNumber != AnySequenceNumber && sequenceNumber != si.bridge.SequencerMessageCount() {
		return 0, ErrBadSequencerNumber
	}
	var report *bridge.SpendingReportParams
	if !si.config.UsingFeeToken && location != bridge.BatchDataNone {
		report = &bridge.SpendingReportParams{
			BatchPoster: env.Caller,
			BaseFee:     env.BaseFee,
			ExtraGas:    extraGas,
			BlockNumber: env.BlockNumber,
			Timestamp:   env.Timestamp,
		}
	}
	seqMessageIndex, beforeAcc, delayedAcc, afterAcc, err := si.bridge.EnqueueSequencerMessage(
		dataHash, afterDelayedMessagesRead, prevMessageCount, newMessageCount, bounds, location, delayedAccCheck, report)
	if err != nil {
		return 0, err
	}
	log.Info("sequencer batch accepted",
		"seqMessageIndex", seqMessageIndex,
		"beforeAcc", beforeAcc,
		"afterAcc", afterAcc,
		"delayedAcc", delayedAcc,
		"afterDelayedMessagesRead", afterDelayedMessagesRead,
		"location", location,
	)
	return seqMessageIndex, nil
}

// AddSequencerL2Batch is the common calldata path with no attached proof.
func (si *SequencerInbox) AddSequencerL2Batch(
	env *BlockContext,
	sequenceNumber uint64,
	data []byte,
	afterDelayedMessagesRead uint64,
	prevMessageCount uint64,
	newMessageCount uint64,
) (uint64, error) {
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.requireBatchPoster(env.Caller); err != nil {
		return 0, err
	}
	if si.delayProofRequired(env, afterDelayedMessagesRead) {
		return 0, ErrDelayProofRequired
	}
	tv := si.effectiveTimeVariation(env.Caller, env)
	bounds := timeBounds(tv, env.BlockNumber, env.Timestamp)
	header := batchHeader(bounds, afterDelayedMessagesRead)
	dataHash, err := si.formCallDataHash(header, data)
	if err != nil {
		return 0, err
	}
	return si.enqueueBatch(env, sequenceNumber, dataHash, afterDelayedMessagesRead,
		prevMessageCount, newMessageCount, bounds, bridge.BatchDataTxInput, 0, nil)
}

// AddSequencerL2BatchFromBlobs posts a batch whose payload lives in blob
// sidecars. The digest commits to the versioned hashes only; the extra gas in
// the spending report converts the blob cost into calldata-gas units so the
// poster is reimbursed at a fair rate even though the two markets price
// independently.
func (si *SequencerInbox) AddSequencerL2BatchFromBlobs(
	env *BlockContext,
	sequenceNumber uint64,
	batchBlobs []kzg4844.Blob,
	afterDelayedMessagesRead uint64,
	prevMessageCount uint64,
	newMessageCount uint64,
) (uint64, error) {
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.requireBatchPoster(env.Caller); err != nil {
		return 0, err
	}
	if si.delayProofRequired(env, afterDelayedMessagesRead) {
		return 0, ErrDelayProofRequired
	}
	return si.addBatchFromBlobs(env, sequenceNumber, batchBlobs, afterDelayedMessagesRead, prevMessageCount, newMessageCount)
}

func (si *SequencerInbox) addBatchFromBlobs(
	env *BlockContext,
	sequenceNumber uint64,
	batchBlobs []kzg4844.Blob,
	afterDelayedMessagesRead uint64,
	prevMessageCount uint64,
	newMessageCount uint64,
) (uint64, error) {
	_, versionedHashes, err := blobs.ComputeCommitmentsAndHashes(batchBlobs)
	if err != nil {
		return 0, err
	}
	tv := si.effectiveTimeVariation(env.Caller, env)
	bounds := timeBounds(tv, env.BlockNumber, env.Timestamp)
	header := batchHeader(bounds, afterDelayedMessagesRead)
	dataHash, err := formBlobDataHash(header, versionedHashes)
	if err != nil {
		return 0, err
	}
	extraGas, err := blobReimbursementGas(env, len(batchBlobs), si.config.UsingFeeToken)
	if err != nil {
		return 0, err
	}
	return si.enqueueBatch(env, sequenceNumber, dataHash, afterDelayedMessagesRead,
		prevMessageCount, newMessageCount, bounds, bridge.BatchDataBlobHashes, extraGas, nil)
}

// blobReimbursementGas prices the batch's blob gas in regular-gas units at the
// prevailing fees, for the spending report's extra-gas field.
func blobReimbursementGas(env *BlockContext, numBlobs int, usingFeeToken bool) (uint64, error) {
	if usingFeeToken || env.BlobBaseFee == nil || env.BaseFee == nil || env.BaseFee.Sign() == 0 {
		return 0, nil
	}
	blobGas := new(big.Int).SetUint64(params.BlobTxBlobGasPerBlob * uint64(numBlobs))
	blobCost := new(big.Int).Mul(env.BlobBaseFee, blobGas)
	extraGas := blobCost.Div(blobCost, env.BaseFee)
	if !extraGas.IsUint64() {
		return 0, ErrExtraGasNotUint64
	}
	return extraGas.Uint64(), nil
}

// AddSequencerL2BatchDelayProof posts a calldata batch together with a proof of
// the next unread delayed message. The proof both updates the buffer accounting
// and, when the message is on time with a full buffer, refreshes the caller's
// synced window.
func (si *SequencerInbox) AddSequencerL2BatchDelayProof(
	env *BlockContext,
	sequenceNumber uint64,
	data []byte,
	afterDelayedMessagesRead uint64,
	prevMessageCount uint64,
	newMessageCount uint64,
	proof *delaybuffer.DelayProof,
) (uint64, error) {
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.requireBatchPoster(env.Caller); err != nil {
		return 0, err
	}
	if err := si.applyDelayProof(env, afterDelayedMessagesRead, proof); err != nil {
		return 0, err
	}
	snap := si.buffer.Snapshot(env.Caller)
	si.buffer.Update(env.Caller, env.BlockNumber, env.Timestamp, proof.Message.BlockNumber, proof.Message.Timestamp)

	tv := si.effectiveTimeVariation(env.Caller, env)
	bounds := timeBounds(tv, env.BlockNumber, env.Timestamp)
	header := batchHeader(bounds, afterDelayedMessagesRead)
	dataHash, err := si.formCallDataHash(header, data)
	if err != nil {
		si.buffer.Restore(snap)
		return 0, err
	}
	seqMessageIndex, err := si.enqueueBatch(env, sequenceNumber, dataHash, afterDelayedMessagesRead,
		prevMessageCount, newMessageCount, bounds, bridge.BatchDataTxInput, 0, nil)
	if err != nil {
		si.buffer.Restore(snap)
		return 0, err
	}
	return seqMessageIndex, nil
}

// AddSequencerL2BatchFromBlobsDelayProof is the blob variant of the
// proof-carrying path.
func (si *SequencerInbox) AddSequencerL2BatchFromBlobsDelayProof(
	env *BlockContext,
	sequenceNumber uint64,
	batchBlobs []kzg4844.Blob,
	afterDelayedMessagesRead uint64,
	prevMessageCount uint64,
	newMessageCount uint64,
	proof *delaybuffer.DelayProof,
) (uint64, error) {
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.requireBatchPoster(env.Caller); err != nil {
		return 0, err
	}
	if err := si.applyDelayProof(env, afterDelayedMessagesRead, proof); err != nil {
		return 0, err
	}
	snap := si.buffer.Snapshot(env.Caller)
	si.buffer.Update(env.Caller, env.BlockNumber, env.Timestamp, proof.Message.BlockNumber, proof.Message.Timestamp)

	seqMessageIndex, err := si.addBatchFromBlobs(env, sequenceNumber, batchBlobs, afterDelayedMessagesRead, prevMessageCount, newMessageCount)
	if err != nil {
		si.buffer.Restore(snap)
		return 0, err
	}
	return seqMessageIndex, nil
}

// applyDelayProof validates a proof-carrying submission's preconditions and
// verifies the proof against the first newly consumed delayed message.
func (si *SequencerInbox) applyDelayProof(env *BlockContext, afterDelayedMessagesRead uint64, proof *delaybuffer.DelayProof) error {
	if !si.isDelayBufferable {
		return ErrNotDelayBufferable
	}
	oldRead := si.bridge.TotalDelayedMessagesRead()
	if afterDelayedMessagesRead <= oldRead {
		return ErrNotDelayedFarEnough
	}
	return delaybuffer.VerifyDelayProof(si.bridge, oldRead, proof)
}

// AddSequencerL2BatchSyncProof certifies a window of consumed delayed messages
// in one call. Far is proven against the ledger's recorded accumulator at the
// first newly consumed slot; Near must reproduce the delayed accumulator the
// enqueue itself reports for the last consumed slot. That value is only
// knowable inside the enqueue, so the check runs as a callback within it:
// verification and mutation remain one atomic step and a failing Near proof
// leaves no residue.
func (si *SequencerInbox) AddSequencerL2BatchSyncProof(
	env *BlockContext,
	sequenceNumber uint64,
	data []byte,
	afterDelayedMessagesRead uint64,
	prevMessageCount uint64,
	newMessageCount uint64,
	proof *delaybuffer.SyncProof,
) (uint64, error) {
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.requireBatchPoster(env.Caller); err != nil {
		return 0, err
	}
	if err := si.applyDelayProof(env, afterDelayedMessagesRead, &proof.Far); err != nil {
		return 0, err
	}
	snap := si.buffer.Snapshot(env.Caller)
	si.buffer.Update(env.Caller, env.BlockNumber, env.Timestamp, proof.Far.Message.BlockNumber, proof.Far.Message.Timestamp)

	tv := si.effectiveTimeVariation(env.Caller, env)
	bounds := timeBounds(tv, env.BlockNumber, env.Timestamp)
	header := batchHeader(bounds, afterDelayedMessagesRead)
	dataHash, err := si.formCallDataHash(header, data)
	if err != nil {
		si.buffer.Restore(snap)
		return 0, err
	}
	seqMessageIndex, err := si.enqueueBatch(env, sequenceNumber, dataHash, afterDelayedMessagesRead,
		prevMessageCount, newMessageCount, bounds, bridge.BatchDataTxInput, 0, proof.Near.VerifyAgainstAcc)
	if err != nil {
		si.buffer.Restore(snap)
		return 0, err
	}
	si.buffer.Update(env.Caller, env.BlockNumber, env.Timestamp, proof.Near.Message.BlockNumber, proof.Near.Message.Timestamp)
	return seqMessageIndex, nil
}

// ForceInclusion is the censorship-resistance escape valve: anyone who can
// present the exact preimage of a sufficiently old delayed message may force
// the ledger to acknowledge it. The buffer update runs first because depletion
// is retroactive and may change the very deadline this call is checked
// against; the deadline itself is strict, so a message exactly at the boundary
// is still too soon.
func (si *SequencerInbox) ForceInclusion(
	env *BlockContext,
	delayedMessagesRead uint64,
	kind uint8,
	l1BlockAndTime [2]uint64,
	baseFee *big.Int,
	sender common.Address,
	messageDataHash common.Hash,
) error {
	si.mu.Lock()
	defer si.mu.Unlock()

	if delayedMessagesRead <= si.bridge.TotalDelayedMessagesRead() {
		return bridge.ErrDelayedBackwards
	}
	index := delayedMessagesRead - 1
	recorded, err := si.bridge.DelayedInboxAcc(index)
	if err != nil {
		return err
	}
	var beforeAcc common.Hash
	if index > 0 {
		beforeAcc, err = si.bridge.DelayedInboxAcc(index - 1)
		if err != nil {
			return err
		}
	}
	claim := delaybuffer.DelayProof{
		BeforeDelayedAcc: beforeAcc,
		Message: delaybuffer.ProofMessage{
			Kind:        kind,
			Sender:      sender,
			BlockNumber: l1BlockAndTime[0],
			Timestamp:   l1BlockAndTime[1],
			RequestId:   common.BigToHash(new(big.Int).SetUint64(index)),
			BaseFee:     baseFee,
			DataHash:    messageDataHash,
		},
	}
	if claim.AfterAcc() != recorded {
		return ErrIncorrectMessagePreimage
	}

	snap := si.buffer.Snapshot(common.Address{})
	if si.isDelayBufferable {
		si.buffer.Update(common.Address{}, env.BlockNumber, env.Timestamp, l1BlockAndTime[0], l1BlockAndTime[1])
	}
	tv := si.effectiveTimeVariation(common.Address{}, env)
	if seqmath.SaturatingUAdd(l1BlockAndTime[0], tv.DelayBlocks) >= env.BlockNumber {
		si.buffer.Restore(snap)
		return ErrForceIncludeBlockTooSoon
	}
	if seqmath.SaturatingUAdd(l1BlockAndTime[1], tv.DelaySeconds) >= env.Timestamp {
		si.buffer.Restore(snap)
		return ErrForceIncludeTimeTooSoon
	}

	bounds := timeBounds(tv, env.BlockNumber, env.Timestamp)
	header := batchHeader(bounds, delayedMessagesRead)
	dataHash := formEmptyDataHash(header)
	_, err = si.enqueueBatch(env, AnySequenceNumber, dataHash, delayedMessagesRead,
		0, 0, bounds, bridge.BatchDataNone, 0, nil)
	if err != nil {
		si.buffer.Restore(snap)
		return err
	}
	log.Info("delayed messages force included",
		"delayedMessagesRead", delayedMessagesRead,
		"caller", env.Caller,
	)
	return nil
}

// AddSequencerL2BatchFromOrigin is the retired origin-only calldata path.
func (si *SequencerInbox) AddSequencerL2BatchFromOrigin(
	env *BlockContext,
	sequenceNumber uint64,
	data []byte,
	afterDelayedMessagesRead uint64,
) (uint64, error) {
	return 0, ErrDeprecated
}

// SetIsBatchPoster registers or removes a batch poster.
func (si *SequencerInbox) SetIsBatchPoster(env *BlockContext, addr common.Address, isBatchPoster bool) error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.requireOwnerOrManager(env.Caller); err != nil {
		return err
	}
	si.batchPosters[addr] = isBatchPoster
	log.Info("batch poster updated", "addr", addr, "isBatchPoster", isBatchPoster)
	return nil
}

// SetIsSequencer registers or removes a sequencer flag. The flag is advisory
// for downstream consumers; it does not gate batch submission.
func (si *SequencerInbox) SetIsSequencer(env *BlockContext, addr common.Address, isSequencer bool) error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.requireOwnerOrManager(env.Caller); err != nil {
		return err
	}
	si.sequencers[addr] = isSequencer
	log.Info("sequencer flag updated", "addr", addr, "isSequencer", isSequencer)
	return nil
}

func (si *SequencerInbox) SetBatchPosterManager(env *BlockContext, manager common.Address) error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.requireOwner(env.Caller); err != nil {
		return err
	}
	si.batchPosterManager = manager
	log.Info("batch poster manager updated", "manager", manager)
	return nil
}

func (si *SequencerInbox) SetMaxTimeVariation(env *BlockContext, tv TimeVariation) error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.requireOwner(env.Caller); err != nil {
		return err
	}
	si.config.TimeVariation = tv
	log.Info("max time variation updated",
		"delayBlocks", tv.DelayBlocks,
		"futureBlocks", tv.FutureBlocks,
		"delaySeconds", tv.DelaySeconds,
		"futureSeconds", tv.FutureSeconds,
	)
	return nil
}

// UpdateRollupAddress rebinds the owner-resolution source after a legitimate
// upstream change.
func (si *SequencerInbox) UpdateRollupAddress(env *BlockContext, rollup bridge.RollupResolver) error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.requireOwner(env.Caller); err != nil {
		return err
	}
	if rollup == si.bridge.Rollup() {
		return ErrRollupNotChanged
	}
	si.bridge.SetRollup(rollup)
	log.Info("rollup address updated")
	return nil
}

func (si *SequencerInbox) BatchCount() uint64 {
	return si.bridge.SequencerMessageCount()
}

func (si *SequencerInbox) InboxAccs(index uint64) (common.Hash, error) {
	return si.bridge.SequencerInboxAcc(index)
}

func (si *SequencerInbox) TotalDelayedMessagesRead() uint64 {
	return si.bridge.TotalDelayedMessagesRead()
}

func (si *SequencerInbox) IsBatchPoster(addr common.Address) bool {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.batchPosters[addr]
}

func (si *SequencerInbox) IsSequencer(addr common.Address) bool {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.sequencers[addr]
}

func (si *SequencerInbox) BatchPosterManager() common.Address {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.batchPosterManager
}

func (si *SequencerInbox) IsDelayBufferable() bool {
	return si.isDelayBufferable
}

// MaxTimeVariation reports the effective bounds for the calling context.
func (si *SequencerInbox) MaxTimeVariation(env *BlockContext) TimeVariation {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.effectiveTimeVariation(env.Caller, env)
}

// ForceInclusionDeadline reports the block past which a delayed message from
// blockNumber becomes force-includable, under current buffer state.
func (si *SequencerInbox) ForceInclusionDeadline(env *BlockContext, blockNumber uint64) uint64 {
	si.mu.Lock()
	defer si.mu.Unlock()
	tv := si.effectiveTimeVariation(common.Address{}, env)
	return seqmath.SaturatingUAdd(blockNumber, tv.DelayBlocks)
}

// DelayBufferState exposes the current slack for monitoring.
func (si *SequencerInbox) DelayBufferState() (bufferBlocks, bufferSeconds uint64) {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.buffer.Buffers()
}
