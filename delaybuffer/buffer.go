// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

// Package delaybuffer tracks the dynamic slack that lets the sequencer defer
// consuming delayed messages beyond the strict protocol bounds, and verifies
// the accumulator preimage proofs required to spend that slack.
package delaybuffer

import (
	"errors"
	"math"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"

	"github.com/rollforge/seqinbox/util/seqmath"
)

// DisabledThreshold is the sentinel marking a dimension as non-bufferable.
const DisabledThreshold = math.MaxUint64

type BufferConfig struct {
	ThresholdBlocks      uint64 `koanf:"threshold-blocks"`
	ThresholdSeconds     uint64 `koanf:"threshold-seconds"`
	MaxBlocks            uint64 `koanf:"max-blocks"`
	MaxSeconds           uint64 `koanf:"max-seconds"`
	ReplenishRateInBasis uint64 `koanf:"replenish-rate-in-basis"`
}

func BufferConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Uint64(prefix+".threshold-blocks", DefaultBufferConfig.ThresholdBlocks, "lateness in blocks beyond which the buffer depletes (max uint64 disables buffering)")
	f.Uint64(prefix+".threshold-seconds", DefaultBufferConfig.ThresholdSeconds, "lateness in seconds beyond which the buffer depletes (max uint64 disables buffering)")
	f.Uint64(prefix+".max-blocks", DefaultBufferConfig.MaxBlocks, "maximum buffer in blocks")
	f.Uint64(prefix+".max-seconds", DefaultBufferConfig.MaxSeconds, "maximum buffer in seconds")
	f.Uint64(prefix+".replenish-rate-in-basis", DefaultBufferConfig.ReplenishRateInBasis, "replenishment per elapsed period, in basis points")
}

var DefaultBufferConfig = BufferConfig{
	ThresholdBlocks:      300,
	ThresholdSeconds:     60 * 60,
	MaxBlocks:            14400,
	MaxSeconds:           48 * 60 * 60,
	ReplenishRateInBasis: 500,
}

// Enabled reports whether the buffer feature is on at all; sentinel thresholds
// collapse the protocol to its strict static bounds.
func (c *BufferConfig) Enabled() bool {
	return c.ThresholdBlocks != DisabledThreshold && c.ThresholdSeconds != DisabledThreshold
}

func (c *BufferConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.MaxBlocks == 0 || c.MaxSeconds == 0 {
		return errors.New("delay buffer max must be nonzero")
	}
	if c.ThresholdBlocks > c.MaxBlocks || c.ThresholdSeconds > c.MaxSeconds {
		return errors.New("delay buffer threshold exceeds max")
	}
	if c.ReplenishRateInBasis > uint64(seqmath.OneInBips) {
		return errors.New("replenish rate above one")
	}
	return nil
}

type syncValidity struct {
	expiryBlockNumber uint64
	expiryTimestamp   uint64
}

// DelayBuffer holds the current slack in blocks and seconds, the marks needed
// to apply depletion and replenishment retroactively, and the per-caller cache
// of proven-synced windows. It is exclusively mutated by the orchestrator,
// which serializes all calls.
type DelayBuffer struct {
	config BufferConfig

	bufferBlocks  uint64
	bufferSeconds uint64

	// the previously proven message's own position
	prevBlockNumber uint64
	prevTimestamp   uint64
	// when that message was sequenced, for retroactive depletion
	prevSequencedBlockNumber uint64
	prevSequencedTimestamp   uint64

	cachedSync map[common.Address]syncValidity
}

// NewDelayBuffer starts with full slack, which matches a freshly deployed chain
// with no backlog.
func NewDelayBuffer(config BufferConfig) (*DelayBuffer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &DelayBuffer{
		config:        config,
		bufferBlocks:  config.MaxBlocks,
		bufferSeconds: config.MaxSeconds,
		cachedSync:    make(map[common.Address]syncValidity),
	}, nil
}

func (b *DelayBuffer) Config() BufferConfig {
	return b.config
}

func (b *DelayBuffer) Buffers() (bufferBlocks uint64, bufferSeconds uint64) {
	return b.bufferBlocks, b.bufferSeconds
}

func (b *DelayBuffer) IsFull() bool {
	return b.bufferBlocks == b.config.MaxBlocks && b.bufferSeconds == b.config.MaxSeconds
}

// CalcBuffer advances one buffer dimension from `start` (the previous message's
// position) to `end` (the new message's position). Depletion charges the
// previous message's unexpected delay, capped at the elapsed span so slack only
// moves linearly; replenishment accrues on the same span, rounding down. The
// result is clamped to [0, max].
func CalcBuffer(start, end, buffer, sequenced, threshold, max uint64, rate seqmath.Bips) uint64 {
	elapsed := seqmath.SaturatingUSub(end, start)
	delay := seqmath.SaturatingUSub(sequenced, start)
	unexpectedDelay := seqmath.SaturatingUSub(delay, threshold)
	if unexpectedDelay > elapsed {
		unexpectedDelay = elapsed
	}
	buffer = seqmath.SaturatingUSub(buffer, unexpectedDelay)
	buffer = seqmath.SaturatingUAdd(buffer, seqmath.UintMulByBips(elapsed, rate))
	return seqmath.MinInt(buffer, max)
}

// Update accounts for a newly proven delayed message at (msgBlockNumber,
// msgTimestamp), observed at chain position (blockNumber, timestamp). The
// depletion applies retroactively, so callers must invoke this before any
// deadline check that depends on the buffer.
func (b *DelayBuffer) Update(caller common.Address, blockNumber, timestamp, msgBlockNumber, msgTimestamp uint64) {
	rate := seqmath.Bips(b.config.ReplenishRateInBasis)
	b.bufferBlocks = CalcBuffer(b.prevBlockNumber, msgBlockNumber, b.bufferBlocks, b.prevSequencedBlockNumber, b.config.ThresholdBlocks, b.config.MaxBlocks, rate)
	b.bufferSeconds = CalcBuffer(b.prevTimestamp, msgTimestamp, b.bufferSeconds, b.prevSequencedTimestamp, b.config.ThresholdSeconds, b.config.MaxSeconds, rate)
	b.prevBlockNumber = msgBlockNumber
	b.prevTimestamp = msgTimestamp
	b.prevSequencedBlockNumber = blockNumber
	b.prevSequencedTimestamp = timestamp

	if caller == (common.Address{}) {
		return
	}
	onTime := seqmath.SaturatingUSub(blockNumber, msgBlockNumber) <= b.config.ThresholdBlocks &&
		seqmath.SaturatingUSub(timestamp, msgTimestamp) <= b.config.ThresholdSeconds
	if onTime && b.IsFull() {
		b.cachedSync[caller] = syncValidity{
			expiryBlockNumber: seqmath.SaturatingUAdd(msgBlockNumber, b.config.ThresholdBlocks),
			expiryTimestamp:   seqmath.SaturatingUAdd(msgTimestamp, b.config.ThresholdSeconds),
		}
	}
}

// Snapshot captures the buffer scalars plus the one cache entry an update can
// touch, so a caller can roll an update back when a later step of the same
// submission fails. Failed submissions must leave no residue.
type Snapshot struct {
	bufferBlocks             uint64
	bufferSeconds            uint64
	prevBlockNumber          uint64
	prevTimestamp            uint64
	prevSequencedBlockNumber uint64
	prevSequencedTimestamp   uint64

	caller   common.Address
	validity syncValidity
	hadEntry bool
}

func (b *DelayBuffer) Snapshot(caller common.Address) Snapshot {
	s := Snapshot{
		bufferBlocks:             b.bufferBlocks,
		bufferSeconds:            b.bufferSeconds,
		prevBlockNumber:          b.prevBlockNumber,
		prevTimestamp:            b.prevTimestamp,
		prevSequencedBlockNumber: b.prevSequencedBlockNumber,
		prevSequencedTimestamp:   b.prevSequencedTimestamp,
		caller:                   caller,
	}
	s.validity, s.hadEntry = b.cachedSync[caller]
	return s
}

func (b *DelayBuffer) Restore(s Snapshot) {
	b.bufferBlocks = s.bufferBlocks
	b.bufferSeconds = s.bufferSeconds
	b.prevBlockNumber = s.prevBlockNumber
	b.prevTimestamp = s.prevTimestamp
	b.prevSequencedBlockNumber = s.prevSequencedBlockNumber
	b.prevSequencedTimestamp = s.prevSequencedTimestamp
	if s.hadEntry {
		b.cachedSync[s.caller] = s.validity
	} else {
		delete(b.cachedSync, s.caller)
	}
}

// IsSynced reports whether the caller's cached synced window is still live. The
// cache is a liveness shortcut only: a stale entry costs an extra proof, never
// a soundness violation, and entries are never shared across callers.
func (b *DelayBuffer) IsSynced(caller common.Address, blockNumber, timestamp uint64) bool {
	validity, ok := b.cachedSync[caller]
	if !ok {
		return false
	}
	return blockNumber <= validity.expiryBlockNumber && timestamp <= validity.expiryTimestamp
}
