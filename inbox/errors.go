// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package inbox

import "errors"

var (
	// authorization
	ErrNotOwner              = errors.New("caller is not the chain owner")
	ErrNotBatchPoster        = errors.New("caller is not a registered batch poster")
	ErrNotBatchPosterManager = errors.New("caller is neither the chain owner nor the batch poster manager")

	// staleness / ordering
	ErrBadSequencerNumber  = errors.New("sequence number does not match the assigned batch index")
	ErrNotDelayedFarEnough = errors.New("a proof-carrying batch must read at least one new delayed message")

	// proof failure against the recorded accumulator
	ErrIncorrectMessagePreimage = errors.New("claimed delayed message does not match the recorded accumulator")

	// timing
	ErrForceIncludeBlockTooSoon = errors.New("delayed message is not old enough in blocks to force include")
	ErrForceIncludeTimeTooSoon  = errors.New("delayed message is not old enough in seconds to force include")

	// payload validity
	ErrDataTooLarge      = errors.New("batch data exceeds the maximum data size")
	ErrInvalidHeaderFlag = errors.New("batch data begins with a disallowed header flag")
	ErrNoSuchKeyset      = errors.New("no valid keyset with the given hash")
	ErrMissingBlobHashes = errors.New("blob batch carries no blob hashes")
	ErrExtraGasNotUint64 = errors.New("extra gas does not fit the reimbursement encoding")

	// configuration
	ErrDelayProofRequired = errors.New("batch submission requires a delay proof")
	ErrNotDelayBufferable = errors.New("delay buffering is not enabled on this inbox")
	ErrRollupNotChanged   = errors.New("rollup address is unchanged")

	// feature deprecated
	ErrDeprecated = errors.New("this entry point has been retired")

	ErrKeysetAlreadyValid = errors.New("keyset is already registered and valid")
)
