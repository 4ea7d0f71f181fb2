// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package api

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/rollforge/seqinbox/bridge"
	"github.com/rollforge/seqinbox/delaybuffer"
	"github.com/rollforge/seqinbox/inbox"
	"github.com/rollforge/seqinbox/util/blobs"
	"github.com/rollforge/seqinbox/util/testhelpers"
)

var testChainID = big.NewInt(412346)

type testRollup struct {
	owner common.Address
}

func (r *testRollup) Owner() common.Address {
	return r.owner
}

func makeSub(caller common.Address, blockNumber, timestamp uint64) SubmissionContext {
	return SubmissionContext{
		Caller:      caller,
		BlockNumber: hexutil.Uint64(blockNumber),
		Timestamp:   hexutil.Uint64(timestamp),
		BaseFee:     (*hexutil.Big)(big.NewInt(1_000_000_000)),
		BlobBaseFee: (*hexutil.Big)(big.NewInt(1)),
		ChainID:     (*hexutil.Big)(testChainID),
	}
}

func newTestClient(t *testing.T) (owner, poster common.Address, client *rpc.Client) {
	t.Helper()
	owner = testhelpers.RandomAddress()
	poster = testhelpers.RandomAddress()
	b := bridge.NewBridge(&testRollup{owner: owner})
	si, err := inbox.NewSequencerInbox(b, inbox.DefaultConfig, testChainID, delaybuffer.DefaultBufferConfig)
	Require(t, err)

	server := rpc.NewServer()
	Require(t, server.RegisterName("seqinbox", NewInboxAPI(si, b)))
	t.Cleanup(server.Stop)
	client = rpc.DialInProc(server)
	t.Cleanup(client.Close)

	Require(t, client.Call(nil, "seqinbox_setIsBatchPoster", makeSub(owner, 1, 10), poster, true))
	return owner, poster, client
}

func encodeBlobPayload(t *testing.T, payload []byte) []hexutil.Bytes {
	t.Helper()
	batchBlobs, err := blobs.EncodeBlobs(payload)
	Require(t, err)
	encoded := make([]hexutil.Bytes, len(batchBlobs))
	for i := range batchBlobs {
		encoded[i] = hexutil.Bytes(batchBlobs[i][:])
	}
	return encoded
}

func TestRPCBlobSubmission(t *testing.T) {
	_, poster, client := newTestClient(t)
	encoded := encodeBlobPayload(t, testhelpers.RandomSlice(1024))

	msgPoster := testhelpers.RandomAddress()
	msgData := testhelpers.RandomSlice(32)
	var delayedIndex hexutil.Uint64
	Require(t, client.Call(&delayedIndex, "seqinbox_enqueueDelayedMessage",
		hexutil.Uint64(bridge.MessageType_L2Message), msgPoster,
		hexutil.Uint64(90), hexutil.Uint64(900), (*hexutil.Big)(big.NewInt(5)), hexutil.Bytes(msgData)))
	if delayedIndex != 0 {
		Fail(t, "expected delayed index 0, got", delayedIndex)
	}

	// leaving the delayed message unread needs a proof
	var index hexutil.Uint64
	err := client.Call(&index, "seqinbox_addSequencerL2BatchFromBlobs",
		makeSub(poster, 100, 1000), hexutil.Uint64(inbox.AnySequenceNumber), encoded,
		hexutil.Uint64(0), hexutil.Uint64(0), hexutil.Uint64(0))
	if err == nil || err.Error() != inbox.ErrDelayProofRequired.Error() {
		Fail(t, "expected ErrDelayProofRequired over the wire, got", err)
	}

	proof := delaybuffer.DelayProof{
		Message: delaybuffer.ProofMessage{
			Kind:        bridge.MessageType_L2Message,
			Sender:      msgPoster,
			BlockNumber: 90,
			Timestamp:   900,
			RequestId:   common.BigToHash(common.Big0),
			BaseFee:     big.NewInt(5),
			DataHash:    crypto.Keccak256Hash(msgData),
		},
	}
	Require(t, client.Call(&index, "seqinbox_addSequencerL2BatchFromBlobsDelayProof",
		makeSub(poster, 100, 1000), hexutil.Uint64(inbox.AnySequenceNumber), encoded,
		hexutil.Uint64(1), hexutil.Uint64(0), hexutil.Uint64(0), proof))
	if index != 0 {
		Fail(t, "expected batch index 0, got", index)
	}
	var read hexutil.Uint64
	Require(t, client.Call(&read, "seqinbox_totalDelayedMessagesRead"))
	if read != 1 {
		Fail(t, "delayed read count not advanced, got", read)
	}

	// the on-time proof opened a synced window, so the plain blob path now
	// accepts the unread spending report
	Require(t, client.Call(&index, "seqinbox_addSequencerL2BatchFromBlobs",
		makeSub(poster, 101, 1010), hexutil.Uint64(inbox.AnySequenceNumber), encoded,
		hexutil.Uint64(1), hexutil.Uint64(0), hexutil.Uint64(0)))
	if index != 1 {
		Fail(t, "expected batch index 1, got", index)
	}

	// malformed sidecars are rejected before reaching the inbox
	err = client.Call(&index, "seqinbox_addSequencerL2BatchFromBlobs",
		makeSub(poster, 102, 1020), hexutil.Uint64(inbox.AnySequenceNumber),
		[]hexutil.Bytes{{1, 2, 3}},
		hexutil.Uint64(1), hexutil.Uint64(0), hexutil.Uint64(0))
	if err == nil {
		Fail(t, "undersized blob accepted")
	}
}

func TestRPCAdminSurface(t *testing.T) {
	owner, poster, client := newTestClient(t)

	updated := inbox.TimeVariation{DelayBlocks: 20, FutureBlocks: 7, DelaySeconds: 200, FutureSeconds: 70}
	Require(t, client.Call(nil, "seqinbox_setMaxTimeVariation", makeSub(owner, 2, 20), updated))
	var tv inbox.TimeVariation
	Require(t, client.Call(&tv, "seqinbox_maxTimeVariation", makeSub(poster, 3, 30)))
	if tv.FutureBlocks != 7 || tv.FutureSeconds != 70 {
		Fail(t, "time variation update not visible over the wire:", tv)
	}

	err := client.Call(nil, "seqinbox_setMaxTimeVariation", makeSub(poster, 4, 40), updated)
	if err == nil || err.Error() != inbox.ErrNotOwner.Error() {
		Fail(t, "non-owner updated the time variation, err:", err)
	}

	newOwner := testhelpers.RandomAddress()
	Require(t, client.Call(nil, "seqinbox_updateRollupAddress", makeSub(owner, 5, 50), newOwner))
	err = client.Call(nil, "seqinbox_setMaxTimeVariation", makeSub(owner, 6, 60), updated)
	if err == nil || err.Error() != inbox.ErrNotOwner.Error() {
		Fail(t, "old owner kept privileges, err:", err)
	}
	Require(t, client.Call(nil, "seqinbox_setMaxTimeVariation", makeSub(newOwner, 7, 70), updated))
}

func Require(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	testhelpers.RequireImpl(t, err, printables...)
}

func Fail(t *testing.T, printables ...interface{}) {
	t.Helper()
	testhelpers.FailImpl(t, printables...)
}
