// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package main

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rollforge/seqinbox/bridge"
	"github.com/rollforge/seqinbox/cmd/util/confighelpers"
	"github.com/rollforge/seqinbox/seqmsg"
	"github.com/rollforge/seqinbox/util/blobs"
)

func main() {
	args := os.Args
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: seqtool [batch|delayed|blob] ...")
		os.Exit(1)
	}

	var err error
	switch strings.ToLower(args[1]) {
	case "batch":
		err = startBatch(args[2:])
	case "delayed":
		err = startDelayed(args[2:])
	case "blob":
		err = startBlob(args[2:])
	default:
		err = fmt.Errorf("unknown tool '%s', valid tools are 'batch', 'delayed', 'blob'", args[1])
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// seqtool batch decode

func startBatch(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("seqtool batch requires 'decode'")
	}
	switch strings.ToLower(args[0]) {
	case "decode":
		return startBatchDecode(args[1:])
	}
	return fmt.Errorf("seqtool batch '%s' not supported, valid argument is 'decode'", args[0])
}

type BatchDecodeConfig struct {
	Data string `koanf:"data"`
}

func startBatchDecode(args []string) error {
	f := flag.NewFlagSet("batch decode", flag.ContinueOnError)
	f.String("data", "", "hex-encoded batch data, header included")

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return err
	}
	var config BatchDecodeConfig
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return err
	}

	data, err := hex.DecodeString(strings.TrimPrefix(config.Data, "0x"))
	if err != nil {
		return err
	}
	msg, err := seqmsg.Parse(data)
	if err != nil {
		return err
	}
	fmt.Printf("minTimestamp: %d\n", msg.Header.MinTimestamp)
	fmt.Printf("maxTimestamp: %d\n", msg.Header.MaxTimestamp)
	fmt.Printf("minBlockNumber: %d\n", msg.Header.MinBlockNumber)
	fmt.Printf("maxBlockNumber: %d\n", msg.Header.MaxBlockNumber)
	fmt.Printf("afterDelayedMessagesRead: %d\n", msg.Header.AfterDelayedMessagesRead)
	fmt.Printf("segments: %d\n", len(msg.Segments))
	for i, segment := range msg.Segments {
		fmt.Printf("  segment %d: %d bytes\n", i, len(segment))
	}
	return nil
}

// seqtool delayed hash

func startDelayed(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("seqtool delayed requires 'hash'")
	}
	switch strings.ToLower(args[0]) {
	case "hash":
		return startDelayedHash(args[1:])
	}
	return fmt.Errorf("seqtool delayed '%s' not supported, valid argument is 'hash'", args[0])
}

type DelayedHashConfig struct {
	Kind        uint8  `koanf:"kind"`
	Poster      string `koanf:"poster"`
	BlockNumber uint64 `koanf:"block-number"`
	Timestamp   uint64 `koanf:"timestamp"`
	RequestId   uint64 `koanf:"request-id"`
	BaseFee     uint64 `koanf:"base-fee"`
	Data        string `koanf:"data"`
}

func startDelayedHash(args []string) error {
	f := flag.NewFlagSet("delayed hash", flag.ContinueOnError)
	f.Uint8("kind", bridge.MessageType_L2Message, "message kind byte")
	f.String("poster", "", "address that posted the message")
	f.Uint64("block-number", 0, "parent chain block number of the message")
	f.Uint64("timestamp", 0, "parent chain timestamp of the message")
	f.Uint64("request-id", 0, "message index in the delayed inbox")
	f.Uint64("base-fee", 0, "parent chain base fee at posting")
	f.String("data", "", "hex-encoded message payload")

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return err
	}
	var config DelayedHashConfig
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return err
	}

	data, err := hex.DecodeString(strings.TrimPrefix(config.Data, "0x"))
	if err != nil {
		return err
	}
	requestId := common.BigToHash(new(big.Int).SetUint64(config.RequestId))
	msgHash := bridge.MessageHash(
		config.Kind,
		common.HexToAddress(config.Poster),
		config.BlockNumber,
		config.Timestamp,
		requestId,
		new(big.Int).SetUint64(config.BaseFee),
		crypto.Keccak256Hash(data),
	)
	fmt.Printf("message hash: %s\n", msgHash)
	return nil
}

// seqtool blob encode

func startBlob(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("seqtool blob requires 'encode'")
	}
	switch strings.ToLower(args[0]) {
	case "encode":
		return startBlobEncode(args[1:])
	}
	return fmt.Errorf("seqtool blob '%s' not supported, valid argument is 'encode'", args[0])
}

type BlobEncodeConfig struct {
	Data string `koanf:"data"`
}

func startBlobEncode(args []string) error {
	f := flag.NewFlagSet("blob encode", flag.ContinueOnError)
	f.String("data", "", "hex-encoded payload to pack into blobs")

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return err
	}
	var config BlobEncodeConfig
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return err
	}

	data, err := hex.DecodeString(strings.TrimPrefix(config.Data, "0x"))
	if err != nil {
		return err
	}
	encoded, err := blobs.EncodeBlobs(data)
	if err != nil {
		return err
	}
	_, versionedHashes, err := blobs.ComputeCommitmentsAndHashes(encoded)
	if err != nil {
		return err
	}
	fmt.Printf("blobs: %d\n", len(encoded))
	for i, h := range versionedHashes {
		fmt.Printf("  blob %d versioned hash: %s\n", i, h)
	}
	return nil
}
