// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package inbox

import (
	flag "github.com/spf13/pflag"
)

// TimeVariation is the static protocol bound on how far batch time references
// may lag or lead the chain, and on how long a delayed message may wait before
// anyone can force its inclusion.
type TimeVariation struct {
	DelayBlocks   uint64 `koanf:"delay-blocks"`
	FutureBlocks  uint64 `koanf:"future-blocks"`
	DelaySeconds  uint64 `koanf:"delay-seconds"`
	FutureSeconds uint64 `koanf:"future-seconds"`
}

func TimeVariationAddOptions(prefix string, f *flag.FlagSet) {
	f.Uint64(prefix+".delay-blocks", DefaultTimeVariation.DelayBlocks, "max blocks a batch's references may lag, and the strict force-inclusion bound")
	f.Uint64(prefix+".future-blocks", DefaultTimeVariation.FutureBlocks, "max blocks a batch's references may lead")
	f.Uint64(prefix+".delay-seconds", DefaultTimeVariation.DelaySeconds, "max seconds a batch's references may lag, and the strict force-inclusion bound")
	f.Uint64(prefix+".future-seconds", DefaultTimeVariation.FutureSeconds, "max seconds a batch's references may lead")
}

var DefaultTimeVariation = TimeVariation{
	DelayBlocks:   5760,
	FutureBlocks:  64,
	DelaySeconds:  60 * 60 * 24,
	FutureSeconds: 60 * 60,
}

type Config struct {
	MaxDataSize   uint64        `koanf:"max-data-size"`
	UsingFeeToken bool          `koanf:"using-fee-token"`
	TimeVariation TimeVariation `koanf:"time-variation"`
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Uint64(prefix+".max-data-size", DefaultConfig.MaxDataSize, "maximum calldata batch payload size in bytes")
	f.Bool(prefix+".using-fee-token", DefaultConfig.UsingFeeToken, "chain pays fees in a custom token, which disables batch spending reports")
	TimeVariationAddOptions(prefix+".time-variation", f)
}

var DefaultConfig = Config{
	MaxDataSize:   117964,
	UsingFeeToken: false,
	TimeVariation: DefaultTimeVariation,
}
