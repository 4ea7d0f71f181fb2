// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/exp"

	"github.com/rollforge/seqinbox/api"
	"github.com/rollforge/seqinbox/bridge"
	"github.com/rollforge/seqinbox/cmd/genericconf"
	"github.com/rollforge/seqinbox/cmd/util/confighelpers"
	"github.com/rollforge/seqinbox/delaybuffer"
	"github.com/rollforge/seqinbox/inbox"
)

type SeqInboxConfig struct {
	RPCAddr           string                              `koanf:"rpc-addr"`
	RPCPort           uint64                              `koanf:"rpc-port"`
	RPCServerTimeouts genericconf.HTTPServerTimeoutConfig `koanf:"rpc-server-timeouts"`

	Persistent string `koanf:"persistent"`
	ChainID    uint64 `koanf:"chain-id"`
	Owner      string `koanf:"owner"`

	BatchPosters []string                 `koanf:"batch-posters"`
	Inbox        inbox.Config             `koanf:"inbox"`
	DelayBuffer  delaybuffer.BufferConfig `koanf:"delay-buffer"`

	ConfConfig  genericconf.ConfConfig        `koanf:"conf"`
	LogLevel    string                        `koanf:"log-level"`
	LogType     string                        `koanf:"log-type"`
	FileLogging genericconf.FileLoggingConfig `koanf:"file-logging"`

	Metrics       bool                            `koanf:"metrics"`
	MetricsServer genericconf.MetricsServerConfig `koanf:"metrics-server"`
}

var DefaultSeqInboxConfig = SeqInboxConfig{
	RPCAddr:           "localhost",
	RPCPort:           9642,
	RPCServerTimeouts: genericconf.HTTPServerTimeoutConfigDefault,
	Persistent:        "",
	ChainID:           412346,
	Owner:             "",
	BatchPosters:      nil,
	Inbox:             inbox.DefaultConfig,
	DelayBuffer:       delaybuffer.DefaultBufferConfig,
	ConfConfig:        genericconf.ConfConfigDefault,
	LogLevel:          "info",
	LogType:           "plaintext",
	FileLogging:       genericconf.DefaultFileLoggingConfig,
	Metrics:           false,
	MetricsServer:     genericconf.MetricsServerConfigDefault,
}

func main() {
	if err := startup(); err != nil {
		log.Error("error running seqinbox", "err", err)
		os.Exit(1)
	}
}

func printSampleUsage(progname string) {
	fmt.Printf("\n")
	fmt.Printf("Sample usage:                  %s --owner 0x... --help \n", progname)
}

func parseSeqInbox(args []string) (*SeqInboxConfig, error) {
	f := flag.NewFlagSet("seqinbox", flag.ContinueOnError)
	f.String("rpc-addr", DefaultSeqInboxConfig.RPCAddr, "HTTP-RPC server listening interface")
	f.Uint64("rpc-port", DefaultSeqInboxConfig.RPCPort, "HTTP-RPC server listening port")
	genericconf.HTTPServerTimeoutConfigAddOptions("rpc-server-timeouts", f)

	f.String("persistent", DefaultSeqInboxConfig.Persistent, "directory to persist the ledger in (empty = in-memory)")
	f.Uint64("chain-id", DefaultSeqInboxConfig.ChainID, "chain id the inbox was deployed for")
	f.String("owner", DefaultSeqInboxConfig.Owner, "address of the chain owner")
	f.StringSlice("batch-posters", DefaultSeqInboxConfig.BatchPosters, "addresses registered as batch posters at startup")

	inbox.ConfigAddOptions("inbox", f)
	delaybuffer.BufferConfigAddOptions("delay-buffer", f)

	genericconf.ConfConfigAddOptions("conf", f)
	f.String("log-level", DefaultSeqInboxConfig.LogLevel, "log level, valid values are CRIT, ERROR, WARN, INFO, DEBUG, TRACE")
	f.String("log-type", DefaultSeqInboxConfig.LogType, "log type (plaintext or json)")
	genericconf.FileLoggingConfigAddOptions("file-logging", f)

	f.Bool("metrics", DefaultSeqInboxConfig.Metrics, "enable metrics")
	genericconf.MetricsServerAddOptions("metrics-server", f)

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return nil, err
	}

	var config SeqInboxConfig
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return nil, err
	}
	if config.ConfConfig.Dump {
		err = confighelpers.DumpConfig(k, map[string]interface{}{
			"conf.string": "",
		})
		if err != nil {
			return nil, fmt.Errorf("error removing extra parameters before dump: %w", err)
		}
	}
	return &config, nil
}

// staticRollup resolves ownership to a fixed address taken from configuration.
type staticRollup struct {
	owner common.Address
}

func (r *staticRollup) Owner() common.Address {
	return r.owner
}

func startup() error {
	config, err := parseSeqInbox(os.Args[1:])
	if err != nil {
		confighelpers.PrintErrorAndExit(err, printSampleUsage)
	}
	if err := genericconf.InitLog(config.LogType, config.LogLevel, &config.FileLogging); err != nil {
		return err
	}
	if !common.IsHexAddress(config.Owner) {
		return errors.New("please specify --owner as a valid address")
	}
	owner := common.HexToAddress(config.Owner)

	if config.Metrics {
		go metrics.CollectProcessMetrics(config.MetricsServer.UpdateInterval)
		exp.Setup(fmt.Sprintf("%v:%v", config.MetricsServer.Addr, config.MetricsServer.Port))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rollup := &staticRollup{owner: owner}
	var b *bridge.Bridge
	if config.Persistent != "" {
		b, err = bridge.OpenBridge(rollup, config.Persistent)
		if err != nil {
			return err
		}
	} else {
		b = bridge.NewBridge(rollup)
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Error("error closing ledger", "err", err)
		}
	}()

	si, err := inbox.NewSequencerInbox(b, config.Inbox, new(big.Int).SetUint64(config.ChainID), config.DelayBuffer)
	if err != nil {
		return err
	}

	adminEnv := &inbox.BlockContext{Caller: owner}
	for _, poster := range config.BatchPosters {
		if !common.IsHexAddress(poster) {
			return fmt.Errorf("invalid batch poster address: %s", poster)
		}
		if err := si.SetIsBatchPoster(adminEnv, common.HexToAddress(poster), true); err != nil {
			return err
		}
	}

	srv, err := api.StartServer(ctx, config.RPCAddr, config.RPCPort, config.RPCServerTimeouts, si, b)
	if err != nil {
		return err
	}
	log.Info("seqinbox started",
		"rpcAddr", config.RPCAddr,
		"rpcPort", config.RPCPort,
		"chainId", config.ChainID,
		"delayBufferable", si.IsDelayBufferable(),
	)

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	<-sigint

	return srv.Shutdown(ctx)
}
