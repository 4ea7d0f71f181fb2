// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/rollforge/seqinbox/bridge"
	"github.com/rollforge/seqinbox/cmd/genericconf"
	"github.com/rollforge/seqinbox/inbox"
)

// StartServer serves the inbox API over HTTP JSON-RPC until ctx is canceled or
// the returned server is shut down.
func StartServer(
	ctx context.Context,
	addr string,
	port uint64,
	timeouts genericconf.HTTPServerTimeoutConfig,
	si *inbox.SequencerInbox,
	b *bridge.Bridge,
) (*http.Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return nil, err
	}
	return startServerOnListener(ctx, listener, timeouts, si, b)
}

func startServerOnListener(
	ctx context.Context,
	listener net.Listener,
	timeouts genericconf.HTTPServerTimeoutConfig,
	si *inbox.SequencerInbox,
	b *bridge.Bridge,
) (*http.Server, error) {
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("seqinbox", NewInboxAPI(si, b)); err != nil {
		return nil, err
	}

	srv := &http.Server{
		Handler:           rpcServer,
		ReadTimeout:       timeouts.ReadTimeout,
		ReadHeaderTimeout: timeouts.ReadHeaderTimeout,
		WriteTimeout:      timeouts.WriteTimeout,
		IdleTimeout:       timeouts.IdleTimeout,
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("inbox rpc server failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	log.Info("inbox rpc server started", "addr", listener.Addr())
	return srv, nil
}
