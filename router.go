package main

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/walletmux/walletmux/pkg/jsonrpc"
	"github.com/walletmux/walletmux/pkg/log"
	"github.com/walletmux/walletmux/pkg/pipeline"
	"github.com/walletmux/walletmux/pkg/provider"
	"github.com/walletmux/walletmux/pkg/wallet"
)

const clientVersion = "walletmux/v1.0.0"

// buildResolver constructs the account resolver for the configured
// mode. Invalid wallet parameters fail here, before anything listens.
func buildResolver(cfg *Config) (*wallet.Resolver, error) {
	switch Mode(cfg.Mode) {
	case ModeFixed:
		return wallet.NewFixed(common.HexToAddress(cfg.Address)), nil
	case ModeHDWallet:
		return wallet.NewHDWallet(wallet.HDConfig{
			Mnemonic:       cfg.Mnemonic,
			DerivationPath: cfg.DerivationPath,
			InitialIndex:   cfg.InitialIndex,
			Count:          cfg.AccountCount,
			Passphrase:     cfg.Passphrase,
		})
	case ModeLocalKeys:
		return wallet.NewLocalKeys(cfg.PrivateKeyList())
	default:
		return nil, errors.Errorf("unknown mode %q", cfg.Mode)
	}
}

// buildChain composes the handler chain for one upstream connection.
// Handlers run in transaction-assembly order; the signing handler is
// present only in managed modes, so fixed mode forwards unsigned calls.
func buildChain(cfg *Config, resolver *wallet.Resolver, prov provider.Provider, logger log.Logger) (*pipeline.Chain, error) {
	multiplier, err := cfg.GasMultiplierDecimal()
	if err != nil {
		return nil, err
	}

	var gasPriceOverride *big.Int
	if cfg.GasPriceWei > 0 {
		gasPriceOverride = new(big.Int).SetUint64(cfg.GasPriceWei)
	}

	handlers := []pipeline.Handler{
		pipeline.ClientVersionHandler(clientVersion),
		pipeline.NetVersionHandler(cfg.ChainID),
		pipeline.AccountsHandler(resolver),
		pipeline.SenderHandler(resolver),
		pipeline.ChainIDHandler(cfg.ChainID),
		pipeline.FeeHandler(gasPriceOverride),
		pipeline.GasLimitHandler(cfg.GasLimit, multiplier),
		pipeline.NonceHandler(pipeline.NewNonceTracker()),
	}
	if resolver.Managed() {
		handlers = append(handlers, pipeline.SigningHandler(resolver))
	}
	handlers = append(handlers, pipeline.ProviderHandler(prov))

	return pipeline.NewChain(logger, handlers...), nil
}

// recordingDispatcher wraps the chain so every dispatched call lands in
// the history store. Store failures are logged, never surfaced to the
// caller.
type recordingDispatcher struct {
	chain  *pipeline.Chain
	store  *HistoryStore
	logger log.Logger
}

func newRecordingDispatcher(chain *pipeline.Chain, store *HistoryStore, logger log.Logger) *recordingDispatcher {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &recordingDispatcher{
		chain:  chain,
		store:  store,
		logger: logger.WithName("history"),
	}
}

func (d *recordingDispatcher) Handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	// Capture the inbound envelope before handlers mutate it; the
	// handlers rewrite params (and sometimes the method) in place.
	inbound := *req
	inbound.Params = append([]json.RawMessage(nil), req.Params...)

	start := time.Now()
	res := d.chain.Handle(ctx, req)

	if err := d.store.Record(&inbound, res, time.Since(start)); err != nil {
		d.logger.Warn("failed to record call", "method", inbound.Method, "error", err)
	}
	return res
}
