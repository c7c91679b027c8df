// Package jsonrpc implements the JSON-RPC 2.0 wire envelope used between
// walletmux, its clients and the upstream execution engine.
//
// The package covers three concerns:
//
//   - Request and Response envelopes with verbatim id echoing. Ids may be
//     numbers, strings or null; the codec never rewrites them.
//   - Structured errors carrying JSON-RPC 2.0 error codes. Execution-level
//     errors (reverts) keep their original code, message and data payload so
//     upstream tooling can render them faithfully.
//   - TxArgs, the structured view of params[0] for transaction-shaped
//     methods. All scalar fields use go-ethereum's hexutil types, which
//     guarantees the canonical lowercase 0x hex encoding on every value a
//     handler injects: quantities without leading zeros, data with an even
//     digit count.
package jsonrpc
