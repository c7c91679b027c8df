// Package wallet resolves a wallet configuration into an ordered list of
// accounts and, on demand, a signer for a given address.
//
// Three configurations are supported:
//
//   - Fixed: a single address with no signing capability; signing is
//     delegated to the node that owns the key.
//   - HDWallet: hierarchical-deterministic derivation from a BIP-39
//     mnemonic over a BIP-32/44 path template.
//   - LocalKeys: explicit private keys, in input order.
//
// Structural failures (malformed derivation path, malformed private key)
// surface at construction time, before any live traffic is processed.
// Derived signing material lives only in memory for the lifetime of the
// resolver and is never persisted.
package wallet
