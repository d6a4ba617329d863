// Package evm provides EVM on-chain price source adapters.
package evm

import "errors"

var (
	// ErrRPCURLRequired indicates that rpc_url is required.
	ErrRPCURLRequired = errors.New("rpc_url is required")
	// ErrStaleRound indicates the aggregator answered for an older round.
	ErrStaleRound = errors.New("stale aggregator round")
)
