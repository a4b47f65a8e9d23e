// Package signer defines the contract with the remote key-management backend.
// The wallet never holds key material; every signature and every transaction
// broadcast is delegated through the Gateway.
package signer

import (
	"context"
	"encoding/json"
)

// Kind identifies what the backend is being asked to do.
type Kind string

const (
	KindMessageSign     Kind = "message_sign"     // raw bytes, eth_sign semantics
	KindPersonalSign    Kind = "personal_sign"    // EIP-191 personal message
	KindTypedData       Kind = "typed_data"       // EIP-712, version in Request
	KindTransactionSign Kind = "transaction_sign" // sign only, return raw tx
	KindTransactionSend Kind = "transaction_send" // sign and broadcast
	KindSendRaw         Kind = "send_raw"         // broadcast a pre-signed tx
)

// Transaction carries the fields of an unsigned transaction as hex-quantity
// strings, already stripped of transport-only fields by the translator.
type Transaction struct {
	To                   string `json:"to,omitempty"`
	Value                string `json:"value,omitempty"`
	Data                 string `json:"data,omitempty"`
	GasLimit             string `json:"gasLimit,omitempty"`
	GasPrice             string `json:"gasPrice,omitempty"`
	Nonce                string `json:"nonce,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
}

// Request is one signing instruction for the backend.
type Request struct {
	Kind    Kind   `json:"kind"`
	Address string `json:"address"`
	ChainID uint64 `json:"chainId"`

	// Message kinds.
	Message []byte `json:"message,omitempty"`

	// Typed-data kinds.
	TypedDataVersion string          `json:"typedDataVersion,omitempty"`
	TypedData        json.RawMessage `json:"typedData,omitempty"`

	// Transaction kinds.
	Transaction *Transaction `json:"transaction,omitempty"`
	RawTx       string       `json:"rawTx,omitempty"`
}

// Output is the backend's answer: a signature for the sign kinds, a
// transaction hash for the send kinds, plus the raw signed payload when the
// backend has one.
type Output struct {
	SignatureOrHash string `json:"signatureOrHash"`
	Raw             string `json:"raw,omitempty"`
}

// SigningError is any failure reported by or while reaching the backend
// (auth expired, remote timeout, node rejection).
type SigningError struct {
	Message string
}

func (e *SigningError) Error() string { return "signing: " + e.Message }

// Gateway is the capability surface the lifecycle manager dispatches to.
type Gateway interface {
	// Sign may suspend for an unbounded time (remote network plus threshold
	// signing). Failures are always *SigningError.
	Sign(ctx context.Context, req Request) (Output, error)

	// Accounts lists the addresses the backend controls for this user.
	Accounts(ctx context.Context) ([]string, error)
}
