package connector

import (
	"encoding/json"
	"errors"
	"fmt"
)

var errNoTransport = errors.New("no active transport")

// PeerMeta is the dapp's self-description, captured at proposal time. All
// fields may be absent; the wallet never trusts them for anything but display.
type PeerMeta struct {
	Name        string   `json:"name,omitempty"`
	URL         string   `json:"url,omitempty"`
	Description string   `json:"description,omitempty"`
	Icons       []string `json:"icons,omitempty"`
}

// CallRequest is one inbound wallet RPC call from the peer. ID correlates
// the eventual approve/reject reply.
type CallRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Handlers are registered at Connect time and unsubscribed on Disconnect.
// They are invoked from the connector's single reader goroutine.
type Handlers struct {
	OnSessionProposed func(meta PeerMeta)
	OnConnected       func()
	OnCallRequest     func(req CallRequest)
	OnDisconnected    func()
}

// StoredSession is the serialized descriptor that lets a page-reloaded
// wallet re-establish the same peer session.
type StoredSession struct {
	Topic       string   `json:"topic"`
	Bridge      string   `json:"bridge"`
	Key         string   `json:"key,omitempty"`
	ClientID    string   `json:"clientId"`
	PeerID      string   `json:"peerId"`
	PeerMeta    PeerMeta `json:"peerMeta"`
	HandshakeID int64    `json:"handshakeId"`
}

// HandshakeError means the peer connection could not be established:
// malformed URI or transport failure. Existing sessions are unaffected.
type HandshakeError struct {
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake: %s: %v", e.Reason, e.Err)
	}
	return "handshake: " + e.Reason
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// PeerError is a best-effort send to the peer failing. It is logged by
// callers and never blocks local state transitions.
type PeerError struct {
	Op  string
	Err error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("peer %s: %v", e.Op, e.Err)
}

func (e *PeerError) Unwrap() error { return e.Err }

// JSON-RPC envelope on the bridge.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Peer-protocol method names.
const (
	methodSessionRequest = "wc_sessionRequest"
	methodSessionUpdate  = "wc_sessionUpdate"
)

type sessionRequestParam struct {
	PeerID   string   `json:"peerId"`
	PeerMeta PeerMeta `json:"peerMeta"`
	ChainID  uint64   `json:"chainId,omitempty"`
}

type sessionStatusParam struct {
	Approved bool      `json:"approved"`
	ChainID  uint64    `json:"chainId,omitempty"`
	Accounts []string  `json:"accounts,omitempty"`
	PeerID   string    `json:"peerId,omitempty"`
	PeerMeta *PeerMeta `json:"peerMeta,omitempty"`
}
