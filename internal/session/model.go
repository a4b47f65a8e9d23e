// Package session owns the request lifecycle: the single peer session, the
// pending-request queue, and the per-account result history. All mutation
// happens here; the connector and signing gateway are delegates it drives.
package session

import (
	"encoding/json"
	"time"

	"github.com/keyhaven-io/keyhaven-walletd/internal/connector"
	"github.com/keyhaven-io/keyhaven-walletd/internal/constants"
)

// Session describes the one active peer connection.
type Session struct {
	PeerID               string             `json:"peerId,omitempty"`
	PeerMeta             connector.PeerMeta `json:"peerMeta"`
	Connected            bool               `json:"connected"`
	ActiveAccountAddress string             `json:"activeAccountAddress,omitempty"`
	ActiveChainID        uint64             `json:"activeChainId,omitempty"`
}

// PendingRequest is an inbound call awaiting human disposition. Method stays
// a raw wire string here; it is validated at approval time so an unsupported
// method becomes a peer-facing rejection rather than a dropped frame.
type PendingRequest struct {
	ID         int64           `json:"id"`
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the terminal record of an approved request that reached the
// signing gateway. Peer metadata is snapshotted at disposition time; the
// session may have changed or disconnected by the time a signing completes.
type Result struct {
	AccountAddress string             `json:"accountAddress"`
	PeerMeta       connector.PeerMeta `json:"peerMeta"`
	RequestMethod  string             `json:"requestMethod"`
	RequestParams  json.RawMessage    `json:"requestParams,omitempty"`
	Status         string             `json:"status"`
	Value          string             `json:"value,omitempty"`
	ErrorDetail    string             `json:"errorDetail,omitempty"`
	DisposedAt     time.Time          `json:"disposedAt"`
}

// persistedSession is the durable shape of an established session.
type persistedSession struct {
	Peer                 connector.StoredSession `json:"peer"`
	ActiveAccountAddress string                  `json:"activeAccountAddress"`
	ActiveChainID        uint64                  `json:"activeChainId"`
}

// snapshot is the single record the store holds: session descriptor or null,
// the pending queue in receipt order, and history keyed by lower-cased
// account address, newest first.
type snapshot struct {
	Schema  int                 `json:"schema"`
	Session *persistedSession   `json:"session"`
	Pending []PendingRequest    `json:"pending"`
	History map[string][]Result `json:"history"`
}

func newEmptySnapshot() snapshot {
	return snapshot{
		Schema:  constants.SchemaV1,
		Pending: []PendingRequest{},
		History: map[string][]Result{},
	}
}
