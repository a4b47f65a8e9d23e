// Package connector owns the single active peer connection: the session
// handshake, inbound call-request events, and best-effort replies back to the
// dapp. Peer communication is advisory from a wallet-safety standpoint, so
// send failures surface as loggable PeerErrors and never block local state.
package connector

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/keyhaven-io/keyhaven-walletd/internal/logger"
)

// Connector drives at most one peer session at a time.
type Connector struct {
	dial       Dialer
	walletMeta PeerMeta

	mu          sync.Mutex
	tr          Transport
	handlers    Handlers
	topic       string
	bridge      string
	key         string
	clientID    string
	peerID      string
	peerMeta    PeerMeta
	handshakeID int64
	connected   bool
	closed      bool

	nextID atomic.Int64
}

// New creates a connector. A nil dialer uses the websocket transport.
func New(dial Dialer, walletMeta PeerMeta) *Connector {
	if dial == nil {
		dial = DialWebsocket
	}
	c := &Connector{dial: dial, walletMeta: walletMeta, closed: true}
	c.nextID.Store(1)
	return c
}

// Connect establishes the peer transport from a pairing URI or a previously
// stored session descriptor, registers the handlers, and starts listening
// for inbound events. Any live connection is destroyed first through the
// normal disconnect path, so its OnDisconnected fires before the new peer
// exists. Failure to establish is a *HandshakeError.
func (c *Connector) Connect(ctx context.Context, uriOrStored string, h Handlers) error {
	var (
		topic, bridge, key string
		stored             *StoredSession
	)

	if strings.HasPrefix(strings.TrimSpace(uriOrStored), "wc:") {
		uri, err := ParseURI(uriOrStored)
		if err != nil {
			return err
		}
		topic, bridge, key = uri.Topic, uri.Bridge, uri.Key
	} else {
		var s StoredSession
		if err := json.Unmarshal([]byte(uriOrStored), &s); err != nil || s.Topic == "" || s.Bridge == "" {
			return &HandshakeError{Reason: "input is neither a pairing uri nor a stored session", Err: err}
		}
		stored = &s
		topic, bridge, key = s.Topic, s.Bridge, s.Key
	}

	tr, err := c.dial(ctx, bridge)
	if err != nil {
		return &HandshakeError{Reason: "transport", Err: err}
	}

	// Pairing anew while a connection is live: tear the old one down first
	// so the disconnect event precedes any state of the new pairing.
	c.teardown(true)

	c.mu.Lock()
	c.tr = tr
	c.handlers = h
	c.topic = topic
	c.bridge = bridge
	c.key = key
	c.closed = false
	c.connected = false
	if stored != nil {
		c.clientID = stored.ClientID
		c.peerID = stored.PeerID
		c.peerMeta = stored.PeerMeta
		c.handshakeID = stored.HandshakeID
		c.connected = true
	} else {
		c.clientID = uuid.NewString()
		c.peerID = ""
		c.peerMeta = PeerMeta{}
		c.handshakeID = 0
	}
	onConnected := h.OnConnected
	reconnected := stored != nil
	c.mu.Unlock()

	go c.readLoop(tr)

	if reconnected && onConnected != nil {
		onConnected()
	}
	return nil
}

// ApproveSession answers the pending session proposal. The local session is
// considered established even when the peer send fails; the returned
// *PeerError is for logging only.
func (c *Connector) ApproveSession(accounts []string, chainID uint64) error {
	c.mu.Lock()
	tr := c.tr
	id := c.handshakeID
	c.connected = true
	onConnected := c.handlers.OnConnected
	meta := c.walletMeta
	clientID := c.clientID
	c.mu.Unlock()

	if onConnected != nil {
		onConnected()
	}

	err := c.send(tr, rpcEnvelope{
		JSONRPC: "2.0",
		ID:      id,
		Result: sessionStatusParam{
			Approved: true,
			ChainID:  chainID,
			Accounts: accounts,
			PeerID:   clientID,
			PeerMeta: &meta,
		},
	})
	if err != nil {
		return &PeerError{Op: "approveSession", Err: err}
	}
	return nil
}

// RejectSession declines the pending proposal and tears the transport down.
func (c *Connector) RejectSession() error {
	c.mu.Lock()
	tr := c.tr
	id := c.handshakeID
	c.mu.Unlock()

	sendErr := c.send(tr, rpcEnvelope{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: -32000, Message: "session rejected"},
	})

	c.teardown(false)

	if sendErr != nil {
		return &PeerError{Op: "rejectSession", Err: sendErr}
	}
	return nil
}

// UpdateSession pushes the active account/chain to the peer, best-effort.
func (c *Connector) UpdateSession(accounts []string, chainID uint64) error {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()

	params, _ := json.Marshal([]sessionStatusParam{{
		Approved: true,
		ChainID:  chainID,
		Accounts: accounts,
	}})

	err := c.send(tr, rpcEnvelope{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  methodSessionUpdate,
		Params:  params,
	})
	if err != nil {
		return &PeerError{Op: "updateSession", Err: err}
	}
	return nil
}

// ApproveRequest replies to a call request with its wire value.
func (c *Connector) ApproveRequest(requestID int64, result any) error {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()

	err := c.send(tr, rpcEnvelope{JSONRPC: "2.0", ID: requestID, Result: result})
	if err != nil {
		return &PeerError{Op: "approveRequest", Err: err}
	}
	return nil
}

// RejectRequest replies to a call request with an error message.
func (c *Connector) RejectRequest(requestID int64, message string) error {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()

	err := c.send(tr, rpcEnvelope{
		JSONRPC: "2.0",
		ID:      requestID,
		Error:   &rpcError{Code: -32000, Message: message},
	})
	if err != nil {
		return &PeerError{Op: "rejectRequest", Err: err}
	}
	return nil
}

// Disconnect kills the session. Safe to call when already disconnected; the
// local transport state is cleared even when the kill-session send fails.
func (c *Connector) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	tr := c.tr
	c.mu.Unlock()

	params, _ := json.Marshal([]sessionStatusParam{{Approved: false}})
	sendErr := c.send(tr, rpcEnvelope{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  methodSessionUpdate,
		Params:  params,
	})

	c.teardown(true)

	if sendErr != nil {
		return &PeerError{Op: "killSession", Err: sendErr}
	}
	return nil
}

// Stored returns the serializable descriptor of the established session, or
// nil when no session is connected.
func (c *Connector) Stored() *StoredSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.closed {
		return nil
	}
	return &StoredSession{
		Topic:       c.topic,
		Bridge:      c.bridge,
		Key:         c.key,
		ClientID:    c.clientID,
		PeerID:      c.peerID,
		PeerMeta:    c.peerMeta,
		HandshakeID: c.handshakeID,
	}
}

// PeerMeta returns the proposal-time peer metadata.
func (c *Connector) PeerMeta() PeerMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerMeta
}

func (c *Connector) send(tr Transport, env rpcEnvelope) error {
	if tr == nil {
		return errNoTransport
	}
	return tr.WriteJSON(env)
}

// readLoop is the single reader for one transport's lifetime.
func (c *Connector) readLoop(tr Transport) {
	for {
		data, err := tr.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stale := c.tr != tr || c.closed
			c.mu.Unlock()
			if !stale {
				logger.Info("peer transport closed", "error", err)
				c.teardown(true)
			}
			return
		}
		c.handleFrame(tr, data)
	}
}

func (c *Connector) handleFrame(tr Transport, data []byte) {
	var env rpcEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Warn("dropping malformed peer frame", "error", err)
		return
	}

	c.mu.Lock()
	if c.tr != tr || c.closed {
		c.mu.Unlock()
		return
	}
	handlers := c.handlers
	c.mu.Unlock()

	switch env.Method {
	case methodSessionRequest:
		var params []sessionRequestParam
		if err := json.Unmarshal(env.Params, &params); err != nil || len(params) == 0 {
			logger.Warn("malformed session proposal", "error", err)
			return
		}
		c.mu.Lock()
		c.handshakeID = env.ID
		c.peerID = params[0].PeerID
		c.peerMeta = params[0].PeerMeta
		c.mu.Unlock()
		if handlers.OnSessionProposed != nil {
			handlers.OnSessionProposed(params[0].PeerMeta)
		}

	case methodSessionUpdate:
		var params []sessionStatusParam
		if err := json.Unmarshal(env.Params, &params); err != nil || len(params) == 0 {
			return
		}
		if !params[0].Approved {
			logger.Info("peer ended session")
			c.teardown(true)
		}

	case "":
		// A response to one of our own sends; nothing to do.

	default:
		if handlers.OnCallRequest != nil {
			handlers.OnCallRequest(CallRequest{ID: env.ID, Method: env.Method, Params: env.Params})
		}
	}
}

// teardown closes the transport, unsubscribes the handlers, and optionally
// fires OnDisconnected exactly once per connection.
func (c *Connector) teardown(fire bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.connected = false
	if c.tr != nil {
		_ = c.tr.Close()
	}
	onDisconnected := c.handlers.OnDisconnected
	c.handlers = Handlers{}
	c.mu.Unlock()

	if fire && onDisconnected != nil {
		onDisconnected()
	}
}
