package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/keyhaven-io/keyhaven-walletd/internal/chains"
	"github.com/keyhaven-io/keyhaven-walletd/internal/connector"
	"github.com/keyhaven-io/keyhaven-walletd/internal/constants"
	"github.com/keyhaven-io/keyhaven-walletd/internal/logger"
	"github.com/keyhaven-io/keyhaven-walletd/internal/signer"
	"github.com/keyhaven-io/keyhaven-walletd/internal/wallet"
)

// Connector is the slice of the peer connector the manager drives. Defined
// here so tests can substitute a fake.
//
// Connect destroys any live connection first and fires its OnDisconnected
// before the new pairing exists; the manager relies on that ordering to
// clear the old session, its queue, and any unanswered proposal.
type Connector interface {
	Connect(ctx context.Context, uriOrStored string, h connector.Handlers) error
	ApproveSession(accounts []string, chainID uint64) error
	RejectSession() error
	UpdateSession(accounts []string, chainID uint64) error
	ApproveRequest(requestID int64, result any) error
	RejectRequest(requestID int64, message string) error
	Disconnect() error
	Stored() *connector.StoredSession
	PeerMeta() connector.PeerMeta
}

// Store persists the manager's snapshot.
type Store interface {
	Save(v any) error
	Load(out any) (bool, error)
}

// Manager is the request lifecycle state machine. It owns the session and
// the pending queue exclusively; everything else in the process observes
// them through accessor copies.
//
// Lock discipline: m.mu guards session, pending, history, inFlight and
// epoch. It is never held across a connector or gateway call, because the
// connector re-enters the manager through its handlers and the gateway can
// block for minutes.
type Manager struct {
	conn       Connector
	gateway    signer.Gateway
	translator *wallet.Translator
	registry   *chains.Registry
	store      Store

	mu       sync.Mutex
	accounts []string
	session  Session
	proposal *connector.PeerMeta
	pending  []PendingRequest
	history  map[string][]Result
	inFlight map[int64]struct{}

	// epoch increments on every disconnect. A signing completion whose
	// epoch no longer matches belongs to a dead session and is discarded.
	epoch uint64
}

// NewManager wires the lifecycle manager. accounts is the set of addresses
// the signing gateway controls, fetched once at startup.
func NewManager(conn Connector, gateway signer.Gateway, registry *chains.Registry, st Store, accounts []string) *Manager {
	return &Manager{
		conn:       conn,
		gateway:    gateway,
		translator: wallet.NewTranslator(registry),
		registry:   registry,
		store:      st,
		accounts:   accounts,
		history:    map[string][]Result{},
		inFlight:   map[int64]struct{}{},
	}
}

func (m *Manager) handlers() connector.Handlers {
	return connector.Handlers{
		OnSessionProposed: m.onSessionProposed,
		OnConnected:       m.onConnected,
		OnCallRequest:     m.onCallRequest,
		OnDisconnected:    m.onDisconnected,
	}
}

// Connect establishes a new peer connection from a pairing URI and starts
// listening for the session proposal. A session or proposal left over from
// an earlier pairing is destroyed through the connector's disconnect path.
func (m *Manager) Connect(ctx context.Context, uri string) error {
	return m.conn.Connect(ctx, uri, m.handlers())
}

// Recover restores state from the persisted snapshot and, when a session
// descriptor survived, re-establishes the peer connection. Called once at
// process start.
func (m *Manager) Recover(ctx context.Context) {
	var snap snapshot
	found, err := m.store.Load(&snap)
	if err != nil {
		logger.Warn("state snapshot unreadable, starting fresh", "error", err)
		return
	}
	if !found {
		return
	}

	m.mu.Lock()
	if snap.History != nil {
		m.history = snap.History
	}
	m.pending = snap.Pending
	if snap.Session != nil {
		m.session = Session{
			PeerID:               snap.Session.Peer.PeerID,
			PeerMeta:             snap.Session.Peer.PeerMeta,
			ActiveAccountAddress: snap.Session.ActiveAccountAddress,
			ActiveChainID:        snap.Session.ActiveChainID,
		}
	}
	stored := snap.Session
	m.mu.Unlock()

	if stored == nil {
		return
	}

	js, err := json.Marshal(stored.Peer)
	if err != nil {
		logger.Warn("stored session unserializable, dropping", "error", err)
		m.dropRecoveredSession()
		return
	}
	if err := m.conn.Connect(ctx, string(js), m.handlers()); err != nil {
		logger.Warn("stored session could not reconnect", "error", err)
		m.dropRecoveredSession()
		return
	}
	logger.Info("session recovered", "peer", stored.Peer.PeerID)
}

// dropRecoveredSession clears a session (and its queue) that could not be
// re-established after a restart.
func (m *Manager) dropRecoveredSession() {
	m.mu.Lock()
	m.session = Session{}
	m.pending = nil
	m.persistLocked()
	m.mu.Unlock()
}

// Proposal returns the dapp metadata of an unanswered session proposal, or
// nil when none is waiting.
func (m *Manager) Proposal() *connector.PeerMeta {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.proposal == nil {
		return nil
	}
	meta := *m.proposal
	return &meta
}

// ApproveSession answers the pending proposal with the given signer context.
// Validation failures are operator input errors and are returned; peer send
// failures are logged and the session is established regardless.
func (m *Manager) ApproveSession(accountAddress string, chainID uint64) error {
	m.mu.Lock()
	if m.proposal == nil {
		m.mu.Unlock()
		return errors.New("no session proposal waiting")
	}
	if !m.ownsAccountLocked(accountAddress) {
		m.mu.Unlock()
		return fmt.Errorf("unknown account: %s", accountAddress)
	}
	if !m.registry.Has(chainID) {
		m.mu.Unlock()
		return &wallet.UnknownChainError{ChainID: chainID}
	}
	meta := *m.proposal
	m.proposal = nil
	m.session = Session{
		PeerMeta:             meta,
		ActiveAccountAddress: accountAddress,
		ActiveChainID:        chainID,
	}
	m.mu.Unlock()

	if err := m.conn.ApproveSession([]string{accountAddress}, chainID); err != nil {
		logger.Warn("session approval not delivered", "error", err)
	}
	return nil
}

// RejectSession declines the pending proposal.
func (m *Manager) RejectSession() error {
	m.mu.Lock()
	if m.proposal == nil {
		m.mu.Unlock()
		return errors.New("no session proposal waiting")
	}
	m.proposal = nil
	m.mu.Unlock()

	if err := m.conn.RejectSession(); err != nil {
		logger.Warn("session rejection not delivered", "error", err)
	}
	return nil
}

// Disconnect ends the active session. Idempotent; the connector fires the
// disconnect handler which clears local state.
func (m *Manager) Disconnect() {
	if err := m.conn.Disconnect(); err != nil {
		logger.Warn("session teardown not delivered", "error", err)
	}
}

// Approve disposes a pending request with a human approval. Every outcome
// is absorbed here: translation failures and gateway failures become peer
// rejections (the latter also a Result), never returned faults. Approving an
// absent or already-in-flight id is a logged no-op.
func (m *Manager) Approve(ctx context.Context, requestID int64) {
	m.mu.Lock()
	req, ok := m.findPendingLocked(requestID)
	if !ok {
		m.mu.Unlock()
		logger.Info("approve for unknown request", "id", requestID)
		return
	}
	if _, busy := m.inFlight[requestID]; busy {
		m.mu.Unlock()
		logger.Info("approve for in-flight request", "id", requestID)
		return
	}
	m.inFlight[requestID] = struct{}{}
	tctx := wallet.Context{
		AccountAddress: m.session.ActiveAccountAddress,
		ChainID:        m.session.ActiveChainID,
	}
	peer := m.session.PeerMeta
	epoch := m.epoch
	m.mu.Unlock()

	method, _ := wallet.ParseMethod(req.Method)
	instr, err := m.translator.Translate(method, req.Params, tctx)
	if err != nil {
		logger.Warn("request not translatable", "id", requestID, "method", req.Method, "error", err)
		if m.finishWithoutResult(requestID, epoch) {
			if perr := m.conn.RejectRequest(requestID, err.Error()); perr != nil {
				logger.Warn("rejection not delivered", "id", requestID, "error", perr)
			}
		}
		return
	}

	switch instr.Effect {
	case wallet.EffectAddChain:
		m.approveAddChain(requestID, epoch, instr.AddChain)
	case wallet.EffectSwitchChain:
		m.approveSwitchChain(requestID, epoch, instr.SwitchChainID)
	default:
		m.approveSigning(ctx, req, method, epoch, tctx, peer, instr.Sign)
	}
}

// approveAddChain mutates the registry and replies null. No Result is
// recorded; no signature occurred.
func (m *Manager) approveAddChain(requestID int64, epoch uint64, desc *chains.Descriptor) {
	if desc != nil {
		if err := m.registry.Add(*desc); err != nil && !errors.Is(err, chains.ErrDuplicateChain) {
			logger.Warn("chain not added", "chainId", desc.ChainID, "error", err)
			if m.finishWithoutResult(requestID, epoch) {
				if perr := m.conn.RejectRequest(requestID, err.Error()); perr != nil {
					logger.Warn("rejection not delivered", "id", requestID, "error", perr)
				}
			}
			return
		}
		logger.Info("chain added", "chainId", desc.ChainID, "name", desc.Name)
	}

	if m.finishWithoutResult(requestID, epoch) {
		if err := m.conn.ApproveRequest(requestID, nil); err != nil {
			logger.Warn("reply not delivered", "id", requestID, "error", err)
		}
	}
}

// approveSwitchChain moves the session onto an already-registered chain,
// pushes a session update, and replies null. No Result is recorded.
func (m *Manager) approveSwitchChain(requestID int64, epoch uint64, chainID uint64) {
	m.mu.Lock()
	account := ""
	if m.epoch == epoch {
		m.session.ActiveChainID = chainID
		account = m.session.ActiveAccountAddress
	}
	m.mu.Unlock()

	if !m.finishWithoutResult(requestID, epoch) {
		return
	}
	if account != "" {
		if err := m.conn.UpdateSession([]string{account}, chainID); err != nil {
			logger.Warn("session update not delivered", "error", err)
		}
	}
	if err := m.conn.ApproveRequest(requestID, nil); err != nil {
		logger.Warn("reply not delivered", "id", requestID, "error", err)
	}
}

// approveSigning drives one instruction through the gateway and reconciles
// exactly one Result. The gateway call can take minutes; if the session dies
// while it is out, the completion is discarded.
func (m *Manager) approveSigning(ctx context.Context, req PendingRequest, method wallet.Method, epoch uint64, tctx wallet.Context, peer connector.PeerMeta, sreq *signer.Request) {
	out, signErr := m.gateway.Sign(ctx, *sreq)

	m.mu.Lock()
	if m.epoch != epoch {
		delete(m.inFlight, req.ID)
		m.mu.Unlock()
		logger.Info("discarding signing completion for dead session", "id", req.ID)
		return
	}

	res := Result{
		AccountAddress: tctx.AccountAddress,
		PeerMeta:       peer,
		RequestMethod:  req.Method,
		RequestParams:  req.Params,
		DisposedAt:     time.Now().UTC(),
	}
	wire := ""
	if signErr != nil {
		res.Status = StatusError
		res.ErrorDetail = signErr.Error()
	} else {
		res.Status = StatusSuccess
		wire = wallet.FormatResult(method, out)
		res.Value = wire
	}
	m.appendResultLocked(res)
	m.removePendingLocked(req.ID)
	delete(m.inFlight, req.ID)
	m.persistLocked()
	m.mu.Unlock()

	if signErr != nil {
		logger.Warn("signing failed", "id", req.ID, "method", req.Method, "error", signErr)
		if err := m.conn.RejectRequest(req.ID, signErr.Error()); err != nil {
			logger.Warn("rejection not delivered", "id", req.ID, "error", err)
		}
		return
	}
	logger.Info("request approved", "id", req.ID, "method", req.Method)
	if err := m.conn.ApproveRequest(req.ID, wire); err != nil {
		logger.Warn("reply not delivered", "id", req.ID, "error", err)
	}
}

// Reject disposes a pending request with a human rejection. The request
// leaves the queue and the peer is told; no Result is recorded. Rejecting an
// absent or in-flight id is a logged no-op.
func (m *Manager) Reject(requestID int64) {
	m.mu.Lock()
	if _, ok := m.findPendingLocked(requestID); !ok {
		m.mu.Unlock()
		logger.Info("reject for unknown request", "id", requestID)
		return
	}
	if _, busy := m.inFlight[requestID]; busy {
		m.mu.Unlock()
		logger.Info("reject for in-flight request", "id", requestID)
		return
	}
	m.removePendingLocked(requestID)
	m.persistLocked()
	m.mu.Unlock()

	logger.Info("request rejected", "id", requestID)
	if err := m.conn.RejectRequest(requestID, constants.UserRejectedText); err != nil {
		logger.Warn("rejection not delivered", "id", requestID, "error", err)
	}
}

// SwitchActiveAccount changes the signer context for future approvals and
// pushes a best-effort session update. In-flight requests keep the context
// they were approved under.
func (m *Manager) SwitchActiveAccount(address string) error {
	m.mu.Lock()
	if !m.ownsAccountLocked(address) {
		m.mu.Unlock()
		return fmt.Errorf("unknown account: %s", address)
	}
	m.session.ActiveAccountAddress = address
	connected := m.session.Connected
	chainID := m.session.ActiveChainID
	m.persistLocked()
	m.mu.Unlock()

	if connected {
		if err := m.conn.UpdateSession([]string{address}, chainID); err != nil {
			logger.Warn("session update not delivered", "error", err)
		}
	}
	return nil
}

// SwitchActiveChain changes the active chain for future approvals and pushes
// a best-effort session update.
func (m *Manager) SwitchActiveChain(chainID uint64) error {
	if !m.registry.Has(chainID) {
		return &wallet.UnknownChainError{ChainID: chainID}
	}

	m.mu.Lock()
	m.session.ActiveChainID = chainID
	connected := m.session.Connected
	account := m.session.ActiveAccountAddress
	m.persistLocked()
	m.mu.Unlock()

	if connected && account != "" {
		if err := m.conn.UpdateSession([]string{account}, chainID); err != nil {
			logger.Warn("session update not delivered", "error", err)
		}
	}
	return nil
}

// Current returns a copy of the session descriptor.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Accounts returns the addresses the gateway controls.
func (m *Manager) Accounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.accounts...)
}

// Pending returns the queue in receipt order.
func (m *Manager) Pending() []PendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PendingRequest(nil), m.pending...)
}

// History returns the account's results, newest first.
func (m *Manager) History(accountAddress string) []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Result(nil), m.history[strings.ToLower(accountAddress)]...)
}

// HistoryAccounts lists the addresses with at least one recorded result.
func (m *Manager) HistoryAccounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.history))
	for k := range m.history {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Connector event handlers. Invoked from the connector's reader goroutine
// (or synchronously from within a connector call), never with m.mu held.

func (m *Manager) onSessionProposed(meta connector.PeerMeta) {
	logger.Info("session proposed", "dapp", meta.Name, "url", meta.URL)
	m.mu.Lock()
	m.proposal = &meta
	m.mu.Unlock()
}

func (m *Manager) onConnected() {
	stored := m.conn.Stored()

	m.mu.Lock()
	m.session.Connected = true
	m.session.PeerMeta = m.conn.PeerMeta()
	if stored != nil {
		m.session.PeerID = stored.PeerID
	}
	m.persistLocked()
	m.mu.Unlock()
	logger.Info("session connected")
}

func (m *Manager) onCallRequest(req connector.CallRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.findPendingLocked(req.ID); exists {
		logger.Info("duplicate call request dropped", "id", req.ID)
		return
	}
	m.pending = append(m.pending, PendingRequest{
		ID:         req.ID,
		Method:     req.Method,
		Params:     req.Params,
		ReceivedAt: time.Now().UTC(),
	})
	m.persistLocked()
	logger.Info("call request queued", "id", req.ID, "method", req.Method)
}

func (m *Manager) onDisconnected() {
	m.mu.Lock()
	m.epoch++
	m.session = Session{}
	m.proposal = nil
	m.pending = nil
	m.persistLocked()
	m.mu.Unlock()
	logger.Info("session disconnected")
}

// finishWithoutResult removes a disposed request that produced no Result
// (translation failures, chain management) and releases its in-flight slot.
// Reports whether the session was still the one the disposition started
// under; when it is not, the queue is already cleared and no peer reply
// should follow.
func (m *Manager) finishWithoutResult(requestID int64, epoch uint64) bool {
	m.mu.Lock()
	live := m.epoch == epoch
	if live {
		m.removePendingLocked(requestID)
		m.persistLocked()
	}
	delete(m.inFlight, requestID)
	m.mu.Unlock()
	return live
}

func (m *Manager) findPendingLocked(requestID int64) (PendingRequest, bool) {
	for _, p := range m.pending {
		if p.ID == requestID {
			return p, true
		}
	}
	return PendingRequest{}, false
}

func (m *Manager) removePendingLocked(requestID int64) {
	next := m.pending[:0]
	for _, p := range m.pending {
		if p.ID != requestID {
			next = append(next, p)
		}
	}
	m.pending = next
}

func (m *Manager) appendResultLocked(res Result) {
	key := strings.ToLower(res.AccountAddress)
	m.history[key] = append([]Result{res}, m.history[key]...)
}

func (m *Manager) ownsAccountLocked(address string) bool {
	for _, a := range m.accounts {
		if strings.EqualFold(a, address) {
			return true
		}
	}
	return false
}

// persistLocked mirrors the in-memory state to disk. Persistence failures
// never block operation; state is simply not recoverable across a reload.
func (m *Manager) persistLocked() {
	snap := newEmptySnapshot()
	snap.Pending = append(snap.Pending, m.pending...)
	for k, v := range m.history {
		snap.History[k] = append([]Result(nil), v...)
	}
	if stored := m.conn.Stored(); stored != nil && m.session.Connected {
		snap.Session = &persistedSession{
			Peer:                 *stored,
			ActiveAccountAddress: m.session.ActiveAccountAddress,
			ActiveChainID:        m.session.ActiveChainID,
		}
	}
	if err := m.store.Save(snap); err != nil {
		logger.Warn("state not persisted", "error", err)
	}
}
