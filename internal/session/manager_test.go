package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyhaven-io/keyhaven-walletd/internal/chains"
	"github.com/keyhaven-io/keyhaven-walletd/internal/connector"
	"github.com/keyhaven-io/keyhaven-walletd/internal/signer"
)

const (
	testAccount  = "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"
	otherAccount = "0x52908400098527886E0F7030069857D2E4169EE7"
)

var testMeta = connector.PeerMeta{Name: "Test Dapp", URL: "https://dapp.example.org"}

// fakeConn records every outbound peer interaction and lets the test drive
// inbound events through the captured handlers.
type fakeConn struct {
	mu        sync.Mutex
	handlers  connector.Handlers
	live      bool
	connected bool

	connectErr error
	sendErr    error

	approvals   []approvedReply
	rejections  []rejectedReply
	updates     []sessionUpdate
	sessApprove int
	sessReject  int
	disconnects int
}

type approvedReply struct {
	ID     int64
	Result any
}

type rejectedReply struct {
	ID      int64
	Message string
}

type sessionUpdate struct {
	Accounts []string
	ChainID  uint64
}

// Connect mirrors the real connector's contract: a live connection is torn
// down first, firing its disconnect handler before the new pairing exists.
func (f *fakeConn) Connect(_ context.Context, _ string, h connector.Handlers) error {
	f.mu.Lock()
	if f.connectErr != nil {
		f.mu.Unlock()
		return f.connectErr
	}
	prev := f.handlers
	wasLive := f.live
	f.connected = false
	f.mu.Unlock()

	if wasLive && prev.OnDisconnected != nil {
		prev.OnDisconnected()
	}

	f.mu.Lock()
	f.handlers = h
	f.live = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) ApproveSession(_ []string, _ uint64) error {
	f.mu.Lock()
	f.sessApprove++
	f.connected = true
	h := f.handlers
	f.mu.Unlock()

	if h.OnConnected != nil {
		h.OnConnected()
	}
	return f.sendErr
}

func (f *fakeConn) RejectSession() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessReject++
	return f.sendErr
}

func (f *fakeConn) UpdateSession(accounts []string, chainID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, sessionUpdate{Accounts: accounts, ChainID: chainID})
	return f.sendErr
}

func (f *fakeConn) ApproveRequest(requestID int64, result any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals = append(f.approvals, approvedReply{ID: requestID, Result: result})
	return f.sendErr
}

func (f *fakeConn) RejectRequest(requestID int64, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejections = append(f.rejections, rejectedReply{ID: requestID, Message: message})
	return f.sendErr
}

func (f *fakeConn) Disconnect() error {
	f.mu.Lock()
	f.disconnects++
	f.live = false
	f.connected = false
	h := f.handlers
	f.mu.Unlock()

	if h.OnDisconnected != nil {
		h.OnDisconnected()
	}
	return f.sendErr
}

func (f *fakeConn) Stored() *connector.StoredSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil
	}
	return &connector.StoredSession{
		Topic:    "topic-1",
		Bridge:   "https://bridge.example.org",
		ClientID: "client-1",
		PeerID:   "peer-1",
		PeerMeta: testMeta,
	}
}

func (f *fakeConn) PeerMeta() connector.PeerMeta {
	return testMeta
}

type connCalls struct {
	approvals   []approvedReply
	rejections  []rejectedReply
	updates     []sessionUpdate
	sessApprove int
	sessReject  int
	disconnects int
}

func (f *fakeConn) snapshot() connCalls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return connCalls{
		approvals:   append([]approvedReply(nil), f.approvals...),
		rejections:  append([]rejectedReply(nil), f.rejections...),
		updates:     append([]sessionUpdate(nil), f.updates...),
		sessApprove: f.sessApprove,
		sessReject:  f.sessReject,
		disconnects: f.disconnects,
	}
}

// fakeGateway returns a canned output, optionally blocking until released so
// tests can interleave events with an in-flight signing.
type fakeGateway struct {
	mu       sync.Mutex
	requests []signer.Request

	out signer.Output
	err error

	started chan struct{}
	release chan struct{}
}

func (g *fakeGateway) Sign(_ context.Context, req signer.Request) (signer.Output, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.started != nil {
		g.started <- struct{}{}
	}
	if g.release != nil {
		<-g.release
	}
	return g.out, g.err
}

func (g *fakeGateway) Accounts(context.Context) ([]string, error) {
	return []string{testAccount, otherAccount}, nil
}

func (g *fakeGateway) signed() []signer.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]signer.Request(nil), g.requests...)
}

type fixture struct {
	mgr      *Manager
	conn     *fakeConn
	gateway  *fakeGateway
	registry *chains.Registry
	store    Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := chains.NewRegistryAt("")
	require.NoError(t, reg.Add(chains.Descriptor{ChainID: 1, Name: "Ethereum Mainnet", RPCURLs: []string{"https://rpc.example.org"}}))
	require.NoError(t, reg.Add(chains.Descriptor{ChainID: 137, Name: "Polygon", RPCURLs: []string{"https://polygon-rpc.com"}}))

	conn := &fakeConn{}
	gw := &fakeGateway{out: signer.Output{SignatureOrHash: "0xsig"}}
	st := newMemStore()

	mgr := NewManager(conn, gw, reg, st, []string{testAccount, otherAccount})
	return &fixture{mgr: mgr, conn: conn, gateway: gw, registry: reg, store: st}
}

// memStore keeps the snapshot in memory; persistence-specific tests use the
// real file store instead.
type memStore struct {
	mu    sync.Mutex
	data  []byte
	found bool
}

func newMemStore() *memStore { return &memStore{} }

func (m *memStore) Save(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data, m.found = b, true
	return nil
}

func (m *memStore) Load(out any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.found {
		return false, nil
	}
	return true, json.Unmarshal(m.data, out)
}

// establish runs proposal + approval so the fixture has a live session on
// chain 1 with the primary test account.
func (fx *fixture) establish(t *testing.T) {
	t.Helper()
	require.NoError(t, fx.mgr.Connect(context.Background(), "wc:topic-1@1?bridge=https%3A%2F%2Fbridge.example.org"))
	fx.conn.handlers.OnSessionProposed(testMeta)
	require.NoError(t, fx.mgr.ApproveSession(testAccount, 1))
}

func (fx *fixture) deliver(t *testing.T, id int64, method string, params ...any) {
	t.Helper()
	b, err := json.Marshal(params)
	require.NoError(t, err)
	fx.conn.handlers.OnCallRequest(connector.CallRequest{ID: id, Method: method, Params: b})
}

func pendingIDs(mgr *Manager) []int64 {
	var out []int64
	for _, p := range mgr.Pending() {
		out = append(out, p.ID)
	}
	return out
}

func TestSessionApprovalFlow(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)

	sess := fx.mgr.Current()
	assert.True(t, sess.Connected)
	assert.Equal(t, testAccount, sess.ActiveAccountAddress)
	assert.Equal(t, uint64(1), sess.ActiveChainID)
	assert.Equal(t, "Test Dapp", sess.PeerMeta.Name)
	assert.Nil(t, fx.mgr.Proposal())
}

func TestApproveSessionValidation(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.mgr.Connect(context.Background(), "wc:t@1?bridge=https%3A%2F%2Fb.example.org"))
	fx.conn.handlers.OnSessionProposed(testMeta)

	assert.Error(t, fx.mgr.ApproveSession("0xnotanaccount", 1))
	assert.Error(t, fx.mgr.ApproveSession(testAccount, 999), "chain must resolve in the registry")

	// The failed attempts must not consume the proposal.
	require.NotNil(t, fx.mgr.Proposal())
	require.NoError(t, fx.mgr.ApproveSession(testAccount, 1))
}

func TestRejectSessionFlow(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.mgr.Connect(context.Background(), "wc:t@1?bridge=https%3A%2F%2Fb.example.org"))
	fx.conn.handlers.OnSessionProposed(testMeta)

	require.NoError(t, fx.mgr.RejectSession())
	assert.Nil(t, fx.mgr.Proposal())
	assert.Equal(t, 1, fx.conn.snapshot().sessReject)

	assert.Error(t, fx.mgr.RejectSession(), "no proposal left to reject")
}

func TestQueueDedupeAndFIFO(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)

	fx.deliver(t, 1, "personal_sign", "0x48656c6c6f", testAccount)
	fx.deliver(t, 2, "personal_sign", "0x6869", testAccount)
	fx.deliver(t, 3, "eth_sign", testAccount, "0xdead")
	fx.deliver(t, 2, "personal_sign", "0x6869", testAccount) // duplicate delivery

	assert.Equal(t, []int64{1, 2, 3}, pendingIDs(fx.mgr))
}

func TestOutOfOrderDisposal(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)

	fx.deliver(t, 1, "personal_sign", "0x48656c6c6f", testAccount)
	fx.deliver(t, 2, "personal_sign", "0x6869", testAccount)

	fx.mgr.Approve(context.Background(), 2)
	assert.Equal(t, []int64{1}, pendingIDs(fx.mgr))

	fx.mgr.Approve(context.Background(), 1)
	assert.Empty(t, pendingIDs(fx.mgr))
	assert.Len(t, fx.mgr.History(testAccount), 2)
}

func TestApprovePersonalSignScenario(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)

	fx.deliver(t, 7, "personal_sign", "0x48656c6c6f", testAccount)
	fx.mgr.Approve(context.Background(), 7)

	signed := fx.gateway.signed()
	require.Len(t, signed, 1)
	assert.Equal(t, signer.KindPersonalSign, signed[0].Kind)
	assert.Equal(t, []byte("Hello"), signed[0].Message)

	conn := fx.conn.snapshot()
	require.Len(t, conn.approvals, 1)
	assert.Equal(t, int64(7), conn.approvals[0].ID)
	assert.Equal(t, "0xsig", conn.approvals[0].Result)

	hist := fx.mgr.History(testAccount)
	require.Len(t, hist, 1)
	assert.Equal(t, StatusSuccess, hist[0].Status)
	assert.Equal(t, "0xsig", hist[0].Value)
	assert.Empty(t, hist[0].ErrorDetail)
	assert.Equal(t, "personal_sign", hist[0].RequestMethod)
	assert.Equal(t, "Test Dapp", hist[0].PeerMeta.Name)

	// History lookup is case-insensitive on the address.
	assert.Len(t, fx.mgr.History("0XAB5801A7D398351B8BE11C439E05C5B3259AEC9B"), 1)
	assert.Equal(t, []string{"0xab5801a7d398351b8be11c439e05c5b3259aec9b"}, fx.mgr.HistoryAccounts())
}

func TestApproveSendTransactionHashOnly(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)
	fx.gateway.out = signer.Output{SignatureOrHash: "0xdeadbeef", Raw: "0x02f8"}

	fx.deliver(t, 8, "eth_sendTransaction", map[string]any{
		"from": testAccount,
		"to":   otherAccount,
		"gas":  "0x5208",
	})
	fx.mgr.Approve(context.Background(), 8)

	conn := fx.conn.snapshot()
	require.Len(t, conn.approvals, 1)
	assert.Equal(t, "0xdeadbeef", conn.approvals[0].Result, "the raw signed payload never reaches the peer")

	hist := fx.mgr.History(testAccount)
	require.Len(t, hist, 1)
	assert.Equal(t, "0xdeadbeef", hist[0].Value)
}

func TestApproveSigningFailureBecomesErrorResult(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)
	fx.gateway.err = &signer.SigningError{Message: "remote timeout"}

	fx.deliver(t, 9, "personal_sign", "0x48656c6c6f", testAccount)
	fx.mgr.Approve(context.Background(), 9)

	conn := fx.conn.snapshot()
	assert.Empty(t, conn.approvals)
	require.Len(t, conn.rejections, 1)
	assert.Equal(t, int64(9), conn.rejections[0].ID)
	assert.Contains(t, conn.rejections[0].Message, "remote timeout")

	hist := fx.mgr.History(testAccount)
	require.Len(t, hist, 1)
	assert.Equal(t, StatusError, hist[0].Status)
	assert.Empty(t, hist[0].Value)
	assert.Contains(t, hist[0].ErrorDetail, "remote timeout")
	assert.Empty(t, pendingIDs(fx.mgr))
}

func TestApproveIdempotent(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)

	fx.deliver(t, 5, "personal_sign", "0x48656c6c6f", testAccount)
	fx.mgr.Approve(context.Background(), 5)

	hist := len(fx.mgr.History(testAccount))
	approvals := len(fx.conn.snapshot().approvals)

	fx.mgr.Approve(context.Background(), 5)
	fx.mgr.Reject(5)

	assert.Len(t, fx.mgr.History(testAccount), hist, "second disposal adds no result")
	assert.Len(t, fx.conn.snapshot().approvals, approvals, "second disposal sends nothing")
	assert.Empty(t, fx.conn.snapshot().rejections)
}

func TestApproveUnknownIDIsNoOp(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)

	fx.mgr.Approve(context.Background(), 12345)
	fx.mgr.Reject(12345)

	assert.Empty(t, fx.gateway.signed())
	assert.Empty(t, fx.conn.snapshot().approvals)
	assert.Empty(t, fx.conn.snapshot().rejections)
}

func TestDisposalBlockedWhileInFlight(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)
	fx.gateway.started = make(chan struct{}, 1)
	fx.gateway.release = make(chan struct{})

	fx.deliver(t, 6, "personal_sign", "0x48656c6c6f", testAccount)

	done := make(chan struct{})
	go func() {
		fx.mgr.Approve(context.Background(), 6)
		close(done)
	}()
	<-fx.gateway.started

	// Duplicate dispositions while the signing is out must be ignored.
	fx.mgr.Approve(context.Background(), 6)
	fx.mgr.Reject(6)
	assert.Empty(t, fx.conn.snapshot().rejections)

	close(fx.gateway.release)
	waitDone(t, done)

	assert.Len(t, fx.gateway.signed(), 1)
	assert.Len(t, fx.mgr.History(testAccount), 1)
}

func TestContextSnapshotIsolation(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)
	fx.gateway.started = make(chan struct{}, 1)
	fx.gateway.release = make(chan struct{})

	fx.deliver(t, 11, "personal_sign", "0x48656c6c6f", testAccount)

	done := make(chan struct{})
	go func() {
		fx.mgr.Approve(context.Background(), 11)
		close(done)
	}()
	<-fx.gateway.started

	require.NoError(t, fx.mgr.SwitchActiveChain(137))
	close(fx.gateway.release)
	waitDone(t, done)

	signed := fx.gateway.signed()
	require.Len(t, signed, 1)
	assert.Equal(t, uint64(1), signed[0].ChainID, "in-flight signing keeps the chain captured at approval time")
}

func TestDiscardAfterDisconnect(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)
	fx.gateway.started = make(chan struct{}, 1)
	fx.gateway.release = make(chan struct{})

	fx.deliver(t, 13, "personal_sign", "0x48656c6c6f", testAccount)

	done := make(chan struct{})
	go func() {
		fx.mgr.Approve(context.Background(), 13)
		close(done)
	}()
	<-fx.gateway.started

	fx.conn.handlers.OnDisconnected()
	close(fx.gateway.release)
	waitDone(t, done)

	assert.Empty(t, fx.mgr.History(testAccount), "completion for a dead session records nothing")
	assert.Empty(t, fx.conn.snapshot().approvals)
	assert.Empty(t, fx.conn.snapshot().rejections)
}

func TestRejectScenario(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)

	fx.deliver(t, 21, "eth_signTypedData_v4", testAccount, map[string]any{"primaryType": "Mail"})
	fx.mgr.Reject(21)

	conn := fx.conn.snapshot()
	require.Len(t, conn.rejections, 1)
	assert.Equal(t, int64(21), conn.rejections[0].ID)
	assert.Equal(t, "user rejected request", conn.rejections[0].Message)

	assert.Empty(t, pendingIDs(fx.mgr))
	assert.Empty(t, fx.mgr.History(testAccount), "rejections are not archived")
}

func TestUnsupportedMethodBecomesPeerRejection(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)

	fx.deliver(t, 31, "eth_getBalance", testAccount, "latest")
	fx.mgr.Approve(context.Background(), 31)

	conn := fx.conn.snapshot()
	require.Len(t, conn.rejections, 1)
	assert.Contains(t, conn.rejections[0].Message, "unsupported method")

	assert.Empty(t, fx.gateway.signed())
	assert.Empty(t, pendingIDs(fx.mgr))
	assert.Empty(t, fx.mgr.History(testAccount))
}

func TestAddChainScenario(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)

	// Already registered: null reply, no registry change, no session update.
	fx.deliver(t, 41, "wallet_addEthereumChain", map[string]any{
		"chainId":   "0x89",
		"chainName": "Polygon",
		"rpcUrls":   []string{"https://polygon-rpc.com"},
	})
	before := len(fx.registry.List())
	fx.mgr.Approve(context.Background(), 41)

	conn := fx.conn.snapshot()
	require.Len(t, conn.approvals, 1)
	assert.Equal(t, int64(41), conn.approvals[0].ID)
	assert.Nil(t, conn.approvals[0].Result)
	assert.Len(t, fx.registry.List(), before)
	assert.Empty(t, conn.updates)

	// New chain: one additional descriptor, still no session update.
	fx.deliver(t, 42, "wallet_addEthereumChain", map[string]any{
		"chainId":   "0xa",
		"chainName": "OP Mainnet",
		"rpcUrls":   []string{"https://mainnet.optimism.io"},
	})
	fx.mgr.Approve(context.Background(), 42)

	assert.Len(t, fx.registry.List(), before+1)
	assert.True(t, fx.registry.Has(10))
	assert.Empty(t, fx.conn.snapshot().updates)
	assert.Empty(t, fx.mgr.History(testAccount), "chain management leaves no result")
}

func TestSwitchChainScenario(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)

	fx.deliver(t, 51, "wallet_switchEthereumChain", map[string]any{"chainId": "0x89"})
	fx.mgr.Approve(context.Background(), 51)

	assert.Equal(t, uint64(137), fx.mgr.Current().ActiveChainID)

	conn := fx.conn.snapshot()
	require.Len(t, conn.updates, 1)
	assert.Equal(t, uint64(137), conn.updates[0].ChainID)
	require.Len(t, conn.approvals, 1)
	assert.Nil(t, conn.approvals[0].Result)
	assert.Empty(t, fx.mgr.History(testAccount))
}

func TestSwitchChainUnknownIsPeerRejection(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)

	fx.deliver(t, 52, "wallet_switchEthereumChain", map[string]any{"chainId": "0x2105"})
	fx.mgr.Approve(context.Background(), 52)

	conn := fx.conn.snapshot()
	require.Len(t, conn.rejections, 1)
	assert.Contains(t, conn.rejections[0].Message, "unknown chain")
	assert.Equal(t, uint64(1), fx.mgr.Current().ActiveChainID)
}

func TestSwitchActiveAccountAndChain(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)

	require.NoError(t, fx.mgr.SwitchActiveAccount(otherAccount))
	require.NoError(t, fx.mgr.SwitchActiveChain(137))

	sess := fx.mgr.Current()
	assert.Equal(t, otherAccount, sess.ActiveAccountAddress)
	assert.Equal(t, uint64(137), sess.ActiveChainID)

	conn := fx.conn.snapshot()
	require.Len(t, conn.updates, 2)
	assert.Equal(t, []string{otherAccount}, conn.updates[0].Accounts)

	assert.Error(t, fx.mgr.SwitchActiveAccount("0xdeadbeef"))
	assert.Error(t, fx.mgr.SwitchActiveChain(999))
}

func TestDisconnectClearsQueueAndSession(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)

	fx.deliver(t, 61, "personal_sign", "0x48656c6c6f", testAccount)
	fx.deliver(t, 62, "personal_sign", "0x6869", testAccount)

	fx.mgr.Disconnect()

	assert.Empty(t, pendingIDs(fx.mgr))
	sess := fx.mgr.Current()
	assert.False(t, sess.Connected)
	assert.Empty(t, sess.ActiveAccountAddress)
}

func TestNewPairingDestroysEstablishedSession(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)

	fx.deliver(t, 7, "personal_sign", "0x48656c6c6f", testAccount)
	require.Equal(t, []int64{7}, pendingIDs(fx.mgr))

	require.NoError(t, fx.mgr.Connect(context.Background(), "wc:topic-2@1?bridge=https%3A%2F%2Fbridge.example.org"))

	sess := fx.mgr.Current()
	assert.False(t, sess.Connected, "the old session does not survive a new pairing")
	assert.Empty(t, sess.ActiveAccountAddress)
	assert.Empty(t, pendingIDs(fx.mgr), "the dead peer's queue goes with it")

	// The dead peer's request must not be signable onto the new pairing.
	fx.mgr.Approve(context.Background(), 7)
	assert.Empty(t, fx.gateway.signed())
	assert.Empty(t, fx.conn.snapshot().approvals)
	assert.Empty(t, fx.mgr.History(testAccount))
}

func TestNewPairingClearsStaleProposal(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.mgr.Connect(context.Background(), "wc:t@1?bridge=https%3A%2F%2Fb.example.org"))
	fx.conn.handlers.OnSessionProposed(testMeta)
	require.NotNil(t, fx.mgr.Proposal())

	require.NoError(t, fx.mgr.Connect(context.Background(), "wc:t2@1?bridge=https%3A%2F%2Fb.example.org"))

	assert.Nil(t, fx.mgr.Proposal(), "the earlier pairing's proposal is gone")
	assert.Error(t, fx.mgr.ApproveSession(testAccount, 1))
}

func TestPeerSendFailuresDoNotBlockState(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)
	fx.conn.sendErr = &connector.PeerError{Op: "send", Err: assert.AnError}

	fx.deliver(t, 71, "personal_sign", "0x48656c6c6f", testAccount)
	fx.mgr.Approve(context.Background(), 71)

	assert.Empty(t, pendingIDs(fx.mgr), "local state advances despite the failed peer send")
	assert.Len(t, fx.mgr.History(testAccount), 1)
}

func TestRecoverRestoresStateAndSession(t *testing.T) {
	reg := chains.NewRegistryAt("")
	require.NoError(t, reg.Add(chains.Descriptor{ChainID: 1, Name: "Ethereum Mainnet", RPCURLs: []string{"https://rpc.example.org"}}))

	st := newMemStore()
	conn1 := &fakeConn{}
	gw := &fakeGateway{out: signer.Output{SignatureOrHash: "0xsig"}}

	mgr1 := NewManager(conn1, gw, reg, st, []string{testAccount})
	require.NoError(t, mgr1.Connect(context.Background(), "wc:t@1?bridge=https%3A%2F%2Fb.example.org"))
	conn1.handlers.OnSessionProposed(testMeta)
	require.NoError(t, mgr1.ApproveSession(testAccount, 1))

	conn1.handlers.OnCallRequest(connector.CallRequest{ID: 1, Method: "personal_sign", Params: json.RawMessage(`["0x48656c6c6f","` + testAccount + `"]`)})
	mgr1.Approve(context.Background(), 1)
	conn1.handlers.OnCallRequest(connector.CallRequest{ID: 2, Method: "eth_sign", Params: json.RawMessage(`["` + testAccount + `","0xdead"]`)})

	// New process, same store.
	conn2 := &fakeConn{}
	mgr2 := NewManager(conn2, gw, reg, st, []string{testAccount})
	mgr2.Recover(context.Background())

	assert.Equal(t, []int64{2}, pendingIDs(mgr2), "undisposed request survives the reload")
	require.Len(t, mgr2.History(testAccount), 1)
	assert.Equal(t, "0xsig", mgr2.History(testAccount)[0].Value)

	sess := mgr2.Current()
	assert.Equal(t, testAccount, sess.ActiveAccountAddress)
	assert.Equal(t, uint64(1), sess.ActiveChainID)
}

func TestRecoverDropsUnreachableSession(t *testing.T) {
	reg := chains.NewRegistryAt("")
	require.NoError(t, reg.Add(chains.Descriptor{ChainID: 1, Name: "Ethereum Mainnet", RPCURLs: []string{"https://rpc.example.org"}}))

	st := newMemStore()
	conn1 := &fakeConn{}
	gw := &fakeGateway{out: signer.Output{SignatureOrHash: "0xsig"}}

	mgr1 := NewManager(conn1, gw, reg, st, []string{testAccount})
	require.NoError(t, mgr1.Connect(context.Background(), "wc:t@1?bridge=https%3A%2F%2Fb.example.org"))
	conn1.handlers.OnSessionProposed(testMeta)
	require.NoError(t, mgr1.ApproveSession(testAccount, 1))
	conn1.handlers.OnCallRequest(connector.CallRequest{ID: 1, Method: "eth_sign", Params: json.RawMessage(`["` + testAccount + `","0xdead"]`)})

	conn2 := &fakeConn{connectErr: &connector.HandshakeError{Reason: "bridge down"}}
	mgr2 := NewManager(conn2, gw, reg, st, []string{testAccount})
	mgr2.Recover(context.Background())

	assert.Empty(t, pendingIDs(mgr2), "the dead session's queue is moot")
	assert.False(t, mgr2.Current().Connected)
}

func TestPersistedSnapshotShape(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)

	fx.deliver(t, 81, "personal_sign", "0x48656c6c6f", testAccount)
	fx.mgr.Approve(context.Background(), 81)

	var snap snapshot
	found, err := fx.store.Load(&snap)
	require.NoError(t, err)
	require.True(t, found)

	require.NotNil(t, snap.Session)
	assert.Equal(t, "topic-1", snap.Session.Peer.Topic)
	assert.Equal(t, testAccount, snap.Session.ActiveAccountAddress)
	assert.Empty(t, snap.Pending)

	results, ok := snap.History["0xab5801a7d398351b8be11c439e05c5b3259aec9b"]
	require.True(t, ok, "history keys are lower-cased addresses")
	require.Len(t, results, 1)
	assert.Equal(t, StatusSuccess, results[0].Status)
}

func TestResultsNewestFirst(t *testing.T) {
	fx := newFixture(t)
	fx.establish(t)

	fx.deliver(t, 91, "personal_sign", "0x6f6c64", testAccount) // "old"
	fx.mgr.Approve(context.Background(), 91)

	fx.gateway.out = signer.Output{SignatureOrHash: "0xnewer"}
	fx.deliver(t, 92, "personal_sign", "0x6e6577", testAccount) // "new"
	fx.mgr.Approve(context.Background(), 92)

	hist := fx.mgr.History(testAccount)
	require.Len(t, hist, 2)
	assert.Equal(t, "0xnewer", hist[0].Value)
	assert.Equal(t, "0xsig", hist[1].Value)
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for approval to finish")
	}
}
