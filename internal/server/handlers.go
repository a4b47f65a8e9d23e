package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/keyhaven-io/keyhaven-walletd/internal/chains"
	"github.com/keyhaven-io/keyhaven-walletd/internal/connector"
	"github.com/keyhaven-io/keyhaven-walletd/internal/constants"
	"github.com/keyhaven-io/keyhaven-walletd/internal/session"
)

type okResponse struct {
	OK bool `json:"ok"`
}

type statusResponse struct {
	OK       bool                `json:"ok"`
	Session  session.Session     `json:"session"`
	Proposal *connector.PeerMeta `json:"proposal,omitempty"`
	Accounts []string            `json:"accounts"`
	Pending  int                 `json:"pending"`
}

type connectReq struct {
	URI string `json:"uri"`
}

type approveSessionReq struct {
	Address    string `json:"address"`
	ChainIDHex string `json:"chainIdHex"`
}

type requestIDReq struct {
	ID int64 `json:"id"`
}

type switchAccountReq struct {
	Address string `json:"address"`
}

type switchChainReq struct {
	ChainIDHex string `json:"chainIdHex"`
}

type chainsResponse struct {
	OK         bool                `json:"ok"`
	Production []chains.Descriptor `json:"production"`
	Test       []chains.Descriptor `json:"test"`
}

type pendingResponse struct {
	OK       bool                     `json:"ok"`
	Requests []session.PendingRequest `json:"requests"`
}

type historyResponse struct {
	OK      bool             `json:"ok"`
	Address string           `json:"address"`
	Results []session.Result `json:"results"`
}

type historyAccountsResponse struct {
	OK       bool     `json:"ok"`
	Accounts []string `json:"accounts"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		OK:       true,
		Session:  s.mgr.Current(),
		Proposal: s.mgr.Proposal(),
		Accounts: s.mgr.Accounts(),
		Pending:  len(s.mgr.Pending()),
	})
}

func (s *Server) handleSessionConnect(w http.ResponseWriter, r *http.Request) {
	var req connectReq
	if err := readJSONBody(r, &req); err != nil {
		writeRPCError(w, http.StatusBadRequest, constants.JSONRPCErrorCodeInvalidRequest, "invalid request", err.Error())
		return
	}
	if strings.TrimSpace(req.URI) == "" {
		writeRPCError(w, http.StatusBadRequest, constants.JSONRPCErrorCodeInvalidParams, "missing uri", nil)
		return
	}

	if err := s.mgr.Connect(r.Context(), req.URI); err != nil {
		var herr *connector.HandshakeError
		if errors.As(err, &herr) {
			writeRPCError(w, http.StatusBadRequest, constants.JSONRPCErrorCodeInvalidParams, herr.Error(), nil)
			return
		}
		writeRPCError(w, http.StatusInternalServerError, constants.JSONRPCErrorCodeInternalError, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleSessionApprove(w http.ResponseWriter, r *http.Request) {
	var req approveSessionReq
	if err := readJSONBody(r, &req); err != nil {
		writeRPCError(w, http.StatusBadRequest, constants.JSONRPCErrorCodeInvalidRequest, "invalid request", err.Error())
		return
	}
	chainID, err := parseChainIDHex(req.ChainIDHex)
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, constants.JSONRPCErrorCodeInvalidParams, err.Error(), nil)
		return
	}

	if err := s.mgr.ApproveSession(req.Address, chainID); err != nil {
		writeRPCError(w, http.StatusBadRequest, constants.JSONRPCErrorCodeInvalidParams, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleSessionReject(w http.ResponseWriter, _ *http.Request) {
	if err := s.mgr.RejectSession(); err != nil {
		writeRPCError(w, http.StatusBadRequest, constants.JSONRPCErrorCodeInvalidParams, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleSessionDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.mgr.Disconnect()
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleRequestsList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, pendingResponse{OK: true, Requests: s.mgr.Pending()})
}

// handleRequestApprove kicks the disposition off and returns immediately;
// the remote signing can take minutes and the UI polls /requests and
// /history for the outcome.
func (s *Server) handleRequestApprove(w http.ResponseWriter, r *http.Request) {
	var req requestIDReq
	if err := readJSONBody(r, &req); err != nil || req.ID == 0 {
		writeRPCError(w, http.StatusBadRequest, constants.JSONRPCErrorCodeInvalidRequest, "invalid request", nil)
		return
	}

	go s.mgr.Approve(s.ctx, req.ID)
	writeJSON(w, http.StatusAccepted, okResponse{OK: true})
}

func (s *Server) handleRequestReject(w http.ResponseWriter, r *http.Request) {
	var req requestIDReq
	if err := readJSONBody(r, &req); err != nil || req.ID == 0 {
		writeRPCError(w, http.StatusBadRequest, constants.JSONRPCErrorCodeInvalidRequest, "invalid request", nil)
		return
	}

	s.mgr.Reject(req.ID)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleSwitchAccount(w http.ResponseWriter, r *http.Request) {
	var req switchAccountReq
	if err := readJSONBody(r, &req); err != nil {
		writeRPCError(w, http.StatusBadRequest, constants.JSONRPCErrorCodeInvalidRequest, "invalid request", err.Error())
		return
	}

	if err := s.mgr.SwitchActiveAccount(req.Address); err != nil {
		writeRPCError(w, http.StatusBadRequest, constants.JSONRPCErrorCodeInvalidParams, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleSwitchChain(w http.ResponseWriter, r *http.Request) {
	var req switchChainReq
	if err := readJSONBody(r, &req); err != nil {
		writeRPCError(w, http.StatusBadRequest, constants.JSONRPCErrorCodeInvalidRequest, "invalid request", err.Error())
		return
	}
	chainID, err := parseChainIDHex(req.ChainIDHex)
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, constants.JSONRPCErrorCodeInvalidParams, err.Error(), nil)
		return
	}

	if err := s.mgr.SwitchActiveChain(chainID); err != nil {
		writeRPCError(w, http.StatusBadRequest, constants.JSONRPCErrorCodeInvalidParams, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleChainsList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, chainsResponse{
		OK:         true,
		Production: s.registry.ListProduction(),
		Test:       s.registry.ListTest(),
	})
}

func (s *Server) handleChainAdd(w http.ResponseWriter, r *http.Request) {
	var d chains.Descriptor
	if err := readJSONBody(r, &d); err != nil {
		writeRPCError(w, http.StatusBadRequest, constants.JSONRPCErrorCodeInvalidRequest, "invalid request", err.Error())
		return
	}

	if err := s.registry.Add(d); err != nil {
		if errors.Is(err, chains.ErrDuplicateChain) {
			writeRPCError(w, http.StatusConflict, constants.JSONRPCErrorCodeInvalidParams, err.Error(), nil)
			return
		}
		writeRPCError(w, http.StatusBadRequest, constants.JSONRPCErrorCodeInvalidParams, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimSpace(r.URL.Query().Get("address"))
	if addr == "" {
		writeRPCError(w, http.StatusBadRequest, constants.JSONRPCErrorCodeInvalidParams, "missing address", nil)
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		OK:      true,
		Address: strings.ToLower(addr),
		Results: s.mgr.History(addr),
	})
}

// handleHistoryAccounts lists the addresses that have recorded activity, so
// the UI can offer history for accounts no longer in the signer's set.
func (s *Server) handleHistoryAccounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, historyAccountsResponse{
		OK:       true,
		Accounts: s.mgr.HistoryAccounts(),
	})
}
