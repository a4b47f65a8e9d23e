// Package server is the loopback-only operator HTTP API: the surface the
// local wallet UI drives session approval, request disposition, and chain
// management through. It never faces the network or the dapp peer.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keyhaven-io/keyhaven-walletd/internal/chains"
	"github.com/keyhaven-io/keyhaven-walletd/internal/logger"
	"github.com/keyhaven-io/keyhaven-walletd/internal/session"
)

type Server struct {
	ctx      context.Context
	mgr      *session.Manager
	registry *chains.Registry
	mux      *http.ServeMux

	uiSessionToken   string
	uiAllowedOrigins map[string]struct{}

	pairings   map[string]*pairing
	pairingsMu sync.Mutex
}

// NewServer builds the operator API handler. It mints a fresh session token
// plus a one-shot pair code and logs the pairing URL for the operator.
func NewServer(ctx context.Context, mgr *session.Manager, registry *chains.Registry, uiAllowedOrigins []string, listenAddr string) (http.Handler, error) {
	s := &Server{
		ctx:      ctx,
		mgr:      mgr,
		registry: registry,
		mux:      http.NewServeMux(),
		pairings: make(map[string]*pairing),
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	s.uiSessionToken = token

	s.uiAllowedOrigins = make(map[string]struct{}, len(uiAllowedOrigins))
	for _, o := range uiAllowedOrigins {
		o = normalizeOrigin(o)
		if o == "" {
			continue
		}
		s.uiAllowedOrigins[o] = struct{}{}
	}

	openCors := corsPolicy{
		allowedOrigins: s.uiAllowedOrigins,
		allowMethods:   "GET,POST,OPTIONS",
		allowHeaders:   "",
		maxAge:         600,
	}

	s.mux.HandleFunc("/healthz", s.withCORS(openCors, s.withLoopbackOnly(requireMethod(http.MethodGet, s.handleHealth))))
	s.mux.HandleFunc("/pair/exchange", s.withCORS(openCors, s.withLoopbackOnly(requireMethod(http.MethodPost, s.handleTokenPair))))

	s.mux.HandleFunc("/status", s.withUIGuards(requireMethod(http.MethodGet, s.handleStatus)))

	s.mux.HandleFunc("/session/connect", s.withUIGuards(requireMethod(http.MethodPost, s.handleSessionConnect)))
	s.mux.HandleFunc("/session/approve", s.withUIGuards(requireMethod(http.MethodPost, s.handleSessionApprove)))
	s.mux.HandleFunc("/session/reject", s.withUIGuards(requireMethod(http.MethodPost, s.handleSessionReject)))
	s.mux.HandleFunc("/session/disconnect", s.withUIGuards(requireMethod(http.MethodPost, s.handleSessionDisconnect)))

	s.mux.HandleFunc("/requests", s.withUIGuards(requireMethod(http.MethodGet, s.handleRequestsList)))
	s.mux.HandleFunc("/requests/approve", s.withUIGuards(requireMethod(http.MethodPost, s.handleRequestApprove)))
	s.mux.HandleFunc("/requests/reject", s.withUIGuards(requireMethod(http.MethodPost, s.handleRequestReject)))

	s.mux.HandleFunc("/wallet/account", s.withUIGuards(requireMethod(http.MethodPost, s.handleSwitchAccount)))
	s.mux.HandleFunc("/wallet/chain", s.withUIGuards(requireMethod(http.MethodPost, s.handleSwitchChain)))

	s.mux.HandleFunc("/chains", s.withUIGuards(requireMethod(http.MethodGet, s.handleChainsList)))
	s.mux.HandleFunc("/chains/add", s.withUIGuards(requireMethod(http.MethodPost, s.handleChainAdd)))

	s.mux.HandleFunc("/history", s.withUIGuards(requireMethod(http.MethodGet, s.handleHistory)))
	s.mux.HandleFunc("/history/accounts", s.withUIGuards(requireMethod(http.MethodGet, s.handleHistoryAccounts)))

	pairID := uuid.NewString()
	pairCode, err := generatePairCode()
	if err != nil {
		return nil, err
	}

	s.pairingsMu.Lock()
	s.pairings[pairID] = &pairing{
		codeHash:  hashPairCode(pairCode),
		expiresAt: time.Now().Add(pairExchangeTTL),
		token:     token,
	}
	s.pairingsMu.Unlock()

	logger.Info("pair with wallet UI", "url", pairURL(listenAddr, pairID, pairCode))
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
