package server

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"
)

const (
	uiSessionHeader = "X-Keyhaven-Session"

	pairCodeLength  = 8
	pairExchangeTTL = 60 * time.Second
)

// pairCodeAlphabet avoids lookalike characters; the operator may retype the
// code by hand.
const pairCodeAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ23456789"

// pairing is a single-use, short-lived code the local UI exchanges for the
// session token.
type pairing struct {
	codeHash  [sha256.Size]byte
	expiresAt time.Time
	used      bool
	token     string
}

func generatePairCode() (string, error) {
	b := make([]byte, pairCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = pairCodeAlphabet[int(b[i])%len(pairCodeAlphabet)]
	}
	return string(b), nil
}

func hashPairCode(code string) [sha256.Size]byte {
	return sha256.Sum256([]byte(code))
}

type pairExchangeReq struct {
	PairID string `json:"pair_id"`
	Code   string `json:"code"`
}

type pairExchangeResp struct {
	OK     bool   `json:"ok"`
	Token  string `json:"token"`
	Header string `json:"header"`
}

// handleTokenPair trades a valid pair code for the UI session token. One
// shot: a code is burned on first successful exchange.
func (s *Server) handleTokenPair(w http.ResponseWriter, r *http.Request) {
	var req pairExchangeReq
	if err := readJSONBody(r, &req); err != nil || req.PairID == "" || req.Code == "" {
		http.Error(w, "missing pair_id or code", http.StatusBadRequest)
		return
	}

	s.pairingsMu.Lock()
	defer s.pairingsMu.Unlock()

	p, ok := s.pairings[req.PairID]
	if !ok || p.used || time.Now().After(p.expiresAt) {
		http.Error(w, "pair expired", http.StatusGone)
		return
	}

	got := hashPairCode(req.Code)
	if subtle.ConstantTimeCompare(got[:], p.codeHash[:]) != 1 {
		http.Error(w, "invalid code", http.StatusUnauthorized)
		return
	}

	p.used = true
	writeJSON(w, http.StatusOK, pairExchangeResp{
		OK:     true,
		Token:  p.token,
		Header: uiSessionHeader,
	})
}

func pairURL(listenAddr, pairID, code string) string {
	return fmt.Sprintf("http://%s/#/?pair_id=%s&code=%s", listenAddr, pairID, code)
}
