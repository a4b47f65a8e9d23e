package connector

import (
	"fmt"
	"net/url"
	"strings"
)

// PairingURI is the parsed form of a "wc:{topic}@{version}?bridge=..&key=.."
// pairing string a dapp displays for the wallet to consume.
type PairingURI struct {
	Topic   string
	Version string
	Bridge  string
	Key     string
}

// ParseURI parses and validates a pairing URI. Malformed input is a
// *HandshakeError: a recoverable operator input error.
func ParseURI(raw string) (PairingURI, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "wc:") {
		return PairingURI{}, &HandshakeError{Reason: fmt.Sprintf("not a pairing uri: %q", raw)}
	}

	rest := strings.TrimPrefix(raw, "wc:")
	qIdx := strings.Index(rest, "?")
	head := rest
	query := ""
	if qIdx >= 0 {
		head, query = rest[:qIdx], rest[qIdx+1:]
	}

	topic, version, ok := strings.Cut(head, "@")
	if !ok || topic == "" || version == "" {
		return PairingURI{}, &HandshakeError{Reason: "pairing uri missing topic@version"}
	}

	vals, err := url.ParseQuery(query)
	if err != nil {
		return PairingURI{}, &HandshakeError{Reason: "invalid pairing uri query", Err: err}
	}

	bridge := strings.TrimSpace(vals.Get("bridge"))
	if bridge == "" {
		return PairingURI{}, &HandshakeError{Reason: "pairing uri missing bridge"}
	}
	if _, err := url.Parse(bridge); err != nil {
		return PairingURI{}, &HandshakeError{Reason: "invalid bridge url", Err: err}
	}

	return PairingURI{
		Topic:   topic,
		Version: version,
		Bridge:  bridge,
		Key:     strings.TrimSpace(vals.Get("key")),
	}, nil
}
