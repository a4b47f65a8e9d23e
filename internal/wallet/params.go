package wallet

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func splitParams(params json.RawMessage) ([]json.RawMessage, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("missing params")
	}
	var out []json.RawMessage
	if err := json.Unmarshal(params, &out); err != nil {
		return nil, fmt.Errorf("params must be an array: %w", err)
	}
	return out, nil
}

func paramString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("param must be a string: %w", err)
	}
	return s, nil
}

// rawIsAddress reports whether a raw JSON param is a hex account address.
// Used by the typed-data version heuristic.
func rawIsAddress(raw json.RawMessage) bool {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	return common.IsHexAddress(strings.TrimSpace(s))
}

func parseAddr(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("missing address")
	}
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("invalid address: %q", s)
	}
	return common.HexToAddress(s).Hex(), nil
}

func parseHexData(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("invalid hex data length")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return b, nil
}

// parsePersonalSignMessage decodes the personal_sign payload. Dapps usually
// send the message as hex bytes; anything else is treated as UTF-8.
func parsePersonalSignMessage(msg string) ([]byte, error) {
	m := strings.TrimSpace(msg)
	if strings.HasPrefix(m, "0x") || strings.HasPrefix(m, "0X") {
		return parseHexData(m)
	}
	return []byte(m), nil
}

// parseChainIDHex parses a 0x-prefixed (or bare) hex chain id quantity.
func parseChainIDHex(chainIDHex string) (uint64, error) {
	s := strings.ToLower(strings.TrimSpace(chainIDHex))
	if s == "" {
		return 0, fmt.Errorf("missing chainId")
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	n, err := hexutil.DecodeBig(s)
	if err != nil {
		return 0, fmt.Errorf("invalid chainId %q: %w", chainIDHex, err)
	}
	if n.Sign() <= 0 {
		return 0, fmt.Errorf("invalid chainId %q", chainIDHex)
	}
	if n.BitLen() > 64 {
		return 0, fmt.Errorf("chainId too large: %q", chainIDHex)
	}
	return n.Uint64(), nil
}

// dappTx is the transaction object shape dapps send over the peer protocol.
// Gas is a transport-only alias for gasLimit; from is implied by the session.
type dappTx struct {
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Value    string `json:"value,omitempty"`
	Data     string `json:"data,omitempty"`
	Gas      string `json:"gas,omitempty"`
	GasLimit string `json:"gasLimit,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	Nonce    string `json:"nonce,omitempty"`

	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
}

// addChainParam is the EIP-3085 request payload.
type addChainParam struct {
	ChainID           string   `json:"chainId"`
	ChainName         string   `json:"chainName"`
	RPCURLs           []string `json:"rpcUrls"`
	BlockExplorerURLs []string `json:"blockExplorerUrls,omitempty"`

	NativeCurrency *struct {
		Name     string `json:"name"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"nativeCurrency,omitempty"`
}

// switchChainParam is the EIP-3326 request payload.
type switchChainParam struct {
	ChainID string `json:"chainId"`
}
