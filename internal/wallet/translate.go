package wallet

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/keyhaven-io/keyhaven-walletd/internal/chains"
	"github.com/keyhaven-io/keyhaven-walletd/internal/signer"
)

// Context is the session state snapshotted at approval time. Translation
// never re-reads live session state, so a concurrent chain switch cannot
// corrupt an in-flight instruction.
type Context struct {
	AccountAddress string
	ChainID        uint64
}

// Effect says what disposing the instruction means for the wallet.
type Effect int

const (
	// EffectSign dispatches via the signing gateway.
	EffectSign Effect = iota
	// EffectAddChain appends a descriptor to the chain registry.
	EffectAddChain
	// EffectSwitchChain changes the session's active chain.
	EffectSwitchChain
)

// Instruction is the canonical, method-shape-independent description of what
// approving a request does.
type Instruction struct {
	Effect Effect

	// Sign is set for EffectSign.
	Sign *signer.Request

	// AddChain is set for EffectAddChain; nil means the chain is already
	// registered and approval is a no-op beyond the null peer reply.
	AddChain *chains.Descriptor

	// SwitchChainID is set for EffectSwitchChain.
	SwitchChainID uint64
}

// Translator converts wallet RPC calls into Instructions. It only reads the
// chain registry (for add/switch validation); it never mutates anything.
type Translator struct {
	registry *chains.Registry
}

func NewTranslator(registry *chains.Registry) *Translator {
	return &Translator{registry: registry}
}

// Translate validates and converts one inbound call. Unknown methods fail
// with *UnsupportedMethodError; a switch to an unregistered chain fails with
// *UnknownChainError. Both are peer-facing rejections, never faults.
func (t *Translator) Translate(method Method, params json.RawMessage, tctx Context) (Instruction, error) {
	if _, ok := ParseMethod(string(method)); !ok {
		return Instruction{}, &UnsupportedMethodError{Method: string(method)}
	}

	switch method {
	case MethodEthSign:
		return t.translateEthSign(params, tctx)
	case MethodPersonalSign:
		return t.translatePersonalSign(params, tctx)
	case MethodSignTypedData, MethodSignTypedDataV1, MethodSignTypedDataV3, MethodSignTypedDataV4:
		return t.translateTypedData(method, params, tctx)
	case MethodSignTransaction:
		return t.translateTransaction(params, tctx, signer.KindTransactionSign)
	case MethodSendTransaction:
		return t.translateTransaction(params, tctx, signer.KindTransactionSend)
	case MethodSendRawTransaction:
		return t.translateSendRaw(params, tctx)
	case MethodAddChain:
		return t.translateAddChain(params)
	case MethodSwitchChain:
		return t.translateSwitchChain(params)
	}

	return Instruction{}, &UnsupportedMethodError{Method: string(method)}
}

// eth_sign params: [address, hexData]. The message is signed as raw bytes.
func (t *Translator) translateEthSign(params json.RawMessage, tctx Context) (Instruction, error) {
	ps, err := splitParams(params)
	if err != nil {
		return Instruction{}, err
	}
	if len(ps) < 2 {
		return Instruction{}, fmt.Errorf("eth_sign expects [address, data]")
	}

	addr, err := paramString(ps[0])
	if err != nil {
		return Instruction{}, err
	}
	if _, err := parseAddr(addr); err != nil {
		return Instruction{}, err
	}

	dataHex, err := paramString(ps[1])
	if err != nil {
		return Instruction{}, err
	}
	msg, err := parseHexData(dataHex)
	if err != nil {
		return Instruction{}, err
	}

	return signInstruction(signer.Request{
		Kind:    signer.KindMessageSign,
		Address: tctx.AccountAddress,
		ChainID: tctx.ChainID,
		Message: msg,
	}), nil
}

// personal_sign params: [message, address]. Hex-encoded messages are decoded
// to their underlying bytes before signing; anything else is UTF-8.
func (t *Translator) translatePersonalSign(params json.RawMessage, tctx Context) (Instruction, error) {
	ps, err := splitParams(params)
	if err != nil {
		return Instruction{}, err
	}
	if len(ps) < 1 {
		return Instruction{}, fmt.Errorf("personal_sign expects [message, address]")
	}

	raw, err := paramString(ps[0])
	if err != nil {
		return Instruction{}, err
	}
	msg, err := parsePersonalSignMessage(raw)
	if err != nil {
		return Instruction{}, err
	}
	if len(ps) > 1 {
		addr, err := paramString(ps[1])
		if err != nil {
			return Instruction{}, err
		}
		if _, err := parseAddr(addr); err != nil {
			return Instruction{}, err
		}
	}

	return signInstruction(signer.Request{
		Kind:    signer.KindPersonalSign,
		Address: tctx.AccountAddress,
		ChainID: tctx.ChainID,
		Message: msg,
	}), nil
}

// translateTypedData handles all four typed-data methods. The suffixed
// methods name their version explicitly; bare eth_signTypedData infers it
// from parameter ordering: modern dapps send [address, payload], the legacy
// V1 convention sends [payload, address]. Whether the first parameter is an
// address is the discriminator both ecosystems agree on.
func (t *Translator) translateTypedData(method Method, params json.RawMessage, tctx Context) (Instruction, error) {
	ps, err := splitParams(params)
	if err != nil {
		return Instruction{}, err
	}
	if len(ps) < 2 {
		return Instruction{}, fmt.Errorf("%s expects two params", method)
	}

	var version string
	var payload json.RawMessage

	switch method {
	case MethodSignTypedDataV1:
		version, payload = "V1", ps[0]
	case MethodSignTypedDataV3:
		version, payload = "V3", ps[1]
	case MethodSignTypedDataV4:
		version, payload = "V4", ps[1]
	default:
		if rawIsAddress(ps[0]) {
			version, payload = "V4", ps[1]
		} else {
			version, payload = "V1", ps[0]
		}
	}

	payload, err = unquoteJSONPayload(payload)
	if err != nil {
		return Instruction{}, err
	}

	return signInstruction(signer.Request{
		Kind:             signer.KindTypedData,
		Address:          tctx.AccountAddress,
		ChainID:          tctx.ChainID,
		TypedDataVersion: version,
		TypedData:        payload,
	}), nil
}

// translateTransaction strips transport-only fields (sender address, the gas
// alias for gasLimit) before handing the transaction to the signer.
func (t *Translator) translateTransaction(params json.RawMessage, tctx Context, kind signer.Kind) (Instruction, error) {
	ps, err := splitParams(params)
	if err != nil {
		return Instruction{}, err
	}
	if len(ps) < 1 {
		return Instruction{}, fmt.Errorf("transaction methods expect [txObject]")
	}

	var tx dappTx
	if err := json.Unmarshal(ps[0], &tx); err != nil {
		return Instruction{}, fmt.Errorf("invalid transaction object: %w", err)
	}

	gasLimit := tx.GasLimit
	if gasLimit == "" {
		gasLimit = tx.Gas
	}

	return signInstruction(signer.Request{
		Kind:    kind,
		Address: tctx.AccountAddress,
		ChainID: tctx.ChainID,
		Transaction: &signer.Transaction{
			To:                   strings.TrimSpace(tx.To),
			Value:                strings.TrimSpace(tx.Value),
			Data:                 strings.TrimSpace(tx.Data),
			GasLimit:             strings.TrimSpace(gasLimit),
			GasPrice:             strings.TrimSpace(tx.GasPrice),
			Nonce:                strings.TrimSpace(tx.Nonce),
			MaxFeePerGas:         strings.TrimSpace(tx.MaxFeePerGas),
			MaxPriorityFeePerGas: strings.TrimSpace(tx.MaxPriorityFeePerGas),
		},
	}), nil
}

// eth_sendRawTransaction params: [signedTxHex]. Broadcast only.
func (t *Translator) translateSendRaw(params json.RawMessage, tctx Context) (Instruction, error) {
	ps, err := splitParams(params)
	if err != nil {
		return Instruction{}, err
	}
	if len(ps) < 1 {
		return Instruction{}, fmt.Errorf("eth_sendRawTransaction expects [signedTx]")
	}

	rawTx, err := paramString(ps[0])
	if err != nil {
		return Instruction{}, err
	}
	rawTx = strings.TrimSpace(rawTx)
	if rawTx == "" {
		return Instruction{}, fmt.Errorf("missing signed transaction")
	}

	return signInstruction(signer.Request{
		Kind:    signer.KindSendRaw,
		Address: tctx.AccountAddress,
		ChainID: tctx.ChainID,
		RawTx:   rawTx,
	}), nil
}

// wallet_addEthereumChain validates the descriptor and dedupes by chain id
// before signaling the registry mutation. An already-registered chain still
// succeeds toward the peer, with no registry change.
func (t *Translator) translateAddChain(params json.RawMessage) (Instruction, error) {
	ps, err := splitParams(params)
	if err != nil {
		return Instruction{}, err
	}
	if len(ps) < 1 {
		return Instruction{}, fmt.Errorf("wallet_addEthereumChain expects [chainParam]")
	}

	var p addChainParam
	if err := json.Unmarshal(ps[0], &p); err != nil {
		return Instruction{}, fmt.Errorf("invalid chain param: %w", err)
	}

	chainID, err := parseChainIDHex(p.ChainID)
	if err != nil {
		return Instruction{}, err
	}

	if t.registry.Has(chainID) {
		return Instruction{Effect: EffectAddChain, AddChain: nil}, nil
	}

	name := strings.TrimSpace(p.ChainName)
	if name == "" {
		return Instruction{}, fmt.Errorf("missing chainName")
	}
	if len(p.RPCURLs) == 0 {
		return Instruction{}, fmt.Errorf("missing rpcUrls")
	}

	return Instruction{
		Effect: EffectAddChain,
		AddChain: &chains.Descriptor{
			ChainID:           chainID,
			Name:              name,
			RPCURLs:           p.RPCURLs,
			BlockExplorerURLs: p.BlockExplorerURLs,
		},
	}, nil
}

// wallet_switchEthereumChain fails for chains the registry does not know;
// success requires a session update downstream.
func (t *Translator) translateSwitchChain(params json.RawMessage) (Instruction, error) {
	ps, err := splitParams(params)
	if err != nil {
		return Instruction{}, err
	}
	if len(ps) < 1 {
		return Instruction{}, fmt.Errorf("wallet_switchEthereumChain expects [chainParam]")
	}

	var p switchChainParam
	if err := json.Unmarshal(ps[0], &p); err != nil {
		return Instruction{}, fmt.Errorf("invalid chain param: %w", err)
	}

	chainID, err := parseChainIDHex(p.ChainID)
	if err != nil {
		return Instruction{}, err
	}
	if !t.registry.Has(chainID) {
		return Instruction{}, &UnknownChainError{ChainID: chainID}
	}

	return Instruction{Effect: EffectSwitchChain, SwitchChainID: chainID}, nil
}

// FormatResult reduces the gateway's output to the wire value the peer
// expects: send methods reply with the transaction hash only (the raw signed
// payload never crosses the peer protocol), eth_signTransaction replies with
// the raw signed transaction, and signing methods pass the signature through
// unchanged.
func FormatResult(method Method, out signer.Output) string {
	if method == MethodSignTransaction && out.Raw != "" {
		return out.Raw
	}
	return out.SignatureOrHash
}

func signInstruction(req signer.Request) Instruction {
	return Instruction{Effect: EffectSign, Sign: &req}
}

// unquoteJSONPayload unwraps typed-data payloads that arrive as a JSON
// string containing JSON (a common dapp library quirk).
func unquoteJSONPayload(raw json.RawMessage) (json.RawMessage, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("empty typed data payload")
		}
		if !json.Valid([]byte(s)) {
			return nil, fmt.Errorf("typed data payload is not valid JSON")
		}
		return json.RawMessage(s), nil
	}
	return raw, nil
}
