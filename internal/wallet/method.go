// Package wallet translates inbound wallet RPC calls into canonical signing
// instructions and signing results back into peer wire values. Everything in
// here is a pure function of its inputs.
package wallet

import "fmt"

// Method is the closed set of wallet RPC methods the daemon understands.
// Method names are case-sensitive wire strings.
type Method string

const (
	MethodEthSign            Method = "eth_sign"
	MethodPersonalSign       Method = "personal_sign"
	MethodSignTypedData      Method = "eth_signTypedData"
	MethodSignTypedDataV1    Method = "eth_signTypedData_v1"
	MethodSignTypedDataV3    Method = "eth_signTypedData_v3"
	MethodSignTypedDataV4    Method = "eth_signTypedData_v4"
	MethodSignTransaction    Method = "eth_signTransaction"
	MethodSendTransaction    Method = "eth_sendTransaction"
	MethodSendRawTransaction Method = "eth_sendRawTransaction"
	MethodAddChain           Method = "wallet_addEthereumChain"
	MethodSwitchChain        Method = "wallet_switchEthereumChain"
)

var supportedMethods = map[Method]bool{
	MethodEthSign:            true,
	MethodPersonalSign:       true,
	MethodSignTypedData:      true,
	MethodSignTypedDataV1:    true,
	MethodSignTypedDataV3:    true,
	MethodSignTypedDataV4:    true,
	MethodSignTransaction:    true,
	MethodSendTransaction:    true,
	MethodSendRawTransaction: true,
	MethodAddChain:           true,
	MethodSwitchChain:        true,
}

// ParseMethod maps a wire method name onto the closed enum.
func ParseMethod(s string) (Method, bool) {
	m := Method(s)
	return m, supportedMethods[m]
}

// IsChainManagement reports whether the method mutates local chain state
// instead of producing a signature.
func (m Method) IsChainManagement() bool {
	return m == MethodAddChain || m == MethodSwitchChain
}

// IsSendMethod reports whether the method's wire value is a transaction hash.
func (m Method) IsSendMethod() bool {
	return m == MethodSendTransaction || m == MethodSendRawTransaction
}

// UnsupportedMethodError is produced for any method outside the closed set.
// It is always surfaced to the peer as a rejection, never as a fault.
type UnsupportedMethodError struct {
	Method string
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("unsupported method: %s", e.Method)
}

// UnknownChainError is produced when a chain switch names a chain the
// registry does not know.
type UnknownChainError struct {
	ChainID uint64
}

func (e *UnknownChainError) Error() string {
	return fmt.Sprintf("unknown chain: %d", e.ChainID)
}
