package constants

const (
	AppName = "keyhaven"

	// Files persisted under the app config dir.
	StateFile  = "state.json"
	ChainsFile = "chains.json"

	SchemaV1      = 1
	FilePerm      = 0o600
	DirectoryPerm = 0o700
)

// JSON-RPC error codes (EIP-1474 style), used on the peer protocol and the
// operator API alike.
const (
	JSONRPCErrorCodeInvalidRequest = -32600
	JSONRPCErrorCodeMethodNotFound = -32601
	JSONRPCErrorCodeInvalidParams  = -32602
	JSONRPCErrorCodeInternalError  = -32603
)

const (
	HexPrefix0x = "0x"

	// Message sent to the peer when the operator declines a request.
	UserRejectedText = "user rejected request"
)
