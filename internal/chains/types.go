package chains

import "github.com/keyhaven-io/keyhaven-walletd/internal/constants"

// Descriptor is the wallet's view of one EVM network.
type Descriptor struct {
	ChainID           uint64   `json:"chainId"`
	Name              string   `json:"name"`
	RPCURLs           []string `json:"rpcUrls"` // ordered, first preferred
	BlockExplorerURLs []string `json:"blockExplorerUrls,omitempty"`
	IsTestNetwork     bool     `json:"isTestNetwork"`
}

type fileStore struct {
	Schema int          `json:"schema"`
	Chains []Descriptor `json:"chains"` // registry order = append order
}

func newEmptyStore() fileStore {
	return fileStore{Schema: constants.SchemaV1}
}
