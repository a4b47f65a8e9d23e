package chains

// Defaults are the networks seeded on first run. Dapp- or operator-added
// networks accumulate alongside them in chains.json.
func Defaults() []Descriptor {
	return []Descriptor{
		{
			ChainID:           1,
			Name:              "Ethereum Mainnet",
			RPCURLs:           []string{"https://eth.llamarpc.com", "https://cloudflare-eth.com"},
			BlockExplorerURLs: []string{"https://etherscan.io"},
		},
		{
			ChainID:           137,
			Name:              "Polygon",
			RPCURLs:           []string{"https://polygon-rpc.com"},
			BlockExplorerURLs: []string{"https://polygonscan.com"},
		},
		{
			ChainID:           10,
			Name:              "OP Mainnet",
			RPCURLs:           []string{"https://mainnet.optimism.io"},
			BlockExplorerURLs: []string{"https://optimistic.etherscan.io"},
		},
		{
			ChainID:           42161,
			Name:              "Arbitrum One",
			RPCURLs:           []string{"https://arb1.arbitrum.io/rpc"},
			BlockExplorerURLs: []string{"https://arbiscan.io"},
		},
		{
			ChainID:           11155111,
			Name:              "Sepolia",
			RPCURLs:           []string{"https://rpc.sepolia.org"},
			BlockExplorerURLs: []string{"https://sepolia.etherscan.io"},
			IsTestNetwork:     true,
		},
	}
}
