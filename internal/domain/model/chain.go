package model

import "strconv"

// ChainID is the EIP-155 chain id reported by eth_chainId.
type ChainID int64

const (
	ChainBSCMainnet ChainID = 56
	ChainBSCTestnet ChainID = 97
)

func (c ChainID) String() string {
	return strconv.FormatInt(int64(c), 10)
}

type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

func (n Network) String() string {
	return string(n)
}

// Network returns the network a chain id belongs to. Unknown ids are
// treated as testnets.
func (c ChainID) Network() Network {
	if c == ChainBSCMainnet {
		return NetworkMainnet
	}
	return NetworkTestnet
}

// KnownChain reports whether coins are registered for the chain id.
func KnownChain(c ChainID) bool {
	return len(CoinsForChain(c)) > 0
}
