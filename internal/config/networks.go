package config

type Network struct {
	Name          string
	ChainID       int
	RPCCandidates []string
	Explorer      string
	Symbol        string
	Decimals      int
}

var BNBSmartChain = Network{
	Name:    "BNB Smart Chain",
	ChainID: 56,
	RPCCandidates: []string{
		"https://bsc-dataseed.binance.org",
		"https://bsc-dataseed1.ninicoin.io",
		"https://bsc-dataseed1.defibit.io",
		"https://bsc-dataseed1.bnbchain.org",
		"https://rpc.ankr.com/bsc",
		"https://bscrpc.com",
	},
	Explorer: "https://bscscan.com/",
	Symbol:   "BNB",
	Decimals: 18,
}

// TxURL links a transaction hash on the network's explorer.
func (n Network) TxURL(hash string) string {
	if n.Explorer == "" {
		return hash
	}
	return n.Explorer + "tx/" + hash
}
