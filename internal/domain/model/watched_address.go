package model

// WatchListEntry is one destination address an invoice is waiting on.
type WatchListEntry struct {
	InvoiceID   string
	ChainID     ChainID
	Coin        CryptoCode
	Destination string
	Activated   bool
}
