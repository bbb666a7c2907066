package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// CryptoCode is the upper-case ticker a store configures, e.g. "BNB".
type CryptoCode string

func (c CryptoCode) String() string {
	return string(c)
}

// Normalize upper-cases the code so lookups are case-insensitive.
func (c CryptoCode) Normalize() CryptoCode {
	return CryptoCode(strings.ToUpper(strings.TrimSpace(string(c))))
}

const (
	CodeBNB     CryptoCode = "BNB"
	CodeWPROSUS CryptoCode = "WPROSUS"
)

// DefaultMaxTrackedConfirmations is the confirmation count after which a
// payment is considered final and no longer polled.
const DefaultMaxTrackedConfirmations int64 = 25

// Coin describes one payable asset on one chain. Contract is empty for the
// native coin and holds the BEP20 contract address otherwise.
type Coin struct {
	Code                    CryptoCode
	DisplayName             string
	ChainID                 ChainID
	Contract                string
	Divisibility            int32
	CoinType                uint32
	MaxTrackedConfirmations int64
}

func (c Coin) IsNative() bool {
	return c.Contract == ""
}

// PaymentMethodID is the identifier invoices use to name the method.
func (c Coin) PaymentMethodID() string {
	return string(c.Code.Normalize())
}

// KeyPath is the BIP44 path of the deposit address with the given index.
func (c Coin) KeyPath(index int64) string {
	return fmt.Sprintf("m/44'/%d'/0'/0/%d", c.CoinType, index)
}

// FormatAmount renders a base-unit amount in whole coins.
func (c Coin) FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -c.Divisibility).String()
}

// ParseAmount converts a whole-coin decimal string into base units.
func (c Coin) ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("parse amount %q: negative", s)
	}
	return d.Shift(c.Divisibility).BigInt(), nil
}

var coinRegistry = []Coin{
	{
		Code:                    CodeBNB,
		DisplayName:             "BNB",
		ChainID:                 ChainBSCMainnet,
		Divisibility:            18,
		CoinType:                714,
		MaxTrackedConfirmations: DefaultMaxTrackedConfirmations,
	},
	{
		Code:                    CodeBNB,
		DisplayName:             "BNB (testnet)",
		ChainID:                 ChainBSCTestnet,
		Divisibility:            18,
		CoinType:                1,
		MaxTrackedConfirmations: DefaultMaxTrackedConfirmations,
	},
	{
		Code:                    CodeWPROSUS,
		DisplayName:             "Wrapped Prosus",
		ChainID:                 ChainBSCMainnet,
		Contract:                "0x56f86cfa34cf4004736554c2784d59e477589c8c",
		Divisibility:            12,
		CoinType:                714,
		MaxTrackedConfirmations: DefaultMaxTrackedConfirmations,
	},
	{
		Code:                    CodeWPROSUS,
		DisplayName:             "Wrapped Prosus (testnet)",
		ChainID:                 ChainBSCTestnet,
		Contract:                "0xe6f47738f66256b8c230f99852cbfaf96d3c02d4",
		Divisibility:            12,
		CoinType:                1,
		MaxTrackedConfirmations: DefaultMaxTrackedConfirmations,
	},
}

// CoinsForChain returns every coin registered on the chain.
func CoinsForChain(id ChainID) []Coin {
	var out []Coin
	for _, c := range coinRegistry {
		if c.ChainID == id {
			out = append(out, c)
		}
	}
	return out
}

// LookupCoin finds a coin by chain and case-insensitive crypto code.
func LookupCoin(id ChainID, code CryptoCode) (Coin, bool) {
	code = code.Normalize()
	for _, c := range coinRegistry {
		if c.ChainID == id && c.Code == code {
			return c, true
		}
	}
	return Coin{}, false
}

// SpeedPolicy is the merchant's trade-off between settlement speed and
// confirmation safety.
type SpeedPolicy string

const (
	SpeedHigh      SpeedPolicy = "HIGH"
	SpeedMedium    SpeedPolicy = "MEDIUM"
	SpeedLowMedium SpeedPolicy = "LOW_MEDIUM"
	SpeedLow       SpeedPolicy = "LOW"
)

// ConfirmationsRequired is the count at which a payment is considered
// confirmed under the policy.
func (p SpeedPolicy) ConfirmationsRequired() int64 {
	switch p {
	case SpeedHigh:
		return 2
	case SpeedLowMedium:
		return 12
	case SpeedLow:
		return 20
	default:
		return 6
	}
}
