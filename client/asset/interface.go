// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package asset

import (
	"context"
	"math/big"

	"decred.org/mmswap/dex"
)

const (
	// CoinNotFoundError is returned when an operation or swap cannot be
	// located on chain.
	CoinNotFoundError = dex.ErrorKind("coin not found")
	ErrRequestTimeout = dex.ErrorKind("request timeout")
	ErrConnectionDown = dex.ErrorKind("wallet not connected")
)

// WalletInfo is auxiliary information about a wallet.
type WalletInfo struct {
	// Name is the display name for the currency, e.g. "Tezos"
	Name string `json:"name"`
	// Units is the unit used for the smallest (integer) denomination of the
	// currency, in plural form e.g. mutez.
	Units string `json:"units"`
	// Decimals is the number of decimal places of a whole coin.
	Decimals uint8 `json:"decimals"`
	// ConfigOpts is a slice of expected wallet config options.
	ConfigOpts []*ConfigOption `json:"configopts"`
}

// ConfigOption is a wallet configuration option.
type ConfigOption struct {
	Key          string `json:"key"`
	DisplayName  string `json:"displayname"`
	Description  string `json:"description"`
	DefaultValue any    `json:"default"`
	NoEcho       bool   `json:"noecho"`
	Required     bool   `json:"required"`
}

// WalletConfig is the configuration settings for the wallet. WalletConfig
// is passed to the wallet constructor.
type WalletConfig struct {
	// Ticker selects the coin for drivers that serve several tokens, e.g.
	// XTZ and the FA tokens issued on it.
	Ticker string
	// Settings is the key-value store of wallet connection parameters.
	Settings map[string]string
	// BalanceUpdated is called when the wallet's monitoring loop sees the
	// spendable balance change.
	BalanceUpdated func(ticker string, balance *big.Rat)
}

// Coin is what the order-matching engine needs to know about a chain. All
// amounts are in whole coin units.
type Coin interface {
	// Ticker is the coin's symbol, e.g. XTZ.
	Ticker() string
	// Info returns a set of basic information about the wallet.
	Info() *WalletInfo
	// Balance is the spendable balance.
	Balance(ctx context.Context) (*big.Rat, error)
	// RequiredConfirmations is the confirmations setting applied to orders
	// that don't specify their own.
	RequiredConfirmations() uint64
	// RequiresNotarization is the notarization setting applied to orders
	// that don't specify their own.
	RequiresNotarization() bool
}

// Wallet is a Coin with a background monitoring loop.
type Wallet interface {
	dex.Connector
	Coin
}

// OrderConfirmationsSettings are an order's confirmation and notarization
// requirements for both coins of the pair.
type OrderConfirmationsSettings struct {
	BaseConfs uint64 `json:"base_confs" codec:"base_confs"`
	BaseNota  bool   `json:"base_nota" codec:"base_nota"`
	RelConfs  uint64 `json:"rel_confs" codec:"rel_confs"`
	RelNota   bool   `json:"rel_nota" codec:"rel_nota"`
}

// Reversed swaps the base and rel settings.
func (s *OrderConfirmationsSettings) Reversed() *OrderConfirmationsSettings {
	return &OrderConfirmationsSettings{
		BaseConfs: s.RelConfs,
		BaseNota:  s.RelNota,
		RelConfs:  s.BaseConfs,
		RelNota:   s.BaseNota,
	}
}

// DefaultConfSettings are the settings of the coins' own defaults.
func DefaultConfSettings(base, rel Coin) *OrderConfirmationsSettings {
	return &OrderConfirmationsSettings{
		BaseConfs: base.RequiredConfirmations(),
		BaseNota:  base.RequiresNotarization(),
		RelConfs:  rel.RequiredConfirmations(),
		RelNota:   rel.RequiresNotarization(),
	}
}

// SwapConfirmations is the resolved confirmation settings of one swap, by
// role.
type SwapConfirmations struct {
	MakerCoinConfs uint64 `json:"maker_coin_confs"`
	MakerCoinNota  bool   `json:"maker_coin_nota"`
	TakerCoinConfs uint64 `json:"taker_coin_confs"`
	TakerCoinNota  bool   `json:"taker_coin_nota"`
}

// SwapParams describes a matched pair handed to the swap engine.
type SwapParams struct {
	UUID        string            `json:"uuid"`
	MakerCoin   string            `json:"maker_coin"`
	TakerCoin   string            `json:"taker_coin"`
	MakerAmount *big.Rat          `json:"maker_amount"`
	TakerAmount *big.Rat          `json:"taker_amount"`
	MyPubkey    dex.Bytes         `json:"my_pubkey"`
	OtherPubkey dex.Bytes         `json:"other_pubkey"`
	Confs       SwapConfirmations `json:"confs"`
}

// SwapEngine executes swaps once both sides of a match are connected.
type SwapEngine interface {
	StartMakerSwap(ctx context.Context, p *SwapParams) error
	StartTakerSwap(ctx context.Context, p *SwapParams) error
}

// PubkeyAddresser is implemented by coins that can derive the address of a
// peer's mesh pubkey, a compressed secp256k1 key.
type PubkeyAddresser interface {
	AddressFromPubkey(pubkey []byte) (string, error)
}

// TradeFee is the fee of one swap transaction, in whole units of Coin.
type TradeFee struct {
	Coin   string
	Amount *big.Rat
}

// TradeFeer is implemented by coins that pay a fee per swap transaction. A
// maker order can only offer the balance left after that fee.
type TradeFeer interface {
	TradeFee() *TradeFee
}
