// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package app

import (
	"fmt"
	"maps"
	"math/big"
	"os"
	"strconv"
	"strings"

	"decred.org/mmswap/client/asset"
	"decred.org/mmswap/client/asset/xtz"
	"decred.org/mmswap/dex"
	"decred.org/mmswap/dex/config"
)

// XTZConfig is the Tezos wallet configuration. Settings can come from a
// wallet config file, from the command line, or both, with the command line
// taking precedence.
type XTZConfig struct {
	WalletConfigPath string   `long:"xtzwalletconfig" description:"Path to an INI file with the XTZ wallet settings (rpcurl, swapcontract, privatekey, ...)."`
	NodeURL          string   `long:"xtznode" description:"Tezos node RPC URL, e.g. http://127.0.0.1:8732"`
	SwapContract     string   `long:"xtzswapcontract" description:"KT1 address of the atomic swap contract"`
	KeyFile          string   `long:"xtzkeyfile" description:"File with the hex-encoded account private key"`
	Curve            string   `long:"xtzcurve" description:"Account key curve {ed25519, secp256k1}"`
	Confs            uint64   `long:"xtzconfs" description:"Default required confirmations for XTZ and its tokens"`
	Nota             bool     `long:"xtznota" description:"Require notarization by default"`
	Tokens           []string `long:"xtztoken" description:"FA token wallet as TICKER:KT1address[:decimals]. May be repeated."`

	tokens []*tokenDef
}

type tokenDef struct {
	ticker   string
	contract string
	decimals string
}

// parseTokenDef parses a TICKER:KT1address[:decimals] definition.
func parseTokenDef(s string) (*tokenDef, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("invalid token %q, expected TICKER:KT1address[:decimals]", s)
	}
	td := &tokenDef{
		ticker:   strings.ToUpper(strings.TrimSpace(parts[0])),
		contract: strings.TrimSpace(parts[1]),
	}
	if td.ticker == "" || td.ticker == xtz.Ticker {
		return nil, fmt.Errorf("invalid token ticker %q", parts[0])
	}
	addr, err := xtz.ParseAddress(td.contract)
	if err != nil {
		return nil, fmt.Errorf("invalid %s token contract: %w", td.ticker, err)
	}
	if !addr.IsOriginated() {
		return nil, fmt.Errorf("%s token contract %s is not a KT1 address", td.ticker, td.contract)
	}
	if len(parts) == 3 {
		if _, err := strconv.ParseUint(parts[2], 10, 8); err != nil {
			return nil, fmt.Errorf("invalid %s token decimals %q", td.ticker, parts[2])
		}
		td.decimals = parts[2]
	}
	return td, nil
}

// Enabled is true if any XTZ wallet source is configured.
func (cfg *XTZConfig) Enabled() bool {
	return cfg.WalletConfigPath != "" || cfg.NodeURL != ""
}

func (cfg *XTZConfig) resolve() error {
	if cfg.WalletConfigPath != "" {
		cfg.WalletConfigPath = dex.CleanAndExpandPath(cfg.WalletConfigPath)
	}
	if cfg.KeyFile != "" {
		cfg.KeyFile = dex.CleanAndExpandPath(cfg.KeyFile)
	}
	if len(cfg.Tokens) > 0 && !cfg.Enabled() {
		return fmt.Errorf("xtztoken requires xtznode or xtzwalletconfig")
	}
	cfg.tokens = cfg.tokens[:0]
	seen := make(map[string]bool, len(cfg.Tokens))
	for _, s := range cfg.Tokens {
		td, err := parseTokenDef(s)
		if err != nil {
			return err
		}
		if seen[td.ticker] {
			return fmt.Errorf("duplicate token %s", td.ticker)
		}
		seen[td.ticker] = true
		cfg.tokens = append(cfg.tokens, td)
	}
	return nil
}

// settings merges the wallet config file with the command line overrides.
func (cfg *XTZConfig) settings() (map[string]string, error) {
	settings := make(map[string]string)
	if cfg.WalletConfigPath != "" {
		fileSettings, err := config.Options(cfg.WalletConfigPath)
		if err != nil {
			return nil, fmt.Errorf("error reading XTZ wallet config: %w", err)
		}
		settings = fileSettings
	}
	set := func(k, v string) {
		if v != "" {
			settings[k] = v
		}
	}
	set("rpcurl", cfg.NodeURL)
	set("swapcontract", cfg.SwapContract)
	set("curve", cfg.Curve)
	if cfg.Confs > 0 {
		settings["requiredconfs"] = strconv.FormatUint(cfg.Confs, 10)
	}
	if cfg.Nota {
		settings["requiresnota"] = "true"
	}
	if cfg.KeyFile != "" {
		b, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("error reading XTZ key file: %w", err)
		}
		settings["privatekey"] = strings.TrimSpace(string(b))
	}
	return settings, nil
}

// Wallets opens the XTZ wallet and a wallet for each configured token. The
// wallets are not connected.
func (cfg *XTZConfig) Wallets(lm *dex.LoggerMaker, onBalance func(string, *big.Rat)) ([]asset.Wallet, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	settings, err := cfg.settings()
	if err != nil {
		return nil, err
	}

	// The native wallet never has a token contract, whatever the file says.
	nativeSettings := maps.Clone(settings)
	delete(nativeSettings, "tokencontract")
	w, err := asset.OpenWallet(xtz.Ticker, &asset.WalletConfig{
		Settings:       nativeSettings,
		BalanceUpdated: onBalance,
	}, lm.Logger(xtz.Ticker))
	if err != nil {
		return nil, fmt.Errorf("error opening XTZ wallet: %w", err)
	}
	wallets := []asset.Wallet{w}

	for _, td := range cfg.tokens {
		tokenSettings := maps.Clone(settings)
		tokenSettings["tokencontract"] = td.contract
		if td.decimals != "" {
			tokenSettings["decimals"] = td.decimals
		} else {
			delete(tokenSettings, "decimals")
		}
		tw, err := xtz.NewWallet(&asset.WalletConfig{
			Ticker:         td.ticker,
			Settings:       tokenSettings,
			BalanceUpdated: onBalance,
		}, lm.Logger(td.ticker))
		if err != nil {
			return nil, fmt.Errorf("error opening %s wallet: %w", td.ticker, err)
		}
		wallets = append(wallets, tw)
	}
	return wallets, nil
}
