// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package xtz

import (
	"encoding/hex"
	"fmt"
	"strings"

	"decred.org/mmswap/client/asset"
	"decred.org/mmswap/dex/config"
)

const (
	defaultDecimals      = 6
	defaultRequiredConfs = 1
	defaultRPS           = 20
)

// WalletConfig is the wallet settings, parsed from the asset.WalletConfig
// settings map.
type WalletConfig struct {
	NodeURL              string  `ini:"rpcurl"`
	SwapContract         string  `ini:"swapcontract"`
	TokenContract        string  `ini:"tokencontract"`
	PrivateKey           string  `ini:"privatekey"`
	Curve                string  `ini:"curve"`
	RequiredConfs        uint64  `ini:"requiredconfs"`
	RequiresNotarization bool    `ini:"requiresnota"`
	Decimals             uint8   `ini:"decimals"`
	RequestsPerSecond    float64 `ini:"rps"`
}

var configOpts = []*asset.ConfigOption{
	{
		Key:         "rpcurl",
		DisplayName: "Node RPC URL",
		Description: "HTTP address of the node RPC, e.g. http://127.0.0.1:8732",
		Required:    true,
	},
	{
		Key:         "swapcontract",
		DisplayName: "Swap contract",
		Description: "KT1 address of the atomic swap contract",
		Required:    true,
	},
	{
		Key:         "tokencontract",
		DisplayName: "Token contract",
		Description: "KT1 address of the FA token contract. Empty for XTZ.",
	},
	{
		Key:         "privatekey",
		DisplayName: "Private key",
		Description: "Hex-encoded account key. An ed25519 seed or a secp256k1 private key.",
		NoEcho:      true,
		Required:    true,
	},
	{
		Key:          "curve",
		DisplayName:  "Key curve",
		Description:  "ed25519 (tz1) or secp256k1 (tz2)",
		DefaultValue: "ed25519",
	},
	{
		Key:          "requiredconfs",
		DisplayName:  "Required confirmations",
		DefaultValue: defaultRequiredConfs,
	},
	{
		Key:         "requiresnota",
		DisplayName: "Requires notarization",
	},
	{
		Key:          "decimals",
		DisplayName:  "Decimals",
		DefaultValue: defaultDecimals,
	},
	{
		Key:          "rps",
		DisplayName:  "Node requests per second",
		DefaultValue: defaultRPS,
	},
}

// walletParams is the validated form of WalletConfig.
type walletParams struct {
	nodeURL       string
	swapContract  Address
	token         *Address
	curve         Curve
	privKey       []byte
	requiredConfs uint64
	requiresNota  bool
	decimals      uint8
	rps           float64
}

func parseCurve(s string) (Curve, error) {
	switch strings.ToLower(s) {
	case "", "ed25519", "tz1":
		return CurveEd25519, nil
	case "secp256k1", "tz2":
		return CurveSecp256k1, nil
	}
	return 0, fmt.Errorf("unsupported curve %q", s)
}

func parseContract(name, s string) (Address, error) {
	addr, err := ParseAddress(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid %s address: %w", name, err)
	}
	if !addr.IsOriginated() {
		return Address{}, fmt.Errorf("%s address %s is not a KT1 address", name, s)
	}
	return addr, nil
}

func parseWalletConfig(settings map[string]string) (*walletParams, error) {
	cfg := &WalletConfig{
		RequiredConfs:     defaultRequiredConfs,
		Decimals:          defaultDecimals,
		RequestsPerSecond: defaultRPS,
	}
	if err := config.Unmapify(settings, cfg); err != nil {
		return nil, fmt.Errorf("error parsing wallet settings: %w", err)
	}
	if cfg.NodeURL == "" {
		return nil, fmt.Errorf("no node RPC URL")
	}
	p := &walletParams{
		nodeURL:       cfg.NodeURL,
		requiredConfs: cfg.RequiredConfs,
		requiresNota:  cfg.RequiresNotarization,
		decimals:      cfg.Decimals,
		rps:           cfg.RequestsPerSecond,
	}
	var err error
	if p.swapContract, err = parseContract("swap contract", cfg.SwapContract); err != nil {
		return nil, err
	}
	if cfg.TokenContract != "" {
		token, err := parseContract("token contract", cfg.TokenContract)
		if err != nil {
			return nil, err
		}
		p.token = &token
	}
	if p.curve, err = parseCurve(cfg.Curve); err != nil {
		return nil, err
	}
	if p.privKey, err = hex.DecodeString(cfg.PrivateKey); err != nil {
		return nil, fmt.Errorf("private key is not hex: %w", err)
	}
	return p, nil
}
