// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package app

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// LoadNodeKey reads the node's hex-encoded private key from path. If the file
// does not exist, a new key is generated and written there.
func LoadNodeKey(path string) (*secp256k1.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		keyB, err := hex.DecodeString(strings.TrimSpace(string(b)))
		if err != nil {
			return nil, fmt.Errorf("node key file %s is not hex: %w", path, err)
		}
		if len(keyB) != secp256k1.PrivKeyBytesLen {
			return nil, fmt.Errorf("node key file %s has %d bytes, expected %d", path, len(keyB), secp256k1.PrivKeyBytesLen)
		}
		return secp256k1.PrivKeyFromBytes(keyB), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading node key: %w", err)
	}

	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("error creating node key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(priv.Serialize())+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("error writing node key: %w", err)
	}
	return priv, nil
}
