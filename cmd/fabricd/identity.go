package main

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
)

// loadOrCreateKey reads the node's secp256k1 signing key from
// <dataDir>/node.key, generating and persisting a fresh one on first run.
func loadOrCreateKey(dataDir string) (*ecdsa.PrivateKey, error) {
	path := filepath.Join(dataDir, "node.key")

	if key, err := crypto.LoadECDSA(path); err == nil {
		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("load node key: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate node key: %w", err)
	}
	if err := crypto.SaveECDSA(path, key); err != nil {
		return nil, fmt.Errorf("save node key: %w", err)
	}
	return key, nil
}
