// Package nameservice reads a folder of ECDSA private key files and
// builds a reverse lookup from the derived account address to the file
// name, so logs and API responses can show "minnie" instead of a base64
// digest.
package nameservice

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/chainforge/node/foundation/blockchain/storage"
	"github.com/ethereum/go-ethereum/crypto"
)

// NameService maintains a map of account addresses for name lookup.
type NameService struct {
	accounts map[storage.Address]string
}

// New constructs a NameService from the .ecdsa key files under root.
func New(root string) (*NameService, error) {
	ns := NameService{
		accounts: make(map[storage.Address]string),
	}

	fn := func(fileName string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if path.Ext(fileName) != ".ecdsa" {
			return nil
		}

		privateKey, err := crypto.LoadECDSA(fileName)
		if err != nil {
			return err
		}

		addr := storage.AddressOf(privateKey.PublicKey)
		ns.accounts[addr] = strings.TrimSuffix(path.Base(fileName), ".ecdsa")

		return nil
	}

	if err := filepath.Walk(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return &ns, nil
}

// Lookup returns the name for the specified account address.
func (ns *NameService) Lookup(addr storage.Address) string {
	name, exists := ns.accounts[addr]
	if !exists {
		return string(addr)
	}
	return name
}

// Copy returns a copy of the map of names and account addresses.
func (ns *NameService) Copy() map[storage.Address]string {
	cpy := make(map[storage.Address]string, len(ns.accounts))
	for addr, name := range ns.accounts {
		cpy[addr] = name
	}
	return cpy
}
