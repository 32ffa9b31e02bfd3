// Package wallet derives an EVM private key from a BIP-39 mnemonic or an
// encrypted keystore file, wrapping x402/signer/evm so a deployer can
// configure a Signer from the same key sources the teacher's wallet
// supported, without a plaintext hex key sitting in configuration.
//
// Grounded on the teacher's evm/keystore.go; the go-bip39/go-bip32
// dependency pair is grounded on mark3labs-mcp-go-x402's go.mod.
package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/x402gate/x402"
	"github.com/x402gate/x402/signer/evm"
)

// FromKeystore decrypts an encrypted V3 keystore file and returns the
// recovered private key.
func FromKeystore(keystorePath, password string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(keystorePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKeystore, err)
	}

	var keyJSON struct {
		Crypto keystore.CryptoJSON `json:"crypto"`
	}
	if err := json.Unmarshal(data, &keyJSON); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON format", x402.ErrInvalidKeystore)
	}

	privateKeyBytes, err := keystore.DecryptDataV3(keyJSON.Crypto, password)
	if err != nil {
		return nil, fmt.Errorf("%w: decryption failed", x402.ErrInvalidKeystore)
	}

	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key", x402.ErrInvalidKeystore)
	}
	return privateKey, nil
}

// FromMnemonic validates a BIP-39 mnemonic and derives the Ethereum private
// key at BIP-44 path m/44'/60'/0'/0/{accountIndex}.
func FromMnemonic(mnemonic string, accountIndex uint32) (*ecdsa.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, x402.ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")

	privateKey, err := deriveEthereumKey(seed, accountIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidMnemonic, err)
	}
	return privateKey, nil
}

// deriveEthereumKey walks the BIP-44 path m/44'/60'/0'/0/{index} from seed.
func deriveEthereumKey(seed []byte, index uint32) (*ecdsa.PrivateKey, error) {
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	for _, child := range []uint32{
		bip32.FirstHardenedChild + 44, // purpose
		bip32.FirstHardenedChild + 60, // coin type: Ethereum
		bip32.FirstHardenedChild + 0,  // account
		0,                             // external chain
		index,                         // address index
	} {
		key, err = key.NewChildKey(child)
		if err != nil {
			return nil, err
		}
	}
	return crypto.ToECDSA(key.Key)
}

// WithKeystore is an evm.SignerOption loading the signing key from an
// encrypted keystore file.
func WithKeystore(keystorePath, password string) evm.SignerOption {
	return hexKeyOption(func() (*ecdsa.PrivateKey, error) {
		return FromKeystore(keystorePath, password)
	})
}

// WithMnemonic is an evm.SignerOption deriving the signing key from a
// BIP-39 mnemonic at account index accountIndex.
func WithMnemonic(mnemonic string, accountIndex uint32) evm.SignerOption {
	return hexKeyOption(func() (*ecdsa.PrivateKey, error) {
		return FromMnemonic(mnemonic, accountIndex)
	})
}

// hexKeyOption adapts a derivation function producing an *ecdsa.PrivateKey
// into an evm.SignerOption by round-tripping through evm.WithPrivateKey,
// since Signer's private key field is unexported outside its own package.
func hexKeyOption(derive func() (*ecdsa.PrivateKey, error)) evm.SignerOption {
	return func(s *evm.Signer) error {
		key, err := derive()
		if err != nil {
			return err
		}
		return evm.WithPrivateKey(hex.EncodeToString(crypto.FromECDSA(key)))(s)
	}
}
