package blurchat

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/cosmos/cosmos-sdk/types/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// GenerateKey returns a fresh secp256k1 private key, hex encoded.
func GenerateKey() (string, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ethcrypto.FromECDSA(key)), nil
}

// PrivKeyToAddr derives the bech32 address of a hex encoded private key.
func PrivKeyToAddr(privateKey string, hrp string) (string, error) {
	key, err := ethcrypto.HexToECDSA(privateKey)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	return PubkeyToAddr(&key.PublicKey, hrp)
}

func PubkeyToAddr(pub *ecdsa.PublicKey, hrp string) (string, error) {
	addr := ethcrypto.PubkeyToAddress(*pub)
	return bech32.ConvertAndEncode(hrp, addr.Bytes())
}

// SignBytes signs keccak256(data) with the given hex private key.
func SignBytes(data []byte, privateKey string) ([]byte, error) {
	key, err := ethcrypto.HexToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return ethcrypto.Sign(ethcrypto.Keccak256(data), key)
}

// VerifySignature checks that signature over data was produced by the key
// behind address.
func VerifySignature(data []byte, signature []byte, address string) error {
	hrp, _, err := bech32.DecodeAndConvert(address)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}

	pub, err := ethcrypto.SigToPub(ethcrypto.Keccak256(data), signature)
	if err != nil {
		return fmt.Errorf("failed to recover public key: %w", err)
	}

	recovered, err := PubkeyToAddr(pub, hrp)
	if err != nil {
		return err
	}
	if recovered != address {
		return fmt.Errorf("signature does not match address %s", address)
	}
	return nil
}
