package eth

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// VerifyPersonalSignature checks a personal_sign (EIP-191) signature over
// message against the expected address. The signature is the usual 65-byte
// R || S || V form; V may be 0/1 or 27/28.
func VerifyPersonalSignature(message string, signature []byte, expected common.Address) (bool, error) {
	if len(signature) != crypto.SignatureLength {
		return false, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(signature))
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	hash := accounts.TextHash([]byte(message))
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return false, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pub) == expected, nil
}

// AddressFromPublicKey derives the Ethereum address for an uncompressed
// hex-encoded public key.
func AddressFromPublicKey(pubKeyHex string) (common.Address, error) {
	pubBytes := common.FromHex(pubKeyHex)
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to parse public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
