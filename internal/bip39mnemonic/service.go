// Package bip39mnemonic generates and validates BIP-39 recovery phrases and
// derives signing seeds from them, the input
// internal/signer.NewKeypairSignerFromMnemonic feeds into sr25519 key
// derivation.
package bip39mnemonic

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/tyler-smith/go-bip39"
	"github.com/tyler-smith/go-bip39/wordlists"
)

// Service wraps go-bip39 with the English wordlist fixed as default.
type Service struct{}

// NewService returns a Service using the English BIP-39 wordlist.
func NewService() *Service {
	bip39.SetWordList(wordlists.English)
	return &Service{}
}

// GenerateMnemonic returns a mnemonic for the given word count: 12 (128-bit
// entropy) or 24 (256-bit entropy).
func (s *Service) GenerateMnemonic(wordCount int) (string, error) {
	var entropyBits int
	switch wordCount {
	case 12:
		entropyBits = 128
	case 24:
		entropyBits = 256
	default:
		return "", fmt.Errorf("invalid word count %d: must be 12 or 24", wordCount)
	}

	entropy := make([]byte, entropyBits/8)
	if _, err := rand.Read(entropy); err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("derive mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks word count, wordlist membership, and checksum.
func (s *Service) ValidateMnemonic(mnemonic string) error {
	if mnemonic == "" {
		return errors.New("mnemonic cannot be empty")
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return errors.New("invalid mnemonic: checksum verification failed or invalid words")
	}
	return nil
}

// MnemonicToSeed derives a 64-byte seed via PBKDF2, per BIP-39. passphrase
// may be empty.
func (s *Service) MnemonicToSeed(mnemonic string, passphrase string) ([]byte, error) {
	if err := s.ValidateMnemonic(mnemonic); err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	return bip39.NewSeed(mnemonic, passphrase), nil
}

// Wordlist returns the 2048-word English BIP-39 wordlist.
func (s *Service) Wordlist() []string {
	return wordlists.English
}
