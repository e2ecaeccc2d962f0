package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id + AES-256-GCM parameters (OWASP-recommended defaults).
const (
	Argon2Time    = 4
	Argon2Memory  = 256 * 1024
	Argon2Threads = 4
	Argon2KeyLen  = 32
	Argon2SaltLen = 16
	AESNonceLen   = 12
)

// EncryptedSeed is the at-rest representation of an encrypted sr25519 seed.
type EncryptedSeed struct {
	Salt          []byte
	Nonce         []byte
	Ciphertext    []byte
	Argon2Time    uint32
	Argon2Memory  uint32
	Argon2Threads uint8
	Version       uint8
}

// EncryptSeed encrypts a raw sr25519 seed using Argon2id + AES-256-GCM.
func EncryptSeed(seed []byte, password string) (*EncryptedSeed, error) {
	salt := make([]byte, Argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, Argon2Time, Argon2Memory, Argon2Threads, Argon2KeyLen)
	defer ClearBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, AESNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, seed, nil)

	return &EncryptedSeed{
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
		Argon2Time:    Argon2Time,
		Argon2Memory:  Argon2Memory,
		Argon2Threads: Argon2Threads,
		Version:       1,
	}, nil
}

// DecryptSeed decrypts an EncryptedSeed, returning the raw seed bytes.
func DecryptSeed(encrypted *EncryptedSeed, password string) ([]byte, error) {
	if encrypted == nil {
		return nil, errors.New("encrypted seed is nil")
	}
	if len(encrypted.Salt) != Argon2SaltLen {
		return nil, fmt.Errorf("invalid salt length: got %d, want %d", len(encrypted.Salt), Argon2SaltLen)
	}
	if len(encrypted.Nonce) != AESNonceLen {
		return nil, fmt.Errorf("invalid nonce length: got %d, want %d", len(encrypted.Nonce), AESNonceLen)
	}

	key := argon2.IDKey([]byte(password), encrypted.Salt, encrypted.Argon2Time, encrypted.Argon2Memory, encrypted.Argon2Threads, Argon2KeyLen)
	defer ClearBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	seed, err := gcm.Open(nil, encrypted.Nonce, encrypted.Ciphertext, nil)
	if err != nil {
		return nil, errors.New("authentication failed: wrong password or corrupted keystore")
	}
	return seed, nil
}

// Serialize packs an EncryptedSeed into the binary layout
// [version:1][time:4][memory:4][threads:1][salt:16][nonce:12][ciphertext:N].
func Serialize(encrypted *EncryptedSeed) []byte {
	size := 1 + 4 + 4 + 1 + len(encrypted.Salt) + len(encrypted.Nonce) + len(encrypted.Ciphertext)
	result := make([]byte, size)

	offset := 0
	result[offset] = encrypted.Version
	offset++
	binary.BigEndian.PutUint32(result[offset:], encrypted.Argon2Time)
	offset += 4
	binary.BigEndian.PutUint32(result[offset:], encrypted.Argon2Memory)
	offset += 4
	result[offset] = encrypted.Argon2Threads
	offset++
	copy(result[offset:], encrypted.Salt)
	offset += len(encrypted.Salt)
	copy(result[offset:], encrypted.Nonce)
	offset += len(encrypted.Nonce)
	copy(result[offset:], encrypted.Ciphertext)

	return result
}

// Deserialize unpacks the binary layout Serialize produces.
func Deserialize(data []byte) (*EncryptedSeed, error) {
	minSize := 1 + 4 + 4 + 1 + Argon2SaltLen + AESNonceLen
	if len(data) < minSize {
		return nil, fmt.Errorf("invalid encrypted keystore: size %d < minimum %d", len(data), minSize)
	}

	offset := 0
	version := data[offset]
	offset++
	argonTime := binary.BigEndian.Uint32(data[offset:])
	offset += 4
	argonMemory := binary.BigEndian.Uint32(data[offset:])
	offset += 4
	argonThreads := data[offset]
	offset++

	salt := make([]byte, Argon2SaltLen)
	copy(salt, data[offset:offset+Argon2SaltLen])
	offset += Argon2SaltLen

	nonce := make([]byte, AESNonceLen)
	copy(nonce, data[offset:offset+AESNonceLen])
	offset += AESNonceLen

	ciphertext := make([]byte, len(data)-offset)
	copy(ciphertext, data[offset:])

	return &EncryptedSeed{
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
		Argon2Time:    argonTime,
		Argon2Memory:  argonMemory,
		Argon2Threads: argonThreads,
		Version:       version,
	}, nil
}

// EncryptToFile encrypts seed and returns the serialized keystore blob
// ready to be written with fsutil.AtomicWriteFile.
func EncryptToFile(seed []byte, password string) ([]byte, error) {
	encrypted, err := EncryptSeed(seed, password)
	if err != nil {
		return nil, err
	}
	return Serialize(encrypted), nil
}

// DecryptFromFile reverses EncryptToFile.
func DecryptFromFile(data []byte, password string) ([]byte, error) {
	encrypted, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	return DecryptSeed(encrypted, password)
}
