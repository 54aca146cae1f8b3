package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/sha3"
)

var ErrCiphertextTooShort = errors.New("ciphertext size is less than nonceSize")

// Key derives a 256 bit AES key from a passphrase.
func Key(passphrase string) []byte {
	k := sha3.Sum256([]byte(passphrase))
	return k[:]
}

// Encrypt seals data with AES-GCM, the nonce is prepended to the ciphertext.
func Encrypt(data []byte, key []byte) (ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return
	}
	nonce := make([]byte, gcm.NonceSize())
	_, err = io.ReadFull(rand.Reader, nonce)
	if err != nil {
		return
	}
	ciphertext = gcm.Seal(nonce, nonce, data, nil)
	return
}

func Decrypt(ciphertextAndNonce []byte, key []byte) (data []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertextAndNonce) < nonceSize {
		err = ErrCiphertextTooShort
		return
	}
	nonce, ciphertext := ciphertextAndNonce[:nonceSize], ciphertextAndNonce[nonceSize:]
	data, err = gcm.Open(nil, nonce, ciphertext, nil)
	return
}

func newGCM(key []byte) (cipher.AEAD, error) {
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(c)
}
