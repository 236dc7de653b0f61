package wire

import (
	"crypto/cipher"
	"crypto/des"
	"fmt"
)

// desZeroKey is the all-zero 8-byte DES key the login handshake uses. No
// suitable third-party DES implementation exists anywhere in the
// retrieved pack (golang.org/x/crypto doesn't carry DES either, only newer
// primitives) so this routes through the standard library's crypto/des,
// documented here rather than left unexplained.
var desZeroKey = make([]byte, des.BlockSize)
var desZeroIV = make([]byte, des.BlockSize)

// EncryptCredentials packs username and password as back-to-back
// null-terminated strings, zero-pads to a multiple of 8 bytes, and
// DES-CBC-encrypts with the all-zero key/IV the login server expects.
func EncryptCredentials(username, password string) ([]byte, error) {
	block, err := des.NewCipher(desZeroKey)
	if err != nil {
		return nil, fmt.Errorf("building DES cipher: %w", err)
	}

	plain := append([]byte(username), 0)
	plain = append(plain, password...)
	plain = append(plain, 0)
	for len(plain)%des.BlockSize != 0 {
		plain = append(plain, 0)
	}

	out := make([]byte, len(plain))
	cbc := cipher.NewCBCEncrypter(block, desZeroIV)
	cbc.CryptBlocks(out, plain)
	return out, nil
}

// DecryptLoginResponse decrypts the LoginAccepted payload with the same
// zero key/IV used on the way in.
func DecryptLoginResponse(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%des.BlockSize != 0 {
		return nil, fmt.Errorf("login response length %d is not a multiple of the DES block size", len(ciphertext))
	}
	block, err := des.NewCipher(desZeroKey)
	if err != nil {
		return nil, fmt.Errorf("building DES cipher: %w", err)
	}
	out := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, desZeroIV)
	cbc.CryptBlocks(out, ciphertext)
	return out, nil
}
