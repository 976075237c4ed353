package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	cipherVersion = 1
	keySize       = 32
	scryptN       = 32768 // 2^15
	scryptR       = 8
	scryptP       = 1
)

// keySalt は鍵導出用の固定ソルト。レコードごとの一意性はnonceで担保する。
var keySalt = []byte("docbot/google-credential/v1")

// ErrCiphertextInvalid は暗号文の形式不正または改ざんを示す。
var ErrCiphertextInvalid = errors.New("ciphertext is invalid")

// TokenCipher はOAuthトークンを保存前に暗号化する。
// 鍵はシークレットからscryptで起動時に1回だけ導出し、AES-256-GCMで暗号化する。
// 暗号文のレイアウトは [version(1byte)][nonce][ciphertext+tag]。
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher はシークレット文字列からTokenCipherを生成する。
func NewTokenCipher(secret string) (*TokenCipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret is required")
	}

	key, err := scrypt.Key([]byte(secret), keySalt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &TokenCipher{aead: aead}, nil
}

// Encrypt は平文を暗号化する。呼び出しごとにランダムなnonceを使う。
func (c *TokenCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+c.aead.Overhead())
	out = append(out, cipherVersion)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plaintext, []byte{cipherVersion}), nil
}

// Decrypt は Encrypt で生成した暗号文を復号する。
func (c *TokenCipher) Decrypt(data []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(data) < 1+nonceSize+c.aead.Overhead() || data[0] != cipherVersion {
		return nil, ErrCiphertextInvalid
	}

	nonce := data[1 : 1+nonceSize]
	plaintext, err := c.aead.Open(nil, nonce, data[1+nonceSize:], []byte{cipherVersion})
	if err != nil {
		return nil, ErrCiphertextInvalid
	}
	return plaintext, nil
}
