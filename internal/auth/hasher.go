// Package auth は認証・認可機能を提供します。
package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost はパスワードハッシュのワークファクターです。
const bcryptCost = 12

// Hasher はパスワードの一方向ハッシュ化と検証を提供します。
// ソルトは呼び出しごとに生成され、ハッシュ値に埋め込まれます。
type Hasher struct {
	cost int
}

// NewHasher は既定のコストで Hasher を作成します。
func NewHasher() *Hasher {
	return &Hasher{cost: bcryptCost}
}

// HashPassword は平文パスワードをハッシュ化します。
func (h *Hasher) HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword は平文とハッシュの一致を検証します。
// 不一致は (false, nil) を返し、ハッシュ値の破損などの異常のみエラーになります。
func (h *Hasher) VerifyPassword(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}
