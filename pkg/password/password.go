package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinLength 账号密码最短长度
const MinLength = 8

// ErrTooShort 密码长度不足
var ErrTooShort = errors.New("password too short")

// Hash 生成密码哈希；bcrypt 只取前 72 字节，更长的密码会被拒绝
func Hash(plain string) (string, error) {
	if len(plain) < MinLength {
		return "", ErrTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify 校验密码，空哈希（未设置密码的账号）一律不通过
func Verify(plain, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
