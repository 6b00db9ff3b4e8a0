package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinAdminKeyLength минимальная длина ключа администратора
const MinAdminKeyLength = 12

// ErrWeakAdminKey ключ короче MinAdminKeyLength
var ErrWeakAdminKey = errors.New("admin key is too short")

// HashAdminKey возвращает bcrypt-хеш ключа для auth.admin_key_hash
func HashAdminKey(key string) (string, error) {
	if len(key) < MinAdminKeyLength {
		return "", fmt.Errorf("%w: need at least %d characters", ErrWeakAdminKey, MinAdminKeyLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}

// CheckAdminKey сравнивает ключ из запроса с хешем из конфигурации.
// Пустой хеш не совпадает ни с чем.
func CheckAdminKey(hash, key string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
