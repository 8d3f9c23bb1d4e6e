package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

var (
	// ErrMissingToken запрос без токена
	ErrMissingToken = errors.New("missing authentication token")
	// ErrInvalidToken токен не найден среди разрешенных
	ErrInvalidToken = errors.New("invalid token")
)

// Validator проверяет токены устройств по списку из конфигурации.
// Хранятся только SHA-256 хэши токенов.
type Validator struct {
	hashes [][sha256.Size]byte
}

// NewValidator создает валидатор. Пустой список отключает проверку.
func NewValidator(tokens []string) *Validator {
	v := &Validator{}
	for _, t := range tokens {
		if t == "" {
			continue
		}
		v.hashes = append(v.hashes, sha256.Sum256([]byte(t)))
	}
	return v
}

// Enabled сообщает, настроен ли хотя бы один токен
func (v *Validator) Enabled() bool {
	return len(v.hashes) > 0
}

// ValidateToken сравнивает токен со всеми разрешенными за постоянное время
func (v *Validator) ValidateToken(token string) error {
	if token == "" {
		return ErrMissingToken
	}
	sum := sha256.Sum256([]byte(token))
	match := 0
	for i := range v.hashes {
		match |= subtle.ConstantTimeCompare(sum[:], v.hashes[i][:])
	}
	if match != 1 {
		return ErrInvalidToken
	}
	return nil
}
