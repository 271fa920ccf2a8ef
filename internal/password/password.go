// password хэширует и проверяет пароли через bcrypt.
package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxLen — предел bcrypt; более длинные пароли отклоняются при валидации.
const MaxLen = 72

// Hasher — bcrypt с настраиваемой стоимостью.
type Hasher struct {
	cost int
}

// New создаёт Hasher. Стоимость вне [bcrypt.MinCost, bcrypt.MaxCost]
// заменяется на bcrypt.DefaultCost.
func New(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	return &Hasher{cost: cost}
}

// Hash возвращает bcrypt-дайджест пароля.
func (h *Hasher) Hash(plain string) (string, error) {
	const op = "password.Hasher.Hash"

	digest, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(digest), nil
}

// Verify сравнивает пароль с дайджестом за постоянное для данной стоимости время.
func (h *Hasher) Verify(plain, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}
