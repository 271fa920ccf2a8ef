package models

// TokenState — явное состояние токена, вычисляемое из временных меток
// (revoked_at / used_at / expires_at) в момент загрузки записи.
type TokenState int

const (
	TokenActive TokenState = iota
	// TokenRevoked — refresh-токен отозван (logout, ротация, смена/сброс пароля).
	TokenRevoked
	// TokenUsed — одноразовый токен уже погашен.
	TokenUsed
	// TokenExpired — срок действия истёк, а сам токен не был отозван/погашен.
	TokenExpired
)

func (s TokenState) String() string {
	switch s {
	case TokenActive:
		return "active"
	case TokenRevoked:
		return "revoked"
	case TokenUsed:
		return "used"
	case TokenExpired:
		return "expired"
	default:
		return "unknown"
	}
}
