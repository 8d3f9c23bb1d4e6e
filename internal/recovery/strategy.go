package recovery

import (
	"time"

	"github.com/flybeeper/runtracker/internal/models"
)

// Strategy политика обработки одного класса ошибок
type Strategy struct {
	Kind        models.ErrorKind
	Recoverable bool
	MaxRetries  int
	BaseDelay   time.Duration

	// Fallback деградированный режим после исчерпания повторов
	// или для невосстановимой ошибки; может быть nil
	Fallback func(models.ErrorEvent)

	// Notice сообщение для пользователя
	Notice string
}

// NextDelay задержка перед попыткой attempt (с 1): BaseDelay * 2^(attempt-1)
func (s *Strategy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := s.BaseDelay
	for i := 1; i < attempt; i++ {
		if delay > time.Hour {
			return delay
		}
		delay *= 2
	}
	return delay
}

// DefaultStrategies возвращает политики по умолчанию без fallback-действий
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Kind:        models.ErrorKindSignalLost,
			Recoverable: true,
			MaxRetries:  5,
			BaseDelay:   2 * time.Second,
			Notice:      "GPS signal lost, tracking time only",
		},
		{
			Kind:        models.ErrorKindPermissionDenied,
			Recoverable: false,
			Notice:      "Location permission is required to track distance",
		},
		{
			Kind:        models.ErrorKindPersistenceFailure,
			Recoverable: true,
			MaxRetries:  5,
			BaseDelay:   time.Second,
			Notice:      "Run data is kept in memory until storage is available",
		},
		{
			Kind:        models.ErrorKindDependencyUnavailable,
			Recoverable: true,
			MaxRetries:  3,
			BaseDelay:   5 * time.Second,
			Notice:      "Notifications are temporarily unavailable",
		},
	}
}
