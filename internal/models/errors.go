package models

import (
	"errors"
	"time"
)

var (
	// ErrAlreadyActive пробежка уже идет (Active или Paused)
	ErrAlreadyActive = errors.New("run already active")
	// ErrNoActiveRun нет активной пробежки
	ErrNoActiveRun = errors.New("no active run")
	// ErrNotPaused пробежка не на паузе
	ErrNotPaused = errors.New("run is not paused")
	// ErrInvalidSample отсчет отклонен валидатором
	ErrInvalidSample = errors.New("invalid geo sample")
	// ErrRunNotFound пробежка не найдена в хранилище
	ErrRunNotFound = errors.New("run not found")
	// ErrPermissionDenied доступ к геолокации запрещен
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrNoFix провайдер еще не получил ни одного отсчета
	ErrNoFix = errors.New("no location fix available")
)

// ErrorKind класс ошибки внешней зависимости
type ErrorKind string

const (
	ErrorKindSignalLost            ErrorKind = "signal_lost"
	ErrorKindPermissionDenied      ErrorKind = "permission_denied"
	ErrorKindPersistenceFailure    ErrorKind = "persistence_failure"
	ErrorKindDependencyUnavailable ErrorKind = "dependency_unavailable"
)

// ErrorKinds все известные классы ошибок
var ErrorKinds = []ErrorKind{
	ErrorKindSignalLost,
	ErrorKindPermissionDenied,
	ErrorKindPersistenceFailure,
	ErrorKindDependencyUnavailable,
}

// ErrorEvent запись в истории обработанных ошибок
type ErrorEvent struct {
	Kind              ErrorKind     `json:"kind"`
	Message           string        `json:"message"`
	Context           string        `json:"context,omitempty"`
	Timestamp         time.Time     `json:"timestamp"`
	Recoverable       bool          `json:"recoverable"`
	FallbackAvailable bool          `json:"fallback_available"`
	Attempt           int           `json:"attempt"`            // Номер повтора (0 если повтор не запланирован)
	RetryIn           time.Duration `json:"retry_in,omitempty"` // Задержка до повтора
	Notice            string        `json:"notice,omitempty"`   // Сообщение для пользователя
}

// IsValid проверяет, что класс ошибки известен
func (k ErrorKind) IsValid() bool {
	for _, known := range ErrorKinds {
		if k == known {
			return true
		}
	}
	return false
}
