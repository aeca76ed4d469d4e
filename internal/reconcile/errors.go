package reconcile

import "errors"

var (
	// ErrInvalidCredentials — вход не удался. Сообщение намеренно общее:
	// не раскрывает, существует ли email.
	ErrInvalidCredentials = errors.New("неверный email или пароль")
	// ErrProfileNotFound — профиль отсутствует или не удалось его загрузить.
	ErrProfileNotFound = errors.New("профиль не найден")
	// ErrProfileConflict — профиль с таким ID уже существует (вставка проиграла гонку).
	ErrProfileConflict = errors.New("профиль уже существует")
	// ErrPersistence — ошибка хранилища при создании или изменении записи.
	ErrPersistence = errors.New("ошибка сохранения данных")
	// ErrSessionMissing — сессии нет или она уже недействительна.
	// Возвращается IdentityStore.SignOut, вызывающие считают это успехом.
	ErrSessionMissing = errors.New("сессия отсутствует")
	// ErrInitTimeout — identity-хранилище не ответило за время инициализации.
	ErrInitTimeout = errors.New("истёк таймаут инициализации сессии")
	// ErrAlreadyStarted — повторный вызов Start.
	ErrAlreadyStarted = errors.New("движок уже запущен")
)
