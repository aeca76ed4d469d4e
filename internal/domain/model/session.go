package model

import "time"

// Session — сессия identity-провайдера. Выдаётся и обновляется провайдером,
// приложение использует только subject, email и подсказки из metadata.
type Session struct {
	// SubjectID — стабильный идентификатор субъекта (sub)
	SubjectID string
	Email     string
	Metadata  SessionMetadata
	ExpiresAt time.Time
}

// SessionMetadata — необязательные подсказки для нового профиля.
// Пустая строка означает отсутствие значения.
type SessionMetadata struct {
	Name    string
	Role    string
	SIREN   string
	Address string
}
