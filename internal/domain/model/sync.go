package model

import "time"

// SyncState — состояние фоновой синхронизации (одна строка в БД, id = 1).
type SyncState struct {
	ID int
	// LastProfileSyncAt — время последней синхронизации профилей с Keycloak
	LastProfileSyncAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ProfileSyncResult — результат одного цикла синхронизации профилей.
type ProfileSyncResult struct {
	// TotalKeycloak — пользователей в realm
	TotalKeycloak int
	// TotalLocal — профилей в БД
	TotalLocal int
	// Created — профилей создано для пользователей без профиля
	Created int
	// Deleted — пользователей, чей профиль удалён администратором и не восстановлен
	Deleted int
	// Orphaned — профилей без пользователя в Keycloak
	Orphaned int
	SyncedAt time.Time
}
