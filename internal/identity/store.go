package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/reconcile"
)

// subscriberBuffer — ёмкость канала подписчика. При переполнении
// уведомление отбрасывается: движок согласования сам перечитывает сессию.
const subscriberBuffer = 16

// Store — identity-хранилище CLI поверх Keycloak и файла сессии.
// Реализует reconcile.IdentityStore.
type Store struct {
	oidc   *OIDCClient
	file   *SessionFile
	parser *ClaimsParser
	logger *slog.Logger

	mu     sync.Mutex
	data   *SessionData
	loaded bool

	subsMu sync.Mutex
	subs   map[chan reconcile.SessionEvent]struct{}
}

// NewStore создаёт хранилище. Подпись токенов не проверяется:
// токен получен CLI напрямую от Keycloak, проверку выполняет сервер.
func NewStore(oidc *OIDCClient, file *SessionFile, logger *slog.Logger) *Store {
	return &Store{
		oidc:   oidc,
		file:   file,
		parser: NewClaimsParser(nil, oidc.Issuer(), 0),
		logger: logger.With(slog.String("component", "identity")),
		subs:   make(map[chan reconcile.SessionEvent]struct{}),
	}
}

// CurrentSession возвращает текущую сессию, при необходимости обновляя токены.
// (nil, nil) — сессии нет или refresh token отклонён. Сессия, закрытая
// из-за отказа refresh, публикует событие signed_out.
func (s *Store) CurrentSession(ctx context.Context) (*model.Session, error) {
	s.mu.Lock()
	data, st, err := s.freshLocked(ctx)
	s.mu.Unlock()

	if st == freshDropped {
		s.emit(reconcile.SessionEvent{Kind: reconcile.EventSignedOut})
	}
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return s.sessionOf(ctx, data)
}

// AccessToken возвращает действующий access token.
// Обновление токена публикует событие token_refreshed, закрытие сессии — signed_out.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	data, st, err := s.freshLocked(ctx)
	s.mu.Unlock()

	switch st {
	case freshDropped:
		s.emit(reconcile.SessionEvent{Kind: reconcile.EventSignedOut})
	case freshRefreshed:
		if session, err := s.sessionOf(ctx, data); err == nil {
			s.emit(reconcile.SessionEvent{Kind: reconcile.EventRefreshed, Session: session})
		}
	}
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", ErrSessionMissing
	}
	return data.AccessToken, nil
}

// Subscribe подписывает на изменения сессии.
func (s *Store) Subscribe() (<-chan reconcile.SessionEvent, func()) {
	ch := make(chan reconcile.SessionEvent, subscriberBuffer)

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, ch)
			s.subsMu.Unlock()
			close(ch)
		})
	}
}

// SignInWithPassword выполняет вход и сохраняет сессию.
func (s *Store) SignInWithPassword(ctx context.Context, email, password string) error {
	tr, err := s.oidc.PasswordGrant(ctx, email, password)
	if err != nil {
		if IsInvalidGrant(err) {
			return fmt.Errorf("%w: %w", reconcile.ErrInvalidCredentials, err)
		}
		return err
	}

	data := sessionFromTokens(tr)
	session, err := s.sessionOf(ctx, data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.file.Save(data); err != nil {
		s.mu.Unlock()
		return err
	}
	s.data, s.loaded = data, true
	s.mu.Unlock()

	s.logger.Info("Сессия открыта", slog.String("subject", session.SubjectID))
	s.emit(reconcile.SessionEvent{Kind: reconcile.EventSignedIn, Session: session})
	return nil
}

// SignOut завершает сессию в Keycloak и удаляет файл сессии.
// Файл удаляется и при ошибке Keycloak.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	data, err := s.loadLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if data == nil {
		s.mu.Unlock()
		return fmt.Errorf("выход: %w", ErrSessionMissing)
	}

	logoutErr := s.oidc.Logout(ctx, data.RefreshToken)
	clearErr := s.file.Clear()
	s.data = nil
	s.mu.Unlock()

	s.emit(reconcile.SessionEvent{Kind: reconcile.EventSignedOut})

	if logoutErr != nil {
		return logoutErr
	}
	return clearErr
}

// freshState — что freshLocked сделал с сессией.
type freshState int

const (
	freshUnchanged freshState = iota
	freshRefreshed
	// freshDropped — сессия удалена: refresh token истёк или отклонён
	freshDropped
)

// freshLocked возвращает сессию с действующим access token.
func (s *Store) freshLocked(ctx context.Context) (*SessionData, freshState, error) {
	data, err := s.loadLocked()
	if err != nil || data == nil {
		return nil, freshUnchanged, err
	}
	if !data.IsExpired() {
		return data, freshUnchanged, nil
	}

	if data.RefreshExpired() {
		s.logger.Info("Refresh token истёк, сессия закрыта")
		s.dropLocked()
		return nil, freshDropped, nil
	}

	tr, err := s.oidc.RefreshTokens(ctx, data.RefreshToken)
	if err != nil {
		if IsInvalidGrant(err) {
			s.logger.Info("Keycloak отклонил refresh token, сессия закрыта")
			s.dropLocked()
			return nil, freshDropped, nil
		}
		return nil, freshUnchanged, fmt.Errorf("ошибка обновления токенов: %w", err)
	}

	fresh := sessionFromTokens(tr)
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = data.RefreshToken
		fresh.RefreshExpiresAt = data.RefreshExpiresAt
	}
	if err := s.file.Save(fresh); err != nil {
		return nil, freshUnchanged, err
	}
	s.data = fresh
	s.logger.Debug("Токены обновлены")
	return fresh, freshRefreshed, nil
}

func (s *Store) loadLocked() (*SessionData, error) {
	if s.loaded {
		return s.data, nil
	}
	data, err := s.file.Load()
	if err != nil {
		// Файл, который нельзя расшифровать, считается отсутствующей сессией
		s.logger.Warn("Файл сессии повреждён, сессия сброшена", slog.String("error", err.Error()))
		if clearErr := s.file.Clear(); clearErr != nil {
			return nil, clearErr
		}
		data = nil
	}
	s.data, s.loaded = data, true
	return data, nil
}

func (s *Store) dropLocked() {
	s.data = nil
	if err := s.file.Clear(); err != nil {
		s.logger.Warn("Не удалось удалить файл сессии", slog.String("error", err.Error()))
	}
}

func (s *Store) sessionOf(ctx context.Context, data *SessionData) (*model.Session, error) {
	claims, err := s.parser.Parse(ctx, data.AccessToken)
	if err != nil {
		return nil, err
	}
	session := claims.Session()
	return &session, nil
}

func (s *Store) emit(ev reconcile.SessionEvent) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("Канал подписчика переполнен, событие отброшено",
				slog.String("event", string(ev.Kind)),
			)
		}
	}
}

var _ reconcile.IdentityStore = (*Store)(nil)
