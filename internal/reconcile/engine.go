// Пакет reconcile — согласование сессии identity-провайдера с локальным
// профилем пользователя.
//
// Конечный автомат:
//
//	Uninitialized → Initializing → {Authenticated, Anonymous} → Disposed
//
// Текущий пользователь всегда берётся из профиля, а не из сессии.
// Одновременно выполняется не более одного согласования: триггер,
// пришедший во время работы, не ставится в очередь, а отмечается флагом,
// и после завершения выполняется одно повторное чтение актуальной сессии.
// Результаты устаревших поколений (после таймаута, выхода или Close)
// отбрасываются.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/domain/policy"
)

// DefaultInitTimeout — сколько ждать identity-хранилище при старте.
const DefaultInitTimeout = 10 * time.Second

// Phase — состояние движка.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInitializing  Phase = "initializing"
	PhaseAuthenticated Phase = "authenticated"
	PhaseAnonymous     Phase = "anonymous"
	PhaseDisposed      Phase = "disposed"
)

// validTransitions — матрица допустимых переходов.
var validTransitions = map[Phase]map[Phase]bool{
	PhaseUninitialized: {PhaseInitializing: true, PhaseDisposed: true},
	PhaseInitializing:  {PhaseAuthenticated: true, PhaseAnonymous: true, PhaseDisposed: true},
	PhaseAuthenticated: {PhaseAuthenticated: true, PhaseAnonymous: true, PhaseDisposed: true},
	PhaseAnonymous:     {PhaseAuthenticated: true, PhaseAnonymous: true, PhaseDisposed: true},
	PhaseDisposed:      {},
}

// State — снимок наблюдаемого состояния.
type State struct {
	Phase Phase
	// User — текущий профиль, только в PhaseAuthenticated
	User *model.User
	// Loading — выполняется согласование, результат которого будет применён
	Loading bool
	// Seq — номер публикации, растёт с каждым изменением
	Seq uint64
}

// EventKind — тип уведомления identity-хранилища.
type EventKind string

const (
	EventSignedIn  EventKind = "signed_in"
	EventRefreshed EventKind = "token_refreshed"
	EventSignedOut EventKind = "signed_out"
)

// SessionEvent — уведомление об изменении сессии. Session == nil означает «сессии нет».
type SessionEvent struct {
	Kind    EventKind
	Session *model.Session
}

// IdentityStore — внешнее хранилище сессий.
//
// CurrentSession возвращает (nil, nil), если сессии нет.
// SignOut при отсутствующей сессии возвращает ошибку, оборачивающую ErrSessionMissing.
type IdentityStore interface {
	CurrentSession(ctx context.Context) (*model.Session, error)
	Subscribe() (<-chan SessionEvent, func())
	SignInWithPassword(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error
}

// Options — параметры движка.
type Options struct {
	// InitTimeout — ограничение на начальную загрузку (по умолчанию 10s)
	InitTimeout time.Duration
}

// Engine — движок согласования сессии и профиля.
type Engine struct {
	identity    IdentityStore
	profiles    ProfileStore
	logger      *slog.Logger
	initTimeout time.Duration

	mu    sync.RWMutex
	state State
	// gen — поколение; результат применяется, только если его поколение текущее
	gen uint64
	// busy — занят единственный слот согласования
	busy bool
	// dirty — во время работы пришёл триггер, нужно перечитать сессию
	dirty    bool
	changed  chan struct{}
	watchers map[chan State]struct{}

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	initTimer   *time.Timer
	loopDone    chan struct{}
	runs        sync.WaitGroup
}

// New создаёт движок в состоянии Uninitialized.
func New(identity IdentityStore, profiles ProfileStore, opts Options, logger *slog.Logger) *Engine {
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	return &Engine{
		identity:    identity,
		profiles:    profiles,
		logger:      logger.With(slog.String("component", "reconcile")),
		initTimeout: opts.InitTimeout,
		state:       State{Phase: PhaseUninitialized},
		changed:     make(chan struct{}),
		watchers:    make(map[chan State]struct{}),
	}
}

// Start выполняет начальный переход и подписывается на изменения сессии.
// Не блокирует: дождаться результата можно через WaitReady.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state.Phase != PhaseUninitialized {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.setPhaseLocked(PhaseInitializing, nil, true)
	e.busy = true
	e.gen++
	gen := e.gen
	e.initTimer = time.AfterFunc(e.initTimeout, func() { e.expireInit(gen) })
	e.mu.Unlock()

	// Подписка до начального чтения сессии, чтобы не потерять уведомление
	events, unsubscribe := e.identity.Subscribe()
	e.unsubscribe = unsubscribe
	e.loopDone = make(chan struct{})
	go e.loop(events)

	e.logger.Debug("Начальная загрузка сессии", slog.Duration("timeout", e.initTimeout))
	e.runs.Add(1)
	go e.run(gen, nil)
	return nil
}

// Close переводит движок в Disposed и останавливает обработку уведомлений.
// Незавершённые запросы не ждёт дольше, чем до отмены контекста.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.state.Phase == PhaseDisposed {
		e.mu.Unlock()
		return
	}
	started := e.state.Phase != PhaseUninitialized
	e.gen++
	e.dirty = false
	if e.initTimer != nil {
		e.initTimer.Stop()
	}
	e.setPhaseLocked(PhaseDisposed, nil, false)
	for ch := range e.watchers {
		close(ch)
		delete(e.watchers, ch)
	}
	e.mu.Unlock()

	if !started {
		return
	}
	e.cancel()
	e.unsubscribe()
	<-e.loopDone
	e.runs.Wait()
	e.logger.Debug("Движок согласования остановлен")
}

// State возвращает текущий снимок состояния.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

// CurrentUser возвращает копию текущего профиля или nil.
func (e *Engine) CurrentUser() *model.User {
	return e.State().User
}

// IsAllowed — true, если пользователь аутентифицирован и его роль входит в набор.
func (e *Engine) IsAllowed(roles ...model.Role) bool {
	st := e.State()
	if st.Phase != PhaseAuthenticated || st.User == nil {
		return false
	}
	return policy.IsAllowed(st.User.Role, roles...)
}

// Watch возвращает канал снимков состояния. В канале всегда последний снимок,
// промежуточные могут быть пропущены медленным читателем.
func (e *Engine) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)

	e.mu.Lock()
	ch <- e.snapshotLocked()
	if e.state.Phase == PhaseDisposed {
		close(ch)
		e.mu.Unlock()
		return ch, func() {}
	}
	e.watchers[ch] = struct{}{}
	e.mu.Unlock()

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.watchers[ch]; ok {
			delete(e.watchers, ch)
			close(ch)
		}
	}
}

// WaitFor блокирует до состояния, удовлетворяющего pred, или отмены ctx.
func (e *Engine) WaitFor(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		e.mu.RLock()
		st := e.snapshotLocked()
		changed := e.changed
		e.mu.RUnlock()

		if pred(st) {
			return st, nil
		}
		if st.Phase == PhaseDisposed {
			return st, fmt.Errorf("движок остановлен")
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// WaitReady ждёт выхода из Initializing.
func (e *Engine) WaitReady(ctx context.Context) (State, error) {
	return e.WaitFor(ctx, func(st State) bool {
		return st.Phase != PhaseUninitialized && st.Phase != PhaseInitializing
	})
}

// WaitSettled ждёт снимка новее after без активного согласования.
func (e *Engine) WaitSettled(ctx context.Context, after uint64) (State, error) {
	return e.WaitFor(ctx, func(st State) bool {
		return st.Seq > after && !st.Loading && st.Phase != PhaseInitializing
	})
}

// Login проверяет учётные данные в identity-хранилище.
// Текущего пользователя не устанавливает: согласование запускается
// уведомлением о новой сессии.
func (e *Engine) Login(ctx context.Context, email, password string) error {
	if err := e.identity.SignInWithPassword(ctx, email, password); err != nil {
		e.logger.Warn("Вход не выполнен", slog.String("error", err.Error()))
		return ErrInvalidCredentials
	}
	e.logger.Info("Вход выполнен, ожидание согласования профиля")
	return nil
}

// Logout завершает сессию и всегда переводит движок в Anonymous.
// Отсутствие сессии не считается ошибкой, прочие ошибки возвращаются
// после перехода.
func (e *Engine) Logout(ctx context.Context) error {
	err := e.identity.SignOut(ctx)

	e.mu.Lock()
	if e.state.Phase != PhaseDisposed && e.state.Phase != PhaseUninitialized {
		e.gen++
		e.setPhaseLocked(PhaseAnonymous, nil, false)
	}
	e.mu.Unlock()

	switch {
	case err == nil:
		e.logger.Info("Выход выполнен")
		return nil
	case errors.Is(err, ErrSessionMissing):
		e.logger.Debug("Выход без активной сессии", slog.String("error", err.Error()))
		return nil
	default:
		e.logger.Warn("Ошибка завершения сессии", slog.String("error", err.Error()))
		return fmt.Errorf("ошибка завершения сессии: %w", err)
	}
}

// loop обрабатывает уведомления identity-хранилища.
func (e *Engine) loop(events <-chan SessionEvent) {
	defer close(e.loopDone)
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.handle(ev)
		}
	}
}

func (e *Engine) handle(ev SessionEvent) {
	if ev.Session == nil {
		e.mu.Lock()
		if e.state.Phase != PhaseDisposed {
			// Устаревший результат согласования больше не применится
			e.gen++
			e.dirty = false
			e.setPhaseLocked(PhaseAnonymous, nil, false)
		}
		e.mu.Unlock()
		e.logger.Info("Сессия завершена", slog.String("event", string(ev.Kind)))
		return
	}

	e.mu.Lock()
	if e.state.Phase == PhaseDisposed {
		e.mu.Unlock()
		return
	}
	if e.busy {
		e.dirty = true
		e.mu.Unlock()
		reconcileCoalescedTotal.Inc()
		e.logger.Debug("Согласование уже выполняется, уведомление объединено",
			slog.String("event", string(ev.Kind)),
		)
		return
	}
	e.busy = true
	e.gen++
	gen := e.gen
	e.state.Loading = true
	e.publishLocked()
	e.mu.Unlock()

	e.runs.Add(1)
	go e.run(gen, ev.Session)
}

// run выполняет одно согласование. session == nil — прочитать актуальную сессию.
func (e *Engine) run(gen uint64, session *model.Session) {
	defer e.runs.Done()

	var (
		user *model.User
		err  error
	)
	if session == nil {
		session, err = e.identity.CurrentSession(e.ctx)
		if err != nil {
			err = fmt.Errorf("ошибка получения сессии: %w", err)
		}
	}
	if err == nil && session != nil {
		user, err = Reconcile(e.ctx, e.profiles, *session)
	}

	e.finish(gen, user, err)
}

// finish применяет результат, если поколение актуально, и освобождает слот.
func (e *Engine) finish(gen uint64, user *model.User, err error) {
	e.mu.Lock()

	switch {
	case gen != e.gen || e.state.Phase == PhaseDisposed:
		reconcileTotal.WithLabelValues("discarded").Inc()
		e.logger.Debug("Результат устаревшего согласования отброшен",
			slog.Uint64("generation", gen),
			slog.Uint64("current", e.gen),
		)
	case err != nil:
		reconcileTotal.WithLabelValues("failure").Inc()
		e.logger.Warn("Согласование профиля не удалось, переход в Anonymous",
			slog.String("error", err.Error()),
		)
		e.setPhaseLocked(PhaseAnonymous, nil, false)
	case user == nil:
		reconcileTotal.WithLabelValues("anonymous").Inc()
		e.setPhaseLocked(PhaseAnonymous, nil, false)
	default:
		reconcileTotal.WithLabelValues("success").Inc()
		e.logger.Info("Профиль согласован",
			slog.String("user_id", user.ID),
			slog.String("role", string(user.Role)),
		)
		e.setPhaseLocked(PhaseAuthenticated, user, false)
	}

	if e.dirty && e.state.Phase != PhaseDisposed {
		// Слот остаётся занятым: одно повторное чтение актуальной сессии
		e.dirty = false
		e.gen++
		next := e.gen
		e.state.Loading = true
		e.publishLocked()
		e.mu.Unlock()

		e.runs.Add(1)
		go e.run(next, nil)
		return
	}

	e.busy = false
	e.mu.Unlock()
}

// expireInit срабатывает по таймауту начальной загрузки.
func (e *Engine) expireInit(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseInitializing || e.gen != gen {
		return
	}
	e.gen++
	initTimeoutTotal.Inc()
	e.logger.Warn("Identity-хранилище не ответило вовремя, переход в Anonymous",
		slog.Duration("timeout", e.initTimeout),
		slog.String("error", ErrInitTimeout.Error()),
	)
	e.setPhaseLocked(PhaseAnonymous, nil, false)
}

// setPhaseLocked выполняет переход и публикует снимок. Вызывается под e.mu.
func (e *Engine) setPhaseLocked(to Phase, user *model.User, loading bool) {
	if !validTransitions[e.state.Phase][to] {
		e.logger.Error("Недопустимый переход состояния",
			slog.String("from", string(e.state.Phase)),
			slog.String("to", string(to)),
		)
		return
	}
	e.state.Phase = to
	e.state.User = user
	e.state.Loading = loading
	e.publishLocked()
}

func (e *Engine) publishLocked() {
	e.state.Seq++
	close(e.changed)
	e.changed = make(chan struct{})

	snap := e.snapshotLocked()
	for ch := range e.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (e *Engine) snapshotLocked() State {
	st := e.state
	if st.User != nil {
		u := *st.User
		st.User = &u
	}
	return st
}
