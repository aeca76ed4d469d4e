package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/irt/internal/domain/model"
)

func startEngine(t *testing.T, id *fakeIdentity, store ProfileStore, timeout time.Duration) *Engine {
	t.Helper()
	e := New(id, store, Options{InitTimeout: timeout}, testLogger())
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() ошибка: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func waitFor(t *testing.T, e *Engine, pred func(State) bool) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := e.WaitFor(ctx, pred)
	if err != nil {
		t.Fatalf("состояние не достигнуто: %v (последнее %+v)", err, st)
	}
	return st
}

func isPhase(p Phase) func(State) bool {
	return func(st State) bool { return st.Phase == p && !st.Loading }
}

func TestEngine_NoSessionBecomesAnonymous(t *testing.T) {
	e := startEngine(t, newFakeIdentity(nil), newFakeProfiles(), time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := e.WaitReady(ctx)
	if err != nil {
		t.Fatalf("WaitReady() ошибка: %v", err)
	}
	if st.Phase != PhaseAnonymous || st.Loading || st.User != nil {
		t.Errorf("состояние = %+v, ожидается Anonymous без загрузки", st)
	}
	if e.IsAllowed(model.RoleAdmin, model.RoleEmployee, model.RoleAutoEntrepreneur) {
		t.Error("IsAllowed() = true для Anonymous")
	}
}

func TestEngine_ExistingSessionAuthenticates(t *testing.T) {
	session := &model.Session{SubjectID: "s1", Email: "boss@irt.fr", Metadata: model.SessionMetadata{Role: "employee"}}
	store := newFakeProfiles(&model.User{ID: "s1", Email: "boss@irt.fr", Name: "Boss", Role: model.RoleAdmin})
	e := startEngine(t, newFakeIdentity(session), store, time.Second)

	st := waitFor(t, e, isPhase(PhaseAuthenticated))
	if st.User == nil || st.User.Role != model.RoleAdmin || st.User.Name != "Boss" {
		t.Errorf("User = %+v, ожидается профиль из хранилища", st.User)
	}
	if !e.IsAllowed(model.RoleAdmin) {
		t.Error("IsAllowed(admin) = false")
	}
	if e.IsAllowed(model.RoleEmployee) {
		t.Error("IsAllowed(employee) = true, роль берётся из профиля, а не из сессии")
	}

	// Снимок — копия
	st.User.Name = "изменено"
	if e.CurrentUser().Name != "Boss" {
		t.Error("изменение снимка повлияло на состояние движка")
	}
}

func TestEngine_MissingProfileIsCreated(t *testing.T) {
	session := &model.Session{SubjectID: "s1", Email: "tech@irt.fr"}
	store := newFakeProfiles()
	e := startEngine(t, newFakeIdentity(session), store, time.Second)

	st := waitFor(t, e, isPhase(PhaseAuthenticated))
	if st.User.Name != "tech" || st.User.Role != model.RoleEmployee {
		t.Errorf("User = %+v", st.User)
	}
	if rows, creates := store.stats(); rows != 1 || creates != 1 {
		t.Errorf("rows/creates = %d/%d, ожидается 1/1", rows, creates)
	}
}

func TestEngine_ProfileErrorDegradesToAnonymous(t *testing.T) {
	session := &model.Session{SubjectID: "s1", Email: "tech@irt.fr"}
	store := &fakeProfiles{rows: map[string]*model.User{}, getErr: errors.New("timeout")}
	e := startEngine(t, newFakeIdentity(session), store, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := e.WaitReady(ctx)
	if err != nil {
		t.Fatalf("WaitReady() ошибка: %v", err)
	}
	if st.Phase != PhaseAnonymous {
		t.Errorf("Phase = %s, ожидается anonymous", st.Phase)
	}
}

// Identity-хранилище не отвечает: через таймаут Anonymous, поздний результат отбрасывается.
func TestEngine_InitTimeoutDiscardsLateResult(t *testing.T) {
	id := newFakeIdentity(&model.Session{SubjectID: "s1", Email: "late@irt.fr"})
	id.block = make(chan struct{})
	store := newFakeProfiles(&model.User{ID: "s1", Email: "late@irt.fr", Name: "Late", Role: model.RoleAdmin})

	start := time.Now()
	e := startEngine(t, id, store, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := e.WaitReady(ctx)
	if err != nil {
		t.Fatalf("движок остался в Initializing: %v", err)
	}
	if st.Phase != PhaseAnonymous {
		t.Fatalf("Phase = %s, ожидается anonymous", st.Phase)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("переход занял %v, ожидается около 50ms", elapsed)
	}

	// Поздний ответ не должен воскресить сессию
	close(id.block)
	e.runs.Wait()
	if got := e.State(); got.Phase != PhaseAnonymous || got.User != nil {
		t.Errorf("после позднего ответа состояние = %+v, ожидается Anonymous", got)
	}
}

// Уведомления во время согласования объединяются в одно повторное чтение.
func TestEngine_CoalescesNotifications(t *testing.T) {
	id := newFakeIdentity(nil)
	store := newFakeProfiles()
	e := startEngine(t, id, store, time.Second)
	waitFor(t, e, isPhase(PhaseAnonymous))

	gate := make(chan struct{})
	store.mu.Lock()
	store.gate = gate
	store.mu.Unlock()

	id.mu.Lock()
	id.session = &model.Session{SubjectID: "s1", Email: "tech@irt.fr"}
	id.mu.Unlock()

	id.emit(EventSignedIn)
	waitFor(t, e, func(st State) bool { return st.Loading })
	for range 5 {
		id.emit(EventRefreshed)
	}
	// Ждём, пока все уведомления будут прочитаны циклом
	waitDrained(t, e, id)

	store.mu.Lock()
	store.gate = nil
	store.mu.Unlock()
	close(gate)

	st := waitFor(t, e, isPhase(PhaseAuthenticated))
	e.runs.Wait()

	if st.User.ID != "s1" {
		t.Errorf("User.ID = %q", st.User.ID)
	}
	if rows, creates := store.stats(); rows != 1 || creates != 1 {
		t.Errorf("rows/creates = %d/%d, ожидается 1/1", rows, creates)
	}
	// Начальная загрузка плюс повторное чтение после объединения.
	// Последнее уведомление может быть обработано уже после первого
	// повторного чтения, поэтому допускается ещё одно, но не пять.
	if calls := id.calls(); calls < 2 || calls > 3 {
		t.Errorf("CurrentSession вызван %d раз, ожидается 2 (не более 3)", calls)
	}
	if got := e.State(); got.Phase != PhaseAuthenticated || got.Loading {
		t.Errorf("итоговое состояние = %+v", got)
	}
}

// waitDrained ждёт, пока в каналах подписчиков не останется уведомлений.
func waitDrained(t *testing.T, e *Engine, id *fakeIdentity) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		id.mu.Lock()
		pending := 0
		for _, ch := range id.subs {
			pending += len(ch)
		}
		id.mu.Unlock()
		if pending == 0 {
			// Последнее прочитанное уведомление должно успеть выставить флаг
			e.mu.RLock()
			dirty := e.dirty
			e.mu.RUnlock()
			if dirty {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("уведомления не обработаны")
}

// Выход во время согласования: Anonymous сразу, результат согласования отбрасывается.
func TestEngine_SignOutDuringReconcile(t *testing.T) {
	id := newFakeIdentity(nil)
	store := newFakeProfiles(&model.User{ID: "s1", Email: "a@irt.fr", Name: "A", Role: model.RoleEmployee})
	e := startEngine(t, id, store, time.Second)
	waitFor(t, e, isPhase(PhaseAnonymous))

	gate := make(chan struct{})
	store.mu.Lock()
	store.gate = gate
	store.mu.Unlock()

	id.mu.Lock()
	id.session = &model.Session{SubjectID: "s1", Email: "a@irt.fr"}
	id.mu.Unlock()
	id.emit(EventSignedIn)
	waitFor(t, e, func(st State) bool { return st.Loading })

	id.mu.Lock()
	id.session = nil
	id.mu.Unlock()
	id.emit(EventSignedOut)
	waitFor(t, e, isPhase(PhaseAnonymous))

	close(gate)
	e.runs.Wait()
	if got := e.State(); got.Phase != PhaseAnonymous || got.User != nil {
		t.Errorf("состояние = %+v, устаревший результат применён", got)
	}
}

func TestEngine_Login(t *testing.T) {
	id := newFakeIdentity(nil)
	e := startEngine(t, id, newFakeProfiles(), time.Second)
	before := waitFor(t, e, isPhase(PhaseAnonymous))

	err := e.Login(context.Background(), "tech@irt.fr", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login() с неверным паролем = %v, ожидается ErrInvalidCredentials", err)
	}
	if err.Error() != ErrInvalidCredentials.Error() {
		t.Errorf("сообщение раскрывает детали: %q", err.Error())
	}

	if err := e.Login(context.Background(), "tech@irt.fr", "secret"); err != nil {
		t.Fatalf("Login() ошибка: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := e.WaitSettled(ctx, before.Seq)
	if err != nil {
		t.Fatalf("WaitSettled() ошибка: %v", err)
	}
	if st.Phase != PhaseAuthenticated || st.User.Email != "tech@irt.fr" {
		t.Errorf("после входа состояние = %+v", st)
	}
}

func TestEngine_Logout(t *testing.T) {
	session := &model.Session{SubjectID: "s1", Email: "a@irt.fr"}
	id := newFakeIdentity(session)
	e := startEngine(t, id, newFakeProfiles(), time.Second)
	waitFor(t, e, isPhase(PhaseAuthenticated))

	if err := e.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() ошибка: %v", err)
	}
	if st := e.State(); st.Phase != PhaseAnonymous {
		t.Errorf("Phase = %s после Logout", st.Phase)
	}

	// Повторный выход без сессии — не ошибка
	if err := e.Logout(context.Background()); err != nil {
		t.Errorf("Logout() без сессии = %v, ожидается nil", err)
	}

	// Прочие ошибки возвращаются, но состояние всё равно Anonymous
	id.mu.Lock()
	id.signOutErr = errors.New("network unreachable")
	id.mu.Unlock()
	if err := e.Logout(context.Background()); err == nil {
		t.Error("Logout() не вернул сетевую ошибку")
	}
	if st := e.State(); st.Phase != PhaseAnonymous {
		t.Errorf("Phase = %s, ожидается anonymous", st.Phase)
	}
}

func TestEngine_WatchAndClose(t *testing.T) {
	e := New(newFakeIdentity(nil), newFakeProfiles(), Options{InitTimeout: time.Second}, testLogger())
	if st := e.State(); st.Phase != PhaseUninitialized {
		t.Fatalf("Phase = %s до Start", st.Phase)
	}

	ch, cancel := e.Watch()
	defer cancel()
	if st := <-ch; st.Phase != PhaseUninitialized {
		t.Errorf("первый снимок = %s", st.Phase)
	}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() ошибка: %v", err)
	}
	if err := e.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("повторный Start() = %v", err)
	}
	waitFor(t, e, isPhase(PhaseAnonymous))

	e.Close()
	if st := e.State(); st.Phase != PhaseDisposed {
		t.Errorf("Phase = %s после Close", st.Phase)
	}

	// Канал закрывается, последний снимок — Disposed
	var last State
	for st := range ch {
		last = st
	}
	if last.Phase != PhaseDisposed {
		t.Errorf("последний снимок = %s, ожидается disposed", last.Phase)
	}
	e.Close()
}
