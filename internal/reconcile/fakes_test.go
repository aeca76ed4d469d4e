package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bigkaa/irt/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeIdentity — identity-хранилище в памяти.
type fakeIdentity struct {
	mu       sync.Mutex
	session  *model.Session
	password string
	subs     []chan SessionEvent
	// block — если не nil, CurrentSession ждёт его закрытия
	block        chan struct{}
	currentCalls int
	signOutErr   error
}

func newFakeIdentity(s *model.Session) *fakeIdentity {
	return &fakeIdentity{session: s, password: "secret"}
}

func (f *fakeIdentity) CurrentSession(ctx context.Context) (*model.Session, error) {
	f.mu.Lock()
	f.currentCalls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil, nil
	}
	s := *f.session
	return &s, nil
}

func (f *fakeIdentity) Subscribe() (<-chan SessionEvent, func()) {
	ch := make(chan SessionEvent, 16)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() {}
}

func (f *fakeIdentity) emit(kind EventKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s *model.Session
	if f.session != nil {
		cp := *f.session
		s = &cp
	}
	for _, ch := range f.subs {
		ch <- SessionEvent{Kind: kind, Session: s}
	}
}

func (f *fakeIdentity) SignInWithPassword(_ context.Context, email, password string) error {
	if password != f.password {
		return errors.New("invalid_grant: Invalid user credentials")
	}
	f.mu.Lock()
	f.session = &model.Session{SubjectID: "sub-" + email, Email: email}
	f.mu.Unlock()
	f.emit(EventSignedIn)
	return nil
}

func (f *fakeIdentity) SignOut(context.Context) error {
	f.mu.Lock()
	if f.signOutErr != nil {
		err := f.signOutErr
		f.mu.Unlock()
		return err
	}
	if f.session == nil {
		f.mu.Unlock()
		return fmt.Errorf("logout: %w", ErrSessionMissing)
	}
	f.session = nil
	f.mu.Unlock()
	f.emit(EventSignedOut)
	return nil
}

func (f *fakeIdentity) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentCalls
}

// fakeProfiles — хранилище профилей в памяти с уникальностью по ID.
type fakeProfiles struct {
	mu      sync.Mutex
	rows    map[string]*model.User
	creates int
	gets    int
	getErr  error
	// gate — если не nil, GetProfile ждёт его закрытия
	gate chan struct{}
}

func newFakeProfiles(users ...*model.User) *fakeProfiles {
	f := &fakeProfiles{rows: make(map[string]*model.User)}
	for _, u := range users {
		f.rows[u.ID] = u
	}
	return f
}

func (f *fakeProfiles) GetProfile(ctx context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	f.gets++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.rows[id]
	if !ok {
		return nil, fmt.Errorf("профиль %s: %w", id, ErrProfileNotFound)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeProfiles) CreateProfile(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[u.ID]; ok {
		return fmt.Errorf("insert: %w", ErrProfileConflict)
	}
	cp := *u
	f.rows[u.ID] = &cp
	f.creates++
	return nil
}

func (f *fakeProfiles) stats() (rows, creates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows), f.creates
}

// racyProfiles заставляет первые n вызовов GetProfile дождаться друг друга,
// так что все они видят отсутствие профиля и пытаются его создать.
type racyProfiles struct {
	*fakeProfiles
	n       int
	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func newRacyProfiles(n int) *racyProfiles {
	return &racyProfiles{fakeProfiles: newFakeProfiles(), n: n, release: make(chan struct{})}
}

func (r *racyProfiles) GetProfile(ctx context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	r.arrived++
	a := r.arrived
	if a == r.n {
		close(r.release)
	}
	r.mu.Unlock()

	if a <= r.n {
		<-r.release
	}
	return r.fakeProfiles.GetProfile(ctx, id)
}
