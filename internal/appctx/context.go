package appctx

import (
	"log/slog"
	"sync"
)

// Context carries the state that screens share: the session storage and the
// loading indicator. It is passed explicitly to the components that need it.
type Context struct {
	Session *SessionStorage
	Loading *Loading
	Log     *slog.Logger
}

func New(sessionFile string, log *slog.Logger) *Context {
	return &Context{
		Session: NewSessionStorage(sessionFile),
		Loading: &Loading{},
		Log:     log,
	}
}

// Logout clears the stored session.
func (c *Context) Logout() error {
	if err := c.Session.Clear(); err != nil {
		return err
	}
	c.Log.Info("logged out")
	return nil
}

// Loading is a counted busy flag. Each Begin must be paired with the returned
// end func; the flag is active while any operation is in flight.
type Loading struct {
	mu     sync.Mutex
	active int
	subs   []func(bool)
}

// Begin marks an operation as started. The returned func is idempotent.
func (l *Loading) Begin() func() {
	l.set(1)
	var once sync.Once
	return func() { once.Do(func() { l.set(-1) }) }
}

// Active reports whether any operation is in flight.
func (l *Loading) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active > 0
}

// Subscribe registers fn to be called whenever the flag flips.
func (l *Loading) Subscribe(fn func(active bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, fn)
}

func (l *Loading) set(delta int) {
	l.mu.Lock()
	was := l.active > 0
	l.active += delta
	if l.active < 0 {
		l.active = 0
	}
	now := l.active > 0
	subs := append([]func(bool){}, l.subs...)
	l.mu.Unlock()

	if was != now {
		for _, fn := range subs {
			fn(now)
		}
	}
}
