package authview

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/capability"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/identity"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/ids"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/obs"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/profile"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/sessionapi"
)

const (
	defaultLoadingTimeout = 3 * time.Second
	defaultLogoutTimeout  = 5 * time.Second
)

var (
	ErrLoginFailed    = errors.New("authview: login failed")
	ErrClosed         = errors.New("authview: builder closed")
	ErrInvalidOptions = errors.New("authview: invalid options")
)

// EmailResolver looks up a mailbox address with a privileged token.
type EmailResolver interface {
	Email(ctx context.Context, accessToken string) (string, error)
}

// SessionAPI is the server-side session surface.
type SessionAPI interface {
	Me(ctx context.Context, accessToken string) (sessionapi.Me, error)
	Logout(ctx context.Context, accessToken string) error
}

// Options wires a Builder. Provider and Store are required.
type Options struct {
	Provider  identity.Provider
	Store     profile.Store
	Evaluator capability.Evaluator
	Emails    EmailResolver
	API       SessionAPI
	StableID  func(accountID string) string

	// EmailFallback enables the synthetic email upgrade.
	EmailFallback  bool
	SignInURL      string
	LoadingTimeout time.Duration
	LogoutTimeout  time.Duration
	LoginScopes    []string
	EmailScopes    []string
	APIScopes      []string

	Logger *slog.Logger
	Now    func() time.Time
}

type upgrade struct {
	id    string
	email string
}

// Builder maintains the latest view model. Resolution passes, role merges,
// upserts and email upgrades run as independent tasks that each publish
// into one slot; the last write wins.
type Builder struct {
	opts Options
	log  *slog.Logger

	state       atomic.Pointer[ViewModel]
	loading     atomic.Bool
	interacting atomic.Bool
	generation  atomic.Uint64
	accountKey  atomic.Pointer[string]
	upgraded    atomic.Pointer[upgrade]

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	mu          sync.Mutex
	subs        map[int]chan ViewModel
	nextSub     int
	timer       *time.Timer
	unsubscribe func()
	stopCtx     func() bool
	started     bool
	closed      bool
}

// New validates opts and returns an idle Builder. Call Start to begin resolving.
func New(opts Options) (*Builder, error) {
	if opts.Provider == nil {
		return nil, errors.Join(ErrInvalidOptions, errors.New("provider is required"))
	}
	if opts.Store == nil {
		return nil, errors.Join(ErrInvalidOptions, errors.New("profile store is required"))
	}
	if opts.Evaluator == nil {
		opts.Evaluator = capability.Default()
	}
	if opts.StableID == nil {
		opts.StableID = ids.StableID
	}
	if opts.LoadingTimeout <= 0 {
		opts.LoadingTimeout = defaultLoadingTimeout
	}
	if opts.LogoutTimeout <= 0 {
		opts.LogoutTimeout = defaultLogoutTimeout
	}
	if strings.TrimSpace(opts.SignInURL) == "" {
		opts.SignInURL = "/signin"
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = obs.Logger()
	}

	b := &Builder{
		opts: opts,
		log:  logger.With("component", "authview"),
		subs: make(map[int]chan ViewModel),
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.loading.Store(true)
	initial, _ := Derive(nil, opts.Evaluator)
	b.state.Store(&initial)
	return b, nil
}

// Start registers for provider events, arms the loading timeout and runs the
// startup resolution pass in the background. Cancelling ctx closes the builder.
func (b *Builder) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.stopCtx = context.AfterFunc(ctx, func() { _ = b.Close() })
	b.unsubscribe = b.opts.Provider.AddEventCallback(b.onEvent)
	b.timer = time.AfterFunc(b.opts.LoadingTimeout, func() {
		if b.loading.CompareAndSwap(true, false) {
			b.log.Debug("loading timeout elapsed before first resolution")
			b.notify()
		}
	})
	b.mu.Unlock()

	b.spawnResolve(identity.Current(b.opts.Provider), "startup")
	return nil
}

// Current returns a snapshot of the latest view model. The snapshot is a
// copy; mutating it does not affect the builder or other readers.
func (b *Builder) Current() ViewModel {
	vm := b.state.Load().clone()
	vm.IsLoading = b.loading.Load()
	return vm
}

// Subscribe returns a channel receiving the latest view model after every
// change. Slow readers only see the newest value.
func (b *Builder) Subscribe() (<-chan ViewModel, func()) {
	ch := make(chan ViewModel, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Wait blocks until every background task has finished.
func (b *Builder) Wait() {
	b.tasks.Wait()
}

// Close cancels in-flight work, detaches from the provider and closes subscribers.
func (b *Builder) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.cancel()
	if b.timer != nil {
		b.timer.Stop()
	}
	unsubscribe := b.unsubscribe
	if b.stopCtx != nil {
		b.stopCtx()
	}
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	b.tasks.Wait()

	b.mu.Lock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
	return nil
}

func (b *Builder) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// spawn runs fn as a tracked background task unless the builder is closed.
func (b *Builder) spawn(fn func(ctx context.Context)) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.tasks.Add(1)
	b.mu.Unlock()
	go func() {
		defer b.tasks.Done()
		fn(b.ctx)
	}()
}

func (b *Builder) spawnResolve(acct *identity.Account, trigger string) {
	b.spawn(func(ctx context.Context) {
		b.resolve(ctx, acct, trigger)
	})
}

func (b *Builder) onEvent(evt identity.Event) {
	switch evt.Type {
	case identity.EventLoginSuccess, identity.EventAcquireTokenSuccess, identity.EventSSOSilentSuccess:
		acct := evt.Account
		if acct == nil {
			acct = identity.Current(b.opts.Provider)
		}
		b.spawnResolve(acct, strings.ToLower(string(evt.Type)))
	case identity.EventAccountChanged, identity.EventLogoutSuccess:
		b.spawnResolve(identity.Current(b.opts.Provider), strings.ToLower(string(evt.Type)))
	}
}

// publish stores the view model derived from uc unless ctx is done.
func (b *Builder) publish(ctx context.Context, uc *UserContext) bool {
	if ctx.Err() != nil {
		return false
	}
	uc = b.withUpgradedEmail(uc)
	vm, err := Derive(uc, b.opts.Evaluator)
	if err != nil {
		b.log.Warn("capability evaluation failed, using deny-by-default checker", "error", err)
	}
	b.state.Store(&vm)
	b.notify()
	return true
}

func (b *Builder) withUpgradedEmail(uc *UserContext) *UserContext {
	up := b.upgraded.Load()
	if uc == nil || up == nil || up.id != uc.ID {
		return uc
	}
	if uc.Email != "" && !identity.LooksSynthetic(uc.Email) {
		return uc
	}
	uc = uc.clone()
	uc.Email = up.email
	return uc
}

func (b *Builder) notify() {
	vm := b.Current()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		vm := vm.clone()
		select {
		case ch <- vm:
			continue
		default:
		}
		// Replace the stale value so the reader sees the newest one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- vm:
		default:
		}
	}
}

func (b *Builder) markResolved() {
	if b.loading.CompareAndSwap(true, false) {
		b.notify()
	}
}

func cloneScopes(scopes []string) []string {
	return slices.Clone(scopes)
}
