package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
	"github.com/Pullock4981/diu-transport-client/internal/domain/rbac"
	"github.com/Pullock4981/diu-transport-client/internal/identity"
)

const defaultLookupTimeout = 10 * time.Second

var (
	// ErrAlreadyStarted — повторный Start. Resolver не перезапускается.
	ErrAlreadyStarted = errors.New("session resolver уже запущен")
	// ErrStopped — Resolver остановлен.
	ErrStopped = errors.New("session resolver остановлен")
)

// Option — опция Resolver.
type Option func(*Resolver)

// WithLookupTimeout ограничивает время upsert и запроса роли.
func WithLookupTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.lookupTimeout = d
		}
	}
}

// reaction — отложенная реакция на изменение identity.
type reaction struct {
	epoch    uint64
	identity identity.Identity
	ctx      context.Context
}

// Resolver сопоставляет identity из IdP с ролью из реестра.
//
// Реакции на изменения identity выполняются одной горутиной в порядке
// поступления. Каждое изменение (push IdP или SignOut) увеличивает epoch;
// результат реакции применяется, только если epoch не изменился.
// Вытесненная реакция отменяется через context.
type Resolver struct {
	provider      identity.Provider
	registry      RoleRegistry
	lookupTimeout time.Duration
	logger        *slog.Logger

	mu        sync.Mutex
	state     Session
	epoch     uint64
	cancel    context.CancelFunc
	readyCh   chan struct{} // открыт, пока state.Phase == PhaseInitializing
	pending   []reaction
	observers map[*observer]struct{}
	started   bool
	stopped   bool

	baseCtx     context.Context
	baseCancel  context.CancelFunc
	unsubscribe func()
	wake        chan struct{}
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// New создаёт Resolver. До первого push IdP сессия в фазе initializing.
func New(provider identity.Provider, registry RoleRegistry, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		provider:      provider,
		registry:      registry,
		lookupTimeout: defaultLookupTimeout,
		logger:        logger.With(slog.String("component", "session_resolver")),
		state:         Session{Role: RoleUnresolved, Phase: PhaseInitializing},
		readyCh:       make(chan struct{}),
		observers:     make(map[*observer]struct{}),
		wake:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start подписывается на изменения сессии IdP и запускает обработку реакций.
func (r *Resolver) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.baseCtx, r.baseCancel = context.WithCancel(context.WithoutCancel(ctx))
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run()

	// Subscribe вызывается без r.mu: IdP может отдать push синхронно.
	unsubscribe := r.provider.Subscribe(r.handle)

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		unsubscribe()
		return ErrStopped
	}
	r.unsubscribe = unsubscribe
	r.mu.Unlock()

	r.logger.Debug("Подписка на изменения сессии IdP оформлена")
	return nil
}

// Stop отписывается от IdP, отменяет текущую реакцию и закрывает
// каналы подписчиков Observe.
func (r *Resolver) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.pending = nil
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	if started {
		// nil, если Start ещё не подписался: тогда он отпишется сам.
		if unsubscribe != nil {
			unsubscribe()
		}
		r.baseCancel()
	}
	close(r.stopCh)
	r.wg.Wait()

	r.mu.Lock()
	for o := range r.observers {
		o.close()
		delete(r.observers, o)
	}
	r.mu.Unlock()
	r.logger.Debug("Session resolver остановлен")
}

// Current возвращает текущий снимок сессии.
func (r *Resolver) Current() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Observe возвращает поток снимков и функцию отписки. Первым приходит
// текущий снимок, далее — каждый опубликованный. Канал закрывается
// после отписки или Stop.
func (r *Resolver) Observe() (<-chan Session, func()) {
	o := newObserver()

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		o.close()
		return o.ch, func() {}
	}
	r.observers[o] = struct{}{}
	o.publish(r.state)
	r.mu.Unlock()

	return o.ch, func() {
		r.mu.Lock()
		delete(r.observers, o)
		r.mu.Unlock()
		o.close()
	}
}

// WaitReady блокируется, пока сессия не перейдёт в фазу ready.
func (r *Resolver) WaitReady(ctx context.Context) (Session, error) {
	for {
		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			return Session{}, ErrStopped
		}
		if r.state.Phase == PhaseReady {
			s := r.state
			r.mu.Unlock()
			return s, nil
		}
		ch := r.readyCh
		r.mu.Unlock()

		select {
		case <-ch:
		case <-r.stopCh:
		case <-ctx.Done():
			return Session{}, ctx.Err()
		}
	}
}

// SignUp создаёт учётную запись в IdP. Сессию обновит push IdP.
func (r *Resolver) SignUp(ctx context.Context, email, password string) (*identity.Identity, error) {
	id, err := r.provider.SignUp(ctx, email, password)
	if err != nil {
		r.logger.Info("Регистрация отклонена", slog.String("email", email), slog.String("error", err.Error()))
		return nil, err
	}
	return id, nil
}

// SignIn — вход по email и паролю.
func (r *Resolver) SignIn(ctx context.Context, email, password string) (*identity.Identity, error) {
	id, err := r.provider.SignIn(ctx, email, password)
	if err != nil {
		r.logger.Info("Вход отклонён", slog.String("email", email), slog.String("error", err.Error()))
		return nil, err
	}
	return id, nil
}

// SignInFederated — интерактивный вход через внешний провайдер.
func (r *Resolver) SignInFederated(ctx context.Context) (*identity.Identity, error) {
	id, err := r.provider.SignInFederated(ctx)
	if err != nil {
		r.logger.Info("Федеративный вход не выполнен", slog.String("error", err.Error()))
		return nil, err
	}
	return id, nil
}

// SignOut сбрасывает сессию до вызова IdP: после возврата из локальной
// части identity отсутствует, роль не определена. Ошибка отзыва сессии
// в IdP только логируется.
func (r *Resolver) SignOut(ctx context.Context) {
	r.mu.Lock()
	if !r.stopped && (r.state.Identity != nil || r.state.Phase != PhaseReady) {
		r.advance(nil)
		r.finish(RoleUnresolved)
		reactionsTotal.WithLabelValues(outcomeSignedOut).Inc()
	}
	r.mu.Unlock()

	if err := r.provider.SignOut(ctx); err != nil {
		r.logger.Warn("Ошибка завершения сессии в IdP, локальная сессия сброшена",
			slog.String("error", err.Error()),
		)
	}
}

// handle — подписчик IdP.
func (r *Resolver) handle(id *identity.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	// Повторный push «нет сессии» после локального SignOut.
	if id == nil && r.state.Identity == nil && r.state.Phase == PhaseReady {
		return
	}

	var current *identity.Identity
	if id != nil {
		cp := *id
		current = &cp
	}
	r.advance(current)

	if current == nil {
		r.finish(RoleUnresolved)
		reactionsTotal.WithLabelValues(outcomeSignedOut).Inc()
		return
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	r.cancel = cancel
	r.pending = append(r.pending, reaction{epoch: r.epoch, identity: *current, ctx: ctx})

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// advance начинает новую эпоху: отменяет текущую реакцию и публикует
// снимок initializing. Вызывается под r.mu.
func (r *Resolver) advance(id *identity.Identity) {
	r.epoch++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.state.Phase == PhaseReady {
		r.readyCh = make(chan struct{})
	}
	r.state = Session{Identity: id, Role: RoleUnresolved, Phase: PhaseInitializing, Epoch: r.epoch}
	r.publish()
}

// finish переводит текущую эпоху в ready. Вызывается под r.mu.
func (r *Resolver) finish(role string) {
	r.state.Role = role
	r.state.Phase = PhaseReady
	close(r.readyCh)
	r.publish()
}

func (r *Resolver) publish() {
	for o := range r.observers {
		o.publish(r.state)
	}
}

func (r *Resolver) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.wake:
		}
		for {
			rc, ok := r.next()
			if !ok {
				break
			}
			r.react(rc)
		}
	}
}

// next извлекает следующую актуальную реакцию; вытесненные пропускаются.
func (r *Resolver) next() (reaction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.pending) > 0 {
		rc := r.pending[0]
		r.pending = r.pending[1:]
		if rc.epoch == r.epoch {
			return rc, true
		}
		reactionsTotal.WithLabelValues(outcomeSuperseded).Inc()
	}
	return reaction{}, false
}

func (r *Resolver) react(rc reaction) {
	role, fallback := r.resolveRole(rc.ctx, rc.identity)

	r.mu.Lock()
	defer r.mu.Unlock()

	if rc.epoch != r.epoch || r.stopped {
		staleResultsTotal.Inc()
		reactionsTotal.WithLabelValues(outcomeSuperseded).Inc()
		r.logger.Debug("Результат определения роли отброшен: identity сменился",
			slog.String("email", rc.identity.Email),
			slog.Uint64("epoch", rc.epoch),
			slog.Uint64("current_epoch", r.epoch),
		)
		return
	}

	if fallback != "" {
		roleFallbacksTotal.WithLabelValues(fallback).Inc()
	}
	r.cancel = nil
	r.finish(role)
	reactionsTotal.WithLabelValues(outcomeResolved).Inc()

	r.logger.Info("Сессия готова",
		slog.String("email", rc.identity.Email),
		slog.String("role", role),
	)
}

// resolveRole выполняет upsert профиля и запрос роли параллельно и
// дожидается обоих. Возвращает роль и причину отката к user (или "").
func (r *Resolver) resolveRole(ctx context.Context, id identity.Identity) (string, string) {
	ctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	var (
		role string
		g    errgroup.Group
	)

	g.Go(func() error {
		// Роль не передаётся: запись клиента не должна затирать роль в реестре.
		err := r.registry.UpsertUser(ctx, model.UserProfile{
			Name:     id.DisplayName,
			Email:    id.Email,
			PhotoURL: id.PhotoURL,
		})
		if err != nil && ctx.Err() == nil {
			r.logger.Warn("Ошибка записи профиля в реестр",
				slog.String("email", id.Email),
				slog.String("error", err.Error()),
			)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		role, err = r.registry.LookupRole(ctx, id.Email)
		return err
	})

	// Ошибка upsert только логируется, Wait возвращает ошибку запроса роли.
	if lookupErr := g.Wait(); lookupErr != nil {
		if ctx.Err() == nil || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.logger.Warn("Роль не получена, используется user",
				slog.String("email", id.Email),
				slog.String("error", lookupErr.Error()),
			)
		}
		return rbac.RoleUser, fallbackLookupError
	}

	role = strings.ToLower(strings.TrimSpace(role))
	if !rbac.IsValidRole(role) {
		r.logger.Warn("Реестр вернул неизвестную роль, используется user",
			slog.String("email", id.Email),
			slog.String("role", role),
		)
		return rbac.RoleUser, fallbackUnknownRole
	}
	return role, ""
}
