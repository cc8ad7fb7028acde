package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
	"github.com/Pullock4981/diu-transport-client/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var (
	adminCaller = Caller{Email: "head@diu.test", Name: "Transport Head", Role: "admin"}
	userCaller  = Caller{Email: "rahim@diu.test", Name: "Rahim", Role: "user"}
)

// --- users ---

type fakeUserRepo struct {
	mu      sync.Mutex
	users   map[string]model.User
	gets       int
	failGet    error
	failUpsert error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]model.User{}}
}

func (r *fakeUserRepo) Upsert(_ context.Context, u *model.User) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpsert != nil {
		return false, r.failUpsert
	}
	u.Email = strings.ToLower(u.Email)
	if existing, ok := r.users[u.Email]; ok {
		existing.Name = u.Name
		existing.PhotoURL = u.PhotoURL
		existing.UpdatedAt = time.Now()
		r.users[u.Email] = existing
		u.Role = existing.Role
		u.CreatedAt = existing.CreatedAt
		u.UpdatedAt = existing.UpdatedAt
		return false, nil
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	r.users[u.Email] = *u
	return true, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.failGet != nil {
		return nil, r.failGet
	}
	u, ok := r.users[strings.ToLower(email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *fakeUserRepo) List(_ context.Context) ([]*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (r *fakeUserRepo) SetRole(_ context.Context, email, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[strings.ToLower(email)]
	if !ok {
		return repository.ErrNotFound
	}
	u.Role = role
	r.users[u.Email] = u
	return nil
}

// --- transport requests ---

type fakeTransportRequestRepo struct {
	items map[string]model.TransportRequest
	order []string
}

func newFakeTransportRequestRepo() *fakeTransportRequestRepo {
	return &fakeTransportRequestRepo{items: map[string]model.TransportRequest{}}
}

func (r *fakeTransportRequestRepo) Create(_ context.Context, tr *model.TransportRequest) error {
	tr.CreatedAt = time.Now()
	tr.UpdatedAt = tr.CreatedAt
	r.items[tr.ID] = *tr
	r.order = append(r.order, tr.ID)
	return nil
}

func (r *fakeTransportRequestRepo) GetByID(_ context.Context, id string) (*model.TransportRequest, error) {
	tr, ok := r.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &tr, nil
}

func (r *fakeTransportRequestRepo) List(_ context.Context, requester *string) ([]*model.TransportRequest, error) {
	var out []*model.TransportRequest
	for _, id := range r.order {
		tr, ok := r.items[id]
		if !ok {
			continue
		}
		if requester != nil && tr.RequesterEmail != *requester {
			continue
		}
		out = append(out, &tr)
	}
	return out, nil
}

func (r *fakeTransportRequestRepo) Update(_ context.Context, tr *model.TransportRequest) error {
	if _, ok := r.items[tr.ID]; !ok {
		return repository.ErrNotFound
	}
	r.items[tr.ID] = *tr
	return nil
}

func (r *fakeTransportRequestRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.items[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

// --- notices ---

type fakeNoticeRepo struct {
	items []model.Notice
}

func (r *fakeNoticeRepo) Create(_ context.Context, n *model.Notice) error {
	n.Created = time.Now()
	r.items = append(r.items, *n)
	return nil
}

func (r *fakeNoticeRepo) List(_ context.Context, f model.NoticeFilter) ([]*model.Notice, error) {
	var out []*model.Notice
	for i := len(r.items) - 1; i >= 0; i-- {
		n := r.items[i]
		if n.Matches(f) {
			out = append(out, &n)
		}
	}
	return out, nil
}

// --- schedules ---

type fakeScheduleRepo struct {
	items     map[string]model.Schedule
	failAfter int // >0: Create падает после указанного числа вставок
	creates   int
}

func newFakeScheduleRepo() *fakeScheduleRepo {
	return &fakeScheduleRepo{items: map[string]model.Schedule{}}
}

func (r *fakeScheduleRepo) Create(_ context.Context, s *model.Schedule) error {
	if r.failAfter > 0 && r.creates >= r.failAfter {
		return errors.New("insert failed")
	}
	for _, existing := range r.items {
		if existing.RouteNo == s.RouteNo {
			return repository.ErrConflict
		}
	}
	r.creates++
	r.items[s.ID] = *s
	return nil
}

func (r *fakeScheduleRepo) GetByID(_ context.Context, id string) (*model.Schedule, error) {
	s, ok := r.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r *fakeScheduleRepo) List(_ context.Context, f model.ScheduleFilter) ([]*model.Schedule, error) {
	var out []*model.Schedule
	for _, s := range r.items {
		if s.Matches(f) {
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RouteNo < out[j].RouteNo })
	return out, nil
}

func (r *fakeScheduleRepo) Update(_ context.Context, s *model.Schedule) error {
	if _, ok := r.items[s.ID]; !ok {
		return repository.ErrNotFound
	}
	for id, existing := range r.items {
		if id != s.ID && existing.RouteNo == s.RouteNo {
			return repository.ErrConflict
		}
	}
	r.items[s.ID] = *s
	return nil
}

func (r *fakeScheduleRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.items[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *fakeScheduleRepo) Count(_ context.Context) (int, error) {
	return len(r.items), nil
}

// fakeTx выполняет fn без транзакции; commit/rollback эмулируется
// снимком fakeScheduleRepo.
type fakeTx struct {
	repo  *fakeScheduleRepo
	calls int
}

func (f *fakeTx) RunInTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	f.calls++
	snapshot := make(map[string]model.Schedule, len(f.repo.items))
	for k, v := range f.repo.items {
		snapshot[k] = v
	}
	if err := fn(nil); err != nil {
		f.repo.items = snapshot
		return err
	}
	return nil
}

// --- registration ---

type fakeAccountCreator struct {
	err     error
	calls   []string
	deleted []string
}

func (f *fakeAccountCreator) CreateUser(_ context.Context, name, email, _ string) (string, error) {
	f.calls = append(f.calls, email)
	if f.err != nil {
		return "", f.err
	}
	return "kc-" + name, nil
}

func (f *fakeAccountCreator) DeleteUser(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}
