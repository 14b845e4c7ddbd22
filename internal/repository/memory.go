package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/escrowdesk/internal/model"
)

// MemoryRepository — хранилище в памяти процесса с той же семантикой, что и PostgresRepository.
// Используется без DATABASE_URI и в тестах. Все операции выполняются под одним мьютексом,
// поэтому проверка и запись в CreateDeal, TransitionDeal и ClaimOwnership атомарны.
type MemoryRepository struct {
	mu sync.Mutex

	now func() time.Time

	users  map[int64]*model.User
	deals  map[int64]*model.Deal
	logs   map[int64][]model.DealLog
	config model.FeeConfig

	nextDealID int64
	nextLogID  int64
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now:    time.Now,
		users:  make(map[int64]*model.User),
		deals:  make(map[int64]*model.Deal),
		logs:   make(map[int64][]model.DealLog),
		config: model.FeeConfig{},
	}
}

// WithClock подменяет источник времени.
func (m *MemoryRepository) WithClock(now func() time.Time) *MemoryRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// Close ничего не делает.
func (m *MemoryRepository) Close() error { return nil }

// EnsureUser создаёт пользователя при первом входе. Роль существующего пользователя не меняется.
func (m *MemoryRepository) EnsureUser(ctx context.Context, id int64, name string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		u = &model.User{ID: id, Name: name, Role: model.RoleUser, CreatedAt: m.now()}
		m.users[id] = u
	} else if name != "" {
		u.Name = name
	}

	cp := *u
	return &cp, nil
}

// GetUser возвращает пользователя по идентификатору.
func (m *MemoryRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// ListUsers возвращает всех пользователей в порядке регистрации.
func (m *MemoryRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (m *MemoryRepository) hasOwnerLocked(except int64) bool {
	for _, u := range m.users {
		if u.Role == model.RoleOwner && u.ID != except {
			return true
		}
	}
	return false
}

// SetUserRole меняет роль пользователя. Второй владелец отклоняется.
func (m *MemoryRepository) SetUserRole(ctx context.Context, id int64, role model.Role) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	if role == model.RoleOwner && m.hasOwnerLocked(id) {
		return nil, ErrOwnerExists
	}
	u.Role = role
	cp := *u
	return &cp, nil
}

// ClaimOwnership делает пользователя владельцем, если владельца на платформе ещё нет.
func (m *MemoryRepository) ClaimOwnership(ctx context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasOwnerLocked(0) {
		return nil, ErrOwnerExists
	}
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	u.Role = model.RoleOwner
	cp := *u
	return &cp, nil
}

func (m *MemoryRepository) activeDealLocked(userID int64) *model.Deal {
	var found *model.Deal
	for _, d := range m.deals {
		if d.UserID == userID && d.Status.IsActive() {
			if found == nil || d.ID > found.ID {
				found = d
			}
		}
	}
	return found
}

func (m *MemoryRepository) appendLogLocked(entry model.DealLog) model.DealLog {
	m.nextLogID++
	entry.ID = m.nextLogID
	entry.Timestamp = m.now()
	m.logs[entry.DealID] = append(m.logs[entry.DealID], entry)
	return entry
}

// CreateDeal сохраняет сделку в статусе pending вместе с записью журнала.
func (m *MemoryRepository) CreateDeal(ctx context.Context, d *model.Deal, entry model.DealLog) (*model.Deal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[d.UserID]; !ok {
		return nil, ErrUserNotFound
	}
	if m.activeDealLocked(d.UserID) != nil {
		return nil, ErrActiveDealExists
	}

	m.nextDealID++
	created := *d
	created.ID = m.nextDealID
	created.Status = model.DealStatusPending
	created.CreatedAt = m.now()
	m.deals[created.ID] = &created

	entry.DealID = created.ID
	m.appendLogLocked(entry)

	cp := created
	return &cp, nil
}

// GetDeal возвращает сделку по идентификатору.
func (m *MemoryRepository) GetDeal(ctx context.Context, id int64) (*model.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deals[id]
	if !ok {
		return nil, ErrDealNotFound
	}
	cp := *d
	return &cp, nil
}

// FindActiveDealByUser возвращает активную сделку пользователя или ErrDealNotFound.
func (m *MemoryRepository) FindActiveDealByUser(ctx context.Context, userID int64) (*model.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.activeDealLocked(userID)
	if d == nil {
		return nil, ErrDealNotFound
	}
	cp := *d
	return &cp, nil
}

// ListDeals возвращает сделки по фильтру, новые первыми.
func (m *MemoryRepository) ListDeals(ctx context.Context, f model.DealFilter) ([]model.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deals []model.Deal
	for _, d := range m.deals {
		if f.Match(d) {
			deals = append(deals, *d)
		}
	}

	sort.Slice(deals, func(i, j int) bool {
		if deals[i].CreatedAt.Equal(deals[j].CreatedAt) {
			return deals[i].ID > deals[j].ID
		}
		return deals[i].CreatedAt.After(deals[j].CreatedAt)
	})

	if f.Limit > 0 && len(deals) > f.Limit {
		deals = deals[:f.Limit]
	}
	return deals, nil
}

// TransitionDeal переводит сделку из статуса from в статус to, только если текущий статус равен from.
func (m *MemoryRepository) TransitionDeal(ctx context.Context, id int64, from, to model.DealStatus, entry model.DealLog) (*model.Deal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deals[id]
	if !ok {
		return nil, ErrDealNotFound
	}
	if d.Status != from {
		return nil, ErrStatusMismatch
	}

	d.Status = to
	entry.DealID = id
	m.appendLogLocked(entry)

	cp := *d
	return &cp, nil
}

// AppendDealLog добавляет запись в журнал сделки.
func (m *MemoryRepository) AppendDealLog(ctx context.Context, entry model.DealLog) (*model.DealLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deals[entry.DealID]; !ok {
		return nil, ErrDealNotFound
	}
	l := m.appendLogLocked(entry)
	return &l, nil
}

// ListDealLogs возвращает журнал сделки в порядке добавления.
func (m *MemoryRepository) ListDealLogs(ctx context.Context, dealID int64) ([]model.DealLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logs := make([]model.DealLog, len(m.logs[dealID]))
	copy(logs, m.logs[dealID])
	return logs, nil
}

// GetConfig возвращает сохранённые настройки комиссии.
func (m *MemoryRepository) GetConfig(ctx context.Context) (model.FeeConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.config.Merge(nil), nil
}

// SetConfig записывает значения настроек. Побеждает последняя запись по каждому ключу.
func (m *MemoryRepository) SetConfig(ctx context.Context, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range entries {
		m.config[k] = v
	}
	return nil
}

// SeedConfig записывает только те ключи, которых ещё нет в хранилище.
func (m *MemoryRepository) SeedConfig(ctx context.Context, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range entries {
		if _, ok := m.config[k]; !ok {
			m.config[k] = v
		}
	}
	return nil
}
