// Package repository содержит реализации хранилища сделок: PostgreSQL и in-memory.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/escrowdesk/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const dealColumns = `id, user_id, type, crypto, amount::text, rate::text, payment_method, fee::text, status, created_at`

const logColumns = `id, deal_id, actor_id, actor_role, action, from_status, to_status, reason, timestamp`

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при временных ошибках: сбой сериализации, дедлок, обрыв соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		timer := time.NewTimer(r.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation &&
		(constraint == "" || pgErr.ConstraintName == constraint)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanUser(row scanner) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Name, &role, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	return &u, nil
}

func scanDeal(row scanner) (*model.Deal, error) {
	var (
		d                 model.Deal
		dealType, status  string
		amount, rate, fee string
	)
	err := row.Scan(&d.ID, &d.UserID, &dealType, &d.Crypto, &amount, &rate, &d.PaymentMethod, &fee, &status, &d.CreatedAt)
	if err != nil {
		return nil, err
	}

	if d.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if d.Rate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("parse rate: %w", err)
	}
	if d.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse fee: %w", err)
	}
	d.Type = model.DealType(dealType)
	d.Status = model.DealStatus(status)

	return &d, nil
}

func scanLog(row scanner) (*model.DealLog, error) {
	var (
		l                model.DealLog
		role             string
		from, to, reason *string
	)
	if err := row.Scan(&l.ID, &l.DealID, &l.ActorID, &role, &l.Action, &from, &to, &reason, &l.Timestamp); err != nil {
		return nil, err
	}
	l.ActorRole = model.Role(role)
	if from != nil {
		l.FromStatus = model.DealStatus(*from)
	}
	if to != nil {
		l.ToStatus = model.DealStatus(*to)
	}
	if reason != nil {
		l.Reason = *reason
	}
	return &l, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func statusStrings(statuses []model.DealStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

// EnsureUser создаёт пользователя при первом входе. Роль существующего пользователя не меняется.
func (r *PostgresRepository) EnsureUser(ctx context.Context, id int64, name string) (*model.User, error) {
	var u *model.User
	err := r.withRetry(ctx, func() error {
		var err error
		u, err = scanUser(r.pool.QueryRow(ctx,
			`INSERT INTO users (id, name, role) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE
			 SET name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE users.name END
			 RETURNING id, name, role, created_at`,
			id, name, string(model.RoleUser),
		))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT id, name, role, created_at FROM users WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ListUsers возвращает всех пользователей в порядке регистрации.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, role, created_at FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return users, nil
}

// SetUserRole меняет роль пользователя. Второй владелец отклоняется уникальным индексом.
func (r *PostgresRepository) SetUserRole(ctx context.Context, id int64, role model.Role) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`UPDATE users SET role = $2 WHERE id = $1 RETURNING id, name, role, created_at`,
		id, string(role),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		if isUniqueViolation(err, "users_single_owner") {
			return nil, ErrOwnerExists
		}
		return nil, fmt.Errorf("set user role: %w", err)
	}
	return u, nil
}

// ClaimOwnership делает пользователя владельцем, если владельца на платформе ещё нет.
func (r *PostgresRepository) ClaimOwnership(ctx context.Context, id int64) (*model.User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE role = $1)`, string(model.RoleOwner)).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check owner: %w", err)
	}
	if exists {
		return nil, ErrOwnerExists
	}

	u, err := scanUser(tx.QueryRow(ctx,
		`UPDATE users SET role = $2 WHERE id = $1 RETURNING id, name, role, created_at`,
		id, string(model.RoleOwner),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		if isUniqueViolation(err, "users_single_owner") {
			return nil, ErrOwnerExists
		}
		return nil, fmt.Errorf("claim ownership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err, "users_single_owner") {
			return nil, ErrOwnerExists
		}
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return u, nil
}

// CreateDeal сохраняет сделку в статусе pending вместе с записью журнала.
// Строка пользователя блокируется, чтобы параллельные заявки не обошли проверку активной сделки;
// частичный уникальный индекс deals_one_active_per_user страхует ту же инварианту.
func (r *PostgresRepository) CreateDeal(ctx context.Context, d *model.Deal, entry model.DealLog) (*model.Deal, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var dummy int
	err = tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, d.UserID).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user for update: %w", err)
	}

	var activeID int64
	err = tx.QueryRow(ctx,
		`SELECT id FROM deals WHERE user_id = $1 AND status = ANY($2) LIMIT 1`,
		d.UserID, statusStrings(model.ActiveDealStatuses),
	).Scan(&activeID)
	switch {
	case err == nil:
		return nil, ErrActiveDealExists
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("select active deal: %w", err)
	}

	created, err := scanDeal(tx.QueryRow(ctx,
		`INSERT INTO deals (user_id, type, crypto, amount, rate, payment_method, fee, status)
		 VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7::numeric, $8)
		 RETURNING `+dealColumns,
		d.UserID, string(d.Type), d.Crypto, d.Amount.String(), d.Rate.String(), d.PaymentMethod,
		d.Fee.StringFixed(2), string(model.DealStatusPending),
	))
	if err != nil {
		if isUniqueViolation(err, "deals_one_active_per_user") {
			return nil, ErrActiveDealExists
		}
		return nil, fmt.Errorf("insert deal: %w", err)
	}

	entry.DealID = created.ID
	if _, err := insertLog(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return created, nil
}

func insertLog(ctx context.Context, q querier, entry model.DealLog) (*model.DealLog, error) {
	l, err := scanLog(q.QueryRow(ctx,
		`INSERT INTO deal_logs (deal_id, actor_id, actor_role, action, from_status, to_status, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+logColumns,
		entry.DealID, entry.ActorID, string(entry.ActorRole), entry.Action,
		nullString(string(entry.FromStatus)), nullString(string(entry.ToStatus)), nullString(entry.Reason),
	))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrDealNotFound
		}
		return nil, fmt.Errorf("insert deal log: %w", err)
	}
	return l, nil
}

// GetDeal возвращает сделку по идентификатору.
func (r *PostgresRepository) GetDeal(ctx context.Context, id int64) (*model.Deal, error) {
	d, err := scanDeal(r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDealNotFound
		}
		return nil, fmt.Errorf("get deal: %w", err)
	}
	return d, nil
}

// FindActiveDealByUser возвращает активную сделку пользователя или ErrDealNotFound.
func (r *PostgresRepository) FindActiveDealByUser(ctx context.Context, userID int64) (*model.Deal, error) {
	d, err := scanDeal(r.pool.QueryRow(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE user_id = $1 AND status = ANY($2)
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID, statusStrings(model.ActiveDealStatuses),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDealNotFound
		}
		return nil, fmt.Errorf("find active deal: %w", err)
	}
	return d, nil
}

// ListDeals возвращает сделки по фильтру, новые первыми.
func (r *PostgresRepository) ListDeals(ctx context.Context, f model.DealFilter) ([]model.Deal, error) {
	var (
		conds []string
		args  []any
	)
	if f.UserID != 0 {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}

	query := `SELECT ` + dealColumns + ` FROM deals`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select deals: %w", err)
	}
	defer rows.Close()

	var deals []model.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		deals = append(deals, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return deals, nil
}

// TransitionDeal переводит сделку из статуса from в статус to, только если текущий статус равен from.
// Запись журнала добавляется в той же транзакции.
func (r *PostgresRepository) TransitionDeal(ctx context.Context, id int64, from, to model.DealStatus, entry model.DealLog) (*model.Deal, error) {
	var updated *model.Deal

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		d, err := scanDeal(tx.QueryRow(ctx,
			`UPDATE deals SET status = $3 WHERE id = $1 AND status = $2 RETURNING `+dealColumns,
			id, string(from), string(to),
		))
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("update deal status: %w", err)
			}
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deals WHERE id = $1)`, id).Scan(&exists); err != nil {
				return fmt.Errorf("check deal: %w", err)
			}
			if !exists {
				return ErrDealNotFound
			}
			return ErrStatusMismatch
		}

		entry.DealID = id
		if _, err := insertLog(ctx, tx, entry); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		updated = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// AppendDealLog добавляет запись в журнал сделки.
func (r *PostgresRepository) AppendDealLog(ctx context.Context, entry model.DealLog) (*model.DealLog, error) {
	return insertLog(ctx, r.pool, entry)
}

// ListDealLogs возвращает журнал сделки в порядке добавления.
func (r *PostgresRepository) ListDealLogs(ctx context.Context, dealID int64) ([]model.DealLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+logColumns+` FROM deal_logs WHERE deal_id = $1 ORDER BY id`,
		dealID,
	)
	if err != nil {
		return nil, fmt.Errorf("select deal logs: %w", err)
	}
	defer rows.Close()

	var logs []model.DealLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal log: %w", err)
		}
		logs = append(logs, *l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return logs, nil
}

// GetConfig возвращает сохранённые настройки комиссии.
func (r *PostgresRepository) GetConfig(ctx context.Context) (model.FeeConfig, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value FROM config WHERE key = ANY($1)`, model.FeeConfigKeys)
	if err != nil {
		return nil, fmt.Errorf("select config: %w", err)
	}
	defer rows.Close()

	cfg := model.FeeConfig{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		cfg[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return cfg, nil
}

// SetConfig записывает значения настроек. Побеждает последняя запись по каждому ключу.
func (r *PostgresRepository) SetConfig(ctx context.Context, entries map[string]string) error {
	return r.writeConfig(ctx, entries,
		`INSERT INTO config (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`)
}

// SeedConfig записывает только те ключи, которых ещё нет в хранилище.
func (r *PostgresRepository) SeedConfig(ctx context.Context, entries map[string]string) error {
	return r.writeConfig(ctx, entries,
		`INSERT INTO config (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`)
}

func (r *PostgresRepository) writeConfig(ctx context.Context, entries map[string]string, stmt string) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		for k, v := range entries {
			if _, err := tx.Exec(ctx, stmt, k, v); err != nil {
				return fmt.Errorf("write config %s: %w", k, err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}
