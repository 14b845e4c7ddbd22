// Package model содержит доменные сущности сервиса escrowdesk.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role описывает роль пользователя платформы.
type Role string

const (
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
	RoleBanned Role = "banned"
)

// Valid сообщает, известна ли роль.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleOwner, RoleBanned:
		return true
	}
	return false
}

// IsStaff возвращает true для администраторов и владельца.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleOwner
}

// User представляет пользователя, идентифицированного по Telegram ID.
type User struct {
	ID        int64
	Name      string
	Role      Role
	CreatedAt time.Time
}

// Actor — пользователь, от имени которого выполняется операция.
// Роль фиксируется на момент вызова и попадает в журнал сделки.
type Actor struct {
	ID   int64
	Role Role
}

// Actor возвращает участника операции для пользователя.
func (u *User) Actor() Actor {
	return Actor{ID: u.ID, Role: u.Role}
}

// DealType описывает направление сделки.
type DealType string

const (
	DealTypeBuy  DealType = "buy"
	DealTypeSell DealType = "sell"
)

// Valid сообщает, известен ли тип сделки.
func (t DealType) Valid() bool {
	return t == DealTypeBuy || t == DealTypeSell
}

// DealStatus описывает состояние сделки.
type DealStatus string

const (
	DealStatusPending        DealStatus = "pending"
	DealStatusApproved       DealStatus = "approved"
	DealStatusEscrowPending  DealStatus = "escrow_pending"
	DealStatusPaymentPending DealStatus = "payment_pending"
	DealStatusCompleted      DealStatus = "completed"
	DealStatusCancelled      DealStatus = "cancelled"
	DealStatusDisputed       DealStatus = "disputed"
)

// ActiveDealStatuses перечисляет статусы, в которых сделка считается активной.
// У пользователя может быть не больше одной такой сделки.
var ActiveDealStatuses = []DealStatus{
	DealStatusPending,
	DealStatusApproved,
	DealStatusEscrowPending,
	DealStatusPaymentPending,
}

// Valid сообщает, известен ли статус.
func (s DealStatus) Valid() bool {
	switch s {
	case DealStatusPending, DealStatusApproved, DealStatusEscrowPending, DealStatusPaymentPending,
		DealStatusCompleted, DealStatusCancelled, DealStatusDisputed:
		return true
	}
	return false
}

// IsActive сообщает, блокирует ли сделка в этом статусе создание новой.
func (s DealStatus) IsActive() bool {
	for _, a := range ActiveDealStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true для завершённых и отменённых сделок.
func (s DealStatus) IsTerminal() bool {
	return s == DealStatusCompleted || s == DealStatusCancelled
}

// MaxDealValue — верхняя граница (не включительно) суммы и курса сделки,
// совпадающая с разрядностью колонок NUMERIC(20, 8).
var MaxDealValue = decimal.New(1, 12)

// Deal описывает заявку на покупку или продажу криптовалюты.
type Deal struct {
	ID            int64
	UserID        int64
	Type          DealType
	Crypto        string
	Amount        decimal.Decimal
	Rate          decimal.Decimal
	PaymentMethod string
	Fee           decimal.Decimal
	Status        DealStatus
	CreatedAt     time.Time
}

// CryptoAmount возвращает объём криптовалюты по курсу сделки.
func (d *Deal) CryptoAmount() decimal.Decimal {
	if d.Rate.IsZero() {
		return decimal.Zero
	}
	return d.Amount.DivRound(d.Rate, 8)
}

// DealLog описывает неизменяемую запись журнала действий по сделке.
type DealLog struct {
	ID         int64
	DealID     int64
	ActorID    int64
	ActorRole  Role
	Action     string
	FromStatus DealStatus
	ToStatus   DealStatus
	Reason     string
	Timestamp  time.Time
}

// DealFilter задаёт условия выборки сделок. Нулевые значения не фильтруют.
type DealFilter struct {
	UserID int64
	Status DealStatus
	Type   DealType
	Limit  int
}

// Match сообщает, подходит ли сделка под фильтр.
func (f DealFilter) Match(d *Deal) bool {
	if f.UserID != 0 && d.UserID != f.UserID {
		return false
	}
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if f.Type != "" && d.Type != f.Type {
		return false
	}
	return true
}
