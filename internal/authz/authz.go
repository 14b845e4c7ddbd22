// Package authz решает, может ли роль выполнить действие на платформе.
package authz

import "github.com/mmeshcher/escrowdesk/internal/model"

// Decision — результат проверки доступа.
type Decision int

const (
	Deny Decision = iota
	Allow
)

// String возвращает "allow" или "deny".
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Action — действие, требующее проверки роли.
type Action string

const (
	ActionCreateDeal     Action = "deal/create"
	ActionViewOwnDeals   Action = "deal/view-own"
	ActionViewAllDeals   Action = "deal/view-all"
	ActionReviewDeal     Action = "deal/review"
	ActionSettleDeal     Action = "deal/settle"
	ActionAnnotateDeal   Action = "deal/annotate"
	ActionQuoteFee       Action = "fee/quote"
	ActionViewPrices     Action = "prices/view"
	ActionViewFeeConfig  Action = "config/view"
	ActionEditFeeConfig  Action = "config/edit"
	ActionListUsers      Action = "user/list"
	ActionSetUserRole    Action = "user/set-role"
	ActionClaimOwnership Action = "user/claim-ownership"
)

var (
	members = []model.Role{model.RoleUser, model.RoleAdmin, model.RoleOwner}
	staff   = []model.Role{model.RoleAdmin, model.RoleOwner}
	owner   = []model.Role{model.RoleOwner}
)

// policy — таблица разрешений. Роль banned не встречается нигде.
// Для ActionClaimOwnership единственность владельца проверяет хранилище.
var policy = map[Action][]model.Role{
	ActionCreateDeal:     members,
	ActionViewOwnDeals:   members,
	ActionQuoteFee:       members,
	ActionViewPrices:     members,
	ActionViewAllDeals:   staff,
	ActionReviewDeal:     staff,
	ActionSettleDeal:     staff,
	ActionAnnotateDeal:   staff,
	ActionViewFeeConfig:  staff,
	ActionListUsers:      staff,
	ActionEditFeeConfig:  owner,
	ActionSetUserRole:    owner,
	ActionClaimOwnership: members,
}

// Authorize проверяет, разрешено ли роли действие.
// Неизвестные роли и действия запрещены.
func Authorize(role model.Role, action Action) Decision {
	for _, r := range policy[action] {
		if r == role {
			return Allow
		}
	}
	return Deny
}

// Allowed сообщает, разрешено ли действие роли.
func Allowed(role model.Role, action Action) bool {
	return Authorize(role, action) == Allow
}
