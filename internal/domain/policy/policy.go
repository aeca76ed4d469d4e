// Пакет policy — права ролей, тарификация с учётом роли и фильтрация
// видимых вмешательств. Чистые функции без состояния.
package policy

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/domain/pricing"
)

// ErrInvalidSIREN — SIREN не состоит ровно из 9 цифр.
var ErrInvalidSIREN = errors.New("SIREN должен состоять ровно из 9 цифр")

// Capabilities — набор прав роли.
type Capabilities struct {
	// ViewAllData — видеть вмешательства всех пользователей
	ViewAllData bool
	// ViewInvoices — видеть суммы и получать тарификацию
	ViewInvoices bool
	// ManageUsers — управлять профилями
	ManageUsers bool
}

// accessPolicy — ровно одна запись на роль.
var accessPolicy = map[model.Role]Capabilities{
	model.RoleAdmin:            {ViewAllData: true, ViewInvoices: true, ManageUsers: true},
	model.RoleAutoEntrepreneur: {ViewInvoices: true},
	model.RoleEmployee:         {},
}

var validate = validator.New()

// CapabilitiesOf возвращает права роли. Для неизвестной роли все права false.
func CapabilitiesOf(role model.Role) Capabilities {
	return accessPolicy[role]
}

// PriceOf возвращает цену вмешательства для роли.
// Роли без ViewInvoices (employee и неизвестные) всегда получают 0:
// роль, не распознанная системой, не видит тарифов вовсе, и это намеренно.
// Пара, отсутствующая в сетке, стоит 0.
func PriceOf(p model.Provider, st model.ServiceType, role model.Role) decimal.Decimal {
	if !CapabilitiesOf(role).ViewInvoices {
		return decimal.Zero
	}
	price, _ := pricing.Lookup(p, st)
	return price
}

// VisibleInterventions возвращает вмешательства, доступные пользователю.
// При ViewAllData возвращаются все (или только targetUserID, если задан),
// иначе только собственные записи пользователя.
func VisibleInterventions(all []model.Intervention, user model.User, targetUserID string) []model.Intervention {
	owner := user.ID
	if CapabilitiesOf(user.Role).ViewAllData {
		if targetUserID == "" {
			return all
		}
		owner = targetUserID
	}

	result := make([]model.Intervention, 0, len(all))
	for _, i := range all {
		if i.UserID == owner {
			result = append(result, i)
		}
	}
	return result
}

// IsAllowed проверяет, входит ли роль в набор.
func IsAllowed(role model.Role, roles ...model.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// ValidateSIREN проверяет формат SIREN. Пустая строка допустима (поле очищается).
func ValidateSIREN(siren string) error {
	if siren == "" {
		return nil
	}
	if err := validate.Var(siren, "len=9,number"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidSIREN, siren)
	}
	return nil
}
