package database

import (
	"fmt"

	"roombox-service/config"
	"roombox-service/model"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"
)

// defaultPolicies grant each role the routes it may call. Ownership of the
// individual booking or channel is checked by the service layer.
var defaultPolicies = [][]string{
	{model.RoleTenant, "/v1/chat/*", "(GET)|(POST)|(PATCH)"},
	{model.RoleLandlord, "/v1/chat/*", "(GET)|(POST)|(PATCH)"},
	{model.RoleTenant, "/v1/bookings/request", "POST"},
	{model.RoleTenant, "/v1/bookings/:id/payment/initiate", "POST"},
	{model.RoleTenant, "/v1/bookings/payments/:token/status", "GET"},
	{model.RoleLandlord, "/v1/bookings/payments/:token/status", "GET"},
	{model.RoleLandlord, "/v1/bookings/:id/approve", "PATCH"},
	{model.RoleLandlord, "/v1/bookings/:id/reject", "PATCH"},
	{model.RoleTenant, "/v1/bookings/mine", "GET"},
	{model.RoleLandlord, "/v1/bookings/mine", "GET"},
	{model.RoleTenant, "/v1/bookings/:id", "GET"},
	{model.RoleLandlord, "/v1/bookings/:id", "GET"},
	{model.RoleTenant, "/v1/bookings/:id/payments", "GET"},
	{model.RoleLandlord, "/v1/bookings/:id/payments", "GET"},
	{model.RoleAdmin, "/v1/*", "(GET)|(POST)|(PUT)|(PATCH)|(DELETE)"},
}

// Casbin builds the enforcer once, backed by the given database. Subjects are
// user ids grouped into their role.
func Casbin(db *gorm.DB) (*casbin.Enforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, fmt.Errorf("initialize casbin adapter: %w", err)
	}

	var m casbinmodel.Model
	if path := config.Config("CASBIN_MODEL"); path != "" {
		m, err = casbinmodel.NewModelFromFile(path)
	} else {
		m, err = casbinmodel.NewModelFromString(config.RBACModel)
	}
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}

	e, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	if err := e.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("load casbin policy: %w", err)
	}

	for _, p := range defaultPolicies {
		if ok, _ := e.HasPolicy(p[0], p[1], p[2]); !ok {
			if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
				return nil, fmt.Errorf("add casbin policy %v: %w", p, err)
			}
		}
	}

	return e, nil
}

// AssignRole groups a user id under its role. Repeating it is harmless.
func AssignRole(e *casbin.Enforcer, userID uint, role string) error {
	if _, err := e.AddGroupingPolicy(fmt.Sprint(userID), role); err != nil {
		return fmt.Errorf("assign role %s to user %d: %w", role, userID, err)
	}
	return nil
}
