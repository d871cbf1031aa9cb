package domain

import "fmt"

// Role is the closed set of actor roles. Unknown roles are a modeling
// error surfaced at parse time, not a runtime branch.
type Role int

const (
	RoleWaiter Role = iota
	RoleChef
	RoleCashier
	RoleAdmin
)

// Capability is one permission bit held by a role.
type Capability uint16

const (
	CapClaimTables Capability = 1 << iota
	CapEditOrders
	CapRouteOrders
	CapCompleteTickets
	CapSettlePayments
	CapForceClosure
	CapManageShifts
)

var roleCaps = map[Role]Capability{
	RoleWaiter:  CapClaimTables | CapEditOrders | CapRouteOrders,
	RoleChef:    CapCompleteTickets,
	RoleCashier: CapSettlePayments | CapForceClosure | CapManageShifts,
	RoleAdmin: CapClaimTables | CapEditOrders | CapRouteOrders |
		CapCompleteTickets | CapSettlePayments | CapForceClosure | CapManageShifts,
}

// Can reports whether the role holds the capability.
func (r Role) Can(c Capability) bool { return roleCaps[r]&c == c }

func (r Role) String() string {
	switch r {
	case RoleWaiter:
		return "waiter"
	case RoleChef:
		return "chef"
	case RoleCashier:
		return "cashier"
	case RoleAdmin:
		return "admin"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole maps a wire string onto the closed role set.
func ParseRole(s string) (Role, error) {
	switch s {
	case "waiter":
		return RoleWaiter, nil
	case "chef":
		return RoleChef, nil
	case "cashier":
		return RoleCashier, nil
	case "admin":
		return RoleAdmin, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// MarshalText implements encoding.TextMarshaler so roles serialize as their
// wire strings inside JSON payloads.
func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
