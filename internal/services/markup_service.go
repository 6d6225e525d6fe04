package services

import (
	"math"
	"strings"
)

// Roles recognised by the pricing table
const (
	RoleAdmin      = "admin"
	RoleStaff      = "staff"
	RoleAgency     = "agency"
	RoleCorporate  = "corporate"
	RoleInfluencer = "influencer"
	RoleCustomer   = "customer"
)

// BackOfficeRoles may read and manage any booking
var BackOfficeRoles = []string{RoleAdmin, RoleStaff}

// rolePriority decides which role prices a caller holding several roles
var rolePriority = []string{RoleAdmin, RoleStaff, RoleAgency, RoleCorporate, RoleInfluencer}

// MarkupTier is one step of a tiered markup: applies when net < Below
type MarkupTier struct {
	Below      float64
	Percentage float64
}

// MarkupResult is the outcome of pricing a net amount for a role
type MarkupResult struct {
	Role       string  `json:"role"`
	Net        float64 `json:"net"`
	Percentage float64 `json:"percentage"`
	Gross      float64 `json:"gross"`
}

// MarkupEngine maps (role, net) to a markup percentage and gross price.
// It is pure and safe for concurrent use.
type MarkupEngine struct {
	flat     map[string]float64
	tiered   map[string][]MarkupTier
	tierTop  map[string]float64 // percentage when net is above every tier
	baseline float64
}

// NewMarkupEngine creates the engine with the standard pricing table.
// baseline applies to roles the table does not know.
func NewMarkupEngine(baseline float64) *MarkupEngine {
	return &MarkupEngine{
		flat: map[string]float64{
			RoleAdmin:      0,
			RoleAgency:     0.20,
			RoleCorporate:  0.10,
			RoleInfluencer: 0.05,
		},
		tiered: map[string][]MarkupTier{
			RoleStaff: {
				{Below: 100, Percentage: 0.50},
				{Below: 200, Percentage: 0.40},
			},
		},
		tierTop: map[string]float64{
			RoleStaff: 0.30,
		},
		baseline: baseline,
	}
}

// Percentage returns the markup fraction for the role and net amount
func (e *MarkupEngine) Percentage(role string, net float64) float64 {
	role = strings.ToLower(strings.TrimSpace(role))

	if pct, ok := e.flat[role]; ok {
		return pct
	}

	if tiers, ok := e.tiered[role]; ok {
		for _, tier := range tiers {
			if net < tier.Below {
				return tier.Percentage
			}
		}
		return e.tierTop[role]
	}

	return e.baseline
}

// Gross returns round2(net * (1 + pct))
func (e *MarkupEngine) Gross(role string, net float64) float64 {
	return Round2(net * (1 + e.Percentage(role, net)))
}

// Apply prices a net amount for a role
func (e *MarkupEngine) Apply(role string, net float64) MarkupResult {
	pct := e.Percentage(role, net)
	return MarkupResult{
		Role:       role,
		Net:        net,
		Percentage: pct,
		Gross:      Round2(net * (1 + pct)),
	}
}

// ResolveRole picks the pricing role from a caller's role list.
// Falls back to the first role, then to customer.
func ResolveRole(roles []string) string {
	normalized := make(map[string]bool, len(roles))
	for _, r := range roles {
		normalized[strings.ToLower(strings.TrimSpace(r))] = true
	}

	for _, r := range rolePriority {
		if normalized[r] {
			return r
		}
	}

	if len(roles) > 0 {
		return strings.ToLower(strings.TrimSpace(roles[0]))
	}
	return RoleCustomer
}

// Round2 rounds half away from zero to 2 decimals
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// AmountsMatch reports whether two amounts differ by no more than tolerance
func AmountsMatch(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance+1e-9
}
