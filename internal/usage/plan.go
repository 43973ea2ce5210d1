package usage

// Plan names
const (
	PlanFree      = "free"
	PlanPro       = "pro"
	PlanUnlimited = "unlimited"
)

// planLimits maps a plan to its monthly extraction quota; nil means no limit
var planLimits = map[string]*int{
	PlanFree:      intPtr(10),
	PlanPro:       intPtr(100),
	PlanUnlimited: nil,
}

// KnownPlan reports whether plan is in the plan table
func KnownPlan(plan string) bool {
	_, ok := planLimits[plan]
	return ok
}

// LimitFor returns the monthly limit for plan and the plan it resolved to.
// Unknown plans are treated as free.
func LimitFor(plan string) (*int, string) {
	limit, ok := planLimits[plan]
	if !ok {
		plan = PlanFree
		limit = planLimits[PlanFree]
	}
	if limit == nil {
		return nil, plan
	}
	return intPtr(*limit), plan
}

func intPtr(v int) *int {
	return &v
}
