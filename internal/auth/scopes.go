package auth

// OAuth scopes understood by the stats service.
const (
	ScopeWorkoutsWrite = "workouts:write"
	ScopeWorkoutsRead  = "workouts:read"
	ScopeStatsAdmin    = "stats:admin"
)
