package stats

import (
	"cmp"
	"slices"
	"time"
)

// WeekLength is the number of calendar days, today included, counted by WeeklyWorkoutCount.
const WeekLength = 7

// WeeklyWorkoutCount sums workouts completed from six days before now through today.
func WeeklyWorkoutCount(l Ledger, now time.Time) int {
	today := DateOf(now)
	from := today.AddDays(-(WeekLength - 1))

	total := 0
	for _, entry := range l.DailyEntries {
		if entry.Date.Before(from) || today.Before(entry.Date) {
			continue
		}
		total += entry.WorkoutsCompleted
	}
	return total
}

// RecentDailyStats returns entries dated on or after now minus days, oldest first.
// The result is a new slice; the ledger is left untouched.
func RecentDailyStats(l Ledger, now time.Time, days int) []DailyStat {
	if days < 0 {
		days = 0
	}
	cutoff := DateOf(now).AddDays(-days)

	out := make([]DailyStat, 0, len(l.DailyEntries))
	for _, entry := range l.DailyEntries {
		if entry.Date.Before(cutoff) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// CurrentStreak counts consecutive workout days ending today, or yesterday
// when today has no workout yet. Any older gap resets the streak to zero.
func CurrentStreak(l Ledger, now time.Time) int {
	today := DateOf(now)

	anchor := today
	if !l.workedOut(anchor) {
		anchor = today.AddDays(-1)
		if !l.workedOut(anchor) {
			return 0
		}
	}

	streak := 0
	for day := anchor; l.workedOut(day); day = day.AddDays(-1) {
		streak++
	}
	return streak
}

// LongestStreak is the longest run of consecutive workout days anywhere in the ledger.
func LongestStreak(l Ledger) int {
	longest, run := 0, 0
	var prev Date
	for _, entry := range l.DailyEntries {
		if entry.WorkoutsCompleted < 1 {
			run, prev = 0, ""
			continue
		}
		if prev != "" && prev.AddDays(1) == entry.Date {
			run++
		} else {
			run = 1
		}
		prev = entry.Date
		if run > longest {
			longest = run
		}
	}
	return longest
}

func (l Ledger) workedOut(date Date) bool {
	entry, ok := l.Day(date)
	return ok && entry.WorkoutsCompleted >= 1
}

// Summary bundles the figures shown on the dashboard.
type Summary struct {
	Lifetime        Lifetime    `json:"lifetime"`
	WeeklyWorkouts  int         `json:"weekly_workouts"`
	CurrentStreak   int         `json:"current_streak"`
	LongestStreak   int         `json:"longest_streak"`
	LastWorkoutDate *Date       `json:"last_workout_date,omitempty"`
	Daily           []DailyStat `json:"daily_stats"`
}

// Summarize derives every dashboard figure for the reference instant.
func Summarize(l Ledger, now time.Time, days int) Summary {
	return Summary{
		Lifetime:        l.Lifetime,
		WeeklyWorkouts:  WeeklyWorkoutCount(l, now),
		CurrentStreak:   CurrentStreak(l, now),
		LongestStreak:   LongestStreak(l),
		LastWorkoutDate: l.LastWorkoutDate,
		Daily:           RecentDailyStats(l, now, days),
	}
}

// ExerciseCount is how often one exercise appears across a user's completions.
type ExerciseCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// FavoriteExercises ranks exercises by frequency, most frequent first, ties by
// name. At most limit entries are returned.
func FavoriteExercises(counts map[string]int, limit int) []ExerciseCount {
	ranked := make([]ExerciseCount, 0, len(counts))
	for name, n := range counts {
		if name == "" || n <= 0 {
			continue
		}
		ranked = append(ranked, ExerciseCount{Name: name, Count: n})
	}
	slices.SortFunc(ranked, func(a, b ExerciseCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if limit >= 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
