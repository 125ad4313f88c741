package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var refNow = time.Date(2024, time.June, 10, 15, 30, 0, 0, time.UTC)

func ledgerWithDays(t *testing.T, dates ...Date) Ledger {
	t.Helper()
	ledger := NewLedger("user-1")
	for _, date := range dates {
		ledger = record(t, ledger, date, 20, nil)
	}
	return ledger
}

func TestCurrentStreak(t *testing.T) {
	d := DateOf(refNow)

	cases := []struct {
		name  string
		dates []Date
		want  int
	}{
		{name: "empty ledger", want: 0},
		{name: "only today", dates: []Date{d}, want: 1},
		{name: "four consecutive days", dates: []Date{d.AddDays(-3), d.AddDays(-2), d.AddDays(-1), d}, want: 4},
		{name: "gap two days back", dates: []Date{d.AddDays(-3), d.AddDays(-1), d}, want: 2},
		{name: "grace day", dates: []Date{d.AddDays(-2), d.AddDays(-1)}, want: 2},
		{name: "last workout two days ago", dates: []Date{d.AddDays(-3), d.AddDays(-2)}, want: 0},
		{name: "future entries ignored", dates: []Date{d.AddDays(2)}, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ledger := ledgerWithDays(t, tc.dates...)
			require.Equal(t, tc.want, CurrentStreak(ledger, refNow))
		})
	}
}

func TestCurrentStreakUsesCalendarDaysAcrossMidnight(t *testing.T) {
	ledger := ledgerWithDays(t, "2024-06-09")

	lateEvening := time.Date(2024, time.June, 10, 23, 59, 0, 0, time.UTC)
	require.Equal(t, 1, CurrentStreak(ledger, lateEvening))

	nextMorning := time.Date(2024, time.June, 11, 0, 1, 0, 0, time.UTC)
	require.Equal(t, 0, CurrentStreak(ledger, nextMorning))
}

func TestWeeklyWorkoutCount(t *testing.T) {
	d := DateOf(refNow)
	ledger := ledgerWithDays(t,
		d.AddDays(-7), // outside the window
		d.AddDays(-6),
		d.AddDays(-6),
		d.AddDays(-2),
		d,
		d.AddDays(1), // future
	)

	require.Equal(t, 4, WeeklyWorkoutCount(ledger, refNow))
	require.Equal(t, 0, WeeklyWorkoutCount(NewLedger("user-1"), refNow))
}

func TestRecentDailyStatsWindow(t *testing.T) {
	d := DateOf(refNow)
	ledger := ledgerWithDays(t, d.AddDays(-30), d.AddDays(-8), d.AddDays(-7), d.AddDays(-3), d)

	recent := RecentDailyStats(ledger, refNow, 7)
	require.Len(t, recent, 3)
	require.Equal(t, d.AddDays(-7), recent[0].Date)
	require.Equal(t, d, recent[2].Date)

	cutoff := d.AddDays(-7)
	for _, entry := range recent {
		require.False(t, entry.Date.Before(cutoff))
	}
	for _, entry := range ledger.DailyEntries {
		if !entry.Date.Before(cutoff) {
			require.Contains(t, recent, entry)
		}
	}
}

func TestRecentDailyStatsReturnsCopy(t *testing.T) {
	ledger := ledgerWithDays(t, DateOf(refNow))

	first := RecentDailyStats(ledger, refNow, 7)
	first[0].WorkoutsCompleted = 99

	second := RecentDailyStats(ledger, refNow, 7)
	require.Equal(t, 1, second[0].WorkoutsCompleted)
	require.Equal(t, 1, ledger.DailyEntries[0].WorkoutsCompleted)
}

func TestDerivedViewsAreRepeatable(t *testing.T) {
	d := DateOf(refNow)
	ledger := ledgerWithDays(t, d.AddDays(-4), d.AddDays(-1), d)

	require.Equal(t, WeeklyWorkoutCount(ledger, refNow), WeeklyWorkoutCount(ledger, refNow))
	require.Equal(t, CurrentStreak(ledger, refNow), CurrentStreak(ledger, refNow))
	require.Equal(t, Summarize(ledger, refNow, 7), Summarize(ledger, refNow, 7))
}

func TestLongestStreak(t *testing.T) {
	ledger := ledgerWithDays(t, "2024-05-01", "2024-05-02", "2024-05-03", "2024-05-10", "2024-05-11")
	require.Equal(t, 3, LongestStreak(ledger))
	require.Equal(t, 0, LongestStreak(NewLedger("user-1")))
}

func TestSummarize(t *testing.T) {
	d := DateOf(refNow)
	ledger := ledgerWithDays(t, d.AddDays(-1), d)

	summary := Summarize(ledger, refNow, 7)
	require.Equal(t, 2, summary.WeeklyWorkouts)
	require.Equal(t, 2, summary.CurrentStreak)
	require.Equal(t, 2, summary.LongestStreak)
	require.Equal(t, 2, summary.Lifetime.TotalWorkouts)
	require.Len(t, summary.Daily, 2)
	require.Equal(t, d, *summary.LastWorkoutDate)
}

func TestFavoriteExercisesRanksByFrequency(t *testing.T) {
	counts := map[string]int{"Squat": 4, "Bench": 2, "Row": 4, "Plank": 1, "": 9}

	require.Equal(t, []ExerciseCount{
		{Name: "Row", Count: 4},
		{Name: "Squat", Count: 4},
		{Name: "Bench", Count: 2},
	}, FavoriteExercises(counts, 3))
	require.Len(t, FavoriteExercises(counts, 10), 4)
	require.Empty(t, FavoriteExercises(nil, 3))
}
