package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRegistrations(t *testing.T, ctx context.Context, db *DB) {
	t.Helper()
	rows := []struct {
		email    string
		source   string
		verified bool
	}{
		{"a1@alpha.com", "landing_page", true},
		{"a2@alpha.com", "landing_page", false},
		{"a3@alpha.com", "blog", true},
		{"b1@beta.org", "referral", false},
	}
	for _, r := range rows {
		_, err := db.Exec(ctx,
			`INSERT INTO registrations (email, source, is_verified) VALUES ($1, $2, $3)`,
			r.email, r.source, r.verified)
		require.NoError(t, err)
	}
}

func TestStatsRepository_Overview(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewStatsRepository(db)
	seedRegistrations(t, ctx, db)

	_, err := db.Exec(ctx, `UPDATE registrations SET unsubscribed_at = NOW() WHERE email = 'b1@beta.org'`)
	require.NoError(t, err)

	counts, err := repo.RegistrationCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.Total)
	assert.Equal(t, int64(2), counts.Verified)
	assert.Equal(t, int64(3), counts.Today)
	assert.Equal(t, 67, counts.VerificationRate())

	sources, err := repo.SourceBreakdown(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "landing_page", sources[0].Source)
	assert.Equal(t, int64(2), sources[0].Count)
	assert.InDelta(t, 66.7, sources[0].Percentage, 0.001)
	assert.InDelta(t, 33.3, sources[1].Percentage, 0.001)

	domains, err := repo.TopDomains(ctx, 10)
	require.NoError(t, err)
	require.Len(t, domains, 1)
	assert.Equal(t, DomainCount{Domain: "alpha.com", Count: 3}, domains[0])
}

func TestStatsRepository_EmptyDatabase(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewStatsRepository(db)

	counts, err := repo.RegistrationCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.VerificationRate())

	weekly, err := repo.WeeklyRegistrations(ctx)
	require.NoError(t, err)
	assert.NotNil(t, weekly)
	assert.Empty(t, weekly)

	rate, err := repo.CurrentGrowthRate(ctx)
	require.NoError(t, err)
	assert.Zero(t, rate)
}

func TestStatsRepository_WeeklyAndMonthly(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewStatsRepository(db)

	now := time.Now().UTC()
	for i := 0; i < 12; i++ {
		email := fmt.Sprintf("w%d@example.com", i)
		_, err := db.Exec(ctx, `INSERT INTO registrations (email) VALUES ($1)`, email)
		require.NoError(t, err)
		backdateRegistration(t, ctx, db, email, now.AddDate(0, 0, -7*i))
	}

	weekly, err := repo.WeeklyRegistrations(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(weekly), 8)
	for i := 1; i < len(weekly); i++ {
		assert.True(t, weekly[i-1].Period.After(weekly[i].Period), "weekly counts are newest first")
	}

	monthly, err := repo.MonthlyGrowth(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, monthly)
	assert.Equal(t, int64(12), monthly[0].Cumulative)

	var sum int64
	for _, m := range monthly {
		sum += m.New
	}
	assert.Equal(t, int64(12), sum)

	daily, err := repo.DailyRegistrations(ctx, 30)
	require.NoError(t, err)
	assert.NotEmpty(t, daily)
}

func TestGrowthRate(t *testing.T) {
	assert.Equal(t, 0.0, growthRate(5, 0))
	assert.Equal(t, 50.0, growthRate(15, 10))
	assert.Equal(t, -33.3, growthRate(2, 3))
}

func TestStatsRepository_SystemQueries(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewStatsRepository(db)

	size, err := repo.DatabaseSize(ctx)
	require.NoError(t, err)
	assert.Positive(t, size.Bytes)
	assert.NotEmpty(t, size.Pretty)

	_, err = repo.ActiveConnections(ctx)
	require.NoError(t, err)

	tables, err := repo.TableStats(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(tables))
	for _, tbl := range tables {
		names = append(names, tbl.Table)
	}
	assert.Contains(t, names, "registrations")
	assert.Contains(t, names, "stats")

	version, err := repo.ServerVersion(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, version)
}

func TestStatsRepository_RecentStatsAndTotals(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewStatsRepository(db)

	today := time.Now().UTC()
	db.IncrementStat(ctx, "page_views", 4)
	db.IncrementStat(ctx, "signup_success", 1)
	db.IncrementStatOn(ctx, "page_views", 2, today.AddDate(0, 0, -1))
	db.IncrementStatOn(ctx, "page_views", 9, today.AddDate(0, 0, -20))

	recent, err := repo.RecentStats(ctx, 7)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(4), recent[0].Metrics["page_views"])
	assert.Equal(t, int64(1), recent[0].Metrics["signup_success"])
	assert.Equal(t, int64(2), recent[1].Metrics["page_views"])

	totals, err := repo.StatTotalsSince(ctx, today.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Equal(t, int64(6), totals["page_views"])
	assert.Equal(t, int64(1), totals["signup_success"])

	snap, err := repo.RegistrationSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), snap.Events["page_views"])
}
