package schedule

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
)

func TestPlanInitial_TenRecipientsThreeAccounts(t *testing.T) {
	campaign := testCampaign(weekdayPolicy())
	recipients := testRecipients(10)
	accounts := testAccounts(3)
	anchor := *campaign.StartedAt // Monday 09:00 UTC

	plan, err := PlanInitial(campaign, recipients, accounts, anchor)
	require.NoError(t, err)
	require.Len(t, plan, 10)

	assert.Equal(t, anchor, plan[0].ScheduledAt)
	assert.Equal(t, anchor.Add(100*time.Second), plan[1].ScheduledAt)
	assert.Equal(t, anchor.Add(200*time.Second), plan[2].ScheduledAt)
	assert.Equal(t, anchor.Add(5*time.Minute), plan[3].ScheduledAt)

	for i := 1; i < len(plan); i++ {
		assert.NotEqual(t, plan[i-1].AccountID, plan[i].AccountID)
	}
}

func TestPlanInitial_DailyCapRollsToNextDay(t *testing.T) {
	p := weekdayPolicy()
	p.TargetPerDay = 4
	campaign := testCampaign(p)
	recipients := testRecipients(10)
	accounts := testAccounts(3)
	anchor := *campaign.StartedAt

	plan, err := PlanInitial(campaign, recipients, accounts, anchor)
	require.NoError(t, err)
	require.Len(t, plan, 10)

	perDay := map[string]int{}
	for _, a := range plan {
		perDay[a.ScheduledAt.Format("2006-01-02")]++
		ok, err := IsSendable(a.ScheduledAt, p)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 4, perDay["2024-01-01"])
	assert.Equal(t, 4, perDay["2024-01-02"])
	assert.Equal(t, 2, perDay["2024-01-03"])

	// Each new day restarts the interleave from the window open.
	assert.Equal(t, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), plan[4].ScheduledAt)
	assert.Equal(t, time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC), plan[8].ScheduledAt)
}

func TestPlanInitial_Deterministic(t *testing.T) {
	p := weekdayPolicy()
	p.JitterEnabled = true
	p.JitterMinutes = 3
	p.DailyVariation = true
	campaign := testCampaign(p)
	recipients := testRecipients(25)
	accounts := testAccounts(3)
	anchor := *campaign.StartedAt

	first, err := PlanInitial(campaign, recipients, accounts, anchor)
	require.NoError(t, err)
	second, err := PlanInitial(campaign, recipients, accounts, anchor)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Recipient.ID, second[i].Recipient.ID)
		assert.Equal(t, first[i].AccountID, second[i].AccountID)
		assert.True(t, first[i].ScheduledAt.Equal(second[i].ScheduledAt),
			"recipient %s drifted between runs: %s vs %s",
			first[i].Recipient.ID, first[i].ScheduledAt, second[i].ScheduledAt)
	}
}

func TestPlanInitial_JitteredInstantsStaySendable(t *testing.T) {
	p := weekdayPolicy()
	p.JitterEnabled = true
	p.JitterMinutes = 10
	campaign := testCampaign(p)
	recipients := testRecipients(40)
	accounts := testAccounts(2)

	plan, err := PlanInitial(campaign, recipients, accounts, *campaign.StartedAt)
	require.NoError(t, err)
	for _, a := range plan {
		ok, err := IsSendable(a.ScheduledAt, p)
		require.NoError(t, err)
		assert.True(t, ok, "recipient %s scheduled outside the window at %s", a.Recipient.ID, a.ScheduledAt)
	}
}

func TestPlanInitial_JitterAcrossMidnightChargesLandingDay(t *testing.T) {
	// Anchor near midnight with a wide jitter so many sends land on the
	// following calendar day. The cap has to follow the send to the day it
	// actually lands on, not the day the rotation first placed it.
	p := models.SendingPolicy{
		Timezone:           "UTC",
		ActiveWeekdays:     pq.Int64Array{0, 1, 2, 3, 4, 5, 6},
		HourStart:          0,
		HourEnd:            24,
		TargetPerDay:       3,
		MinIntervalMinutes: 5,
		JitterEnabled:      true,
		JitterMinutes:      120,
	}
	campaign := testCampaign(p)
	started := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	campaign.StartedAt = &started

	plan, err := PlanInitial(campaign, testRecipients(12), testAccounts(1), started)
	require.NoError(t, err)
	require.Len(t, plan, 12)

	perDay := map[string]int{}
	for _, a := range plan {
		perDay[a.ScheduledAt.UTC().Format("2006-01-02")]++
	}
	for day, n := range perDay {
		assert.LessOrEqual(t, n, 3, "day %s exceeds the daily target", day)
	}
}

func TestPlanInitial_EmptyRecipients(t *testing.T) {
	campaign := testCampaign(weekdayPolicy())
	plan, err := PlanInitial(campaign, nil, testAccounts(2), *campaign.StartedAt)
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestPlanInitial_NoAccounts(t *testing.T) {
	campaign := testCampaign(weekdayPolicy())
	_, err := PlanInitial(campaign, testRecipients(3), nil, *campaign.StartedAt)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}
