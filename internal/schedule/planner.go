package schedule

import (
	"fmt"
	"time"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
)

// PlanInitial lays out the full step-0 schedule for a campaign: round-robin
// rotation from the anchor, per-recipient jitter, then a per-calendar-day cap
// at the (possibly varied) daily target. Everything in the plan is a pure
// function of (campaign, recipients, accounts, anchor), which is what lets
// the reconciler run it repeatedly and get identical output.
func PlanInitial(campaign *models.Campaign, recipients []models.Recipient, accounts []models.SenderAccount, anchor time.Time) ([]Assignment, error) {
	p := campaign.Policy
	if err := ValidatePolicy(p); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, configErrorf("campaign %s has no active sender accounts", campaign.ID)
	}
	if len(recipients) == 0 {
		return []Assignment{}, nil
	}

	loc, _ := time.LoadLocation(p.Timezone)
	interval := EffectiveInterval(p)
	n := len(accounts)
	slot := interval / time.Duration(n)

	cursor, err := NextSendable(anchor, p)
	if err != nil {
		return nil, err
	}

	dayCount := map[string]int{}
	dayTarget := map[string]int{}

	out := make([]Assignment, 0, len(recipients))
	segmentStart := 0
	guard := 0
	for i := 0; i < len(recipients); {
		if guard++; guard > len(recipients)+7*366 {
			return nil, configErrorf("schedule layout for campaign %s did not converge", campaign.ID)
		}

		k := i - segmentStart
		offset := time.Duration(k/n)*interval + time.Duration(k%n)*slot
		at, err := NextSendable(cursor.Add(offset), p)
		if err != nil {
			return nil, err
		}

		scheduled, err := ApplyJitter(at, recipients[i].ID, p)
		if err != nil {
			return nil, err
		}

		// Cap accounting uses the jittered instant: the day the send actually
		// lands on is the day whose target it consumes.
		day := scheduled.In(loc).Format("2006-01-02")
		if _, ok := dayTarget[day]; !ok {
			dayTarget[day] = DailyTarget(campaign.ID, scheduled.In(loc), p)
		}
		if dayCount[day] >= dayTarget[day] {
			// Day is full: restart the interleave from the next sendable day.
			// A negative jitter offset can land before the unjittered instant,
			// so advance from whichever is later or the cursor would stall.
			next := scheduled
			if at.After(next) {
				next = at
			}
			cursor, err = NextSendable(startOfNextDay(next, loc), p)
			if err != nil {
				return nil, err
			}
			segmentStart = i
			continue
		}
		dayCount[day]++

		out = append(out, Assignment{
			Recipient:   recipients[i],
			AccountID:   accounts[i%n].ID,
			ScheduledAt: scheduled,
			InputIndex:  i,
		})
		i++
	}

	sortBySchedule(out)
	return out, nil
}

// followUpKey is the jitter identity of a follow-up: stable per recipient
// and step so each step draws its own deterministic offset.
func followUpKey(recipientID string, step int) string {
	return fmt.Sprintf("%s:%d", recipientID, step)
}
