package schedule

import (
	"math"
	"sort"
	"time"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
)

// Assignment pairs a recipient with a sender account and a send instant.
type Assignment struct {
	Recipient   models.Recipient
	AccountID   string
	ScheduledAt time.Time
	// InputIndex is the recipient's position in provider order; ties in
	// ScheduledAt are broken by it, never by account identity.
	InputIndex int
}

// EffectiveInterval derives the spacing between two sends from the same
// account: the configured minimum, widened to honor an hourly cap when one
// is set.
func EffectiveInterval(p models.SendingPolicy) time.Duration {
	interval := p.MinInterval()
	if p.MaxPerHour > 0 {
		capInterval := time.Duration(math.Ceil(60.0/float64(p.MaxPerHour))) * time.Minute
		if capInterval > interval {
			interval = capInterval
		}
	}
	return interval
}

// AssignBase produces one step-0 assignment per recipient, round-robin over
// accounts. The i-th recipient gets accounts[i mod n]; its offset from the
// anchor interleaves accounts so nothing ever sends back-to-back from the
// same account and same-account sends sit exactly one effective interval
// apart. Every instant is window-corrected afterwards.
func AssignBase(recipients []models.Recipient, accounts []models.SenderAccount, p models.SendingPolicy, anchor time.Time) ([]Assignment, error) {
	if err := ValidatePolicy(p); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, configErrorf("no sender accounts to rotate over")
	}

	interval := EffectiveInterval(p)
	n := len(accounts)
	slot := interval / time.Duration(n)

	start, err := NextSendable(anchor, p)
	if err != nil {
		return nil, err
	}

	out := make([]Assignment, 0, len(recipients))
	for i, r := range recipients {
		offset := time.Duration(i/n)*interval + time.Duration(i%n)*slot
		at, err := NextSendable(start.Add(offset), p)
		if err != nil {
			return nil, err
		}
		out = append(out, Assignment{
			Recipient:   r,
			AccountID:   accounts[i%n].ID,
			ScheduledAt: at,
			InputIndex:  i,
		})
	}

	sortBySchedule(out)
	return out, nil
}

// sortBySchedule orders assignments by instant; the stable sort keeps
// recipient input order on ties, so window correction collapsing offsets
// never systematically favors one account.
func sortBySchedule(as []Assignment) {
	sort.SliceStable(as, func(i, j int) bool {
		return as[i].ScheduledAt.Before(as[j].ScheduledAt)
	})
}
