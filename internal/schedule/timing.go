package schedule

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
)

// seedFor hashes a stable identifier into a PRNG seed. Randomness derived
// from identifiers instead of wall clock is what makes re-running the
// scheduler reproducible.
func seedFor(id string) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return int64(h.Sum64())
}

// JitterOffset draws the recipient's jitter: Gaussian, mean 0, standard
// deviation JitterMinutes. The same recipient always gets the same offset.
func JitterOffset(recipientKey string, p models.SendingPolicy) time.Duration {
	if !p.JitterEnabled || p.JitterMinutes == 0 {
		return 0
	}
	rng := rand.New(rand.NewSource(seedFor(recipientKey)))
	minutes := rng.NormFloat64() * float64(p.JitterMinutes)
	return time.Duration(minutes * float64(time.Minute))
}

// ApplyJitter perturbs an instant by the recipient's jitter and repairs any
// window violation the offset introduced.
func ApplyJitter(t time.Time, recipientKey string, p models.SendingPolicy) (time.Time, error) {
	offset := JitterOffset(recipientKey, p)
	if offset == 0 {
		return t, nil
	}
	return NextSendable(t.Add(offset), p)
}

func dayOfWeekBias(d time.Weekday) float64 {
	switch d {
	case time.Monday:
		return 1.1
	case time.Friday:
		return 0.9
	default:
		return 1.0
	}
}

// DailyTarget scales the configured daily send target for one calendar day.
// The factor is seeded by (campaign, day), so every recipient landing on a
// given day shares the same effective cap, and laying the schedule out twice
// produces the same caps.
func DailyTarget(campaignID string, day time.Time, p models.SendingPolicy) int {
	base := p.TargetPerDay
	if base < 1 {
		base = 1
	}
	if !p.DailyVariation {
		return base
	}

	rng := rand.New(rand.NewSource(seedFor(campaignID + ":" + day.Format("2006-01-02"))))
	factor := (rng.NormFloat64()*0.2 + 1.0) * dayOfWeekBias(day.Weekday())

	lower := 10.0 / float64(base)
	if lower > 1.0 {
		lower = 1.0
	}
	factor = math.Max(lower, math.Min(1.5, factor))

	target := int(math.Round(float64(base) * factor))
	if target < 1 {
		target = 1
	}
	return target
}
