package schedule

import "sync"

// CampaignLocks serializes core operations per campaign. Reconciliation,
// follow-up creation and outcome handling all read-modify-write the same
// task set; interleaving them within one campaign is exactly how duplicate
// and orphaned tasks get produced. Different campaigns proceed in parallel.
type CampaignLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCampaignLocks() *CampaignLocks {
	return &CampaignLocks{locks: map[string]*sync.Mutex{}}
}

// Lock acquires the campaign's mutex and returns the unlock func.
func (c *CampaignLocks) Lock(campaignID string) func() {
	c.mu.Lock()
	l, ok := c.locks[campaignID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[campaignID] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}
