package memory

import (
	"context"
	"sync"

	domainchat "marketchat/internal/domain/chat"
)

type ProfileDirectory struct {
	mu       sync.RWMutex
	profiles map[string]domainchat.Profile
}

func NewProfileDirectory(profiles ...domainchat.Profile) *ProfileDirectory {
	d := &ProfileDirectory{profiles: make(map[string]domainchat.Profile, len(profiles))}
	for _, p := range profiles {
		d.profiles[p.UserID] = p
	}
	return d
}

func (d *ProfileDirectory) Put(p domainchat.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.UserID] = p
}

// Profiles returns the known profiles among ids; unknown ids are left out.
func (d *ProfileDirectory) Profiles(ctx context.Context, ids []string) (map[string]domainchat.Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]domainchat.Profile, len(ids))
	for _, id := range ids {
		if p, ok := d.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
