package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"refnet.org/internal/member"
	"refnet.org/internal/plan"
	"refnet.org/internal/tree"
)

// captureNotifier records every delivered event; optionally failing to
// verify that delivery errors never surface into financial results.
type captureNotifier struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (c *captureNotifier) Notify(ctx context.Context, evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("delivery broken")
	}
	c.events = append(c.events, evt)
	return nil
}

func (c *captureNotifier) byType(eventType string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, evt := range c.events {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

type rig struct {
	store     *member.InMemory
	catalog   *plan.Catalog
	walker    *tree.Walker
	windows   *Windows
	settler   *Settler
	daily     *Daily
	lifecycle *Lifecycle
	events    *captureNotifier
}

func newRig(t *testing.T) *rig {
	t.Helper()
	store := member.NewInMemory()
	catalog := plan.NewCatalog(plan.StaticSource{Set: plan.Defaults()}, time.Minute)
	walker := tree.NewWalker(store)
	windows := NewWindows(store)
	events := &captureNotifier{}
	return &rig{
		store:     store,
		catalog:   catalog,
		walker:    walker,
		windows:   windows,
		settler:   NewSettler(store, walker, catalog, windows, events),
		daily:     NewDaily(store, catalog, events),
		lifecycle: NewLifecycle(store, catalog, events),
		events:    events,
	}
}

// seedActiveChain builds a sponsor chain of n members, all on planName with
// memberships activated at now. Returns ids root-first.
func (r *rig) seedActiveChain(t *testing.T, n int, planName string, now time.Time) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, n)
	sponsor := ""
	for i := 0; i < n; i++ {
		m, err := r.store.CreateMember(ctx, member.Member{
			Name:      fmt.Sprintf("chain-%d", i),
			SponsorID: sponsor,
			IsActive:  true,
		})
		if err != nil {
			t.Fatalf("create member %d: %v", i, err)
		}
		if _, err := r.lifecycle.Activate(ctx, m.ID, planName, now); err != nil {
			t.Fatalf("activate member %d: %v", i, err)
		}
		ids = append(ids, m.ID)
		sponsor = m.ID
	}
	return ids
}

func (r *rig) mustGet(t *testing.T, id string) member.Member {
	t.Helper()
	m, err := r.store.GetMember(context.Background(), id)
	if err != nil {
		t.Fatalf("GetMember %s: %v", id, err)
	}
	return m
}
