package service

import (
	"sync"

	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/boddenberg/campus-market-api/internal/infra/observability"
)

// maxSeenPerUser bounds the per-user memory of applied notification states.
const maxSeenPerUser = 512

// seenState is the last read state the hub applied for a notification.
// local marks an optimistic write whose realtime echo has not arrived yet.
type seenState struct {
	read     bool
	category domain.BadgeCategory
	local    bool
}

type badgeState struct {
	counts domain.BadgeCounts
	loaded bool
	seen   map[string]seenState
	order  []string // ids of seen, oldest first
	subs   map[uint64]chan domain.BadgeCounts
}

// BadgeHub holds live badge counts for users with an open stream and fans
// updates out to their subscribers. Only subscribed users are tracked.
type BadgeHub struct {
	mu      sync.Mutex
	users   map[string]*badgeState
	nextID  uint64
	metrics *observability.Metrics
}

// NewBadgeHub creates an empty hub.
func NewBadgeHub(metrics *observability.Metrics) *BadgeHub {
	return &BadgeHub{
		users:   make(map[string]*badgeState),
		metrics: metrics,
	}
}

// Subscribe registers a stream for userID. The channel holds at most one
// pending value; a newer value replaces an unread older one. If counts are
// already loaded they are delivered immediately.
func (h *BadgeHub) Subscribe(userID string) (<-chan domain.BadgeCounts, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.users[userID]
	if !ok {
		st = &badgeState{
			seen: make(map[string]seenState),
			subs: make(map[uint64]chan domain.BadgeCounts),
		}
		h.users[userID] = st
	}
	h.nextID++
	id := h.nextID
	ch := make(chan domain.BadgeCounts, 1)
	st.subs[id] = ch
	if st.loaded {
		ch <- st.counts
	}
	h.reportSubscribers()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if st, ok := h.users[userID]; ok {
				delete(st.subs, id)
				if len(st.subs) == 0 {
					delete(h.users, userID)
				}
			}
			h.reportSubscribers()
		})
	}
	return ch, cancel
}

// Publish stores authoritative counts and pushes them to subscribers.
// Applied states are kept, so echoes of earlier local writes still count
// once. A change that the fetch already included but that is delivered
// after Publish is applied again; the next reconcile corrects it.
func (h *BadgeHub) Publish(userID string, counts domain.BadgeCounts) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.users[userID]
	if !ok {
		return
	}
	st.counts = counts.Normalize()
	st.loaded = true
	st.broadcast()
}

// Prime loads counts for a subscribed user whose counts are not loaded yet
// and delivers them. Loaded state is left alone since it may be newer.
func (h *BadgeHub) Prime(userID string, counts domain.BadgeCounts) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.users[userID]
	if !ok || st.loaded {
		return
	}
	st.counts = counts.Normalize()
	st.loaded = true
	st.broadcast()
}

// Transition applies a single notification read-state change. prevRead is
// ignored when the hub already applied a state for notifID, so the realtime
// echo of a local write is counted once.
func (h *BadgeHub) Transition(userID, notifID string, t domain.NotificationType, prevRead, nextRead bool) (domain.BadgeCounts, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.users[userID]
	if !ok || !st.loaded {
		return domain.BadgeCounts{}, false
	}
	st.transition(notifID, domain.CategoryOf(t), prevRead, nextRead, true)
	st.broadcast()
	return st.counts, true
}

// Clear zeroes one category (or all when category is empty) for a user.
func (h *BadgeHub) Clear(userID string, category domain.BadgeCategory) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.users[userID]
	if !ok || !st.loaded {
		return
	}
	for id, s := range st.seen {
		if (category == "" || s.category == category) && !s.read {
			st.seen[id] = seenState{read: true, category: s.category, local: true}
		}
	}
	st.counts = st.counts.Clear(category)
	st.broadcast()
}

// Snapshot returns the current counts of a tracked user.
func (h *BadgeHub) Snapshot(userID string) (domain.BadgeCounts, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.users[userID]
	if !ok || !st.loaded {
		return domain.BadgeCounts{}, false
	}
	return st.counts, true
}

// ActiveUsers lists users with at least one subscriber.
func (h *BadgeHub) ActiveUsers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, 0, len(h.users))
	for id := range h.users {
		out = append(out, id)
	}
	return out
}

// ApplyChange folds a realtime change of the notifications table into the
// hub. It returns the affected user and whether that user's counts must be
// re-fetched because the event alone is not enough to update them.
func (h *BadgeHub) ApplyChange(ev domain.ChangeEvent) (userID string, needsReconcile bool) {
	if ev.Table != "notifications" {
		return "", false
	}
	userID = domain.StringField(ev.Record, "user_id")
	if userID == "" {
		userID = domain.StringField(ev.OldRecord, "user_id")
	}
	if userID == "" {
		return "", false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.users[userID]
	if !ok {
		return userID, false
	}
	if !st.loaded {
		return userID, true
	}

	id := domain.StringField(ev.Record, "id")
	if id == "" {
		id = domain.StringField(ev.OldRecord, "id")
	}
	t := domain.NotificationType(domain.StringField(ev.Record, "type"))
	if t == "" {
		t = domain.NotificationType(domain.StringField(ev.OldRecord, "type"))
	}
	_, known := st.seen[id]

	switch ev.Type {
	case domain.ChangeInsert:
		next, _ := domain.BoolField(ev.Record, "is_read")
		st.transition(id, domain.CategoryOf(t), true, next, false)

	case domain.ChangeUpdate:
		next, ok := domain.BoolField(ev.Record, "is_read")
		if !ok {
			return userID, true
		}
		prev, ok := domain.BoolField(ev.OldRecord, "is_read")
		if !ok && !known {
			return userID, true
		}
		st.transition(id, domain.CategoryOf(t), prev, next, false)

	case domain.ChangeDelete:
		prev, ok := domain.BoolField(ev.OldRecord, "is_read")
		if !ok && !known {
			return userID, true
		}
		if t == "" && !known {
			return userID, true
		}
		category := domain.CategoryOf(t)
		if known && t == "" {
			category = st.seen[id].category
		}
		st.transition(id, category, prev, true, false)
	}
	st.broadcast()
	return userID, false
}

func (h *BadgeHub) reportSubscribers() {
	if h.metrics == nil {
		return
	}
	n := 0
	for _, st := range h.users {
		n += len(st.subs)
	}
	h.metrics.SetBadgeSubscribers(n)
}

// transition applies one read-state change. A known id uses the state the
// hub applied last instead of prevRead.
func (st *badgeState) transition(id string, category domain.BadgeCategory, prevRead, nextRead, local bool) {
	if id != "" {
		if s, ok := st.seen[id]; ok {
			prevRead = s.read
		} else {
			st.remember(id)
		}
		st.seen[id] = seenState{read: nextRead, category: category, local: local}
	}
	switch {
	case !prevRead && nextRead:
		st.counts = st.counts.Add(category, -1)
	case prevRead && !nextRead:
		st.counts = st.counts.Add(category, 1)
	}
}

// remember records a new id, evicting one entry when full. Entries already
// confirmed by realtime go first; local writes still awaiting their echo
// are evicted only when nothing else is left.
func (st *badgeState) remember(id string) {
	if len(st.order) >= maxSeenPerUser {
		victim := 0
		for i, old := range st.order {
			if !st.seen[old].local {
				victim = i
				break
			}
		}
		delete(st.seen, st.order[victim])
		st.order = append(st.order[:victim], st.order[victim+1:]...)
	}
	st.order = append(st.order, id)
}

// broadcast replaces any pending value in each subscriber channel with the
// current counts. Callers hold the hub lock.
func (st *badgeState) broadcast() {
	for _, ch := range st.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st.counts:
		default:
		}
	}
}
