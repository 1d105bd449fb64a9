package workflow

import (
	"sync"
	"time"

	"github.com/looplab/fsm"

	"lunch_order_bot/internal/menu"
)

// timer abstracts time.AfterFunc handles so tests can capture scheduling.
type timer interface {
	Stop() bool
}

// Subscription tracks one chat's reminder lifecycle and the day's workflow.
// Created on activation, deactivated (never deleted) on stop. All fields are
// guarded by mu; only one handler mutates a chat's workflow at a time.
type Subscription struct {
	chatID    int64
	active    bool
	nextDueAt time.Time

	day     *fsm.FSM
	formURL string
	options []menu.Option

	reminder timer

	mu sync.Mutex
}

// resetDay clears the day's workflow back to idle along with any pending
// menu context.
func (s *Subscription) resetDay() {
	s.day = newDayFSM()
	s.formURL = ""
	s.options = nil
}

// stopReminder cancels a pending reminder timer, if any.
func (s *Subscription) stopReminder() {
	if s.reminder != nil {
		s.reminder.Stop()
		s.reminder = nil
	}
}

func (s *Subscription) snapshot() Snapshot {
	return Snapshot{
		ChatID:    s.chatID,
		Active:    s.active,
		NextDueAt: s.nextDueAt,
	}
}

// Registry is the process-wide subscription table keyed by chat id.
type Registry struct {
	mu   sync.RWMutex
	subs map[int64]*Subscription
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[int64]*Subscription)}
}

// ensure returns the chat's subscription, creating an inactive one when the
// chat is new.
func (r *Registry) ensure(chatID int64) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.subs[chatID]; ok {
		return sub
	}

	sub := &Subscription{chatID: chatID}
	sub.resetDay()
	r.subs[chatID] = sub
	return sub
}

// get looks up a chat's subscription without creating one.
func (r *Registry) get(chatID int64) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[chatID]
	return sub, ok
}

// Counts returns the total and active subscription counts for diagnostics.
func (r *Registry) Counts() (total, active int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total = len(r.subs)
	for _, sub := range r.subs {
		sub.mu.Lock()
		if sub.active {
			active++
		}
		sub.mu.Unlock()
	}

	return total, active
}
