// Package workflow owns the per-chat conversation state machine: reminders,
// yes/no handling, menu choice, submission, and rescheduling.
package workflow

import (
	"context"
	"time"

	"github.com/looplab/fsm"

	"lunch_order_bot/internal/menu"
)

// Workflow states for a single chat's day.
const (
	StateIdle               = "idle"
	StateAwaitingYesNo      = "awaiting_yes_no"
	StateAwaitingMenuChoice = "awaiting_menu_choice"
	StateSubmitting         = "submitting"
	StateDone               = "done"
	StateFailed             = "failed"
)

// Events driving the day workflow.
const (
	EventRemind      = "remind"
	EventAccept      = "accept"
	EventDecline     = "decline"
	EventUnavailable = "unavailable"
	EventChoose      = "choose"
	EventDelivered   = "delivered"
	EventRejected    = "rejected"
	EventStop        = "stop"
)

// Inline button payloads shared with the transport layer.
const (
	CallbackYes        = "ORDER_Y"
	CallbackNo         = "ORDER_N"
	CallbackMenuPrefix = "MENU_"
)

// newDayFSM builds the transition table for one chat. Done and Failed are
// terminal for the day; the next remind event reopens them. Stop collapses
// any state back to idle.
func newDayFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventRemind, Src: []string{StateIdle, StateDone, StateFailed}, Dst: StateAwaitingYesNo},
			{Name: EventDecline, Src: []string{StateAwaitingYesNo}, Dst: StateDone},
			{Name: EventUnavailable, Src: []string{StateAwaitingYesNo}, Dst: StateDone},
			{Name: EventAccept, Src: []string{StateAwaitingYesNo}, Dst: StateAwaitingMenuChoice},
			{Name: EventChoose, Src: []string{StateAwaitingMenuChoice}, Dst: StateSubmitting},
			{Name: EventDelivered, Src: []string{StateSubmitting}, Dst: StateDone},
			{Name: EventRejected, Src: []string{StateSubmitting}, Dst: StateFailed},
			{Name: EventStop, Src: []string{
				StateAwaitingYesNo, StateAwaitingMenuChoice, StateSubmitting, StateDone, StateFailed,
			}, Dst: StateIdle},
		},
		fsm.Callbacks{},
	)
}

// Choice is one inline button offered to the user.
type Choice struct {
	Label string
	Data  string
}

// Messenger is the outbound conversation surface, implemented by the
// Telegram client.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendChoices(ctx context.Context, chatID int64, text string, choices []Choice) error
	SendPhoto(ctx context.Context, chatID int64, photoURL, caption string) error
}

// AvailabilityChecker reports whether today's menu announcement is published.
type AvailabilityChecker interface {
	Check(ctx context.Context) (menu.Availability, error)
}

// MenuLister extracts the day's options from the order form.
type MenuLister interface {
	Options(ctx context.Context, formURL string) ([]menu.Option, error)
}

// Snapshot is the persistable view of a subscription.
type Snapshot struct {
	ChatID    int64
	Active    bool
	NextDueAt time.Time // zero when no reminder is armed
}

// Store persists subscription snapshots so a restart can restore them. The
// in-memory registry stays authoritative; persistence failures are logged,
// never fatal.
type Store interface {
	SaveSubscription(ctx context.Context, snap Snapshot) error
}
