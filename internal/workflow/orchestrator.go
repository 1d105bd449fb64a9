package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"lunch_order_bot/internal/logging"
	"lunch_order_bot/internal/order"
	"lunch_order_bot/internal/schedule"
)

// Submitter drives the external order form. Implementations are expected to
// run off the event loop; the orchestrator awaits the single result.
type Submitter interface {
	Submit(ctx context.Context, formURL string, sel order.Selection) error
}

const nextReminderTimeFormat = "Monday, January 2 at 3:04 PM"

// Params collects the orchestrator's collaborators and policy knobs.
type Params struct {
	Schedule      schedule.Config
	Messenger     Messenger
	Checker       AvailabilityChecker
	Menu          MenuLister
	Submitter     Submitter
	Store         Store // optional
	ContactNumber string
	DevMode       bool
	DevInterval   time.Duration
	Logger        *logrus.Entry
}

// Orchestrator sequences the reminder conversation for every chat: timer
// ticks, yes/no answers, menu choice, submission, and rescheduling. It is
// the only component that owns workflow state and decides user-facing
// wording.
type Orchestrator struct {
	schedule      schedule.Config
	messenger     Messenger
	checker       AvailabilityChecker
	menu          MenuLister
	submitter     Submitter
	store         Store
	contactNumber string
	devMode       bool
	devInterval   time.Duration

	registry *Registry
	logger   *logrus.Entry

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) timer
}

// New validates the collaborators and constructs an Orchestrator.
func New(p Params) (*Orchestrator, error) {
	if err := p.Schedule.Validate(); err != nil {
		return nil, err
	}
	if p.Messenger == nil {
		return nil, errors.New("workflow: messenger is required")
	}
	if p.Checker == nil {
		return nil, errors.New("workflow: availability checker is required")
	}
	if p.Menu == nil {
		return nil, errors.New("workflow: menu lister is required")
	}
	if p.Submitter == nil {
		return nil, errors.New("workflow: submitter is required")
	}
	if p.ContactNumber == "" {
		return nil, errors.New("workflow: contact number is required")
	}
	if p.DevMode && p.DevInterval <= 0 {
		return nil, errors.New("workflow: dev interval must be positive in dev mode")
	}
	if p.Logger == nil {
		p.Logger = logging.Logger()
	}

	loc := p.Schedule.Location

	return &Orchestrator{
		schedule:      p.Schedule,
		messenger:     p.Messenger,
		checker:       p.Checker,
		menu:          p.Menu,
		submitter:     p.Submitter,
		store:         p.Store,
		contactNumber: p.ContactNumber,
		devMode:       p.DevMode,
		devInterval:   p.DevInterval,
		registry:      NewRegistry(),
		logger:        p.Logger,
		now:           func() time.Time { return time.Now().In(loc) },
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}, nil
}

// Registry exposes the subscription table for diagnostics.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Start activates reminders for the chat and immediately runs today's
// due-check, mirroring the original activation flow.
func (o *Orchestrator) Start(ctx context.Context, chatID int64) {
	sub := o.registry.ensure(chatID)

	sub.mu.Lock()
	sub.active = true
	sub.stopReminder()
	sub.resetDay()
	sub.mu.Unlock()

	o.persist(ctx, sub)

	now := o.now()
	if o.devMode {
		o.send(ctx, chatID, fmt.Sprintf(
			"DEV MODE: reminders activated, repeating every %s.\nLet me check right away:",
			o.devInterval))
	} else {
		o.send(ctx, chatID, fmt.Sprintf(
			"Daily order reminders activated!\n\nSchedule:\n- Normal weeks: %s\n- Week %d of the month: %s\n\nCurrent week: %s\nLet me check if I should ask you today:",
			o.schedule.Describe(nonSpecialReference(o.schedule, now)),
			o.schedule.SpecialWeek,
			describeSpecial(o.schedule),
			o.schedule.Describe(now)))
	}

	logging.WithContext(logging.Context{ChatID: chatID, Event: "subscription_started"}).Info("reminders activated")

	o.runReminder(ctx, chatID)
}

// Stop deactivates the chat's subscription, cancels the pending reminder,
// and collapses any waiting state. A browser submission already in flight is
// not interrupted; its result is discarded.
func (o *Orchestrator) Stop(ctx context.Context, chatID int64) {
	sub, ok := o.registry.get(chatID)
	if !ok {
		o.send(ctx, chatID, "No active reminders found.\nUse /start to activate them.")
		return
	}

	sub.mu.Lock()
	wasActive := sub.active
	sub.active = false
	sub.stopReminder()
	sub.nextDueAt = time.Time{}
	if sub.day.Current() != StateIdle {
		_ = sub.day.Event(ctx, EventStop)
	}
	sub.formURL = ""
	sub.options = nil
	sub.mu.Unlock()

	o.persist(ctx, sub)

	if wasActive {
		o.send(ctx, chatID, "Daily order reminders have been stopped.\nUse /start to activate them again.")
		logging.WithContext(logging.Context{ChatID: chatID, Event: "subscription_stopped"}).Info("reminders deactivated")
		return
	}

	o.send(ctx, chatID, "No active reminders found.\nUse /start to activate them.")
}

// Status reports whether reminders are active, the current schedule shape,
// and the next due date.
func (o *Orchestrator) Status(ctx context.Context, chatID int64) {
	sub, ok := o.registry.get(chatID)
	if !ok {
		o.send(ctx, chatID, "Daily order reminders are INACTIVE.\nUse /start to activate them.")
		return
	}

	sub.mu.Lock()
	active := sub.active
	nextDueAt := sub.nextDueAt
	sub.mu.Unlock()

	if !active {
		o.send(ctx, chatID, "Daily order reminders are INACTIVE.\nUse /start to activate them.")
		return
	}

	now := o.now()
	dueToday := "No"
	if o.schedule.IsDueOn(now) {
		dueToday = "Yes"
	}

	next := nextDueAt
	if next.IsZero() {
		next = o.schedule.NextDueDate(now)
	}

	o.send(ctx, chatID, fmt.Sprintf(
		"Daily order reminders are ACTIVE.\n\nCurrent schedule: %s\nReminder today (%s): %s\nNext reminder: %s\n\nUse /stop to deactivate.",
		o.schedule.Describe(now),
		now.Weekday(),
		dueToday,
		next.Format(nextReminderTimeFormat)))
}

// HandleCallback interprets an inline-button press against the chat's
// current workflow state. Input that does not fit the state is answered with
// a hint and leaves the workflow unchanged.
func (o *Orchestrator) HandleCallback(ctx context.Context, chatID int64, data string) {
	sub, ok := o.registry.get(chatID)
	if !ok {
		o.send(ctx, chatID, "Reminders are not set up here yet. Use /start first.")
		return
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()

	if !sub.active {
		o.send(ctx, chatID, "Reminders are inactive. Use /start to activate them.")
		return
	}

	switch {
	case data == CallbackYes:
		o.handleYes(ctx, sub)
	case data == CallbackNo:
		o.handleNo(ctx, sub)
	case strings.HasPrefix(data, CallbackMenuPrefix):
		o.handleMenuChoice(ctx, sub, strings.TrimPrefix(data, CallbackMenuPrefix))
	default:
		o.send(ctx, sub.chatID, "I didn't understand that. Use the buttons above.")
	}
}

// handleYes runs the availability check and either presents the menu or
// closes the day. Called with the subscription lock held.
func (o *Orchestrator) handleYes(ctx context.Context, sub *Subscription) {
	if sub.day.Current() != StateAwaitingYesNo {
		o.hintForState(ctx, sub)
		return
	}

	o.send(ctx, sub.chatID, "Great! Let me check today's menu options...")

	availability, err := o.checker.Check(ctx)
	if err != nil {
		logging.WithContext(logging.Context{ChatID: sub.chatID, Event: "availability_check_failed"}).
			WithError(err).Warn("could not check menu availability")
		o.closeDay(ctx, sub, EventUnavailable,
			"Sorry, I couldn't reach the menu page right now. Please try ordering manually today.")
		return
	}

	if !availability.Published {
		o.closeDay(ctx, sub, EventUnavailable,
			fmt.Sprintf("Sorry, the daily menu is not available today.\nReason: %s", availability.Reason))
		return
	}

	options, err := o.menu.Options(ctx, availability.FormURL)
	if err != nil {
		logging.WithContext(logging.Context{ChatID: sub.chatID, Event: "menu_extraction_failed"}).
			WithError(err).Warn("could not extract menu options")
		o.closeDay(ctx, sub, EventUnavailable,
			"Sorry, I couldn't load the menu options. Please try ordering manually today.")
		return
	}

	if err := sub.day.Event(ctx, EventAccept); err != nil {
		o.hintForState(ctx, sub)
		return
	}

	sub.formURL = availability.FormURL
	sub.options = options

	o.presentOptions(ctx, sub)
}

// handleNo closes the day without an order. Called with the lock held.
func (o *Orchestrator) handleNo(ctx context.Context, sub *Subscription) {
	if sub.day.Current() != StateAwaitingYesNo {
		o.hintForState(ctx, sub)
		return
	}

	o.closeDay(ctx, sub, EventDecline, "No problem!")
}

// handleMenuChoice submits the chosen option. Called with the lock held; the
// lock is released for the duration of the browser session so a stop command
// stays responsive.
func (o *Orchestrator) handleMenuChoice(ctx context.Context, sub *Subscription, rawIndex string) {
	if sub.day.Current() != StateAwaitingMenuChoice {
		o.hintForState(ctx, sub)
		return
	}

	idx, err := strconv.Atoi(rawIndex)
	if err != nil || idx < 1 || idx > len(sub.options) {
		o.send(ctx, sub.chatID, "That menu option is not on today's list. Use the buttons above.")
		return
	}

	chosen := sub.options[idx-1]
	formURL := sub.formURL

	if err := sub.day.Event(ctx, EventChoose); err != nil {
		o.hintForState(ctx, sub)
		return
	}

	o.send(ctx, sub.chatID, fmt.Sprintf("Perfect! You've chosen %s. Submitting your order...", chosen.Label))

	selection := order.Selection{
		Option:        chosen,
		Quantity:      1,
		ContactNumber: o.contactNumber,
	}

	sub.mu.Unlock()
	submitErr := o.submitter.Submit(ctx, formURL, selection)
	sub.mu.Lock()

	if !sub.active {
		// Stopped while the browser was working; the order may still have
		// gone through, but the conversation is over.
		logging.WithContext(logging.Context{ChatID: sub.chatID, Event: "submission_after_stop"}).
			Warn("submission finished after stop; result discarded")
		return
	}

	if submitErr != nil {
		logging.WithContext(logging.Context{ChatID: sub.chatID, Event: "submission_failed"}).
			WithError(submitErr).Error("form submission failed")
		o.closeDay(ctx, sub, EventRejected,
			"Sorry, there was an error submitting your order. Please try ordering manually.")
		return
	}

	o.closeDay(ctx, sub, EventDelivered, "Your order has been submitted successfully!")
}

// presentOptions sends the day's menu cards and the selection buttons.
// Called with the lock held.
func (o *Orchestrator) presentOptions(ctx context.Context, sub *Subscription) {
	o.send(ctx, sub.chatID, "Here are today's menu options:")

	choices := make([]Choice, 0, len(sub.options))
	for i, option := range sub.options {
		caption := fmt.Sprintf("%s - $%s", option.Label, option.Price)

		if option.ImageURL != "" {
			if err := o.messenger.SendPhoto(ctx, sub.chatID, option.ImageURL, caption); err != nil {
				o.logSendError(sub.chatID, err)
				o.send(ctx, sub.chatID, caption+"\n(image not available)")
			}
		} else {
			o.send(ctx, sub.chatID, caption+"\n(image not available)")
		}

		choices = append(choices, Choice{
			Label: option.Label,
			Data:  fmt.Sprintf("%s%d", CallbackMenuPrefix, i+1),
		})
	}

	if err := o.messenger.SendChoices(ctx, sub.chatID, "Which menu would you like to order?", choices); err != nil {
		o.logSendError(sub.chatID, err)
	}
}

// closeDay fires a terminal event, tells the user, and arms the next
// reminder. Called with the lock held.
func (o *Orchestrator) closeDay(ctx context.Context, sub *Subscription, event, message string) {
	if err := sub.day.Event(ctx, event); err != nil {
		logging.WithContext(logging.Context{ChatID: sub.chatID, Event: "workflow_transition_failed", State: sub.day.Current()}).
			WithError(err).Error("terminal transition rejected")
	}

	sub.formURL = ""
	sub.options = nil

	o.send(ctx, sub.chatID, strings.TrimSpace(message+"\n"+o.nextReminderText()))
	o.armNext(ctx, sub)
}

// runReminder is the timer tick: skip when not due or unresolved, otherwise
// prompt the user and leave the next arm to the day's terminal state.
func (o *Orchestrator) runReminder(ctx context.Context, chatID int64) {
	sub, ok := o.registry.get(chatID)
	if !ok {
		return
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()

	if !sub.active {
		return
	}

	switch sub.day.Current() {
	case StateAwaitingYesNo, StateAwaitingMenuChoice, StateSubmitting:
		// A new day's prompt must wait for the previous workflow to
		// resolve; the terminal state re-arms the timer.
		logging.WithContext(logging.Context{ChatID: chatID, Event: "reminder_skipped", State: sub.day.Current()}).
			Warn("previous workflow unresolved, reminder skipped")
		return
	}

	now := o.now()
	if !o.devMode && !o.schedule.IsDueOn(now) {
		logging.WithContext(logging.Context{ChatID: chatID, Event: "reminder_not_due"}).
			Info("no reminder scheduled for today")
		o.send(ctx, chatID, fmt.Sprintf("No reminder today. %s", o.nextReminderText()))
		o.armNext(ctx, sub)
		return
	}

	if err := sub.day.Event(ctx, EventRemind); err != nil {
		logging.WithContext(logging.Context{ChatID: chatID, Event: "workflow_transition_failed", State: sub.day.Current()}).
			WithError(err).Error("remind transition rejected")
		return
	}

	if err := o.messenger.SendChoices(ctx, chatID, "Do you want to order today?", []Choice{
		{Label: "Y", Data: CallbackYes},
		{Label: "N", Data: CallbackNo},
	}); err != nil {
		o.logSendError(chatID, err)
	}

	logging.WithContext(logging.Context{ChatID: chatID, Event: "reminder_sent"}).Info("daily reminder sent")
}

// Restore re-arms timers for subscriptions persisted before a restart.
func (o *Orchestrator) Restore(ctx context.Context, snaps []Snapshot) {
	now := o.now()

	for _, snap := range snaps {
		if !snap.Active {
			continue
		}

		sub := o.registry.ensure(snap.ChatID)

		sub.mu.Lock()
		sub.active = true
		next := snap.NextDueAt
		if !next.After(now) {
			next = o.schedule.NextDueDate(now)
		}
		sub.nextDueAt = next

		chatID := sub.chatID
		sub.stopReminder()
		sub.reminder = o.afterFunc(next.Sub(now), func() {
			o.runReminder(context.Background(), chatID)
		})
		sub.mu.Unlock()

		logging.WithContext(logging.Context{ChatID: snap.ChatID, Event: "subscription_restored"}).
			Info("restored subscription from store")
	}
}

// armNext schedules the next reminder tick. Called with the lock held.
func (o *Orchestrator) armNext(ctx context.Context, sub *Subscription) {
	now := o.now()

	var fireAt time.Time
	if o.devMode {
		fireAt = now.Add(o.devInterval)
	} else {
		fireAt = o.schedule.NextDueDate(now)
	}

	sub.nextDueAt = fireAt
	chatID := sub.chatID

	sub.stopReminder()
	sub.reminder = o.afterFunc(fireAt.Sub(now), func() {
		o.runReminder(context.Background(), chatID)
	})

	o.persistLocked(ctx, sub)

	logging.WithContext(logging.Context{ChatID: chatID, Event: "reminder_armed"}).
		WithField("next_due_at", fireAt).Info("next reminder scheduled")
}

func (o *Orchestrator) nextReminderText() string {
	if o.devMode {
		return fmt.Sprintf("DEV MODE: I'll ask you again in %s.", o.devInterval)
	}

	next := o.schedule.NextDueDate(o.now())
	return fmt.Sprintf("I'll ask you again on %s.", next.Format(nextReminderTimeFormat))
}

// hintForState explains why an input was ignored. Called with the lock held.
func (o *Orchestrator) hintForState(ctx context.Context, sub *Subscription) {
	var hint string

	switch sub.day.Current() {
	case StateAwaitingYesNo:
		hint = "Please answer Y or N first."
	case StateAwaitingMenuChoice:
		hint = "Please pick one of today's menu options first."
	case StateSubmitting:
		hint = "Your order is being submitted, hold on."
	case StateDone, StateFailed:
		hint = "Today's order flow is already finished. I'll remind you next time."
	default:
		hint = "There's nothing to answer right now."
	}

	o.send(ctx, sub.chatID, hint)
}

func (o *Orchestrator) persist(ctx context.Context, sub *Subscription) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	o.persistLocked(ctx, sub)
}

// persistLocked saves the snapshot when a store is configured. Called with
// the lock held.
func (o *Orchestrator) persistLocked(ctx context.Context, sub *Subscription) {
	if o.store == nil {
		return
	}

	if err := o.store.SaveSubscription(ctx, sub.snapshot()); err != nil {
		logging.WithContext(logging.Context{ChatID: sub.chatID, Event: "subscription_persist_failed"}).
			WithError(err).Warn("could not persist subscription")
	}
}

func (o *Orchestrator) send(ctx context.Context, chatID int64, text string) {
	if err := o.messenger.SendText(ctx, chatID, text); err != nil {
		o.logSendError(chatID, err)
	}
}

func (o *Orchestrator) logSendError(chatID int64, err error) {
	logging.WithContext(logging.Context{ChatID: chatID, Event: "send_failed"}).
		WithError(err).Error("could not deliver message")
}

// nonSpecialReference finds a nearby date outside the special week so the
// activation summary can render the normal weekday set.
func nonSpecialReference(cfg schedule.Config, from time.Time) time.Time {
	day := from
	for i := 0; i < 28; i++ {
		if !cfg.IsSpecialWeek(day) {
			return day
		}
		day = day.AddDate(0, 0, 7)
	}
	return from
}

func describeSpecial(cfg schedule.Config) string {
	probe := time.Date(2025, time.October, 13, 0, 0, 0, 0, cfg.Location)
	for !cfg.IsSpecialWeek(probe) {
		probe = probe.AddDate(0, 0, 7)
	}
	return cfg.Describe(probe)
}
