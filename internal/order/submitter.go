// Package order drives the external order form to completion and owns the
// bounded worker pool that keeps browser automation off the event loop.
package order

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"lunch_order_bot/internal/logging"
	"lunch_order_bot/internal/menu"
)

const (
	defaultSubmitTimeout = 90 * time.Second
	confirmationTimeout  = 15 * time.Second

	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// ErrNoConfirmation marks a session that filled the form but never reached
// the post-submission confirmation state.
var ErrNoConfirmation = errors.New("order: no submission confirmation")

var menuNumberRe = regexp.MustCompile(`[0-9]+`)

// Selection is a chosen menu option plus the fixed submission preferences.
// Created when the user picks an option and consumed immediately; never
// persisted.
type Selection struct {
	Option        menu.Option
	Quantity      int
	ContactNumber string
	// Utensils is hardwired to false by policy; kept explicit so the form
	// step does not need to know about the policy.
	Utensils bool
}

// Validate rejects selections the form could never accept.
func (s Selection) Validate() error {
	if _, err := menuIndex(s.Option.Label); err != nil {
		return err
	}
	if s.Quantity < 1 {
		return fmt.Errorf("order: quantity must be at least 1, got %d", s.Quantity)
	}
	if s.ContactNumber == "" {
		return errors.New("order: contact number is required")
	}

	return nil
}

// runBrowser is overridable for tests; driving a real browser is not
// something unit tests should do.
var runBrowser = driveForm

// Submitter fills and submits the order form in a headless browser session.
// The side effect is external and non-idempotent; deduplication is the
// orchestrator's responsibility.
type Submitter struct {
	timeout  time.Duration
	headless bool
	logger   *logrus.Entry
}

// NewSubmitter constructs a Submitter. A zero timeout uses the default.
func NewSubmitter(timeout time.Duration, headless bool, logger *logrus.Entry) *Submitter {
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Submitter{
		timeout:  timeout,
		headless: headless,
		logger:   logger,
	}
}

// Submit runs the browser session to completion within the configured time
// window. Missing form fields, a missing confirmation marker, and timeouts
// are all returned as submission errors.
func (s *Submitter) Submit(ctx context.Context, formURL string, sel Selection) error {
	if err := sel.Validate(); err != nil {
		return err
	}
	if formURL == "" {
		return errors.New("order: form url is required")
	}

	s.logger.WithFields(logging.Fields{
		"event":  "order_submit",
		"option": sel.Option.Label,
	}).Info("starting form submission")

	if err := runBrowser(ctx, s.headless, s.timeout, formURL, sel); err != nil {
		return fmt.Errorf("submit order: %w", err)
	}

	s.logger.WithField("event", "order_submitted").Info("form submission confirmed")
	return nil
}

// driveForm performs the actual browser automation: navigate, fill the
// contact number, pick the quantity in the listbox matching the chosen menu,
// decline utensils, submit, and wait for the confirmation page.
func driveForm(ctx context.Context, headless bool, timeout time.Duration, formURL string, sel Selection) error {
	idx, err := menuIndex(sel.Option.Label)
	if err != nil {
		return err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.UserAgent(browserUserAgent))
	if !headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, timeout)
	defer cancelRun()

	var confirmed bool
	err = chromedp.Run(runCtx,
		chromedp.Navigate(formURL),
		chromedp.WaitVisible(`input[type="text"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[type="text"]`, sel.ContactNumber, chromedp.ByQuery),
		chromedp.WaitVisible(`div[role="listbox"]`, chromedp.ByQuery),
		evalExpect(openListboxJS(idx), "menu quantity listbox"),
		chromedp.Sleep(time.Second),
		evalExpect(pickQuantityJS(sel.Quantity), "quantity option"),
		chromedp.Sleep(time.Second),
		evalExpect(utensilsNoJS(), "utensils radio"),
		evalExpect(submitButtonJS(), "submit button"),
		chromedp.Poll(confirmationJS(), &confirmed, chromedp.WithPollingTimeout(confirmationTimeout)),
	)
	if err != nil {
		if errors.Is(err, chromedp.ErrPollingTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrNoConfirmation, err)
		}
		return err
	}
	if !confirmed {
		return ErrNoConfirmation
	}

	return nil
}

// evalExpect runs a boolean page expression and fails when it reports that
// the expected element was not found.
func evalExpect(expr, what string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		var ok bool
		if err := chromedp.Evaluate(expr, &ok).Do(ctx); err != nil {
			return fmt.Errorf("evaluate %s: %w", what, err)
		}
		if !ok {
			return fmt.Errorf("%s not found on form", what)
		}
		return nil
	}
}

// menuIndex maps an option label like "MENÚ 2" onto the zero-based index of
// its quantity listbox on the form.
func menuIndex(label string) (int, error) {
	match := menuNumberRe.FindString(label)
	if match == "" {
		return 0, fmt.Errorf("order: option label %q has no menu number", label)
	}

	n, err := strconv.Atoi(match)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("order: option label %q has an invalid menu number", label)
	}

	return n - 1, nil
}

func openListboxJS(index int) string {
	return fmt.Sprintf(`(() => {
		const boxes = document.querySelectorAll('div[role="listbox"]');
		if (boxes.length <= %d) return false;
		boxes[%d].click();
		return true;
	})()`, index, index)
}

func pickQuantityJS(quantity int) string {
	return fmt.Sprintf(`(() => {
		const options = document.querySelectorAll('div[role="option"]');
		for (const option of options) {
			if (option.offsetParent !== null && option.innerText.trim() === %q) {
				option.click();
				return true;
			}
		}
		return false;
	})()`, strconv.Itoa(quantity))
}

// utensilsNoJS clicks the second radio in the utensils group; the form always
// lists SI before NO.
func utensilsNoJS() string {
	return `(() => {
		const radios = document.querySelectorAll('div[role="radiogroup"] div[role="radio"]');
		if (radios.length < 2) return false;
		radios[1].click();
		return true;
	})()`
}

func submitButtonJS() string {
	return `(() => {
		const buttons = document.querySelectorAll('div[role="button"]');
		for (const button of buttons) {
			if (button.innerText.trim().includes("Enviar")) {
				button.click();
				return true;
			}
		}
		return false;
	})()`
}

func confirmationJS() string {
	return `(() => {
		if (window.location.href.includes("formResponse")) return true;
		const text = document.body ? document.body.innerText : "";
		return text.includes("Se ha registrado tu respuesta") ||
			text.includes("Tu respuesta ha sido registrada");
	})()`
}
