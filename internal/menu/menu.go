// Package menu checks whether the daily menu has been published and extracts
// the offered options from the order form page.
package menu

import (
	"errors"
	"time"
)

// Option is one lunch choice offered for the day. Fetched fresh per day and
// never cached across days.
type Option struct {
	Label    string
	Price    string
	ImageURL string
}

// Availability is the outcome of a menu announcement check. A missing link
// or a sold-out form is a business state, not an error; transport failures
// are returned as errors by Checker.Check.
type Availability struct {
	Published bool
	FormURL   string
	Reason    string
}

// ErrMenuStructure marks a form page whose layout did not match the expected
// option structure. Callers surface it as "menu unavailable" rather than a
// transport failure.
var ErrMenuStructure = errors.New("menu: unexpected page structure")

const (
	fetchTimeout = 15 * time.Second

	// Pages behind bot checks want a real browser user agent.
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)
