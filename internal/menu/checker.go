package menu

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"lunch_order_bot/internal/logging"
)

const menuLinkLabel = "almuerzos del día"

// formHostMarker keeps the checker from following unrelated links that happen
// to share the label text.
const formHostMarker = "docs.google.com/forms"

// soldOutPhrases are the markers the form shows once the day's lunches run
// out. Matching any of them reports the menu as unavailable.
var soldOutPhrases = []string{
	"agotados",
	"se han agotado",
	"sin disponibilidad",
	"sold out",
}

// Checker determines whether today's menu announcement has been published on
// the link-aggregator page. Stateless per invocation; retries belong to the
// caller.
type Checker struct {
	pageURL string
	client  *http.Client
	logger  *logrus.Entry
}

// NewChecker constructs a Checker for the given aggregator page.
func NewChecker(pageURL string, logger *logrus.Entry) *Checker {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Checker{
		pageURL: pageURL,
		client:  &http.Client{Timeout: fetchTimeout},
		logger:  logger,
	}
}

// Check fetches the aggregator page and looks for the daily menu link. A page
// without the link yields Published=false with a reason; only transport and
// HTTP failures return an error.
func (c *Checker) Check(ctx context.Context) (Availability, error) {
	doc, _, err := fetchDocument(ctx, c.client, c.pageURL)
	if err != nil {
		return Availability{}, fmt.Errorf("fetch menu page: %w", err)
	}

	formURL, found := findMenuLink(doc)
	if !found {
		c.logger.WithField("event", "menu_not_published").Info("daily menu link not found")
		return Availability{Reason: "daily menu link not found on the page"}, nil
	}

	if reason, soldOut := c.probeForm(ctx, formURL); soldOut {
		c.logger.WithFields(logging.Fields{
			"event":  "menu_sold_out",
			"reason": reason,
		}).Info("order form is not accepting requests")
		return Availability{FormURL: formURL, Reason: reason}, nil
	}

	return Availability{Published: true, FormURL: formURL}, nil
}

// probeForm verifies the order form still accepts submissions. Probe failures
// fail open: an unreachable form is reported as orderable and the submission
// step surfaces the real error.
func (c *Checker) probeForm(ctx context.Context, formURL string) (string, bool) {
	doc, finalURL, err := fetchDocument(ctx, c.client, formURL)
	if err != nil {
		c.logger.WithField("event", "form_probe_failed").WithError(err).Warn("could not verify form status")
		return "", false
	}

	if strings.Contains(finalURL, "/closedform") {
		return "order form is closed (sold out)", true
	}

	pageText := strings.ToLower(doc.Text())
	if phrase, found := lo.Find(soldOutPhrases, func(p string) bool {
		return strings.Contains(pageText, p)
	}); found {
		return fmt.Sprintf("order form reports sold out (%q)", phrase), true
	}

	return "", false
}

// findMenuLink hunts for an anchor whose visible text matches the daily menu
// label, fuzzy on case and whitespace, pointing at the order form.
func findMenuLink(doc *goquery.Document) (string, bool) {
	var (
		target string
		found  bool
	)

	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !strings.Contains(normalizeText(sel.Text()), menuLinkLabel) {
			return true
		}

		href, ok := sel.Attr("href")
		if !ok || !strings.Contains(href, formHostMarker) {
			return true
		}

		target = href
		found = true
		return false
	})

	return target, found
}

func fetchDocument(ctx context.Context, client *http.Client, pageURL string) (*goquery.Document, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("parse html: %w", err)
	}

	return doc, resp.Request.URL.String(), nil
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
