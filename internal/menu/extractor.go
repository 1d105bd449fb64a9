package menu

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"lunch_order_bot/internal/logging"
)

var (
	optionLabelRe = regexp.MustCompile(`(?i)MEN[ÚU]\s*([0-9]+)`)
	priceRe       = regexp.MustCompile(`\$\s*([0-9][0-9.,]*)`)
	// Day/month markers like "14/10" used when the form lists several days.
	dateMarkerRe = regexp.MustCompile(`\b([0-9]{1,2})\s*/\s*([0-9]{1,2})\b`)
)

// imageSrcAttrs are tried in order; lazy-loading pages park the real URL in
// data attributes.
var imageSrcAttrs = []string{"src", "data-src", "data-lazy-src"}

// Extractor pulls the day's menu options from the order form page, in page
// order. Stateless per invocation.
type Extractor struct {
	client *http.Client
	logger *logrus.Entry
	now    func() time.Time
}

// NewExtractor constructs an Extractor.
func NewExtractor(logger *logrus.Entry) *Extractor {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Extractor{
		client: &http.Client{Timeout: fetchTimeout},
		logger: logger,
		now:    time.Now,
	}
}

// Options fetches the form and returns today's menu options in on-page order.
// Entries tagged with another day's date marker are dropped. A page with no
// recognizable options, or an option without a price, is an ErrMenuStructure.
func (e *Extractor) Options(ctx context.Context, formURL string) ([]Option, error) {
	doc, _, err := fetchDocument(ctx, e.client, formURL)
	if err != nil {
		return nil, fmt.Errorf("fetch order form: %w", err)
	}

	options, err := parseOptions(doc, e.now())
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logging.Fields{
		"event":   "menu_options_extracted",
		"options": len(options),
	}).Info("extracted today's menu options")

	return options, nil
}

// parseOptions walks the form's question blocks looking for menu headings.
// Order of the returned slice matches document order.
func parseOptions(doc *goquery.Document, today time.Time) ([]Option, error) {
	blocks := doc.Find(`div[role="listitem"]`)
	if blocks.Length() == 0 {
		blocks = doc.Find("li")
	}

	var (
		options   []Option
		parseErrs []string
	)

	blocks.Each(func(_ int, block *goquery.Selection) {
		text := block.Text()

		match := optionLabelRe.FindStringSubmatch(text)
		if match == nil {
			return
		}

		if !matchesDate(text, today) {
			return
		}

		label := "MENÚ " + match[1]

		priceMatch := priceRe.FindStringSubmatch(text)
		if priceMatch == nil {
			parseErrs = append(parseErrs, fmt.Sprintf("%s has no price", label))
			return
		}

		options = append(options, Option{
			Label:    label,
			Price:    priceMatch[1],
			ImageURL: findImageURL(block),
		})
	})

	if len(parseErrs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMenuStructure, strings.Join(parseErrs, "; "))
	}

	options = lo.UniqBy(options, func(o Option) string { return o.Label })

	if len(options) == 0 {
		return nil, fmt.Errorf("%w: no menu options found for today", ErrMenuStructure)
	}

	return options, nil
}

// matchesDate accepts blocks with no date marker, and blocks whose first
// day/month marker names today.
func matchesDate(text string, today time.Time) bool {
	match := dateMarkerRe.FindStringSubmatch(text)
	if match == nil {
		return true
	}

	day, _ := strconv.Atoi(match[1])
	month, _ := strconv.Atoi(match[2])

	return day == today.Day() && time.Month(month) == today.Month()
}

func findImageURL(block *goquery.Selection) string {
	img := block.Find("img").First()
	if img.Length() == 0 {
		return ""
	}

	for _, attr := range imageSrcAttrs {
		if src, ok := img.Attr(attr); ok && strings.TrimSpace(src) != "" {
			return strings.TrimSpace(src)
		}
	}

	return ""
}
