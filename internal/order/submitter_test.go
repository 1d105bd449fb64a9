package order

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"lunch_order_bot/internal/menu"
)

func testLogger() *logrus.Entry {
	logger, _ := logtest.NewNullLogger()
	return logrus.NewEntry(logger)
}

func validSelection() Selection {
	return Selection{
		Option:        menu.Option{Label: "MENÚ 1", Price: "20.000"},
		Quantity:      1,
		ContactNumber: "3001234567",
	}
}

func TestMenuIndexParsesLabels(t *testing.T) {
	cases := []struct {
		label string
		want  int
	}{
		{"MENÚ 1", 0},
		{"MENÚ 2", 1},
		{"MENU 3", 2},
	}

	for _, tc := range cases {
		got, err := menuIndex(tc.label)
		if err != nil {
			t.Errorf("menuIndex(%q) returned error: %v", tc.label, err)
			continue
		}
		if got != tc.want {
			t.Errorf("menuIndex(%q) = %d, want %d", tc.label, got, tc.want)
		}
	}

	if _, err := menuIndex("ensalada"); err == nil {
		t.Errorf("expected error for label without a menu number")
	}
}

func TestSelectionValidate(t *testing.T) {
	if err := validSelection().Validate(); err != nil {
		t.Fatalf("expected valid selection, got %v", err)
	}

	sel := validSelection()
	sel.Quantity = 0
	if err := sel.Validate(); err == nil {
		t.Fatalf("expected error for zero quantity")
	}

	sel = validSelection()
	sel.ContactNumber = ""
	if err := sel.Validate(); err == nil {
		t.Fatalf("expected error for missing contact number")
	}

	sel = validSelection()
	sel.Option.Label = "sopa"
	if err := sel.Validate(); err == nil {
		t.Fatalf("expected error for unparseable option label")
	}
}

func TestSubmitValidatesBeforeDrivingBrowser(t *testing.T) {
	orig := runBrowser
	defer func() { runBrowser = orig }()

	called := false
	runBrowser = func(context.Context, bool, time.Duration, string, Selection) error {
		called = true
		return nil
	}

	submitter := NewSubmitter(0, true, testLogger())

	sel := validSelection()
	sel.ContactNumber = ""
	if err := submitter.Submit(context.Background(), "https://forms.example/viewform", sel); err == nil {
		t.Fatalf("expected validation error")
	}
	if called {
		t.Fatalf("browser must not run for an invalid selection")
	}

	if err := submitter.Submit(context.Background(), "", validSelection()); err == nil {
		t.Fatalf("expected error for missing form url")
	}
	if called {
		t.Fatalf("browser must not run without a form url")
	}
}

func TestSubmitWrapsBrowserErrors(t *testing.T) {
	orig := runBrowser
	defer func() { runBrowser = orig }()

	runBrowser = func(context.Context, bool, time.Duration, string, Selection) error {
		return ErrNoConfirmation
	}

	submitter := NewSubmitter(0, true, testLogger())
	err := submitter.Submit(context.Background(), "https://forms.example/viewform", validSelection())
	if !errors.Is(err, ErrNoConfirmation) {
		t.Fatalf("expected ErrNoConfirmation, got %v", err)
	}
}

func TestSubmitSucceeds(t *testing.T) {
	orig := runBrowser
	defer func() { runBrowser = orig }()

	var gotURL string
	var gotSel Selection
	runBrowser = func(_ context.Context, _ bool, _ time.Duration, formURL string, sel Selection) error {
		gotURL = formURL
		gotSel = sel
		return nil
	}

	submitter := NewSubmitter(0, true, testLogger())
	if err := submitter.Submit(context.Background(), "https://forms.example/viewform", validSelection()); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if gotURL != "https://forms.example/viewform" {
		t.Fatalf("expected form url to be passed through, got %q", gotURL)
	}
	if gotSel.Option.Label != "MENÚ 1" {
		t.Fatalf("expected selection to be passed through, got %+v", gotSel)
	}
}

func TestFormScriptsEmbedParameters(t *testing.T) {
	js := openListboxJS(1)
	if !strings.Contains(js, "boxes[1]") {
		t.Fatalf("expected listbox index in script, got %s", js)
	}

	js = pickQuantityJS(2)
	if !strings.Contains(js, `"2"`) {
		t.Fatalf("expected quantity literal in script, got %s", js)
	}
}
