// Package challenge classifies pages as challenged or clean and waits for a
// human to resolve adversarial interstitials.
//
// Detection is pure: it operates on a Snapshot of the page (URL, title,
// HTML) and is deterministic for fixed content. Waiting is the opposite —
// it polls a live page indefinitely, because challenge resolution is
// delegated to a human and must not be abandoned prematurely.
package challenge

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Snapshot is a point-in-time view of a rendered page.
type Snapshot struct {
	URL   string
	Title string
	HTML  string
}

// Page is the live-page surface the Waiter polls. session.Session satisfies it.
type Page interface {
	// Snapshot captures the current URL, title, and serialized DOM.
	Snapshot(ctx context.Context) (*Snapshot, error)
	// Reload re-navigates the current URL.
	Reload(ctx context.Context) error
}

// VisibleText returns the rendered body text of a snapshot, scripts and
// styles excluded, whitespace collapsed.
func VisibleText(snap *Snapshot) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Find("body").Text()), " ")
}
