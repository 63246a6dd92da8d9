package capture

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// renderer converts a rendered article's HTML into the markdown artifact.
type renderer struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
}

func newRenderer() *renderer {
	// Keep document structure, drop scripts, trackers, and event handlers.
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("article", "section", "figure", "figcaption")

	return &renderer{
		policy: policy,
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// render sanitizes the HTML and converts it to markdown. When conversion
// fails or produces nothing, the fallback (typically text recovered from
// the PDF) is returned instead.
func (r *renderer) render(html, pageURL, fallback string) string {
	if strings.TrimSpace(html) == "" {
		return strings.TrimSpace(fallback)
	}

	clean := r.policy.Sanitize(html)
	md, err := r.conv.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil || strings.TrimSpace(md) == "" {
		return strings.TrimSpace(fallback)
	}
	return strings.TrimSpace(md)
}
