package tracking

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/assets"
)

// URLs carries the signed tracking URLs for one recipient. Any empty
// field (tracking disabled) skips its injection step.
type URLs struct {
	OpenPixel   string
	Unsubscribe string
	// Click maps a destination URL to its signed redirect, or returns
	// "" to leave the anchor untouched.
	Click func(destination string) string
}

var (
	hrefRe  = regexp.MustCompile(`(?i)href\s*=\s*("([^"]*)"|'([^']*)')`)
	assetRe = regexp.MustCompile(`\{asset:([A-Za-z0-9_\-.]+)\}`)
)

// Rewriter injects tracking markup and resolved assets into campaign
// HTML. Rewriting is regex based; the narrow interface keeps the
// sender's control flow independent of the implementation.
type Rewriter struct{}

// InjectTracking appends the open pixel and unsubscribe footer and
// rewrites every absolute http(s) anchor href into its signed
// click-redirect. mailto:, tel:, fragment, and script URLs are left
// untouched.
func (Rewriter) InjectTracking(html string, urls URLs) string {
	if urls.Click != nil {
		html = hrefRe.ReplaceAllStringFunc(html, func(match string) string {
			sub := hrefRe.FindStringSubmatch(match)
			dest := sub[2]
			quote := `"`
			if dest == "" && sub[3] != "" {
				dest = sub[3]
				quote = `'`
			}
			if !isTrackableURL(dest) {
				return match
			}
			signed := urls.Click(dest)
			if signed == "" {
				return match
			}
			return "href=" + quote + signed + quote
		})
	}

	if urls.Unsubscribe != "" {
		html += fmt.Sprintf(
			`<p style="font-size:12px;color:#888;text-align:center;margin-top:24px">`+
				`<a href="%s">Unsubscribe</a></p>`, urls.Unsubscribe)
	}

	if urls.OpenPixel != "" {
		html += fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none">`, urls.OpenPixel)
	}

	return html
}

// InjectAssets resolves {asset:name} placeholders against the job's
// pre-fetched bundle. Inline-embedded assets reference their cid; the
// rest link the original URL. Unknown placeholders are dropped.
func (Rewriter) InjectAssets(html string, bundle *assets.Bundle) string {
	if bundle == nil || len(bundle.InlineAssets) == 0 {
		return assetRe.ReplaceAllString(html, "")
	}

	byName := make(map[string]*assets.InlineAsset, len(bundle.InlineAssets))
	for i := range bundle.InlineAssets {
		byName[bundle.InlineAssets[i].Name] = &bundle.InlineAssets[i]
	}

	return assetRe.ReplaceAllStringFunc(html, func(match string) string {
		name := assetRe.FindStringSubmatch(match)[1]
		a, ok := byName[name]
		if !ok {
			return ""
		}
		return a.ImgTag()
	})
}

func isTrackableURL(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
