package tracking

import (
	"strings"
	"testing"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/assets"
	"github.com/stretchr/testify/assert"
)

func clickStub(dest string) string {
	return "https://track.example.com/t/click?u=" + dest
}

func TestInjectTracking_RewritesLinks(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "absolute http link",
			html: `<a href="http://example.com/sale">Sale</a>`,
			want: `<a href="https://track.example.com/t/click?u=http://example.com/sale">Sale</a>`,
		},
		{
			name: "absolute https link single quotes",
			html: `<a href='https://example.com/sale'>Sale</a>`,
			want: `<a href='https://track.example.com/t/click?u=https://example.com/sale'>Sale</a>`,
		},
		{
			name: "uppercase HREF",
			html: `<a HREF="https://example.com">x</a>`,
			want: `<a href="https://track.example.com/t/click?u=https://example.com">x</a>`,
		},
		{
			name: "mailto untouched",
			html: `<a href="mailto:sales@example.com">Mail us</a>`,
			want: `<a href="mailto:sales@example.com">Mail us</a>`,
		},
		{
			name: "tel untouched",
			html: `<a href="tel:+302101234567">Call</a>`,
			want: `<a href="tel:+302101234567">Call</a>`,
		},
		{
			name: "fragment untouched",
			html: `<a href="#top">Top</a>`,
			want: `<a href="#top">Top</a>`,
		},
		{
			name: "javascript untouched",
			html: `<a href="javascript:void(0)">x</a>`,
			want: `<a href="javascript:void(0)">x</a>`,
		},
	}

	var rw Rewriter
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rw.InjectTracking(tt.html, URLs{Click: clickStub})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInjectTracking_PixelAndFooter(t *testing.T) {
	var rw Rewriter

	got := rw.InjectTracking("<p>Hello</p>", URLs{
		OpenPixel:   "https://track.example.com/t/open?s=abc",
		Unsubscribe: "https://track.example.com/t/unsubscribe?s=def",
	})

	assert.True(t, strings.HasPrefix(got, "<p>Hello</p>"))
	assert.Contains(t, got, `<img src="https://track.example.com/t/open?s=abc" width="1" height="1"`)
	assert.Contains(t, got, `<a href="https://track.example.com/t/unsubscribe?s=def">Unsubscribe</a>`)

	// Footer comes before the pixel.
	assert.Less(t, strings.Index(got, "Unsubscribe"), strings.Index(got, `width="1"`))
}

func TestInjectTracking_Disabled(t *testing.T) {
	var rw Rewriter

	html := `<p>Hi</p><a href="https://example.com">x</a>`
	got := rw.InjectTracking(html, URLs{})

	assert.Equal(t, html, got)
}

func TestInjectAssets(t *testing.T) {
	var rw Rewriter

	bundle := &assets.Bundle{
		InlineAssets: []assets.InlineAsset{
			{Name: "logo.png", URL: "https://cdn.example.com/logo.png", Inline: true, Width: 200, Align: "center"},
			{Name: "banner.jpg", URL: "https://cdn.example.com/banner.jpg", Inline: false},
		},
	}

	html := `{asset:logo.png}<p>Hello</p>{asset:banner.jpg}{asset:missing.png}`
	got := rw.InjectAssets(html, bundle)

	assert.Contains(t, got, `src="cid:logo.png"`)
	assert.Contains(t, got, `width="200"`)
	assert.Contains(t, got, `src="https://cdn.example.com/banner.jpg"`)
	assert.NotContains(t, got, "{asset:")
}

func TestInjectAssets_NilBundle(t *testing.T) {
	var rw Rewriter

	got := rw.InjectAssets(`<p>Hi</p>{asset:logo.png}`, nil)

	assert.Equal(t, "<p>Hi</p>", got)
}
