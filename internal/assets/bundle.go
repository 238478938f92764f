package assets

import (
	"fmt"
	"strings"
)

// InlineAsset is an image placed inside the campaign body. Inline
// assets are embedded into the message (referenced by cid); the rest
// are linked by URL.
type InlineAsset struct {
	Name        string `db:"name"`
	URL         string `db:"url"`
	ContentType string `db:"content_type"`
	Width       int    `db:"width"`
	Align       string `db:"align"`
	Inline      bool   `db:"inline"`
	Data        []byte `db:"-"`
}

// Attachment is a file carried with the message unchanged.
type Attachment struct {
	Filename    string `db:"filename"`
	URL         string `db:"url"`
	ContentType string `db:"content_type"`
	Data        []byte `db:"-"`
}

// Bundle is the resolved set of attachments and inline images for one
// campaign, fetched once per job run and reused across all items.
type Bundle struct {
	CampaignID   string
	InlineAssets []InlineAsset
	Attachments  []Attachment
}

// CID returns the content id used when the asset is embedded.
func (a *InlineAsset) CID() string {
	return a.Name
}

// ImgTag renders the asset's img element with its placement metadata.
func (a *InlineAsset) ImgTag() string {
	src := a.URL
	if a.Inline {
		src = "cid:" + a.CID()
	}

	var b strings.Builder
	b.WriteString(`<img src="` + src + `" alt="` + a.Name + `"`)
	if a.Width > 0 {
		b.WriteString(fmt.Sprintf(` width="%d"`, a.Width))
	}
	switch a.Align {
	case "center":
		b.WriteString(` style="display:block;margin:0 auto"`)
	case "left", "right":
		b.WriteString(` align="` + a.Align + `"`)
	}
	b.WriteString(">")
	return b.String()
}
