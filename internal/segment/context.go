package segment

import (
	"math"

	"github.com/shortontech/gosegment/internal/event"
)

// BuildContext converts the ambient context of an event into the Segment
// context object. Empty source fields are dropped, and each nested object is
// attached only when at least one of its own fields survived.
func BuildContext(c event.Context) Context {
	return Context{
		Page:      buildPage(c.Page),
		Campaign:  buildCampaign(c.Campaign),
		OS:        buildOS(c.Client),
		Screen:    buildScreen(c.Client),
		IP:        optional(c.Client.IP),
		Locale:    optional(c.Client.Locale),
		Timezone:  optional(c.Client.Timezone),
		UserAgent: optional(c.Client.UserAgent),
	}
}

func buildPage(p event.PageData) *PageContext {
	page := &PageContext{
		Title:    optional(p.Title),
		URL:      optional(p.URL),
		Path:     optional(p.Path),
		Referrer: optional(p.Referrer),
		Search:   optional(p.Search),
	}
	if page.empty() {
		return nil
	}
	return page
}

func buildCampaign(c event.Campaign) *Campaign {
	campaign := &Campaign{
		Name:    optional(c.Name),
		Source:  optional(c.Source),
		Medium:  optional(c.Medium),
		Term:    optional(c.Term),
		Content: optional(c.Content),
	}
	if campaign.empty() {
		return nil
	}
	return campaign
}

func buildOS(c event.Client) *OS {
	os := &OS{
		Name:    optional(c.OSName),
		Version: optional(c.OSVersion),
	}
	if os.empty() {
		return nil
	}
	return os
}

// Negative dimensions and non-finite densities cannot be real screens and are
// treated as absent.
func buildScreen(c event.Client) *Screen {
	screen := &Screen{}
	if c.ScreenWidth > 0 {
		w := c.ScreenWidth
		screen.Width = &w
	}
	if c.ScreenHeight > 0 {
		h := c.ScreenHeight
		screen.Height = &h
	}
	if d := c.ScreenDensity; d != 0 && !math.IsNaN(d) && !math.IsInf(d, 0) {
		screen.Density = &d
	}
	if screen.empty() {
		return nil
	}
	return screen
}

// mergePage lets the non-empty fields of a page event override what the
// ambient context said about the page.
func (c *Context) mergePage(p event.PageData) {
	page := c.Page
	if page == nil {
		page = &PageContext{}
	}
	setIf(&page.Title, p.Title)
	setIf(&page.URL, p.URL)
	setIf(&page.Path, p.Path)
	setIf(&page.Referrer, p.Referrer)
	setIf(&page.Search, p.Search)
	if page.empty() {
		c.Page = nil
		return
	}
	c.Page = page
}

func setIf(dst **string, v string) {
	if v != "" {
		*dst = &v
	}
}
