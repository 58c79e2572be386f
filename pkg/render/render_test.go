package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Styling may be stripped when there is no TTY, so assertions check the
// surviving text rather than escape sequences.

func TestRenderEmptyMessage(t *testing.T) {
	r := New()
	assert.Equal(t, emptyText, r.Render(""))
	assert.Equal(t, emptyText, r.Render("   "))
}

func TestRenderPlainTextPassesThrough(t *testing.T) {
	r := New()
	assert.Contains(t, r.Render("Your trip is booked."), "Your trip is booked.")
}

func TestRenderExpandsEscapedNewlines(t *testing.T) {
	r := New()
	out := r.Render(`Day 1: Ubud\nDay 2: Seminyak`)
	lines := strings.Split(out, "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Day 1: Ubud")
	assert.Contains(t, lines[1], "Day 2: Seminyak")
}

func TestRenderMarkupTokens(t *testing.T) {
	r := New()
	for _, tc := range []struct{ in, want string }{
		{"**Total:** 500k IDR", "Total:"},
		{"***Itinerary***", "Itinerary"},
		{"^^Important^^ note", "Important"},
	} {
		out := r.Render(tc.in)
		assert.Contains(t, out, tc.want)
		assert.NotContains(t, out, "**")
		assert.NotContains(t, out, "^^")
	}
}

func TestRenderRegularLink(t *testing.T) {
	r := New()
	out := r.Render("See [the guide](https://example.com/guide) for details")
	assert.Contains(t, out, "the guide")
	assert.Contains(t, out, "https://example.com/guide")
	assert.NotContains(t, out, "](")
}

func TestRenderPaymentLinkBecomesButton(t *testing.T) {
	r := New()
	out := r.Render("Pay here: [link](https://checkout.xendit.co/web/abc123)")
	assert.Contains(t, out, "💳 Pay Now")
	assert.Contains(t, out, "https://checkout.xendit.co/web/abc123")
	// The dangling "link" label is debris, not content.
	assert.NotContains(t, out, "[link]")
}

func TestRenderInvoiceLinkBecomesButton(t *testing.T) {
	r := New()
	out := r.Render("[your receipt](https://files.example.com/invoice-77.pdf)")
	assert.Contains(t, out, "📄 Download Invoice")
}

func TestRenderDropsBareURLDebris(t *testing.T) {
	r := New()
	out := r.Render("https://example.com/already-rendered")
	assert.NotContains(t, out, "example.com")
	// A URL embedded in prose is kept.
	out = r.Render("visit https://example.com today")
	assert.Contains(t, out, "https://example.com")
}

func TestRenderDropsDanglingLinkLabel(t *testing.T) {
	r := New()
	assert.Equal(t, "", r.Render("link"))
}
