// Package render turns the backend's markdown-lite bot text into styled
// terminal output. The markup is not CommonMark: it mixes **bold**,
// ***bold-large***, ^^large^^, [label](url) links and literal \n escapes, and
// payment/invoice links become labeled buttons.
package render

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	tokenRe   = regexp.MustCompile(`\*\*\*[^*]+\*\*\*|\*\*[^*]+\*\*|\^\^[^^]+\^\^|\[[^\]]+\]\(https?://[^\s)]+\)|\n`)
	linkRe    = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\s)]+)\)`)
	bareURLRe = regexp.MustCompile(`^https?://\S+$`)
	paymentRe = regexp.MustCompile(`(?i)(xendit|stripe|paypal|checkout|paystack)`)
	invoiceRe = regexp.MustCompile(`(?i)(invoice|receipt|pdf|\.pdf)`)
)

const emptyText = "Sorry, no message content available."

// Renderer styles bot messages for the terminal.
type Renderer struct {
	bold      lipgloss.Style
	boldLarge lipgloss.Style
	large     lipgloss.Style
	link      lipgloss.Style
	button    lipgloss.Style
}

func New() *Renderer {
	return &Renderer{
		bold:      lipgloss.NewStyle().Bold(true),
		boldLarge: lipgloss.NewStyle().Bold(true).Underline(true),
		large:     lipgloss.NewStyle().Underline(true),
		link:      lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("12")),
		button:    lipgloss.NewStyle().Bold(true).Reverse(true).Padding(0, 1),
	}
}

// Render expands the markdown-lite tokens of one bot message.
func (r *Renderer) Render(text string) string {
	if strings.TrimSpace(text) == "" {
		return emptyText
	}
	// Escaped newlines arrive literally from the backend.
	text = strings.ReplaceAll(text, `\n`, "\n")

	var b strings.Builder
	last := 0
	for _, loc := range tokenRe.FindAllStringIndex(text, -1) {
		r.renderPlain(&b, text[last:loc[0]])
		r.renderToken(&b, text[loc[0]:loc[1]])
		last = loc[1]
	}
	r.renderPlain(&b, text[last:])
	return b.String()
}

func (r *Renderer) renderPlain(b *strings.Builder, part string) {
	if part == "" {
		return
	}
	// Leftover markdown debris: a dangling "link" label or a bare URL whose
	// anchor was already rendered.
	if strings.TrimSpace(part) == "link" || bareURLRe.MatchString(strings.TrimSpace(part)) {
		return
	}
	b.WriteString(part)
}

func (r *Renderer) renderToken(b *strings.Builder, tok string) {
	switch {
	case tok == "\n":
		b.WriteString("\n")
	case strings.HasPrefix(tok, "***") && strings.HasSuffix(tok, "***"):
		b.WriteString(r.boldLarge.Render(tok[3 : len(tok)-3]))
	case strings.HasPrefix(tok, "**") && strings.HasSuffix(tok, "**"):
		b.WriteString(r.bold.Render(tok[2 : len(tok)-2]))
	case strings.HasPrefix(tok, "^^") && strings.HasSuffix(tok, "^^"):
		b.WriteString(r.large.Render(tok[2 : len(tok)-2]))
	default:
		if m := linkRe.FindStringSubmatch(tok); m != nil {
			b.WriteString(r.renderLink(m[1], m[2]))
			return
		}
		b.WriteString(tok)
	}
}

func (r *Renderer) renderLink(label, url string) string {
	switch {
	case paymentRe.MatchString(url):
		return fmt.Sprintf("%s %s", r.button.Render("💳 Pay Now"), r.link.Render(url))
	case invoiceRe.MatchString(url):
		return fmt.Sprintf("%s %s", r.button.Render("📄 Download Invoice"), r.link.Render(url))
	default:
		return fmt.Sprintf("%s (%s)", label, r.link.Render(url))
	}
}
