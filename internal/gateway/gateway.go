package gateway

import (
	"context"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// Messenger defines the interface for communication gateways (Telegram, Discord, etc.)
type Messenger interface {
	// Name identifies the channel in logs, metrics and recipient keys.
	Name() string
	// Start begins the message listening loop and blocks until ctx is done.
	Start(ctx context.Context) error
	// Send sends an HTML-formatted message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// Incoming is a command message received from a chat.
type Incoming struct {
	Channel  string
	ChatID   string
	UserID   int64
	UserName string
	Text     string
	// Document is set when the message carries a file instead of text.
	Document *Document
}

// Document is an uploaded file reference.
type Document struct {
	FileID   string
	FileName string
}

// Handler answers an incoming message with an HTML reply. An empty reply
// sends nothing.
type Handler interface {
	Handle(ctx context.Context, msg Incoming) string
}

var strict = bluemonday.StrictPolicy()

// EscapeHTML makes free text safe to embed in an HTML-mode message. Markup in
// the input is dropped.
func EscapeHTML(s string) string {
	return strict.Sanitize(s)
}

// StripHTML turns an HTML-mode message into plain text.
func StripHTML(s string) string {
	return html.UnescapeString(strict.Sanitize(s))
}

// MaxMessageLen is Telegram's limit per message, in characters.
const MaxMessageLen = 4096

// Split cuts text into chunks of at most limit runes, preferring line breaks.
// Tags and entities are never cut, and every chunk is balanced: tags open at
// a cut are closed at the end of one chunk and reopened at the next.
func Split(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	c := &chunker{limit: limit}
	for _, a := range atoms(text) {
		c.add(a)
	}
	c.emit(c.b.String(), c.open)
	return c.chunks
}

type openTag struct {
	name string
	raw  string
}

type chunker struct {
	limit  int
	chunks []string
	b      strings.Builder
	count  int
	open   []openTag
	// Last line break in the current chunk.
	brk     int
	brkOpen []openTag
}

func (c *chunker) add(a string) {
	n := utf8.RuneCountInString(a)
	next := applyTag(c.open, a)
	if c.count+n+closersLen(next) > c.limit && c.count > reopenLen(c.open) {
		if c.brk > 0 {
			c.cutAtBreak()
			next = applyTag(c.open, a)
		}
		if c.count+n+closersLen(next) > c.limit && c.count > reopenLen(c.open) {
			c.emit(c.b.String(), c.open)
			c.restart(c.open, "")
			next = applyTag(c.open, a)
		}
	}
	c.b.WriteString(a)
	c.count += n
	c.open = next
	if a == "\n" {
		c.brk = c.b.Len()
		c.brkOpen = append([]openTag(nil), c.open...)
	}
}

func (c *chunker) cutAtBreak() {
	s := c.b.String()
	head, tail := s[:c.brk], s[c.brk:]
	open := c.open
	c.emit(head, c.brkOpen)
	c.restart(c.brkOpen, tail)
	c.open = open
}

func (c *chunker) emit(body string, open []openTag) {
	if strings.TrimSpace(StripHTML(body)) == "" && len(c.chunks) > 0 {
		return
	}
	var b strings.Builder
	b.WriteString(body)
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString("</" + open[i].name + ">")
	}
	c.chunks = append(c.chunks, b.String())
}

// restart begins a new chunk with the given tags reopened, followed by rest.
func (c *chunker) restart(open []openTag, rest string) {
	c.b.Reset()
	for _, t := range open {
		c.b.WriteString(t.raw)
	}
	c.b.WriteString(rest)
	c.count = utf8.RuneCountInString(c.b.String())
	c.open = append([]openTag(nil), open...)
	c.brk, c.brkOpen = 0, nil
}

// atoms splits HTML text into tags, entities and single runes.
func atoms(text string) []string {
	var out []string
	for i := 0; i < len(text); {
		switch text[i] {
		case '<':
			if j := strings.IndexByte(text[i:], '>'); j > 0 {
				out = append(out, text[i:i+j+1])
				i += j + 1
				continue
			}
		case '&':
			if j := strings.IndexByte(text[i:], ';'); j > 0 && j <= 10 && !strings.ContainsAny(text[i+1:i+j], " &<") {
				out = append(out, text[i:i+j+1])
				i += j + 1
				continue
			}
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		out = append(out, text[i:i+size])
		i += size
	}
	return out
}

// applyTag returns the open-tag stack after atom a.
func applyTag(open []openTag, a string) []openTag {
	if len(a) < 3 || a[0] != '<' || a[len(a)-1] != '>' {
		return open
	}
	inner := strings.TrimSpace(a[1 : len(a)-1])
	if strings.HasPrefix(inner, "/") {
		name := strings.ToLower(strings.TrimSpace(inner[1:]))
		for i := len(open) - 1; i >= 0; i-- {
			if open[i].name == name {
				return append([]openTag(nil), open[:i]...)
			}
		}
		return open
	}
	if strings.HasSuffix(inner, "/") {
		return open
	}
	name := inner
	if k := strings.IndexAny(inner, " \t\n"); k >= 0 {
		name = inner[:k]
	}
	out := append([]openTag(nil), open...)
	return append(out, openTag{name: strings.ToLower(name), raw: a})
}

func closersLen(open []openTag) int {
	n := 0
	for _, t := range open {
		n += len(t.name) + 3
	}
	return n
}

func reopenLen(open []openTag) int {
	n := 0
	for _, t := range open {
		n += utf8.RuneCountInString(t.raw)
	}
	return n
}
