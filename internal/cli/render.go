package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
)

// Renderer prints chat state as plain text lines. It is safe for concurrent use since
// realtime messages arrive from store goroutines.
type Renderer struct {
	mu         sync.Mutex
	w          io.Writer
	timestamps bool
}

func NewRenderer(w io.Writer, timestamps bool) *Renderer {
	return &Renderer{w: w, timestamps: timestamps}
}

func (r *Renderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, format, args...)
}

func (r *Renderer) Notice(format string, args ...any) {
	r.printf("* "+format+"\n", args...)
}

func (r *Renderer) Error(err error) {
	r.printf("! %v\n", err)
}

func (r *Renderer) entryLine(e chat.Entry) string {
	var b strings.Builder
	if r.timestamps {
		b.WriteString("[" + e.Message.CreatedAt.UTC().Format("15:04") + "] ")
	}
	if e.IsSelf {
		b.WriteString("you")
	} else {
		b.WriteString(e.Message.SenderID)
	}
	b.WriteString(": ")
	b.WriteString(e.Message.Content)
	if e.IsProvisional() {
		b.WriteString(" (sending)")
	}
	return b.String()
}

func (r *Renderer) Entry(e chat.Entry) {
	r.printf("%s\n", r.entryLine(e))
}

// Change prints what a session observer reports. Own messages are printed once the store
// confirms them.
func (r *Renderer) Change(c chat.Change) {
	switch c.Kind {
	case chat.ChangeAppended:
		if !c.Entry.IsProvisional() {
			r.Entry(c.Entry)
		}
	case chat.ChangeConfirmed:
		r.Entry(c.Entry)
	case chat.ChangeRemoved:
		r.printf("! not sent: %s\n", c.Entry.Message.Content)
	case chat.ChangeDegraded:
		r.printf("! live updates lost, use /refresh or /resubscribe: %v\n", c.Err)
	}
}

func (r *Renderer) Session(header string, mode chat.Mode, entries []chat.Entry) {
	r.printf("-- %s (%s) --\n", header, mode)
	for _, e := range entries {
		r.Entry(e)
	}
}

// Title describes a conversation from selfID's point of view.
func Title(d domainchat.ConversationDetails, selfID string) string {
	others := make([]string, 0, len(d.Participants))
	for _, p := range d.Participants {
		if p.UserID == selfID {
			continue
		}
		if p.Name != "" {
			others = append(others, p.Name)
		} else {
			others = append(others, p.UserID)
		}
	}
	title := "chat with " + strings.Join(others, ", ")
	if len(others) == 0 {
		title = "chat"
	}
	if d.Title != "" {
		title = d.Title + ", " + title
	}
	if d.ListingID != "" {
		title += fmt.Sprintf(" [%s %s]", d.ListingKind, d.ListingID)
	}
	return title
}

func (r *Renderer) Inbox(items []domainchat.ConversationDetails, selfID string) {
	if len(items) == 0 {
		r.Notice("no conversations")
		return
	}
	for i, d := range items {
		r.printf("%d. %s\n", i+1, Title(d, selfID))
	}
}
