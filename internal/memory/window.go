// Package memory holds the bounded conversation window used as classifier and
// synthesizer context.
package memory

import (
	"fmt"
	"strings"

	"github.com/xaenox/analyst-bot/internal/models"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 10

// Window is a fixed-capacity ring buffer over the most recent messages.
// The oldest message is evicted first. It is not safe for concurrent use;
// the orchestrator rebuilds one per turn.
type Window struct {
	buf   []models.Message
	start int
	size  int
}

// NewWindow creates an empty window holding at most capacity messages.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{buf: make([]models.Message, capacity)}
}

// FromMessages builds a window from a chronological message sequence.
func FromMessages(capacity int, msgs []models.Message) *Window {
	w := NewWindow(capacity)
	for _, m := range msgs {
		w.Push(m)
	}
	return w
}

// Push appends a message, evicting the oldest one when full.
func (w *Window) Push(m models.Message) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = m
		w.size++
		return
	}
	w.buf[w.start] = m
	w.start = (w.start + 1) % len(w.buf)
}

func (w *Window) Len() int {
	if w == nil {
		return 0
	}
	return w.size
}

func (w *Window) Cap() int {
	return len(w.buf)
}

// Messages returns the window content oldest first.
func (w *Window) Messages() []models.Message {
	if w == nil {
		return nil
	}
	out := make([]models.Message, 0, w.size)
	for i := 0; i < w.size; i++ {
		out = append(out, w.buf[(w.start+i)%len(w.buf)])
	}
	return out
}

// LastUserMessage returns the most recent user message, if any.
func (w *Window) LastUserMessage() (models.Message, bool) {
	if w == nil {
		return models.Message{}, false
	}
	for i := w.size - 1; i >= 0; i-- {
		m := w.buf[(w.start+i)%len(w.buf)]
		if m.Role == models.RoleUser {
			return m, true
		}
	}
	return models.Message{}, false
}

// Summary renders the window as "role: text" lines, each text cut to maxChars.
func (w *Window) Summary(maxChars int) string {
	msgs := w.Messages()
	if len(msgs) == 0 {
		return "(no previous messages)"
	}
	var b strings.Builder
	for _, m := range msgs {
		text := strings.Join(strings.Fields(m.Text), " ")
		if r := []rune(text); maxChars > 0 && len(r) > maxChars {
			text = string(r[:maxChars]) + "..."
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, text)
	}
	return strings.TrimRight(b.String(), "\n")
}
