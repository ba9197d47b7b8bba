package responsive

import (
	"context"
	"sync"
)

type Level string

const (
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Message is a notice meant for the person looking at the rendered page,
// like an image that is too big to be processed
type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// Messages collects notices raised while rendering one page
type Messages struct {
	mu    sync.Mutex
	items []Message
}

func (m *Messages) add(level Level, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = append(m.items, Message{Level: level, Text: text})
}

func (m *Messages) All() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]Message, len(m.items))
	copy(result, m.items)

	return result
}

type messagesKey struct{}

// WithMessages attaches a collector the transformer enqueues notices into
func WithMessages(ctx context.Context, m *Messages) context.Context {
	return context.WithValue(ctx, messagesKey{}, m)
}

func enqueue(ctx context.Context, level Level, text string) {
	if m, ok := ctx.Value(messagesKey{}).(*Messages); ok && m != nil {
		m.add(level, text)
	}
}
