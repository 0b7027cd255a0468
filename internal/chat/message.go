package chat

import "strings"

// renderBudget caps the rendered message body. Chat platforms reject
// oversized messages outright, so we cut early and mark the cut.
const (
	renderBudget    = 3500
	truncatedMarker = "… [truncated]"
)

// Field is one key-value line in a rendered message.
type Field struct {
	Key   string
	Value string
}

// Message is a structured notification before platform-specific encoding.
type Message struct {
	Title    string
	Priority int // 0 low .. 10 high
	Fields   []Field
	Body     string
}

func (m Message) WithField(key, value string) Message {
	if strings.TrimSpace(value) == "" {
		return m
	}
	m.Fields = append(append([]Field(nil), m.Fields...), Field{Key: key, Value: value})
	return m
}

// Render flattens the message to plain text within the byte budget.
func (m Message) Render() string {
	var b strings.Builder
	b.WriteString(priorityTag(m.Priority))
	b.WriteString(m.Title)
	for _, f := range m.Fields {
		b.WriteString("\n")
		b.WriteString(f.Key)
		b.WriteString(": ")
		b.WriteString(f.Value)
	}
	if m.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(m.Body)
	}
	return Truncate(b.String(), renderBudget)
}

func priorityTag(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "ℹ️ "
	default:
		return ""
	}
}

// Truncate cuts s at the given byte budget, appending an explicit marker and
// taking care not to split a UTF-8 sequence.
func Truncate(s string, budget int) string {
	if budget <= 0 || len(s) <= budget {
		return s
	}
	cut := budget - len(truncatedMarker)
	if cut <= 0 {
		return s[:budget]
	}
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut] + truncatedMarker
}
