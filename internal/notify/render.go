package notify

import (
	"fmt"
	"strings"

	"herald/internal/chat"
	"herald/internal/items"
)

// missedDeadlineRenderCap bounds how many items a missed-deadline digest
// lists; the remainder is only counted.
const missedDeadlineRenderCap = 10

// Render builds the structured message for an event. It tolerates missing
// item detail by falling back to the subject id.
func Render(ev Event) chat.Message {
	switch ev.Kind {
	case KindTaskCreated:
		return itemMessage("Task Created", 0, ev)
	case KindTaskDeleted:
		return itemMessage("Task Deleted", 0, ev)
	case KindTaskCompleted:
		return itemMessage("Task Completed", 5, ev)
	case KindTaskReassigned:
		m := itemMessage("Task Reassigned", 0, ev)
		m = m.WithField("From", ev.OldValue)
		m = m.WithField("To", ev.NewValue)
		return m
	case KindTaskFieldChanged:
		m := itemMessage("Task Updated", 0, ev)
		m = m.WithField("Field", ev.Field)
		m = m.WithField("Old", ev.OldValue)
		m = m.WithField("New", ev.NewValue)
		return m
	case KindProjectCreated:
		return chat.Message{Title: "Project Created"}.
			WithField("Project", subjectLabel(ev)).
			WithField("ID", ev.SubjectID)
	case KindDueSoon:
		return dueSoonDigest(ev)
	case KindMissedDeadline:
		return missedDeadlineDigest(ev)
	default:
		return chat.Message{Title: string(ev.Kind)}
	}
}

func itemMessage(title string, priority int, ev Event) chat.Message {
	m := chat.Message{Title: title, Priority: priority}
	m = m.WithField("Task", subjectLabel(ev))
	if ev.Item != nil {
		m = m.WithField("Due", ev.Item.DueOn)
		if ev.Item.Assignee != nil {
			m = m.WithField("Assignee", ev.Item.Assignee.Name)
		}
	}
	m = m.WithField("ID", ev.SubjectID)
	return m
}

func subjectLabel(ev Event) string {
	if ev.SubjectName != "" {
		return ev.SubjectName
	}
	if ev.Item != nil && ev.Item.Name != "" {
		return ev.Item.Name
	}
	return ev.SubjectID
}

func dueSoonDigest(ev Event) chat.Message {
	var b strings.Builder
	for _, it := range ev.Items {
		fmt.Fprintf(&b, "• %s — due %s%s\n", it.Name, it.DueOn, assigneeSuffix(it))
	}
	return chat.Message{
		Title:    fmt.Sprintf("Due within 24 hours (%d)", len(ev.Items)),
		Priority: 7,
		Body:     strings.TrimRight(b.String(), "\n"),
	}
}

func missedDeadlineDigest(ev Event) chat.Message {
	var b strings.Builder
	shown := ev.Items
	if len(shown) > missedDeadlineRenderCap {
		shown = shown[:missedDeadlineRenderCap]
	}
	for _, it := range shown {
		fmt.Fprintf(&b, "• %s — was due %s%s\n", it.Name, it.DueOn, assigneeSuffix(it))
	}
	if rest := len(ev.Items) - len(shown); rest > 0 {
		fmt.Fprintf(&b, "…and %d more\n", rest)
	}
	return chat.Message{
		Title:    fmt.Sprintf("Missed Deadlines (%d)", len(ev.Items)),
		Priority: 9,
		Body:     strings.TrimRight(b.String(), "\n"),
	}
}

func assigneeSuffix(it items.Item) string {
	if it.Assignee == nil || it.Assignee.Name == "" {
		return ""
	}
	return " (" + it.Assignee.Name + ")"
}

// renderReminder is the personalized direct message for one due-soon candidate.
func renderReminder(it items.Item, interval Interval) chat.Message {
	return chat.Message{Title: "Due Date Reminder", Priority: 5}.
		WithField("Task", it.Name).
		WithField("Due", it.DueOn).
		WithField("Window", reminderWindowLabel(interval))
}

// renderAssignment is the personalized direct message for a new assignee.
func renderAssignment(ev Event) chat.Message {
	m := chat.Message{Title: "Task Assigned To You", Priority: 5}
	m = m.WithField("Task", subjectLabel(ev))
	if ev.Item != nil {
		m = m.WithField("Due", ev.Item.DueOn)
	}
	m = m.WithField("ID", ev.SubjectID)
	return m
}

func reminderWindowLabel(i Interval) string {
	switch i {
	case IntervalHour:
		return "within 1 hour"
	case IntervalDay:
		return "within 1 day"
	case IntervalWeek:
		return "within 1 week"
	default:
		return string(i)
	}
}
