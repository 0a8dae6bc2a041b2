// Package providers turns workspace state into the plain-text context
// snapshots that get spliced into a background task's prompt. Each provider
// covers one named context need.
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/daybreak-ai/daybreak/internal/persistence"
)

// Provider renders one context snapshot.
type Provider interface {
	Name() string
	Snapshot(ctx context.Context) (string, error)
}

// Registry maps context-need names to providers.
type Registry struct {
	providers map[string]Provider
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger, providers ...Provider) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{providers: make(map[string]Provider), logger: logger}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// aliases maps accepted alternate spellings onto canonical provider names.
var aliases = map[string]string{
	"emails": "email",
	"todos":  "tasks",
}

// Assemble renders all requested needs into one labeled context document.
// Unknown needs and provider failures are logged and skipped; a run with no
// usable context gets an explicit placeholder rather than an empty string.
func (r *Registry) Assemble(ctx context.Context, needs []string) string {
	var sections []string
	for _, need := range needs {
		if canon, ok := aliases[need]; ok {
			need = canon
		}
		p, ok := r.providers[need]
		if !ok {
			r.logger.Warn("providers: unknown context need", "need", need)
			continue
		}
		text, err := p.Snapshot(ctx)
		if err != nil {
			r.logger.Warn("providers: snapshot failed", "need", need, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("## %s\n%s", need, strings.TrimSpace(text)))
	}
	if len(sections) == 0 {
		return "No context available."
	}
	return strings.Join(sections, "\n\n")
}

// StoreProviders returns the standard set backed by the local store.
func StoreProviders(store *persistence.Store) []Provider {
	return []Provider{
		&calendarProvider{store: store},
		&todoProvider{store: store},
		&goalProvider{store: store},
		&reminderProvider{store: store},
		&noteProvider{store: store},
		&emailProvider{store: store},
		&themeProvider{store: store},
	}
}

type calendarProvider struct{ store *persistence.Store }

func (p *calendarProvider) Name() string { return "calendar" }

func (p *calendarProvider) Snapshot(ctx context.Context) (string, error) {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	events, err := p.store.CalendarEventsInRange(ctx, dayStart, dayStart.AddDate(0, 0, 2))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "- %s to %s: %s\n",
			e.StartAt.Local().Format("Mon 15:04"), e.EndAt.Local().Format("15:04"), e.Title)
	}
	return b.String(), nil
}

type todoProvider struct{ store *persistence.Store }

func (p *todoProvider) Name() string { return "tasks" }

func (p *todoProvider) Snapshot(ctx context.Context) (string, error) {
	todos, err := p.store.ListTodoTasks(ctx, false)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, t := range todos {
		line := "- " + t.Title
		if t.DueAt != nil {
			line += " (due " + t.DueAt.Local().Format("Jan 2 15:04") + ")"
		}
		b.WriteString(line + "\n")
	}
	return b.String(), nil
}

type goalProvider struct{ store *persistence.Store }

func (p *goalProvider) Name() string { return "goals" }

func (p *goalProvider) Snapshot(ctx context.Context) (string, error) {
	goals, err := p.store.ListGoals(ctx, time.Now().AddDate(0, 0, -1))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, g := range goals {
		mark := "[ ]"
		if g.Completed {
			mark = "[x]"
		}
		fmt.Fprintf(&b, "- %s %s\n", mark, g.Title)
	}
	return b.String(), nil
}

type reminderProvider struct{ store *persistence.Store }

func (p *reminderProvider) Name() string { return "reminders" }

func (p *reminderProvider) Snapshot(ctx context.Context) (string, error) {
	reminders, err := p.store.ListReminders(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, r := range reminders {
		line := "- " + r.Title
		if r.DueAt != nil {
			line += " (due " + r.DueAt.Local().Format("Jan 2 15:04") + ")"
		}
		b.WriteString(line + "\n")
	}
	return b.String(), nil
}

type noteProvider struct{ store *persistence.Store }

func (p *noteProvider) Name() string { return "notes" }

func (p *noteProvider) Snapshot(ctx context.Context) (string, error) {
	notes, err := p.store.RecentNotes(ctx, 10)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, n := range notes {
		title := n.Title
		if title == "" {
			title = snippetLine(n.Body)
		}
		b.WriteString("- " + title + "\n")
	}
	return b.String(), nil
}

type emailProvider struct{ store *persistence.Store }

func (p *emailProvider) Name() string { return "email" }

func (p *emailProvider) Snapshot(ctx context.Context) (string, error) {
	emails, err := p.store.UnreadEmails(ctx, 15)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, e := range emails {
		prefix := "- "
		if e.Important {
			prefix = "- [important] "
		}
		fmt.Fprintf(&b, "%s%s: %s\n", prefix, e.Address, e.Subject)
	}
	return b.String(), nil
}

type themeProvider struct{ store *persistence.Store }

func (p *themeProvider) Name() string { return "themes" }

func (p *themeProvider) Snapshot(ctx context.Context) (string, error) {
	themes, err := p.store.ListThemes(ctx, false)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, th := range themes {
		b.WriteString("- " + th.Name + "\n")
	}
	return b.String(), nil
}

func snippetLine(body string) string {
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[:i]
	}
	if len(body) > 80 {
		body = body[:80]
	}
	return body
}
