// Package planner generates theme-block plans, applies them as drafts, and
// publishes the result to the calendar.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daybreak-ai/daybreak/internal/oplog"
	"github.com/daybreak-ai/daybreak/internal/otel"
	"github.com/daybreak-ai/daybreak/internal/persistence"
)

// ErrDraftNotFound distinguishes "no such draft" from "draft with zero
// proposals", which is a valid (if useless) apply.
var ErrDraftNotFound = errors.New("draft not found")

// CalendarPublisher creates an event on the user's external calendar and
// returns its id.
type CalendarPublisher interface {
	PublishEvent(ctx context.Context, title string, start, end time.Time) (string, error)
}

// BlockProposal is one suggested theme block inside a draft.
type BlockProposal struct {
	ThemeID   string    `json:"theme_id"`
	ThemeName string    `json:"theme_name"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
}

// PlanDraft is a generated plan awaiting apply. Drafts live in memory for
// the process lifetime; they are cheap and regenerating one is one call.
type PlanDraft struct {
	ID        string          `json:"id"`
	Proposals []BlockProposal `json:"proposals"`
	CreatedAt time.Time       `json:"created_at"`
}

// TimeOverride replaces a draft's proposed interval wholesale on apply.
// Start and End must be supplied together.
type TimeOverride struct {
	Start *time.Time
	End   *time.Time
}

// PublishResult reports per-block publish outcomes. Partial success is the
// expected shape, not an error.
type PublishResult struct {
	PublishedBlockIDs []string `json:"published_block_ids"`
	FailedBlockIDs    []string `json:"failed_block_ids"`
}

// Config tunes plan generation and apply validation.
type Config struct {
	MinLeadMinutes int // same-day blocks must start at least this far out
	BlockMinutes   int // default generated block length
	DayStartHour   int
	DayEndHour     int
}

// Service is the planning draft service.
type Service struct {
	cfg       Config
	store     *persistence.Store
	ledger    *oplog.Ledger
	publisher CalendarPublisher
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	drafts map[string]PlanDraft
}

func New(cfg Config, store *persistence.Store, ledger *oplog.Ledger, publisher CalendarPublisher, logger *slog.Logger) *Service {
	if cfg.MinLeadMinutes <= 0 {
		cfg.MinLeadMinutes = 15
	}
	if cfg.BlockMinutes <= 0 {
		cfg.BlockMinutes = 60
	}
	if cfg.DayStartHour <= 0 {
		cfg.DayStartHour = 9
	}
	if cfg.DayEndHour <= 0 || cfg.DayEndHour <= cfg.DayStartHour {
		cfg.DayEndHour = 18
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		drafts:    make(map[string]PlanDraft),
	}
}

// Draft returns a cached draft by id.
func (s *Service) Draft(draftID string) (PlanDraft, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[draftID]
	return d, ok
}

func (s *Service) storeDraft(d PlanDraft) {
	s.mu.Lock()
	s.drafts[d.ID] = d
	s.mu.Unlock()
}

// PlanDay proposes one block per unarchived theme across the free slots of
// the given date's working hours. Slots already taken by calendar events or
// existing blocks are skipped.
func (s *Service) PlanDay(ctx context.Context, date time.Time) (PlanDraft, error) {
	themes, err := s.store.ListThemes(ctx, false)
	if err != nil {
		return PlanDraft{}, fmt.Errorf("plan day: %w", err)
	}
	if len(themes) == 0 {
		draft := PlanDraft{ID: uuid.NewString(), CreatedAt: s.now().UTC()}
		s.storeDraft(draft)
		return draft, nil
	}

	busy, err := s.busyIntervals(ctx, date)
	if err != nil {
		return PlanDraft{}, fmt.Errorf("plan day: %w", err)
	}

	draft := PlanDraft{ID: uuid.NewString(), CreatedAt: s.now().UTC()}
	blockLen := time.Duration(s.cfg.BlockMinutes) * time.Minute
	cursor := s.dayStart(date)
	if min := s.now().Add(time.Duration(s.cfg.MinLeadMinutes) * time.Minute); cursor.Before(min) && sameDay(date, s.now()) {
		cursor = min.Truncate(15 * time.Minute).Add(15 * time.Minute)
	}
	dayEnd := s.dayEnd(date)

	for _, theme := range themes {
		start, end, ok := nextFreeSlot(cursor, dayEnd, blockLen, busy)
		if !ok {
			break
		}
		draft.Proposals = append(draft.Proposals, BlockProposal{
			ThemeID:   theme.ID,
			ThemeName: theme.Name,
			StartAt:   start,
			EndAt:     end,
		})
		busy = append(busy, interval{start, end})
		cursor = end
	}

	s.storeDraft(draft)
	s.logger.Info("planner: day draft created", "draft_id", draft.ID, "proposals", len(draft.Proposals))
	return draft, nil
}

// PlanWeek proposes blocks for five working days starting at startDate,
// cycling through the themes one block per day.
func (s *Service) PlanWeek(ctx context.Context, startDate time.Time) (PlanDraft, error) {
	themes, err := s.store.ListThemes(ctx, false)
	if err != nil {
		return PlanDraft{}, fmt.Errorf("plan week: %w", err)
	}
	draft := PlanDraft{ID: uuid.NewString(), CreatedAt: s.now().UTC()}
	if len(themes) == 0 {
		s.storeDraft(draft)
		return draft, nil
	}

	blockLen := time.Duration(s.cfg.BlockMinutes) * time.Minute
	for day := 0; day < 5; day++ {
		date := startDate.AddDate(0, 0, day)
		busy, err := s.busyIntervals(ctx, date)
		if err != nil {
			return PlanDraft{}, fmt.Errorf("plan week: %w", err)
		}
		theme := themes[day%len(themes)]
		start, end, ok := nextFreeSlot(s.dayStart(date), s.dayEnd(date), blockLen, busy)
		if !ok {
			continue
		}
		draft.Proposals = append(draft.Proposals, BlockProposal{
			ThemeID:   theme.ID,
			ThemeName: theme.Name,
			StartAt:   start,
			EndAt:     end,
		})
	}

	s.storeDraft(draft)
	s.logger.Info("planner: week draft created", "draft_id", draft.ID, "proposals", len(draft.Proposals))
	return draft, nil
}

// ApplyDraft turns a draft's proposals into stored theme blocks at the
// requested status. Overrides are keyed by theme name; the empty key applies
// to every proposal without a more specific entry. Any validation failure
// aborts the whole apply with no blocks created and a failed operation event.
func (s *Service) ApplyDraft(ctx context.Context, draftID string, status persistence.BlockStatus, overrides map[string]TimeOverride) ([]persistence.ThemeBlock, error) {
	ctx, span := otel.StartSpan(ctx, otel.Tracer(), "planner.apply_draft",
		otel.AttrDraftID.String(draftID))
	defer span.End()

	draft, ok := s.Draft(draftID)
	if !ok {
		s.ledger.Fail(ctx, "failed", "plan_draft", draftID, ErrDraftNotFound)
		return nil, fmt.Errorf("apply draft %s: %w", draftID, ErrDraftNotFound)
	}
	if status == "" {
		status = persistence.BlockPlanned
	}

	for _, ov := range overrides {
		ov := ov
		if err := s.validateOverride(&ov); err != nil {
			s.ledger.Fail(ctx, "failed", "plan_draft", draftID, err)
			return nil, fmt.Errorf("apply draft %s: %w", draftID, err)
		}
	}

	blocks := make([]persistence.ThemeBlock, 0, len(draft.Proposals))
	for _, p := range draft.Proposals {
		start, end := p.StartAt, p.EndAt
		if ov, ok := overrideFor(overrides, p.ThemeName); ok {
			start, end = *ov.Start, *ov.End
		}
		block, err := s.store.CreateThemeBlock(ctx, persistence.ThemeBlock{
			ThemeID: p.ThemeID,
			StartAt: start,
			EndAt:   end,
			Status:  status,
		})
		if err != nil {
			s.ledger.Fail(ctx, "failed", "theme_block", "", err)
			return blocks, fmt.Errorf("apply draft %s: %w", draftID, err)
		}
		blocks = append(blocks, block)
	}

	s.ledger.Record(ctx, oplog.Entry{
		Operation:  "created",
		EntityType: "theme_block",
		Message:    fmt.Sprintf("applied draft %s: %d blocks at %s", draftID, len(blocks), status),
		Payload:    map[string]string{"draft_id": draftID, "count": fmt.Sprint(len(blocks))},
	})
	return blocks, nil
}

// CreateBlock stores one block directly, subject to the same time validation
// as an apply override.
func (s *Service) CreateBlock(ctx context.Context, themeID string, start, end time.Time, status persistence.BlockStatus) (persistence.ThemeBlock, error) {
	if status == "" {
		status = persistence.BlockPlanned
	}
	ov := &TimeOverride{Start: &start, End: &end}
	if err := s.validateOverride(ov); err != nil {
		s.ledger.Fail(ctx, "failed", "theme_block", "", err)
		return persistence.ThemeBlock{}, err
	}
	if _, err := s.store.GetTheme(ctx, themeID); err != nil {
		s.ledger.Fail(ctx, "failed", "theme_block", "", err)
		return persistence.ThemeBlock{}, err
	}
	block, err := s.store.CreateThemeBlock(ctx, persistence.ThemeBlock{
		ThemeID: themeID,
		StartAt: start,
		EndAt:   end,
		Status:  status,
	})
	if err != nil {
		s.ledger.Fail(ctx, "failed", "theme_block", "", err)
		return persistence.ThemeBlock{}, err
	}
	s.ledger.Record(ctx, oplog.Entry{
		Operation:  "created",
		EntityType: "theme_block",
		EntityID:   block.ID,
	})
	return block, nil
}

// overrideFor picks the most specific override for a proposal: an entry
// matching the theme name (case-insensitive) wins over the catch-all "".
func overrideFor(overrides map[string]TimeOverride, themeName string) (TimeOverride, bool) {
	for key, ov := range overrides {
		if key != "" && strings.EqualFold(key, themeName) {
			return ov, true
		}
	}
	ov, ok := overrides[""]
	return ov, ok
}

// validateOverride enforces the apply-time rules, in order: paired fields,
// ordering, not-in-past, same-day lead time.
func (s *Service) validateOverride(ov *TimeOverride) error {
	if ov.Start == nil || ov.End == nil {
		return errors.New("start and end must be supplied together")
	}
	if !ov.End.After(*ov.Start) {
		return errors.New("end must be after start")
	}
	now := s.now()
	if ov.Start.Before(now) {
		return errors.New("start must not be in the past")
	}
	if sameDay(*ov.Start, now) {
		lead := time.Duration(s.cfg.MinLeadMinutes) * time.Minute
		if ov.Start.Before(now.Add(lead)) {
			return fmt.Errorf("same-day blocks need at least %d minutes of lead time", s.cfg.MinLeadMinutes)
		}
	}
	return nil
}

func (s *Service) dayStart(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), s.cfg.DayStartHour, 0, 0, 0, date.Location())
}

func (s *Service) dayEnd(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), s.cfg.DayEndHour, 0, 0, 0, date.Location())
}

type interval struct {
	start, end time.Time
}

func (s *Service) busyIntervals(ctx context.Context, date time.Time) ([]interval, error) {
	from := s.dayStart(date)
	to := s.dayEnd(date)

	events, err := s.store.CalendarEventsInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	blocks, err := s.store.ThemeBlocksInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	busy := make([]interval, 0, len(events)+len(blocks))
	for _, e := range events {
		busy = append(busy, interval{e.StartAt.In(date.Location()), e.EndAt.In(date.Location())})
	}
	for _, b := range blocks {
		busy = append(busy, interval{b.StartAt.In(date.Location()), b.EndAt.In(date.Location())})
	}
	return busy, nil
}

// nextFreeSlot walks forward from cursor in half-hour steps until a gap of
// the requested length fits before dayEnd.
func nextFreeSlot(cursor, dayEnd time.Time, length time.Duration, busy []interval) (time.Time, time.Time, bool) {
	for !cursor.Add(length).After(dayEnd) {
		end := cursor.Add(length)
		if !overlapsAny(cursor, end, busy) {
			return cursor, end, true
		}
		cursor = cursor.Add(30 * time.Minute)
	}
	return time.Time{}, time.Time{}, false
}

func overlapsAny(start, end time.Time, busy []interval) bool {
	for _, iv := range busy {
		if start.Before(iv.end) && end.After(iv.start) {
			return true
		}
	}
	return false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
