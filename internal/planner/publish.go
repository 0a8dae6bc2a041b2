package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/daybreak-ai/daybreak/internal/bus"
	"github.com/daybreak-ai/daybreak/internal/oplog"
	"github.com/daybreak-ai/daybreak/internal/persistence"
)

// PublishThemeBlocks pushes blocks to the external calendar. With no ids it
// publishes today's planned blocks. Each block is attempted independently:
// success records the calendar event id and flips the block to published,
// failure leaves it planned and lands in FailedBlockIDs. Partial success is
// reported through the operation event status, never as an error.
func (s *Service) PublishThemeBlocks(ctx context.Context, blockIDs []string) (PublishResult, error) {
	var result PublishResult

	blocks, err := s.resolvePublishTargets(ctx, blockIDs)
	if err != nil {
		s.ledger.Fail(ctx, "published", "theme_block", "", err)
		return result, err
	}
	if len(blocks) == 0 {
		return result, nil
	}

	for _, block := range blocks {
		if block.Status == persistence.BlockPublished {
			// Re-publishing an already published block is a no-op success.
			result.PublishedBlockIDs = append(result.PublishedBlockIDs, block.ID)
			continue
		}
		eventID, err := s.publishOne(ctx, block)
		if err != nil {
			s.logger.Warn("planner: publish failed", "block_id", block.ID, "error", err)
			result.FailedBlockIDs = append(result.FailedBlockIDs, block.ID)
			continue
		}
		if err := s.store.SetThemeBlockStatus(ctx, block.ID, persistence.BlockPublished, eventID); err != nil {
			s.logger.Error("planner: status flip failed after publish", "block_id", block.ID, "error", err)
			result.FailedBlockIDs = append(result.FailedBlockIDs, block.ID)
			continue
		}
		result.PublishedBlockIDs = append(result.PublishedBlockIDs, block.ID)
	}

	status := persistence.OpSuccess
	if len(result.FailedBlockIDs) > 0 {
		status = persistence.OpPartialSuccess
		if len(result.PublishedBlockIDs) == 0 {
			status = persistence.OpFailed
		}
	}
	s.ledger.Record(ctx, oplog.Entry{
		Operation:  "published",
		EntityType: "theme_block",
		Status:     status,
		Message:    fmt.Sprintf("published %d blocks, %d failed", len(result.PublishedBlockIDs), len(result.FailedBlockIDs)),
		Payload: map[string]string{
			"published": fmt.Sprint(len(result.PublishedBlockIDs)),
			"failed":    fmt.Sprint(len(result.FailedBlockIDs)),
		},
	})
	s.store.Bus().Publish(bus.TopicPlanPublished, result)
	return result, nil
}

// publishOne creates the calendar event for a block, retrying transient
// failures briefly before giving up.
func (s *Service) publishOne(ctx context.Context, block persistence.ThemeBlock) (string, error) {
	theme, err := s.store.GetTheme(ctx, block.ThemeID)
	if err != nil {
		return "", err
	}
	title := theme.Name

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)

	var eventID string
	operation := func() error {
		id, err := s.publisher.PublishEvent(ctx, title, block.StartAt, block.EndAt)
		if err != nil {
			return err
		}
		eventID = id
		return nil
	}
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return eventID, nil
}

func (s *Service) resolvePublishTargets(ctx context.Context, blockIDs []string) ([]persistence.ThemeBlock, error) {
	if len(blockIDs) == 0 {
		planned, err := s.store.ThemeBlocksByStatus(ctx, persistence.BlockPlanned)
		if err != nil {
			return nil, fmt.Errorf("resolve planned blocks: %w", err)
		}
		today := s.now()
		var out []persistence.ThemeBlock
		for _, b := range planned {
			if sameDay(b.StartAt.In(today.Location()), today) {
				out = append(out, b)
			}
		}
		return out, nil
	}

	out := make([]persistence.ThemeBlock, 0, len(blockIDs))
	for _, id := range blockIDs {
		block, err := s.store.GetThemeBlock(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, block)
	}
	return out, nil
}

// LocalCalendarPublisher mirrors published blocks into the local calendar
// table. It stands in for a real calendar integration and keeps the day
// review accurate either way.
type LocalCalendarPublisher struct {
	Store *persistence.Store
}

func (p *LocalCalendarPublisher) PublishEvent(ctx context.Context, title string, start, end time.Time) (string, error) {
	event, err := p.Store.UpsertCalendarEvent(ctx, persistence.CalendarEvent{
		Title:    title,
		StartAt:  start,
		EndAt:    end,
		Calendar: "daybreak",
	})
	if err != nil {
		return "", err
	}
	return event.ID, nil
}
