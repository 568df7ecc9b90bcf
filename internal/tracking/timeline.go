package tracking

import (
	"sort"
	"time"

	"storefront-orders/internal/models"
)

// BuildTimeline derives the progress steps and the merged event log of an order.
// Carrier events may be nil when the feed is unavailable.
func BuildTimeline(order *models.Order, carrier []models.CarrierEvent) ([]models.TimelineStep, []models.TimelineEvent) {
	return buildSteps(order), mergeEvents(order, carrier)
}

func buildSteps(order *models.Order) []models.TimelineStep {
	reached := reachedAt(order)

	if idx := order.Status.SequenceIndex(); idx >= 0 {
		steps := make([]models.TimelineStep, 0, len(models.CanonicalSequence))
		for i, status := range models.CanonicalSequence {
			step := models.TimelineStep{Status: status, Timestamp: reached[status]}
			switch {
			case i < idx:
				step.State = models.StepCompleted
			case i == idx:
				step.State = models.StepCurrent
			default:
				step.State = models.StepUpcoming
				step.Timestamp = nil
			}
			steps = append(steps, step)
		}
		return steps
	}

	// side branch: only what was actually reached, then the terminal status
	var steps []models.TimelineStep
	for _, status := range models.CanonicalSequence {
		if ts, ok := reached[status]; ok {
			steps = append(steps, models.TimelineStep{Status: status, State: models.StepCompleted, Timestamp: ts})
		}
	}
	for _, entry := range order.StatusHistory {
		if entry.Status.SequenceIndex() >= 0 || entry.Status == order.Status || containsStep(steps, entry.Status) {
			continue
		}
		ts := entry.CreatedAt
		steps = append(steps, models.TimelineStep{Status: entry.Status, State: models.StepCompleted, Timestamp: &ts})
	}
	return append(steps, models.TimelineStep{
		Status:    order.Status,
		State:     models.StepCurrent,
		Timestamp: reached[order.Status],
	})
}

// reachedAt maps each status to the first time the order entered it
func reachedAt(order *models.Order) map[models.OrderStatus]*time.Time {
	reached := make(map[models.OrderStatus]*time.Time, len(order.StatusHistory)+1)
	for _, entry := range order.StatusHistory {
		if _, ok := reached[entry.Status]; ok {
			continue
		}
		ts := entry.CreatedAt
		reached[entry.Status] = &ts
	}
	if _, ok := reached[models.OrderStatusPending]; !ok {
		placed := order.CreatedAt
		reached[models.OrderStatusPending] = &placed
	}
	return reached
}

func containsStep(steps []models.TimelineStep, status models.OrderStatus) bool {
	for _, step := range steps {
		if step.Status == status {
			return true
		}
	}
	return false
}

func mergeEvents(order *models.Order, carrier []models.CarrierEvent) []models.TimelineEvent {
	events := make([]models.TimelineEvent, 0, len(order.StatusHistory)+len(carrier))
	for _, entry := range order.StatusHistory {
		events = append(events, models.TimelineEvent{
			Source:      models.SourceOrder,
			Status:      string(entry.Status),
			Description: entry.Note,
			Timestamp:   entry.CreatedAt,
		})
	}
	for _, ev := range carrier {
		events = append(events, models.TimelineEvent{
			Source:      models.SourceCarrier,
			Status:      ev.Status,
			Description: ev.Description,
			Location:    ev.Location,
			Timestamp:   ev.OccurredAt,
		})
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}
