package scheduler

import (
	"context"

	"github.com/technosupport/parking-capture/internal/slicing"
	"github.com/technosupport/parking-capture/internal/store"
)

// TaskComboSource implements ComboSource by grouping pending/playing tasks
// by (date, ip, channel) and recovering base_url/interval from the owning
// batch — the pending_runner loop's data source.
type TaskComboSource struct {
	Tasks   store.TaskModel
	Batches store.BatchModel
}

func (s TaskComboSource) PendingCombos(ctx context.Context, limit int) ([]Combo, error) {
	tasks, err := s.Tasks.ListPendingOrPlaying(ctx, limit)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var combos []Combo
	for _, t := range tasks {
		key := t.Date + "::" + t.IP + "::" + t.Channel
		if seen[key] {
			continue
		}
		seen[key] = true

		baseURL, _, _, _, err := slicing.ParseReplayURL(t.ReplayURL)
		if err != nil {
			continue // malformed URL on an orphaned row; skip rather than crash the loop
		}
		batch, err := s.Batches.GetByID(ctx, t.BatchID)
		if err != nil {
			continue
		}
		combos = append(combos, Combo{
			Date: t.Date, BaseURL: baseURL, IP: t.IP, Channel: t.Channel,
			IntervalMinutes: batch.IntervalMinutes,
		})
	}
	return combos, nil
}
