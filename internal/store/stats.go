package store

import (
	"context"
	"fmt"
	"time"

	"github.com/franzego/dispatchd/internal/models"
)

type ChannelStats struct {
	Total     int64 `json:"total"`
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Pending   int64 `json:"pending"`
}

// DeliveryStats summarises notifications created since a point in time.
type DeliveryStats struct {
	Since       time.Time               `json:"since"`
	Total       int64                   `json:"total"`
	ByStatus    map[string]int64        `json:"by_status"`
	ByChannel   map[string]ChannelStats `json:"by_channel"`
	SuccessRate float64                 `json:"success_rate"`
}

type statusCount struct {
	Channel string
	Status  string
	Count   int64
}

func (s *Store) DeliveryStats(ctx context.Context, since time.Time) (*DeliveryStats, error) {
	var rows []statusCount
	err := s.conn(ctx).Model(&models.Notification{}).
		Select("channel, status, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("channel, status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("delivery stats: %w", err)
	}

	stats := &DeliveryStats{
		Since:     since,
		ByStatus:  map[string]int64{},
		ByChannel: map[string]ChannelStats{},
	}
	var succeeded int64
	for _, r := range rows {
		stats.Total += r.Count
		stats.ByStatus[r.Status] += r.Count

		ch := stats.ByChannel[r.Channel]
		ch.Total += r.Count
		switch models.Status(r.Status) {
		case models.StatusSent:
			ch.Sent += r.Count
			succeeded += r.Count
		case models.StatusDelivered:
			ch.Delivered += r.Count
			succeeded += r.Count
		case models.StatusFailed:
			ch.Failed += r.Count
		default:
			ch.Pending += r.Count
		}
		stats.ByChannel[r.Channel] = ch
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(succeeded) / float64(stats.Total) * 100
	}
	return stats, nil
}
