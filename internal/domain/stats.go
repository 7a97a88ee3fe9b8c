package domain

// QueueStatus represents the processing state of a whole queue
type QueueStatus string

// Possible queue status values
const (
	QueueStatusIdle       QueueStatus = "idle"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusPaused     QueueStatus = "paused"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusCancelled  QueueStatus = "cancelled"
)

// QueueStats is a point-in-time summary of a queue's tasks.
// It is always derived from the tasks and never stored.
type QueueStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	// Progress is the floor of the mean task progress, 0 for an empty queue.
	Progress int `json:"progress"`
}

// ComputeStats derives statistics from a set of tasks.
func ComputeStats(tasks []*Task) QueueStats {
	stats := QueueStats{Total: len(tasks)}
	sum := 0
	for _, t := range tasks {
		switch t.Status {
		case TaskStatusPending:
			stats.Pending++
		case TaskStatusProcessing:
			stats.Processing++
		case TaskStatusCompleted:
			stats.Completed++
		case TaskStatusFailed:
			stats.Failed++
		case TaskStatusCancelled:
			stats.Cancelled++
		}
		sum += t.Progress
	}
	if stats.Total > 0 {
		stats.Progress = sum / stats.Total
	}
	return stats
}

// Finished is the number of tasks in a terminal status.
func (s QueueStats) Finished() int {
	return s.Completed + s.Failed + s.Cancelled
}

// SuccessRate is the percentage of finished tasks that completed, 0 when none finished.
func (s QueueStats) SuccessRate() float64 {
	finished := s.Finished()
	if finished == 0 {
		return 0
	}
	return float64(s.Completed) / float64(finished) * 100
}
