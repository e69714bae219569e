package model

import "time"

// SessionDeadline is the session's own EndTime, else the latest EndTime among
// its tasks, else nil.
func SessionDeadline(s Session, tasks []Task) *time.Time {
	if s.EndTime != nil {
		t := *s.EndTime
		return &t
	}
	var latest *time.Time
	for _, task := range tasks {
		if task.EndTime == nil {
			continue
		}
		if latest == nil || task.EndTime.After(*latest) {
			t := *task.EndTime
			latest = &t
		}
	}
	return latest
}

// DeadlineApplies reports whether a passed deadline should lock the session.
func DeadlineApplies(s Session) bool {
	return !s.AutoFinished && (s.Status == StatusInProgress || s.Status == StatusPaused)
}
