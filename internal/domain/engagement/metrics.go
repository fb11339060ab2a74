package engagement

import "time"

// ActivityMetrics is a derived aggregate over the registry.
type ActivityMetrics struct {
	WindowDays int

	TotalUsers  int
	ActiveUsers int
	// ActivityRate is ActiveUsers/TotalUsers in [0,1], 0 when there are no users.
	ActivityRate float64

	FeedbackUsers int
	FeedbackRate  float64

	QuestionnaireUsers   int
	NotificationsEnabled int

	AvgMessages       float64
	AvgQuestionnaires float64
}

// ComputeMetrics aggregates users as of now over the trailing windowDays.
// A user counts as active when last_activity falls inside the window.
func ComputeMetrics(users []UserRecord, now time.Time, windowDays int) ActivityMetrics {
	m := ActivityMetrics{
		WindowDays: windowDays,
		TotalUsers: len(users),
	}
	if m.TotalUsers == 0 {
		return m
	}

	cutoff := now.AddDate(0, 0, -windowDays)
	var messages, questionnaires int64
	for _, u := range users {
		if u.ActiveSince(cutoff) {
			m.ActiveUsers++
		}
		if u.FeedbackCount > 0 {
			m.FeedbackUsers++
		}
		if u.QuestionnairesCompleted > 0 {
			m.QuestionnaireUsers++
		}
		if u.NotificationsEnabled {
			m.NotificationsEnabled++
		}
		messages += u.MessagesCount
		questionnaires += u.QuestionnairesCompleted
	}

	total := float64(m.TotalUsers)
	m.ActivityRate = float64(m.ActiveUsers) / total
	m.FeedbackRate = float64(m.FeedbackUsers) / total
	m.AvgMessages = float64(messages) / total
	m.AvgQuestionnaires = float64(questionnaires) / total
	return m
}
