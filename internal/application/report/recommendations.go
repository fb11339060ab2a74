package report

import (
	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
)

// Indicator names a derived figure a recommendation rule can test.
type Indicator string

const (
	// IndicatorQuestionnaireConversion is period questionnaires per period registration, in percent.
	IndicatorQuestionnaireConversion Indicator = "questionnaire_conversion"
	// IndicatorActivityRate is the share of users active in the activity window, in percent.
	IndicatorActivityRate Indicator = "activity_rate"
	// IndicatorFeedbackRate is the share of users who ever left feedback, in percent.
	IndicatorFeedbackRate Indicator = "feedback_rate"
	// IndicatorRegistrations is the number of registrations in the period.
	IndicatorRegistrations Indicator = "registrations"
	// IndicatorAvgMessages is lifetime messages per user.
	IndicatorAvgMessages Indicator = "avg_messages"
	// IndicatorNotificationsOff is the share of users with notifications disabled, in percent.
	IndicatorNotificationsOff Indicator = "notifications_off"
)

// Comparison decides how a rule compares its indicator with the threshold.
type Comparison int

const (
	Below Comparison = iota
	AtLeast
)

// Rule is one row of the recommendation table.
type Rule struct {
	Indicator Indicator
	Op        Comparison
	Threshold float64
	// MinRegistrations skips the rule while the period has too few
	// registrations for the indicator to mean anything.
	MinRegistrations int64
	Message          string
}

// Matches reports whether the rule fires for the given indicators.
func (r Rule) Matches(ind Indicators) bool {
	if r.MinRegistrations > 0 && ind[IndicatorRegistrations] <= float64(r.MinRegistrations) {
		return false
	}
	v, ok := ind[r.Indicator]
	if !ok {
		return false
	}
	switch r.Op {
	case Below:
		return v < r.Threshold
	case AtLeast:
		return v >= r.Threshold
	default:
		return false
	}
}

// DefaultRules is the recommendation table used by the efficiency report.
var DefaultRules = []Rule{
	{
		Indicator:        IndicatorQuestionnaireConversion,
		Op:               Below,
		Threshold:        30,
		MinRegistrations: 10,
		Message: "⚠️ Низкая конверсия в анкету (меньше 30%).\n" +
			"   Сократите анкету или напомните о ней в рассылке.",
	},
	{
		Indicator:        IndicatorQuestionnaireConversion,
		Op:               AtLeast,
		Threshold:        60,
		MinRegistrations: 10,
		Message:          "✅ Отличная конверсия в анкету, текущий сценарий работает.",
	},
	{
		Indicator:        IndicatorActivityRate,
		Op:               Below,
		Threshold:        20,
		MinRegistrations: 10,
		Message: "⚠️ Меньше 20% пользователей активны.\n" +
			"   Запустите рассылку с полезным контентом.",
	},
	{
		Indicator:        IndicatorFeedbackRate,
		Op:               Below,
		Threshold:        5,
		MinRegistrations: 20,
		Message:          "💬 Мало обратной связи. Добавьте вопрос об удобстве бота в конце анкеты.",
	},
	{
		Indicator:        IndicatorNotificationsOff,
		Op:               AtLeast,
		Threshold:        30,
		MinRegistrations: 10,
		Message:          "🔕 Треть пользователей отключила уведомления. Проверьте частоту рассылок.",
	},
	{
		Indicator: IndicatorRegistrations,
		Op:        Below,
		Threshold: 5,
		Message:   "📉 Мало новых пользователей за период. Усильте продвижение бота.",
	},
}

// Indicators holds the computed figures of one report.
type Indicators map[Indicator]float64

// ComputeIndicators derives the rule inputs from period counters and activity metrics.
func ComputeIndicators(p engagement.Counters, m engagement.ActivityMetrics) Indicators {
	ind := Indicators{
		IndicatorRegistrations: float64(p.Registered),
		IndicatorActivityRate:  m.ActivityRate * 100,
		IndicatorFeedbackRate:  m.FeedbackRate * 100,
		IndicatorAvgMessages:   m.AvgMessages,
	}
	if p.Registered > 0 {
		ind[IndicatorQuestionnaireConversion] = float64(p.Questionnaires) / float64(p.Registered) * 100
	}
	if m.TotalUsers > 0 {
		off := m.TotalUsers - m.NotificationsEnabled
		ind[IndicatorNotificationsOff] = float64(off) / float64(m.TotalUsers) * 100
	}
	return ind
}

// Recommend returns the messages of all matching rules in table order.
func Recommend(rules []Rule, ind Indicators) []string {
	var out []string
	for _, r := range rules {
		if r.Matches(ind) {
			out = append(out, r.Message)
		}
	}
	return out
}
