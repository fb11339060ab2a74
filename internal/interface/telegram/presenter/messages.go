package presenter

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/scheduler"
	"github.com/outreach-hub/engagement-bot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER-FACING TEXT
// ══════════════════════════════════════════════════════════════════════════════

// Welcome renders the /start greeting. HTML.
func Welcome(firstName string, returning bool) string {
	name := "друг"
	if firstName != "" {
		name = html.EscapeString(firstName)
	}
	if returning {
		return fmt.Sprintf("С возвращением, <b>%s</b>! 👋\n\n"+
			"Выберите действие ниже или наберите /help.", name)
	}
	return fmt.Sprintf("Привет, <b>%s</b>! 👋\n\n"+
		"Я помогу подобрать предложение под ваши задачи. "+
		"Ответьте на несколько коротких вопросов анкеты, это займёт пару минут.\n\n"+
		"Выберите действие ниже.", name)
}

// Help renders the command list. Admin commands are listed for admins only.
func Help(isAdmin bool) string {
	var b strings.Builder
	b.WriteString("<b>Доступные команды:</b>\n")
	b.WriteString("• /questionnaire — заполнить анкету\n")
	b.WriteString("• /cancel — прервать анкету\n")
	b.WriteString("• /feedback — оставить отзыв\n")
	b.WriteString("• /notifications — включить или отключить рассылку\n")
	b.WriteString("• /me — ваша статистика\n")
	b.WriteString("• /help — эта справка\n")
	if isAdmin {
		b.WriteString("\n<b>Администратор:</b>\n")
		b.WriteString("• /stats [дни] — метрики активности\n")
		b.WriteString("• /report [период] — отчёт эффективности, например /report 2024_P3\n")
		b.WriteString("• /weekly — отчёт за 7 дней\n")
		b.WriteString("• /export — полный отчёт в файл\n")
		b.WriteString("• /jobs — фоновые задачи\n")
		b.WriteString("• /run &lt;задача&gt; — запустить задачу сейчас\n")
		b.WriteString("• /broadcast — запустить рассылку сейчас\n")
	}
	return b.String()
}

// Profile renders a user's own counters. HTML.
func Profile(u engagement.UserRecord, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👤 <b>%s</b>\n\n", html.EscapeString(u.DisplayName()))
	fmt.Fprintf(&b, "С нами с %s\n", timeutil.FormatRussian(u.FirstSeen))
	fmt.Fprintf(&b, "Последняя активность: %s\n\n", timeutil.FormatRelative(now, u.LastActivity))
	fmt.Fprintf(&b, "💬 Сообщений: %d\n", u.MessagesCount)
	fmt.Fprintf(&b, "📝 Анкет заполнено: %d\n", u.QuestionnairesCompleted)
	fmt.Fprintf(&b, "⭐ Отзывов: %d\n", u.FeedbackCount)
	fmt.Fprintf(&b, "📣 Получено рассылок: %d\n", u.BroadcastsReceived)
	fmt.Fprintf(&b, "\nРассылка: %s", onOff(u.NotificationsEnabled))
	return b.String()
}

// NotificationsState renders the result of a toggle.
func NotificationsState(enabled bool) string {
	if enabled {
		return "🔔 Рассылка включена. Мы будем присылать полезные напоминания."
	}
	return "🔕 Рассылка отключена. Включить её снова можно командой /notifications."
}

// Metrics renders ComputeActivityMetrics output for admins. Plain text.
func Metrics(m engagement.ActivityMetrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📈 Активность за %d дн.\n\n", m.WindowDays)
	fmt.Fprintf(&b, "Всего пользователей: %d\n", m.TotalUsers)
	fmt.Fprintf(&b, "Активных: %d (%.1f%%)\n", m.ActiveUsers, m.ActivityRate*100)
	fmt.Fprintf(&b, "Оставили отзыв: %d (%.1f%%)\n", m.FeedbackUsers, m.FeedbackRate*100)
	fmt.Fprintf(&b, "Заполнили анкету: %d\n", m.QuestionnaireUsers)
	fmt.Fprintf(&b, "Рассылка включена: %d\n", m.NotificationsEnabled)
	fmt.Fprintf(&b, "Сообщений на пользователя: %.2f\n", m.AvgMessages)
	fmt.Fprintf(&b, "Анкет на пользователя: %.2f", m.AvgQuestionnaires)
	return b.String()
}

// Jobs renders the scheduler's job table. Plain text.
func Jobs(infos []scheduler.JobInfo) string {
	if len(infos) == 0 {
		return "Фоновых задач нет."
	}
	var b strings.Builder
	b.WriteString("⚙️ Фоновые задачи\n")
	for _, j := range infos {
		state := "вкл"
		switch {
		case j.Running:
			state = "выполняется"
		case !j.Enabled:
			state = "выкл"
		}
		fmt.Fprintf(&b, "\n%s [%s] %s\n", j.Name, state, j.Schedule)
		if !j.NextRun.IsZero() {
			fmt.Fprintf(&b, "  след. запуск: %s\n", timeutil.FormatRussianDateTimeStr(j.NextRun))
		}
		if j.LastResult != nil {
			fmt.Fprintf(&b, "  последний: %s, %s\n", resultState(*j.LastResult), j.LastResult.Duration.Round(time.Millisecond))
		}
		fmt.Fprintf(&b, "  запусков: %d, ошибок: %d\n", j.RunCount, j.FailCount)
	}
	return strings.TrimRight(b.String(), "\n")
}

// JobResult renders the outcome of a manual run.
func JobResult(r scheduler.JobResult) string {
	msg := fmt.Sprintf("Задача %s: %s за %s", r.JobName, resultState(r), r.Duration.Round(time.Millisecond))
	if r.Error != nil {
		msg += "\nОшибка: " + r.Error.Error()
	}
	return msg
}

func resultState(r scheduler.JobResult) string {
	switch {
	case r.Skipped:
		return "пропущена"
	case r.Success:
		return "успешно"
	default:
		return "ошибка"
	}
}

func onOff(v bool) string {
	if v {
		return "включена"
	}
	return "отключена"
}
