// Package report renders engagement snapshots into admin-facing text.
//
// Rendering is pure: every report is a function of an engagement.Snapshot.
// The only side effect is the optional Export to a file.
package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/domain/period"
	"github.com/outreach-hub/engagement-bot/internal/domain/questionnaire"
	"github.com/outreach-hub/engagement-bot/pkg/timeutil"
)

// Config configures a Generator.
type Config struct {
	// Rules is the recommendation table. Defaults to DefaultRules.
	Rules []Rule
	// ActivityWindowDays is the window of the activity block of the period report.
	ActivityWindowDays int
	// MaxUsersInDetail caps the per-user listing of the detailed report.
	MaxUsersInDetail int
	// ExportDir is where Export writes files.
	ExportDir string
	Logger    *slog.Logger
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Rules:              DefaultRules,
		ActivityWindowDays: period.Length,
		MaxUsersInDetail:   50,
		ExportDir:          "reports",
	}
}

// Generator renders reports.
type Generator struct {
	rules     []Rule
	window    int
	maxUsers  int
	exportDir string
	logger    *slog.Logger
}

// NewGenerator creates a Generator; zero fields of cfg take defaults.
func NewGenerator(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.Rules == nil {
		cfg.Rules = def.Rules
	}
	if cfg.ActivityWindowDays <= 0 {
		cfg.ActivityWindowDays = def.ActivityWindowDays
	}
	if cfg.MaxUsersInDetail <= 0 {
		cfg.MaxUsersInDetail = def.MaxUsersInDetail
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = def.ExportDir
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Generator{
		rules:     cfg.Rules,
		window:    cfg.ActivityWindowDays,
		maxUsers:  cfg.MaxUsersInDetail,
		exportDir: cfg.ExportDir,
		logger:    cfg.Logger.With(slog.String("component", "report")),
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Period report
// ═══════════════════════════════════════════════════════════════════════════

// PeriodReport renders the efficiency report of the period periodID.
func (g *Generator) PeriodReport(snap engagement.Snapshot, periodID string) (string, error) {
	p, err := period.NewClock(snap.CurrentPeriod.Start.Location()).ByID(periodID)
	if err != nil {
		return "", err
	}

	stats := snap.Statistics
	if stats == nil {
		stats = engagement.NewStatistics()
	}
	ps, known := stats.Period(p.ID)
	metrics := engagement.ComputeMetrics(snap.Users, snap.TakenAt, g.window)

	var b strings.Builder
	b.WriteString("📊 ОТЧЁТ ОБ ЭФФЕКТИВНОСТИ БОТА\n")
	fmt.Fprintf(&b, "Период: %s\n", p.String())
	fmt.Fprintf(&b, "Сформирован: %s\n\n", timeutil.FormatRussianDateTimeStr(snap.TakenAt))

	b.WriteString("📅 ЗА ПЕРИОД\n")
	if !known {
		b.WriteString("Нет данных за этот период.\n")
	}
	writeCounters(&b, ps.Counters)
	fmt.Fprintf(&b, "• Конверсия в анкету: %s\n\n", percent(ps.Questionnaires, ps.Registered))

	b.WriteString("📈 ЗА ВСЁ ВРЕМЯ\n")
	writeCounters(&b, stats.Totals)
	fmt.Fprintf(&b, "• Конверсия в анкету: %s\n\n", percent(stats.Totals.Questionnaires, stats.Totals.Registered))

	fmt.Fprintf(&b, "👥 АКТИВНОСТЬ (%d дн.)\n", g.window)
	writeMetrics(&b, metrics)

	recs := Recommend(g.rules, ComputeIndicators(ps.Counters, metrics))
	b.WriteString("\n💡 РЕКОМЕНДАЦИИ\n")
	if len(recs) == 0 {
		b.WriteString("Показатели в норме, замечаний нет.\n")
	}
	for _, r := range recs {
		b.WriteString(r)
		b.WriteString("\n")
	}

	return b.String(), nil
}

// CurrentPeriodReport renders the report of the snapshot's current period.
func (g *Generator) CurrentPeriodReport(snap engagement.Snapshot) string {
	text, err := g.PeriodReport(snap, snap.CurrentPeriod.ID)
	if err != nil {
		// Current period ids are always well formed.
		g.logger.Error("failed to render current period report", slog.String("error", err.Error()))
		return ""
	}
	return text
}

// ═══════════════════════════════════════════════════════════════════════════
// Weekly report
// ═══════════════════════════════════════════════════════════════════════════

// WeeklyReport renders the trailing seven days, derived from per-user stamps.
func (g *Generator) WeeklyReport(snap engagement.Snapshot) string {
	const days = 7
	since := snap.TakenAt.AddDate(0, 0, -days)

	var newUsers, questionnaires, feedback int
	for _, u := range snap.Users {
		if !u.FirstSeen.Before(since) {
			newUsers++
		}
		if u.QuestionnaireCompletedAt != nil && !u.QuestionnaireCompletedAt.Before(since) {
			questionnaires++
		}
		if u.LastFeedback != nil && !u.LastFeedback.Before(since) {
			feedback++
		}
	}
	metrics := engagement.ComputeMetrics(snap.Users, snap.TakenAt, days)

	var b strings.Builder
	b.WriteString("🗓 ЕЖЕНЕДЕЛЬНЫЙ ОТЧЁТ\n")
	fmt.Fprintf(&b, "%s - %s\n\n", timeutil.FormatRussian(since), timeutil.FormatRussian(snap.TakenAt))

	fmt.Fprintf(&b, "• Новых пользователей: %d\n", newUsers)
	fmt.Fprintf(&b, "• Заполнили анкету: %d\n", questionnaires)
	fmt.Fprintf(&b, "• Оставили отзыв: %d\n", feedback)
	fmt.Fprintf(&b, "• Конверсия новых в анкету: %s\n\n", percent(int64(questionnaires), int64(newUsers)))

	fmt.Fprintf(&b, "👥 АКТИВНОСТЬ (%d дн.)\n", days)
	writeMetrics(&b, metrics)

	fmt.Fprintf(&b, "\nВсего пользователей: %d\n", len(snap.Users))
	return b.String()
}

// ═══════════════════════════════════════════════════════════════════════════
// Detailed report
// ═══════════════════════════════════════════════════════════════════════════

// DetailedReport renders every known period plus a capped per-user listing.
func (g *Generator) DetailedReport(snap engagement.Snapshot) string {
	return g.detailed(snap, g.maxUsers)
}

// ExportDetailed writes the uncapped detailed report to the export directory.
func (g *Generator) ExportDetailed(snap engagement.Snapshot) (string, error) {
	return g.Export("detailed_report", g.detailed(snap, 0), snap.TakenAt)
}

func (g *Generator) detailed(snap engagement.Snapshot, maxUsers int) string {
	stats := snap.Statistics
	if stats == nil {
		stats = engagement.NewStatistics()
	}

	var b strings.Builder
	b.WriteString("📚 ПОДРОБНЫЙ ОТЧЁТ\n")
	fmt.Fprintf(&b, "Сформирован: %s\n\n", timeutil.FormatRussianDateTimeStr(snap.TakenAt))

	b.WriteString("📈 ИТОГО\n")
	writeCounters(&b, stats.Totals)

	ids := stats.PeriodIDs()
	fmt.Fprintf(&b, "\n📅 ПО ПЕРИОДАМ (%d)\n", len(ids))
	if len(ids) == 0 {
		b.WriteString("Нет данных.\n")
	}
	for _, id := range ids {
		ps, _ := stats.Period(id)
		fmt.Fprintf(&b, "\n%s (%s - %s)\n", id,
			timeutil.FormatRussian(ps.StartDate), timeutil.FormatRussian(ps.EndDate))
		fmt.Fprintf(&b, "  регистраций %d, анкет %d (%s), сообщений %d, отзывов %d, рассылок %d, активных %d\n",
			ps.Registered, ps.Questionnaires, percent(ps.Questionnaires, ps.Registered),
			ps.MessagesReceived, ps.FeedbackReceived, ps.BroadcastsSent, ps.ActiveUsers)
	}

	fmt.Fprintf(&b, "\n👤 ПОЛЬЗОВАТЕЛИ (%d)\n", len(snap.Users))
	for i, u := range snap.Users {
		if maxUsers > 0 && i == maxUsers {
			fmt.Fprintf(&b, "\n... и ещё %d пользователей (полный список: /export)\n", len(snap.Users)-maxUsers)
			break
		}
		writeUser(&b, snap.TakenAt, u)
	}

	return b.String()
}

// ═══════════════════════════════════════════════════════════════════════════
// Export
// ═══════════════════════════════════════════════════════════════════════════

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_\-]+`)

// Export writes text to "<dir>/<name>_<stamp>.txt" and returns the path.
func (g *Generator) Export(name, text string, at time.Time) (string, error) {
	if err := os.MkdirAll(g.exportDir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	safe := strings.Trim(unsafeName.ReplaceAllString(name, "_"), "_")
	if safe == "" {
		safe = "report"
	}
	path := filepath.Join(g.exportDir, fmt.Sprintf("%s_%s.txt", safe, at.Format(timeutil.FormatFileStamp)))

	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	g.logger.Info("report exported", slog.String("path", path), slog.Int("bytes", len(text)))
	return path, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Helpers
// ═══════════════════════════════════════════════════════════════════════════

func writeCounters(b *strings.Builder, c engagement.Counters) {
	fmt.Fprintf(b, "• Новых пользователей: %d\n", c.Registered)
	fmt.Fprintf(b, "• Заполнено анкет: %d\n", c.Questionnaires)
	fmt.Fprintf(b, "• Получено сообщений: %d\n", c.MessagesReceived)
	fmt.Fprintf(b, "• Отзывов: %d\n", c.FeedbackReceived)
	fmt.Fprintf(b, "• Отправлено рассылок: %d\n", c.BroadcastsSent)
	fmt.Fprintf(b, "• Активных пользователей: %d\n", c.ActiveUsers)
}

func writeMetrics(b *strings.Builder, m engagement.ActivityMetrics) {
	fmt.Fprintf(b, "• Активны: %d из %d (%.1f%%)\n", m.ActiveUsers, m.TotalUsers, m.ActivityRate*100)
	fmt.Fprintf(b, "• Оставили отзыв: %d (%.1f%%)\n", m.FeedbackUsers, m.FeedbackRate*100)
	fmt.Fprintf(b, "• Заполнили анкету: %d\n", m.QuestionnaireUsers)
	fmt.Fprintf(b, "• Уведомления включены: %d\n", m.NotificationsEnabled)
	fmt.Fprintf(b, "• Сообщений на пользователя: %.1f\n", m.AvgMessages)
	fmt.Fprintf(b, "• Анкет на пользователя: %.2f\n", m.AvgQuestionnaires)
}

func writeUser(b *strings.Builder, now time.Time, u engagement.UserRecord) {
	status := "🟢"
	if !u.Active {
		status = "⚪️"
	}
	fmt.Fprintf(b, "\n%s %s (id %d)\n", status, u.DisplayName(), u.ID)
	fmt.Fprintf(b, "  с %s, последняя активность %s\n",
		timeutil.FormatRussian(u.FirstSeen), timeutil.FormatRelative(now, u.LastActivity))
	fmt.Fprintf(b, "  сообщений %d, анкет %d, отзывов %d, рассылок %d\n",
		u.MessagesCount, u.QuestionnairesCompleted, u.FeedbackCount, u.BroadcastsReceived)
	if !u.NotificationsEnabled {
		b.WriteString("  уведомления отключены\n")
	}
	if u.HasCompletedQuestionnaire() {
		if company := u.QuestionnaireAnswers[questionnaire.FieldCompany]; company != "" {
			fmt.Fprintf(b, "  %s: %s\n", questionnaire.Label(questionnaire.FieldCompany), company)
		}
	}
}

func percent(part, whole int64) string {
	if whole <= 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(part)/float64(whole)*100)
}
