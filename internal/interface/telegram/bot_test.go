package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreach-hub/engagement-bot/internal/application/report"
	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/domain/period"
	"github.com/outreach-hub/engagement-bot/internal/domain/questionnaire"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/external/telegram"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/messaging"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/persistence/docstore"
	"github.com/outreach-hub/engagement-bot/internal/interface/telegram/handler"
	"github.com/outreach-hub/engagement-bot/internal/interface/telegram/middleware"
	"github.com/outreach-hub/engagement-bot/internal/interface/telegram/presenter"
)

const (
	adminID = int64(900)
	userID  = int64(101)
)

type fakeAPI struct {
	mu        sync.Mutex
	sent      []telegram.SendMessageParams
	callbacks []string
}

func (f *fakeAPI) SendMessage(_ context.Context, p telegram.SendMessageParams) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return &telegram.Message{MessageID: int64(len(f.sent))}, nil
}

func (f *fakeAPI) AnswerCallbackQuery(_ context.Context, id string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, id)
	return nil
}

func (f *fakeAPI) GetMe(context.Context) (*telegram.User, error) {
	return &telegram.User{ID: 1, IsBot: true, Username: "engagement_bot"}, nil
}

func (f *fakeAPI) StartPolling(ctx context.Context, _ telegram.UpdateHandler) error {
	<-ctx.Done()
	return nil
}

func (f *fakeAPI) last(t *testing.T) telegram.SendMessageParams {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type notifierSpy struct {
	mu    sync.Mutex
	texts []string
	ids   [][]shared.UserID
}

func (n *notifierSpy) SendAll(_ context.Context, ids []shared.UserID, text string) messaging.BatchResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	n.ids = append(n.ids, ids)
	return messaging.BatchResult{Attempted: ids, Delivered: len(ids)}
}

type env struct {
	bot      *Bot
	api      *fakeAPI
	store    *engagement.Store
	notifier *notifierSpy
}

func newEnv(t *testing.T) *env {
	t.Helper()
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	clock := period.NewClock(time.UTC).WithNow(func() time.Time { return now })
	store := engagement.NewStore(docstore.NewMemoryStore(), engagement.StoreConfig{Clock: clock})
	engine := questionnaire.NewEngine(store, questionnaire.EngineConfig{})
	api := &fakeAPI{}
	notifier := &notifierSpy{}

	cfg := DefaultBotConfig()
	cfg.AdminIDs = []int64{adminID}
	cfg.RateLimit = middleware.RateLimitConfig{} // disabled

	bot, err := NewBot(cfg, BotDependencies{
		API:      api,
		Store:    store,
		Wizard:   engine,
		Reports:  report.NewGenerator(report.Config{ExportDir: t.TempDir()}),
		Clock:    clock,
		Notifier: notifier,
	})
	require.NoError(t, err)
	return &env{bot: bot, api: api, store: store, notifier: notifier}
}

func textUpdate(from int64, text string) *telegram.Update {
	msg := &telegram.Message{
		MessageID: 1,
		From:      &telegram.User{ID: from, FirstName: "Иван", Username: "ivan"},
		Chat:      &telegram.Chat{ID: from, Type: "private"},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		end := strings.IndexByte(text, ' ')
		if end < 0 {
			end = len(text)
		}
		msg.Entities = []telegram.MessageEntity{{Type: "bot_command", Offset: 0, Length: end}}
	}
	return &telegram.Update{UpdateID: 1, Message: msg}
}

func callbackUpdate(from int64, data string) *telegram.Update {
	return &telegram.Update{UpdateID: 2, CallbackQuery: &telegram.CallbackQuery{
		ID:      "cq-" + data,
		From:    &telegram.User{ID: from, FirstName: "Иван"},
		Message: &telegram.Message{Chat: &telegram.Chat{ID: from}},
		Data:    data,
	}}
}

func (e *env) send(t *testing.T, u *telegram.Update) {
	t.Helper()
	require.NoError(t, e.bot.HandleUpdate(context.Background(), u))
}

var answers = []string{
	"Иван Иванов",
	"ООО Ромашка",
	"7707083893",
	"Директор",
	"+7 999 123-45-67",
	"ivanov@company.ru",
	"Розничная торговля",
	"50",
	"Нужна автоматизация склада",
}

func TestBot_StartRegistersAndShowsKeyboard(t *testing.T) {
	e := newEnv(t)
	e.send(t, textUpdate(userID, "/start"))

	u, ok := e.store.User(context.Background(), shared.UserID(userID))
	require.True(t, ok)
	assert.Equal(t, "ivan", u.Username)
	assert.True(t, u.NotificationsEnabled)

	msg := e.api.last(t)
	assert.Equal(t, userID, msg.ChatID)
	assert.Equal(t, "HTML", msg.ParseMode)
	assert.Contains(t, msg.Text, "Привет")
	require.NotNil(t, msg.ReplyMarkup)
	assert.Equal(t, presenter.CallbackQuestionnaireStart, msg.ReplyMarkup.InlineKeyboard[0][0].CallbackData)

	// Second /start greets a returning user and registers nothing.
	e.send(t, textUpdate(userID, "/start"))
	assert.Contains(t, e.api.last(t).Text, "С возвращением")
	assert.Equal(t, int64(1), e.store.Snapshot(context.Background()).Statistics.Totals.Registered)
}

func TestBot_QuestionnaireEndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.send(t, textUpdate(userID, "/start"))
	e.send(t, callbackUpdate(userID, presenter.CallbackQuestionnaireStart))
	assert.Contains(t, e.api.last(t).Text, "Вопрос 1 из 9")
	assert.Contains(t, e.api.callbacks, "cq-"+presenter.CallbackQuestionnaireStart)

	// An invalid INN keeps the wizard on the same question.
	e.send(t, textUpdate(userID, answers[0]))
	e.send(t, textUpdate(userID, answers[1]))
	e.send(t, textUpdate(userID, "123"))
	assert.Contains(t, e.api.last(t).Text, "❌")
	assert.Contains(t, e.api.last(t).Text, "Вопрос 3 из 9")

	for _, a := range answers[2:] {
		e.send(t, textUpdate(userID, a))
	}

	last := e.api.last(t)
	assert.Equal(t, "HTML", last.ParseMode)
	assert.Contains(t, last.Text, "Анкета заполнена")

	u, ok := e.store.User(ctx, shared.UserID(userID))
	require.True(t, ok)
	assert.Equal(t, int64(1), u.QuestionnairesCompleted)
	assert.Equal(t, "+79991234567", u.QuestionnaireAnswers[questionnaire.FieldPhone])

	snap := e.store.Snapshot(ctx)
	assert.Equal(t, int64(1), snap.Statistics.Totals.Questionnaires)
	ps, ok := snap.Statistics.Period(snap.CurrentPeriod.ID)
	require.True(t, ok)
	assert.Equal(t, int64(1), ps.Questionnaires)
	// Every answer, rejected ones included, is a received message.
	assert.Equal(t, int64(10), u.MessagesCount)
}

func TestBot_UnrelatedCommandAbandonsQuestionnaire(t *testing.T) {
	e := newEnv(t)
	e.send(t, textUpdate(userID, "/questionnaire"))
	e.send(t, textUpdate(userID, answers[0]))

	e.send(t, textUpdate(userID, "/me"))
	assert.Contains(t, e.api.last(t).Text, "Сообщений")

	e.send(t, textUpdate(userID, answers[1]))
	assert.Contains(t, e.api.last(t).Text, "/questionnaire")

	u, _ := e.store.User(context.Background(), shared.UserID(userID))
	assert.Zero(t, u.QuestionnairesCompleted)
}

func TestBot_Cancel(t *testing.T) {
	e := newEnv(t)
	e.send(t, textUpdate(userID, "/questionnaire"))
	e.send(t, textUpdate(userID, "/cancel"))
	assert.Contains(t, e.api.last(t).Text, "Анкета прервана")

	e.send(t, textUpdate(userID, "/cancel"))
	assert.Contains(t, e.api.last(t).Text, "нечего отменять")
}

func TestBot_FeedbackFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.send(t, textUpdate(userID, "/feedback"))
	e.send(t, textUpdate(userID, "Очень удобный бот"))
	assert.Contains(t, e.api.last(t).Text, "Спасибо")

	e.send(t, textUpdate(userID, "/feedback И ещё один отзыв"))

	u, _ := e.store.User(ctx, shared.UserID(userID))
	assert.Equal(t, int64(2), u.FeedbackCount)
	assert.Equal(t, int64(2), e.store.Snapshot(ctx).Statistics.Totals.FeedbackReceived)

	require.Len(t, e.notifier.texts, 2)
	assert.Contains(t, e.notifier.texts[0], "Очень удобный бот")
	assert.Equal(t, []shared.UserID{shared.UserID(adminID)}, e.notifier.ids[0])
}

func TestBot_NotificationsToggle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.send(t, textUpdate(userID, "/notifications"))

	u, _ := e.store.User(ctx, shared.UserID(userID))
	assert.False(t, u.NotificationsEnabled)
	assert.Contains(t, e.api.last(t).Text, "отключена")

	e.send(t, callbackUpdate(userID, presenter.CallbackNotificationsToggle))
	u, _ = e.store.User(ctx, shared.UserID(userID))
	assert.True(t, u.NotificationsEnabled)
}

func TestBot_AdminCommands(t *testing.T) {
	e := newEnv(t)
	e.send(t, textUpdate(userID, "/start"))

	e.send(t, textUpdate(userID, "/stats"))
	assert.Contains(t, e.api.last(t).Text, "только администраторам")

	e.send(t, textUpdate(adminID, "/stats"))
	assert.Contains(t, e.api.last(t).Text, "Всего пользователей: 2")

	e.send(t, textUpdate(adminID, "/report 2024_P5"))
	assert.Contains(t, e.api.last(t).Text, "ОТЧЁТ ОБ ЭФФЕКТИВНОСТИ")

	e.send(t, textUpdate(adminID, "/report nonsense"))
	assert.Contains(t, e.api.last(t).Text, "Неизвестный период")

	e.send(t, textUpdate(adminID, "/export"))
	assert.Contains(t, e.api.last(t).Text, "detailed_report_")

	e.send(t, textUpdate(adminID, "/jobs"))
	assert.Contains(t, e.api.last(t).Text, "Планировщик не запущен")
}

func TestBot_UnknownCommandAndBots(t *testing.T) {
	e := newEnv(t)
	e.send(t, textUpdate(userID, "/nope"))
	assert.Contains(t, e.api.last(t).Text, "Неизвестная команда")

	before := e.api.count()
	bot := textUpdate(5, "hello")
	bot.Message.From.IsBot = true
	e.send(t, bot)
	assert.Equal(t, before, e.api.count())
}

func TestBot_Stats(t *testing.T) {
	e := newEnv(t)
	e.send(t, textUpdate(userID, "/help"))
	e.send(t, textUpdate(userID, "/help"))

	s := e.bot.GetStats()
	assert.Equal(t, int64(2), s.UpdatesHandled)
	assert.Equal(t, int64(2), s.Commands["help"])
	assert.False(t, s.Running)
}

func TestRouter_SendChunksLongText(t *testing.T) {
	api := &fakeAPI{}
	r := NewRouter(api, RouterConfig{ChunkLimit: 10})
	kb := presenter.NewKeyboardBuilder().RestartKeyboard()

	err := r.Send(context.Background(), 7, &handler.Response{Text: "aaaa\nbbbb\ncccc\ndddd", Keyboard: kb})
	require.NoError(t, err)
	require.Greater(t, api.count(), 1)
	for i, m := range api.sent {
		if i < len(api.sent)-1 {
			assert.Nil(t, m.ReplyMarkup)
		} else {
			assert.NotNil(t, m.ReplyMarkup)
		}
	}
}
