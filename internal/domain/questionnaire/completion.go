package questionnaire

import (
	"fmt"
	"hash/fnv"
	"html"
	"math/rand/v2"
	"sort"
	"strings"
)

// ResultItem is one line of the simulated result listing shown after the form.
type ResultItem struct {
	Title string
	Match int // percent
	Note  string
}

var offerCatalog = []struct {
	title string
	note  string
}{
	{"Аудит бизнес-процессов", "выезд специалиста в течение недели"},
	{"Подбор персонала", "первые кандидаты через 5 рабочих дней"},
	{"Автоматизация документооборота", "пилот на 30 дней"},
	{"Маркетинговая стратегия", "стратегическая сессия с командой"},
	{"Юридическое сопровождение", "проверка договоров и рисков"},
	{"Финансовое планирование", "модель cash flow на 12 месяцев"},
	{"Обучение сотрудников", "корпоративный курс под задачу"},
	{"IT-инфраструктура", "аудит и план модернизации"},
	{"Логистика и склад", "оптимизация маршрутов и остатков"},
	{"Привлечение клиентов", "тестовая рекламная кампания"},
}

// SimulateResults derives a deterministic listing of up to n offers from the
// answers. The same answers always yield the same listing.
func SimulateResults(answers map[string]string, n int) []ResultItem {
	if n <= 0 {
		return nil
	}
	if n > len(offerCatalog) {
		n = len(offerCatalog)
	}

	h := fnv.New64a()
	for _, f := range []string{FieldINN, FieldCompany, FieldIndustry, FieldRequest} {
		h.Write([]byte(strings.ToLower(answers[f])))
		h.Write([]byte{0})
	}
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	idx := rng.Perm(len(offerCatalog))[:n]
	items := make([]ResultItem, 0, n)
	for _, i := range idx {
		items = append(items, ResultItem{
			Title: offerCatalog[i].title,
			Match: 60 + rng.IntN(40),
			Note:  offerCatalog[i].note,
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Match > items[j].Match })
	return items
}

// BuildCompletionReport renders the HTML summary sent after the last answer.
func BuildCompletionReport(questions []Question, answers map[string]string, results []ResultItem) string {
	var b strings.Builder

	b.WriteString("✅ <b>Анкета заполнена!</b>\n\n")
	b.WriteString("<b>Ваши ответы:</b>\n")
	for _, q := range questions {
		v, ok := answers[q.Field]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "• %s: %s\n", Label(q.Field), html.EscapeString(v))
	}

	if len(results) > 0 {
		b.WriteString("\n🔎 <b>Подобрали для вас:</b>\n")
		for i, r := range results {
			fmt.Fprintf(&b, "%d. %s (совпадение %d%%)\n   <i>%s</i>\n", i+1, r.Title, r.Match, r.Note)
		}
	}

	b.WriteString("\nМенеджер свяжется с вами в ближайшее время.")
	return b.String()
}
