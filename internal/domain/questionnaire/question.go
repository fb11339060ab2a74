// Package questionnaire implements the guided multi-step form.
//
// A user walks a fixed ordered list of typed questions. Each answer is
// validated before the session advances; a rejected answer keeps the session
// on the same question. When the last answer is accepted the answer set is
// recorded once and the session is discarded.
package questionnaire

import (
	"strconv"
	"strings"

	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
)

// AnswerType selects the validator of a question.
type AnswerType int

const (
	TypeText AnswerType = iota
	TypeNumeric
	TypePhone
	TypeEmail
)

// String returns a stable name for logs.
func (t AnswerType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeNumeric:
		return "numeric"
	case TypePhone:
		return "phone"
	case TypeEmail:
		return "email"
	default:
		return "unknown"
	}
}

// Question is one immutable step of the form.
type Question struct {
	Field  string
	Prompt string
	Type   AnswerType
	// Lengths lists the accepted digit counts of a TypeNumeric answer.
	Lengths []int
}

// Validate checks raw against the question type and returns the normalized answer.
func (q Question) Validate(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", shared.NewValidationError(q.Field, "Ответ не может быть пустым. Пожалуйста, введите значение.")
	}

	switch q.Type {
	case TypeText:
		return s, nil

	case TypeNumeric:
		if !shared.IsDigits(s) {
			return "", shared.NewValidationError(q.Field, "Допустимы только цифры.")
		}
		for _, n := range q.Lengths {
			if len(s) == n {
				return s, nil
			}
		}
		return "", shared.NewValidationError(q.Field, "Неверная длина: нужно "+joinLengths(q.Lengths)+" цифр.")

	case TypePhone:
		phone, ok := shared.ParsePhone(s)
		if !ok {
			return "", shared.NewValidationError(q.Field, "Неверный формат телефона. Пример: +7 999 123-45-67 или 89991234567.")
		}
		return phone.String(), nil

	case TypeEmail:
		email, ok := shared.ParseEmail(s)
		if !ok {
			return "", shared.NewValidationError(q.Field, "Неверный формат email. Пример: ivanov@company.ru")
		}
		return email.String(), nil

	default:
		return "", shared.NewValidationError(q.Field, "Неизвестный тип вопроса.")
	}
}

func joinLengths(lengths []int) string {
	parts := make([]string, len(lengths))
	for i, n := range lengths {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, " или ")
}

// Field names of the default form.
const (
	FieldFullName  = "full_name"
	FieldCompany   = "company"
	FieldINN       = "inn"
	FieldPosition  = "position"
	FieldPhone     = "phone"
	FieldEmail     = "email"
	FieldIndustry  = "industry"
	FieldEmployees = "employees"
	FieldRequest   = "request"
)

// DefaultQuestions returns the nine-step company intake form.
func DefaultQuestions() []Question {
	return []Question{
		{Field: FieldFullName, Prompt: "Как к вам обращаться? Укажите ФИО.", Type: TypeText},
		{Field: FieldCompany, Prompt: "Название вашей компании:", Type: TypeText},
		{Field: FieldINN, Prompt: "ИНН компании (10 или 12 цифр):", Type: TypeNumeric, Lengths: []int{10, 12}},
		{Field: FieldPosition, Prompt: "Ваша должность:", Type: TypeText},
		{Field: FieldPhone, Prompt: "Контактный телефон:", Type: TypePhone},
		{Field: FieldEmail, Prompt: "Рабочий email:", Type: TypeEmail},
		{Field: FieldIndustry, Prompt: "Сфера деятельности компании:", Type: TypeText},
		{Field: FieldEmployees, Prompt: "Сколько сотрудников в компании?", Type: TypeText},
		{Field: FieldRequest, Prompt: "Опишите коротко вашу задачу или запрос:", Type: TypeText},
	}
}

// Label returns the human name of a field for reports; unknown fields map to themselves.
func Label(field string) string {
	switch field {
	case FieldFullName:
		return "ФИО"
	case FieldCompany:
		return "Компания"
	case FieldINN:
		return "ИНН"
	case FieldPosition:
		return "Должность"
	case FieldPhone:
		return "Телефон"
	case FieldEmail:
		return "Email"
	case FieldIndustry:
		return "Сфера"
	case FieldEmployees:
		return "Сотрудников"
	case FieldRequest:
		return "Запрос"
	default:
		return field
	}
}
