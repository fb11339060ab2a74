package questionnaire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
)

func TestQuestion_Validate_Phone(t *testing.T) {
	q := Question{Field: FieldPhone, Type: TypePhone}

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+7 999 123-45-67", "+79991234567", true},
		{"89991234567", "+79991234567", true},
		{"79991234567", "+79991234567", true},
		{"8 (999) 123-45-67", "+79991234567", true},
		{"12345", "", false},
		{"+7999123456", "", false},
		{"+1 999 123 45 67", "", false},
		{"8999123456a", "", false},
		{"   ", "", false},
	}

	for _, tt := range tests {
		got, err := q.Validate(tt.in)
		if tt.ok {
			require.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, got, tt.in)
		} else {
			assert.True(t, shared.IsValidation(err), tt.in)
		}
	}
}

func TestQuestion_Validate_Email(t *testing.T) {
	q := Question{Field: FieldEmail, Type: TypeEmail}

	got, err := q.Validate("  ivanov@company.ru ")
	require.NoError(t, err)
	assert.Equal(t, "ivanov@company.ru", got)

	for _, bad := range []string{"ivanov@company", "ivanov.company.ru", "@company.ru", ""} {
		_, err := q.Validate(bad)
		assert.Error(t, err, bad)
	}
}

func TestQuestion_Validate_Numeric(t *testing.T) {
	q := Question{Field: FieldINN, Type: TypeNumeric, Lengths: []int{10, 12}}

	for _, good := range []string{"7707083893", "500100732259"} {
		got, err := q.Validate(good)
		require.NoError(t, err, good)
		assert.Equal(t, good, got)
	}

	_, err := q.Validate("77070838931")
	ve, ok := shared.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, FieldINN, ve.Field)
	assert.Contains(t, ve.Reason, "10 или 12")

	_, err = q.Validate("77070-83893")
	assert.Error(t, err)
}

func TestQuestion_Validate_Text(t *testing.T) {
	q := Question{Field: FieldCompany, Type: TypeText}

	got, err := q.Validate("  ООО Ромашка  ")
	require.NoError(t, err)
	assert.Equal(t, "ООО Ромашка", got)

	_, err = q.Validate(" \n\t ")
	assert.Error(t, err)
}

func TestDefaultQuestions(t *testing.T) {
	qs := DefaultQuestions()
	require.Len(t, qs, 9)

	seen := map[string]bool{}
	var numeric, phone, email int
	for _, q := range qs {
		assert.False(t, seen[q.Field], "duplicate field %s", q.Field)
		seen[q.Field] = true
		assert.NotEmpty(t, q.Prompt)
		switch q.Type {
		case TypeNumeric:
			numeric++
		case TypePhone:
			phone++
		case TypeEmail:
			email++
		}
	}
	assert.Equal(t, 1, numeric)
	assert.Equal(t, 1, phone)
	assert.Equal(t, 1, email)
}
