package locale

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAndGet(t *testing.T) {
	b, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Выберите дату", b.Get("appointment_form", "action_date"))
	assert.Equal(t, "Уведомления настроены", b.Get("reminder_form", "finished_title"))
	assert.Len(t, b.List("weekdays"), 7)
	assert.Len(t, b.List("short_weekdays"), 7)
}

func TestGetMissingKeyReturnsPath(t *testing.T) {
	b, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "appointment_form.nope", b.Get("appointment_form", "nope"))
}

func TestFormat(t *testing.T) {
	testCases := []struct {
		name   string
		in     string
		params []any
		want   string
	}{
		{
			name:   "positional",
			in:     "Через {} назначены стирки - {}",
			params: []any{"15 мин.", 3},
			want:   "Через 15 мин. назначены стирки - 3",
		},
		{
			name:   "named",
			in:     "Введите: {cmd_}Фамилия",
			params: []any{Props{"cmd_": "/auth "}},
			want:   "Введите: /auth Фамилия",
		},
		{
			name:   "indexed",
			in:     "{1} и {0}",
			params: []any{"a", "b"},
			want:   "b и a",
		},
		{
			name: "no placeholders",
			in:   "как есть",
			want: "как есть",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Format(tc.in, tc.params...))
		})
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	assert.Equal(t, "10\\.06 \\(Пн\\)", EscapeMarkdownV2("10.06 (Пн)"))
}
