package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecipientContextApply(t *testing.T) {
	ctx := RecipientContext{
		FirstName: "Maria",
		LastName:  "Papadopoulou",
		Company:   "KK Tires",
		City:      "Athens",
		Phone:     "+302101234567",
		Email:     "maria@example.com",
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{
			name:     "all fields",
			template: "Hi {first_name} {last_name} from {company} in {city}, reach us at {phone} ({email})",
			want:     "Hi Maria Papadopoulou from KK Tires in Athens, reach us at +302101234567 (maria@example.com)",
		},
		{
			name:     "full name token",
			template: "Dear {name},",
			want:     "Dear Maria Papadopoulou,",
		},
		{
			name:     "unknown token untouched",
			template: "Hello {nickname}",
			want:     "Hello {nickname}",
		},
		{
			name:     "no tokens",
			template: "Plain text",
			want:     "Plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ctx.Apply(tt.template))
		})
	}
}

func TestRecipientContextApply_EmptyFields(t *testing.T) {
	ctx := RecipientContext{Email: "anon@example.com"}

	assert.Equal(t, "Hi  !", ctx.Apply("Hi {first_name} {last_name}!"))
	assert.Equal(t, "Dear ,", ctx.Apply("Dear {name},"))
}

func TestFullName(t *testing.T) {
	tests := []struct {
		name  string
		first string
		last  string
		want  string
	}{
		{name: "both", first: "Maria", last: "Papadopoulou", want: "Maria Papadopoulou"},
		{name: "first only", first: "Maria", want: "Maria"},
		{name: "last only", last: "Papadopoulou", want: "Papadopoulou"},
		{name: "neither", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := RecipientContext{FirstName: tt.first, LastName: tt.last}
			assert.Equal(t, tt.want, ctx.FullName())
		})
	}
}

func TestEmailDomain(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{email: "maria@example.com", want: "example.com"},
		{email: "maria@Example.COM", want: "example.com"},
		{email: "a@b@c.com", want: "c.com"},
		{email: "no-at-sign", want: ""},
		{email: "trailing@", want: ""},
		{email: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.want, EmailDomain(tt.email))
		})
	}
}

func TestTruncateError(t *testing.T) {
	assert.Equal(t, "short", TruncateError("short", 10))
	assert.Equal(t, "exact", TruncateError("exact", 5))
	assert.Equal(t, "trunc", TruncateError("truncated", 5))
	assert.Equal(t, "untouched", TruncateError("untouched", 0))
}

func TestPendingItemContext(t *testing.T) {
	first := "Maria"
	item := PendingItem{
		Email:     "maria@example.com",
		FirstName: &first,
	}

	ctx := item.Context()
	assert.Equal(t, "Maria", ctx.FirstName)
	assert.Equal(t, "", ctx.LastName)
	assert.Equal(t, "maria@example.com", ctx.Email)
}
