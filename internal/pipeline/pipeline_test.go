package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leadlinehq/leadline/internal/tenant"
)

func menuItems() []tenant.QuickReply {
	return []tenant.QuickReply{
		{ID: 10, Title: "Talk to sales", PayloadText: "SALES"},
		{ID: 11, Title: "Browse catalog", PayloadText: "BROWSE"},
		{ID: 12, Title: "Opening hours", PayloadText: "HOURS"},
	}
}

func TestMapMenuSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "first option", text: "1", want: "SALES"},
		{name: "last option", text: "3", want: "HOURS"},
		{name: "padded number", text: "  2  ", want: "BROWSE"},
		{name: "out of range high", text: "4", want: "4"},
		{name: "zero", text: "0", want: "0"},
		{name: "negative", text: "-1", want: "-1"},
		{name: "not a number", text: "sales", want: "sales"},
		{name: "number inside sentence", text: "option 2 please", want: "option 2 please"},
		{name: "empty", text: "", want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, mapMenuSelection(tt.text, menuItems()))
		})
	}
}

func TestMapMenuSelectionNoItems(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1", mapMenuSelection("1", nil))
}

func TestMenuButtonsNumbersFromOne(t *testing.T) {
	t.Parallel()

	buttons := menuButtons(menuItems())
	assert.Len(t, buttons, 3)
	assert.Equal(t, "1", buttons[0].ID)
	assert.Equal(t, "Talk to sales", buttons[0].Title)
	assert.Equal(t, "3", buttons[2].ID)
	assert.Equal(t, "Opening hours", buttons[2].Title)
}

func TestMenuButtonsEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, menuButtons(nil))
}
