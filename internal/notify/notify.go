// Package notify describes the outbound side of the chat transport.
package notify

import "context"

type Button struct {
	Label string
	Data  string
}

// Menu is a keyboard of button rows.
type Menu [][]Button

// Column lays out one button per row.
func Column(buttons ...Button) Menu {
	m := make(Menu, 0, len(buttons))
	for _, b := range buttons {
		m = append(m, []Button{b})
	}
	return m
}

// Sender delivers messages to a chat. Every failure is a *domain.TransportError.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, photoRef, caption string, menu Menu) error
	SendMenu(ctx context.Context, chatID int64, text string, menu Menu) error
	ClearMenu(ctx context.Context, chatID int64, messageID int) error
	AckCallback(ctx context.Context, callbackID string) error
}
