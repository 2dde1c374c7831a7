package notify

import (
	"context"
	"log"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Notifier delivers best-effort messages to users. Implementations must never
// return delivery failures into control flow; they log and move on.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string)
}

// TelegramNotifier sends messages through the bot instance.
type TelegramNotifier struct {
	Bot *telego.Bot
}

func NewTelegramNotifier(bot *telego.Bot) *TelegramNotifier {
	return &TelegramNotifier{Bot: bot}
}

func (n *TelegramNotifier) Notify(ctx context.Context, userID int64, text string) {
	_, err := n.Bot.SendMessage(ctx, tu.Message(tu.ID(userID), text))
	if err != nil {
		log.Printf("Failed to send notification to %d: %v", userID, err)
	}
}
