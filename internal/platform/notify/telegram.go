// Package notify tells the shop staff about order status changes over Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	domain "github.com/acai-shop/api/internal/domain"
	"github.com/acai-shop/api/internal/services"
)

// Sender is the subset of tgbotapi.BotAPI used by the notifier.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

var supportedLocales = []language.Tag{
	language.BrazilianPortuguese,
	language.English,
}

var localeMatcher = language.NewMatcher(supportedLocales)

var statusLabels = map[language.Tag]map[domain.OrderStatus]string{
	language.BrazilianPortuguese: {
		domain.OrderStatusPendingPayment: "Aguardando pagamento",
		domain.OrderStatusBeingPrepared:  "Em preparo",
		domain.OrderStatusOnTheWay:       "Saiu para entrega",
		domain.OrderStatusReadyForPickup: "Pronto para retirada",
		domain.OrderStatusDelivered:      "Entregue",
		domain.OrderStatusCanceled:       "Cancelado",
	},
	language.English: {
		domain.OrderStatusPendingPayment: "Awaiting payment",
		domain.OrderStatusBeingPrepared:  "Being prepared",
		domain.OrderStatusOnTheWay:       "On the way",
		domain.OrderStatusReadyForPickup: "Ready for pickup",
		domain.OrderStatusDelivered:      "Delivered",
		domain.OrderStatusCanceled:       "Canceled",
	},
}

var phrases = map[language.Tag]map[string]string{
	language.BrazilianPortuguese: {
		"order":     "Pedido",
		"total":     "Total",
		"deliverer": "Entregador",
		"pickup":    "Retirada no balcão",
		"new":       "Novo pedido",
	},
	language.English: {
		"order":     "Order",
		"total":     "Total",
		"deliverer": "Deliverer",
		"pickup":    "Counter pickup",
		"new":       "New order",
	},
}

// TelegramNotifier posts a short message to the admin chat whenever an order changes status.
type TelegramNotifier struct {
	sender  Sender
	chatID  int64
	locale  language.Tag
	printer *message.Printer
}

var _ services.StatusNotifier = (*TelegramNotifier)(nil)

// NewTelegramBot connects to the Bot API. It performs a getMe round trip to validate the token.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect bot: %w", err)
	}
	return bot, nil
}

// NewTelegramNotifier builds a notifier for the given chat. Unknown locales fall back to pt-BR.
func NewTelegramNotifier(sender Sender, chatID int64, locale string) (*TelegramNotifier, error) {
	if sender == nil {
		return nil, errors.New("telegram notifier: sender is required")
	}
	if chatID == 0 {
		return nil, errors.New("telegram notifier: admin chat id is required")
	}
	tag := matchLocale(locale)
	return &TelegramNotifier{
		sender:  sender,
		chatID:  chatID,
		locale:  tag,
		printer: message.NewPrinter(tag),
	}, nil
}

func matchLocale(locale string) language.Tag {
	locale = strings.ReplaceAll(strings.TrimSpace(locale), "_", "-")
	if locale == "" {
		return supportedLocales[0]
	}
	parsed, err := language.Parse(locale)
	if err != nil {
		return supportedLocales[0]
	}
	_, index, confidence := localeMatcher.Match(parsed)
	if confidence == language.No {
		return supportedLocales[0]
	}
	return supportedLocales[index]
}

// NotifyStatusChange sends the message synchronously. Failures are returned to the caller, which
// logs them without rolling back the transition.
func (n *TelegramNotifier) NotifyStatusChange(ctx context.Context, order domain.Order, change domain.StatusChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, n.Format(order, change))
	msg.DisableWebPagePreview = true
	if _, err := n.sender.Send(msg); err != nil {
		return fmt.Errorf("telegram: send status change for order %d: %w", order.ID, err)
	}
	return nil
}

// Format renders the notification text.
func (n *TelegramNotifier) Format(order domain.Order, change domain.StatusChange) string {
	words := phrases[n.locale]
	var b strings.Builder
	if change.From == "" {
		fmt.Fprintf(&b, "%s #%d\n", words["new"], order.ID)
	} else {
		fmt.Fprintf(&b, "%s #%d: %s → %s\n", words["order"], order.ID, n.StatusLabel(change.From), n.StatusLabel(change.To))
	}
	fmt.Fprintf(&b, "%s: R$ %s", words["total"], n.Money(order.TotalPrice))
	switch {
	case change.DelivererID != nil:
		fmt.Fprintf(&b, "\n%s #%d", words["deliverer"], *change.DelivererID)
	case order.DeliveryType == domain.DeliveryTypePickup:
		fmt.Fprintf(&b, "\n%s", words["pickup"])
	}
	return b.String()
}

// StatusLabel returns the localized label, or the raw status when none is known.
func (n *TelegramNotifier) StatusLabel(status domain.OrderStatus) string {
	if label, ok := statusLabels[n.locale][status]; ok {
		return label
	}
	return string(status)
}

// Money formats an amount with the locale's separators and two fraction digits.
func (n *TelegramNotifier) Money(amount decimal.Decimal) string {
	return n.printer.Sprint(number.Decimal(domain.RoundMoney(amount).InexactFloat64(), number.Scale(2)))
}
