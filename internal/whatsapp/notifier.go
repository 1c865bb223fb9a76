package whatsapp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/extinguish558/jci-checkin-system-sub000/internal/registry"
)

// Sender delivers a text to a phone number. *Service implements it.
type Sender interface {
	SendMessage(ctx context.Context, phoneNumber, message string) error
}

// NotifierConfig selects which events produce a message.
type NotifierConfig struct {
	CheckIn   bool
	Winner    bool
	EventName func() string
	Timeout   time.Duration
}

// Notifier messages guests about their own check-in and lottery wins. It is
// a registry listener; sends happen in the background so registry callers
// never wait on WhatsApp.
type Notifier struct {
	sender Sender
	cfg    NotifierConfig
	log    zerolog.Logger
	wg     sync.WaitGroup
}

// NewNotifier creates a notifier sending through sender.
func NewNotifier(sender Sender, cfg NotifierConfig, log zerolog.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EventName == nil {
		cfg.EventName = func() string { return "" }
	}
	return &Notifier{
		sender: sender,
		cfg:    cfg,
		log:    log.With().Str("component", "Notifier").Logger(),
	}
}

// HandleEvent implements registry.Listener.
func (n *Notifier) HandleEvent(e registry.Event) {
	if e.Guest.Phone == "" {
		return
	}
	msg, ok := n.message(e)
	if !ok {
		return
	}

	phone := e.Guest.Phone
	guestID := e.Guest.ID
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
		defer cancel()
		if err := n.sender.SendMessage(ctx, phone, msg); err != nil {
			n.log.Error().Err(err).Str("guest_id", guestID).Str("kind", string(e.Kind)).Msg("Failed to notify guest")
		}
	}()
}

// Wait blocks until queued notifications finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) message(e registry.Event) (string, bool) {
	event := n.cfg.EventName()
	switch e.Kind {
	case registry.EventCheckedIn:
		if !n.cfg.CheckIn {
			return "", false
		}
		return CheckInMessage(e.Guest.Name, event, e.Round), true
	case registry.EventWon:
		if !n.cfg.Winner {
			return "", false
		}
		return WinnerMessage(e.Guest.Name, event, e.Round), true
	}
	return "", false
}

// CheckInMessage is the confirmation a guest receives after checking in.
func CheckInMessage(name, event string, round int) string {
	if event == "" {
		return fmt.Sprintf("%s 您好，已完成第 %d 場報到，歡迎蒞臨！", name, round)
	}
	return fmt.Sprintf("%s 您好，已完成「%s」第 %d 場報到，歡迎蒞臨！", name, event, round)
}

// WinnerMessage congratulates a lottery winner.
func WinnerMessage(name, event string, round int) string {
	if event == "" {
		return fmt.Sprintf("🎉 恭喜 %s 於第 %d 輪抽獎中獎！請至服務台領獎。", name, round)
	}
	return fmt.Sprintf("🎉 恭喜 %s 於「%s」第 %d 輪抽獎中獎！請至服務台領獎。", name, event, round)
}
