package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/extinguish558/jci-checkin-system-sub000/internal/models"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/registry"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/whatsapp"
)

// Registry is the subset of the guest registry the handler needs.
type Registry interface {
	Guests() []models.Guest
	CheckIn(id string) (models.Guest, bool, error)
	Settings() models.SystemSettings
}

// CheckInHandler lets guests check themselves in by replying to the event
// number on WhatsApp.
type CheckInHandler struct {
	sender   whatsapp.Sender
	registry Registry
}

// NewCheckInHandler creates a new check-in handler
func NewCheckInHandler(sender whatsapp.Sender, reg Registry) *CheckInHandler {
	return &CheckInHandler{
		sender:   sender,
		registry: reg,
	}
}

// HandleMessage processes incoming WhatsApp messages for check-in requests
func (h *CheckInHandler) HandleMessage(msg *events.Message) error {
	text := whatsapp.MessageText(msg)
	if text == "" {
		return nil
	}
	return h.Handle(context.Background(), whatsapp.SenderPhone(msg.Info.Sender), text)
}

// Handle checks in the guest registered under phone when text is a check-in
// request, and replies with the outcome. Unknown numbers and unrelated
// messages are ignored.
func (h *CheckInHandler) Handle(ctx context.Context, phone, text string) error {
	if !IsCheckInRequest(text) {
		return nil
	}

	guest, ok := h.findByPhone(phone)
	if !ok {
		return nil
	}

	g, first, err := h.registry.CheckIn(guest.ID)
	if err != nil {
		if errors.Is(err, registry.ErrGuestNotFound) {
			return nil
		}
		return fmt.Errorf("failed to check in: %w", err)
	}

	var reply string
	if first {
		settings := h.registry.Settings()
		reply = whatsapp.CheckInMessage(g.Name, settings.EventName, displayRound(g))
	} else {
		reply = fmt.Sprintf("%s 您好，您已於第 %d 場完成報到，無需重複報到。", g.Name, displayRound(g))
	}

	if err := h.sender.SendMessage(ctx, phone, reply); err != nil {
		return fmt.Errorf("failed to send confirmation: %w", err)
	}
	return nil
}

func (h *CheckInHandler) findByPhone(phone string) (models.Guest, bool) {
	phone = whatsapp.NormalizePhoneNumber(phone)
	for _, g := range h.registry.Guests() {
		if g.Phone != "" && whatsapp.NormalizePhoneNumber(g.Phone) == phone {
			return g, true
		}
	}
	return models.Guest{}, false
}

func displayRound(g models.Guest) int {
	if g.Round == nil {
		return 0
	}
	return *g.Round
}

// IsCheckInRequest reports whether text asks to check in.
func IsCheckInRequest(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	return containsAny(text, "報到", "签到", "簽到", "checkin", "check-in", "check in", "i'm here", "✅")
}

// containsAny checks if the text contains any of the given keywords
func containsAny(text string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
