package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// MessageHandler is a callback function for handling messages
type MessageHandler func(*events.Message) error

type Config struct {
	DataDir string
}

type Service struct {
	client         *whatsmeow.Client
	cfg            *Config
	log            zerolog.Logger
	messageHandler MessageHandler

	// Numbers already verified with IsOnWhatsApp.
	mu   sync.Mutex
	jids map[string]types.JID
}

// NewService creates a new WhatsApp service
func NewService(ctx context.Context, cfg *Config, log zerolog.Logger) (*Service, error) {
	container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s/whatsmeow.db?_foreign_keys=on", cfg.DataDir), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)

	service := &Service{
		client: client,
		cfg:    cfg,
		log:    log.With().Str("component", "WhatsApp").Logger(),
		jids:   make(map[string]types.JID),
	}

	client.AddEventHandler(func(evt interface{}) {
		service.eventHandler(evt)
	})

	return service, nil
}

// NormalizePhoneNumber strips formatting and converts Taiwanese local
// mobile numbers (09XXXXXXXX) to international form (8869XXXXXXXX).
func NormalizePhoneNumber(phoneNumber string) string {
	phoneNumber = strings.NewReplacer("+", "", " ", "", "-", "", "(", "", ")", "").Replace(phoneNumber)

	if strings.HasPrefix(phoneNumber, "09") && len(phoneNumber) == 10 {
		phoneNumber = "886" + phoneNumber[1:]
	}

	// 8860 9XX... written with the trunk zero kept
	if strings.HasPrefix(phoneNumber, "8860") {
		phoneNumber = "886" + phoneNumber[4:]
	}

	return phoneNumber
}

// Connect connects to WhatsApp, printing a login QR code on first run.
func (s *Service) Connect(ctx context.Context) error {
	if s.client.Store.ID != nil {
		if err := s.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return nil
	}

	qrChan, _ := s.client.GetQRChannel(ctx)
	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			s.log.Info().Str("event", evt.Event).Msg("Login event")
			continue
		}
		q, err := qrcode.New(evt.Code, qrcode.Medium)
		if err != nil {
			fmt.Printf("QR Code: %s\n", evt.Code)
			continue
		}
		fmt.Println("\n" + q.ToSmallString(false))
		fmt.Println("Scan the QR code above in WhatsApp > Settings > Linked Devices")
	}
	return nil
}

// Disconnect disconnects from WhatsApp
func (s *Service) Disconnect() {
	s.client.Disconnect()
}

// IsConnected reports whether the websocket to WhatsApp is up.
func (s *Service) IsConnected() bool {
	return s.client.IsConnected()
}

// SendMessage sends a simple text message
func (s *Service) SendMessage(ctx context.Context, phoneNumber, message string) error {
	jid, err := s.resolve(ctx, NormalizePhoneNumber(phoneNumber))
	if err != nil {
		return err
	}

	sent, err := s.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: &message,
	})
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", jid.String(), err)
	}

	s.log.Debug().Str("id", sent.ID).Time("timestamp", sent.Timestamp).Msg("Message sent")
	return nil
}

// resolve maps a normalized number to its WhatsApp JID, asking the server
// only the first time a number is seen.
func (s *Service) resolve(ctx context.Context, phoneNumber string) (types.JID, error) {
	s.mu.Lock()
	jid, ok := s.jids[phoneNumber]
	s.mu.Unlock()
	if ok {
		return jid, nil
	}

	resp, err := s.client.IsOnWhatsApp(ctx, []string{"+" + phoneNumber})
	if err != nil {
		return types.JID{}, fmt.Errorf("failed to verify number on WhatsApp: %w", err)
	}
	if len(resp) == 0 || !resp[0].IsIn {
		return types.JID{}, fmt.Errorf("number %s is not registered on WhatsApp", phoneNumber)
	}
	jid = resp[0].JID
	s.log.Debug().Str("jid", jid.String()).Str("phone", phoneNumber).Msg("Resolved number")

	s.mu.Lock()
	s.jids[phoneNumber] = jid
	s.mu.Unlock()
	return jid, nil
}

// eventHandler handles incoming WhatsApp events
func (s *Service) eventHandler(evt interface{}) {
	switch evt := evt.(type) {
	case *events.Message:
		s.handleMessage(evt)
	case *events.Connected:
		s.log.Info().Msg("Connected to WhatsApp")
	case *events.Disconnected:
		s.log.Info().Msg("Disconnected from WhatsApp")
	case *events.LoggedOut:
		s.log.Info().Msg("Logged out from WhatsApp")
	}
}

// handleMessage processes incoming messages
func (s *Service) handleMessage(msg *events.Message) {
	if msg.Info.IsFromMe {
		return
	}

	if s.messageHandler != nil {
		if err := s.messageHandler(msg); err != nil {
			s.log.Error().Err(err).Msg("Error handling message")
		}
		return
	}
	s.log.Info().
		Str("sender", msg.Info.Sender.String()).
		Str("message", MessageText(msg)).
		Msg("Received message")
}

// SetMessageHandler sets a custom handler for incoming messages
func (s *Service) SetMessageHandler(handler MessageHandler) {
	s.messageHandler = handler
}

// SenderPhone returns the normalized phone number of a message sender.
func SenderPhone(jid types.JID) string {
	return NormalizePhoneNumber(jid.User)
}

// MessageText returns the plain text of a message, whether it arrived as a
// bare conversation or as an extended text (replies, links).
func MessageText(msg *events.Message) string {
	if msg.Message == nil {
		return ""
	}
	if text := msg.Message.GetConversation(); text != "" {
		return text
	}
	return msg.Message.GetExtendedTextMessage().GetText()
}
