// Package guestlink builds the per-guest deep link printed on badges and the
// QR code that encodes it.
package guestlink

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/skip2/go-qrcode"
)

// ErrEmptyID is returned for a guest without an id.
var ErrEmptyID = errors.New("guest id is empty")

// QueryParam is the query parameter that carries the guest id.
const QueryParam = "guestId"

// URL returns base with guestId set to id. Existing query parameters on base
// are kept.
func URL(base, id string) (string, error) {
	if id == "" {
		return "", ErrEmptyID
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid link base %q: %w", base, err)
	}
	q := u.Query()
	q.Set(QueryParam, id)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// GuestID extracts the guest id from a scanned link.
func GuestID(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", link, err)
	}
	id := u.Query().Get(QueryParam)
	if id == "" {
		return "", ErrEmptyID
	}
	return id, nil
}

// PNG renders the guest's link as a QR code image of size x size pixels.
func PNG(base, id string, size int) ([]byte, error) {
	link, err := URL(base, id)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return png, nil
}

// Terminal renders the link as a QR code drawn with block characters.
func Terminal(base, id string) (string, error) {
	link, err := URL(base, id)
	if err != nil {
		return "", err
	}
	q, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to encode qr code: %w", err)
	}
	return q.ToSmallString(false), nil
}
