package session_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"encoding/base64"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	linkPayloadPrefix = "data:image/png;base64,"
	linkImageSize     = 256
)

// renderLinkPayload encodes a link challenge as a QR code PNG data URL.
func renderLinkPayload(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, linkImageSize)
	if err != nil {
		return "", fmt.Errorf("failed to render link challenge: %w", err)
	}
	return linkPayloadPrefix + base64.StdEncoding.EncodeToString(png), nil
}

// DecodeLinkPayload returns the PNG bytes of a payload produced for a link challenge.
func DecodeLinkPayload(payload string) ([]byte, error) {
	raw, ok := strings.CutPrefix(payload, linkPayloadPrefix)
	if !ok {
		return nil, fmt.Errorf("not a PNG data URL")
	}
	return base64.StdEncoding.DecodeString(raw)
}
