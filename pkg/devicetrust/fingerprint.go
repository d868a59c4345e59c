package devicetrust

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// FingerprintData contains the client hints used to derive a device
// fingerprint. The host collects these from its transport layer; for mobile
// clients a stable device ID alone is preferred when available.
type FingerprintData struct {
	UserAgent        string
	AcceptHeaders    string
	Timezone         string
	ScreenResolution string
	DeviceID         string
}

// Fingerprint derives a stable SHA-256 fingerprint from the provided data.
func Fingerprint(data FingerprintData) string {
	combined := data.DeviceID
	if combined == "" {
		combined = fmt.Sprintf("%s|%s|%s|%s",
			data.UserAgent,
			data.AcceptHeaders,
			data.Timezone,
			data.ScreenResolution,
		)
	}

	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}
