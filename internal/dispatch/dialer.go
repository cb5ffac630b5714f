package dispatch

import (
	"errors"
	"log/slog"
	"strings"
)

var ErrNoNumber = errors.New("no emergency number configured")

// Dialer places a direct phone call. It must work without network access.
type Dialer interface {
	Dial(number string) error
}

// LogDialer stands in for the platform telephony intent on headless
// builds: it logs the tel: URI that would be opened.
type LogDialer struct{}

func (LogDialer) Dial(number string) error {
	uri, err := TelURI(number)
	if err != nil {
		return err
	}
	slog.Warn("opening direct emergency call", "uri", uri)
	return nil
}

// TelURI renders number as a tel: URI, dropping spaces and dashes.
func TelURI(number string) (string, error) {
	n := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(number))
	if n == "" {
		return "", ErrNoNumber
	}
	return "tel:" + n, nil
}
