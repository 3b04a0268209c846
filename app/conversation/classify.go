package conversation

import (
	"strings"

	"github.com/m3rciful/leakbot/app/domain"
)

// Kind is the shape of an inbound text.
type Kind int

const (
	KindUnknown Kind = iota
	KindSubscribe
	KindUnsubscribe
	KindHelp
	KindEmail
)

func (k Kind) String() string {
	switch k {
	case KindSubscribe:
		return "subscribe"
	case KindUnsubscribe:
		return "unsubscribe"
	case KindHelp:
		return "help"
	case KindEmail:
		return "email"
	default:
		return "unknown"
	}
}

// Classify maps trimmed text to a Kind. The command token is the first word
// with any @botname suffix removed, so "/start ref" and "/start@leak_bot" both subscribe.
func Classify(text string) Kind {
	text = strings.TrimSpace(text)
	if text == "" {
		return KindUnknown
	}
	if strings.HasPrefix(text, "/") {
		token := strings.Fields(text)[0]
		if at := strings.IndexByte(token, '@'); at > 0 {
			token = token[:at]
		}
		switch token {
		case "/start", "/subscribe":
			return KindSubscribe
		case "/unsubscribe":
			return KindUnsubscribe
		case "/help":
			return KindHelp
		}
	}
	if domain.LooksLikeEmail(text) {
		return KindEmail
	}
	return KindUnknown
}
