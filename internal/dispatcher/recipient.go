package dispatcher

import (
	"strings"

	"nudge/internal/channel"
	"nudge/internal/template"
)

// recipientAliases lists the accepted payload-root field names per channel,
// in lookup order. Matching is case-insensitive; the alias order decides
// which value wins when a payload carries more than one.
var recipientAliases = map[channel.Channel][]string{
	channel.Email: {
		"Email",
		"EmailDestinatario",
		"EmailAddress",
	},
	channel.SMS: {
		"Telefone",
		"Celular",
		"TelefoneDestinatario",
		"Phone",
		"Mobile",
	},
	channel.WhatsApp: {
		"Telefone",
		"Celular",
		"TelefoneDestinatario",
		"Phone",
		"Mobile",
		"WhatsApp",
	},
}

// ResolveRecipient finds the destination address for a channel at the
// payload root. The second return value is false when no accepted field
// carries a non-empty value.
func ResolveRecipient(ch channel.Channel, p template.Payload) (string, bool) {
	aliases, ok := recipientAliases[ch]
	if !ok {
		return "", false
	}

	lowered := make(map[string]string, len(p))
	for key := range p {
		lowered[strings.ToLower(key)] = key
	}

	for _, alias := range aliases {
		rootKey, ok := lowered[strings.ToLower(alias)]
		if !ok {
			continue
		}
		if value := p.RootString(rootKey); value != "" {
			return value, true
		}
	}

	return "", false
}
