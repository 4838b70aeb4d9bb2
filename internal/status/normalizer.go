// Package status maps each gateway's status vocabulary onto the internal
// order lifecycle. Gateways emit a mix of numeric codes and free text in
// mixed case and language, so matching is keyword membership rather than
// exact equality, and codes win over messages when the two disagree.
package status

import (
	"strings"

	"payment-reconciler/internal/models"
)

// Numeric code sets. Codes are more authoritative than free-text messages.
var codeStatuses = map[string]models.OrderStatus{
	"5": models.StatusPaid,     // Approved
	"8": models.StatusPaid,     // Captured
	"3": models.StatusCanceled, // Denied
	"7": models.StatusCanceled, // Canceled
	"6": models.StatusRefunded, // Refunded
}

// Keyword sets matched against the lowercased message. Stems like "aprovad"
// cover the gendered Portuguese spellings.
var (
	paidKeywords     = []string{"approved", "captured", "succeeded", "pago", "sucesso", "aprovad", "captur"}
	canceledKeywords = []string{"canceled", "denied", "refused", "recusado", "cancelado", "falha"}
	refundedKeywords = []string{"refunded", "estornado"}
)

// Normalize maps a gateway status (numeric code and/or free-text message)
// onto the internal status enum. Anything unrecognized is pending: initiated,
// billet-issued and in-analysis states all wait for a later signal.
func Normalize(gatewayID, code, message string) models.OrderStatus {
	_ = gatewayID // vocabulary is currently shared across gateways

	if s, ok := codeStatuses[strings.TrimSpace(code)]; ok {
		return s
	}

	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return models.StatusPending
	}
	if matchesAny(msg, refundedKeywords) {
		return models.StatusRefunded
	}
	if matchesAny(msg, canceledKeywords) {
		return models.StatusCanceled
	}
	if matchesAny(msg, paidKeywords) {
		return models.StatusPaid
	}
	return models.StatusPending
}

func matchesAny(msg string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
