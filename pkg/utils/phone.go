package utils

import (
	"regexp"
	"strings"
)

var e164Regex = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// MaskPhoneNumber masks a phone number for logging.
// Example: +6598765432 -> +65••••5432
func MaskPhoneNumber(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}

	prefix := ""
	digits := phone
	if strings.HasPrefix(phone, "+") && len(phone) > 7 {
		prefix = phone[:3]
		digits = phone[3:]
	}

	if len(digits) <= 4 {
		return prefix + strings.Repeat("•", len(digits))
	}
	return prefix + strings.Repeat("•", len(digits)-4) + digits[len(digits)-4:]
}

// ValidateE164 validates E.164 phone number format
func ValidateE164(phone string) bool {
	return e164Regex.MatchString(phone)
}

// NormalizeE164 strips formatting characters and prefixes a missing "+".
// The caller still has to check ValidateE164 on the result.
func NormalizeE164(phone string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	phone = replacer.Replace(strings.TrimSpace(phone))
	if phone != "" && !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	return phone
}
