package mpesa

import (
	"regexp"
	"strings"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"
)

var msisdnPattern = regexp.MustCompile(`^254[17]\d{8}$`)

// NormalizePhone turns local Kenyan mobile numbers into the 2547XXXXXXXX /
// 2541XXXXXXXX form the gateway expects.
func NormalizePhone(raw string) (string, error) {
	phone := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '+':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	switch {
	case strings.HasPrefix(phone, "254"):
	case strings.HasPrefix(phone, "0") && len(phone) == 10:
		phone = "254" + phone[1:]
	case len(phone) == 9 && (phone[0] == '7' || phone[0] == '1'):
		phone = "254" + phone
	}

	if !msisdnPattern.MatchString(phone) {
		return "", domain.ErrInvalidPhoneNumber
	}
	return phone, nil
}
