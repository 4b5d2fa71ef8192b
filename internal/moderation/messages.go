package moderation

import (
	"fmt"
	"strings"

	adminmodels "regdesk/internal/admin/models"
	"regdesk/internal/notify"
	regmodels "regdesk/internal/registration/models"
	"regdesk/pkg/domain"
)

// Callback data prefixes carried by the inline buttons on admin alerts.
const (
	CallbackConfirm = "confirm:"
	CallbackReject  = "reject:"
)

func adminAlert(reg *regmodels.Registration, eventLabel string) notify.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "New registration #%d\n", int64(reg.ID))
	fmt.Fprintf(&b, "Name: %s\n", reg.FullName)
	if reg.Username != "" {
		fmt.Fprintf(&b, "Username: @%s\n", reg.Username)
	}
	fmt.Fprintf(&b, "Weapon: %s\n", reg.WeaponType)
	fmt.Fprintf(&b, "Category: %s\n", reg.Category)
	fmt.Fprintf(&b, "Age group: %s\n", reg.AgeGroup)
	fmt.Fprintf(&b, "Phone: %s\n", reg.Phone)
	if eventLabel != "" {
		fmt.Fprintf(&b, "Tournament: %s\n", eventLabel)
	}
	fmt.Fprintf(&b, "Experience: %s", reg.Experience)

	id := reg.ID.String()
	return notify.Message{
		Text: b.String(),
		Buttons: []notify.Button{
			{Text: "Confirm", Data: CallbackConfirm + id},
			{Text: "Reject", Data: CallbackReject + id},
		},
	}
}

func decisionMessage(reg *regmodels.Registration) notify.Message {
	if reg.Status == regmodels.StatusConfirmed {
		return notify.Message{Text: fmt.Sprintf("Your application #%d has been confirmed. See you at the tournament!", int64(reg.ID))}
	}
	text := fmt.Sprintf("Your application #%d has been rejected.", int64(reg.ID))
	if reg.AdminComment != "" {
		text += "\nComment: " + reg.AdminComment
	}
	return notify.Message{Text: text}
}

func announcement(body string) notify.Message {
	return notify.Message{Text: "Announcement: " + body}
}

func grantMessage(role adminmodels.Role) notify.Message {
	return notify.Message{Text: fmt.Sprintf("You have been granted the %s role. Send /help to see the available commands.", role)}
}

// ParseCallback splits inline button data into an action and a registration
// id. ok is false for data not produced by adminAlert.
func ParseCallback(data string) (action string, id domain.RegistrationID, ok bool) {
	for _, prefix := range []string{CallbackConfirm, CallbackReject} {
		if rest, found := strings.CutPrefix(data, prefix); found {
			parsed, err := domain.ParseRegistrationID(rest)
			if err != nil {
				return "", 0, false
			}
			return strings.TrimSuffix(prefix, ":"), parsed, true
		}
	}
	return "", 0, false
}
