package bot

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	adminmodels "regdesk/internal/admin/models"
	regmodels "regdesk/internal/registration/models"
	"regdesk/pkg/domain"
	dErrors "regdesk/pkg/domain-errors"
)

const (
	textUnknownCommand = "Unknown command. Send /help to see what I can do."
	textFailure        = "Something went wrong. Please try again later."
	textAccessDenied   = "access denied"
	textNotFound       = "not found"
	textNoPending      = "No pending applications."
	textPanelOff       = "The web panel is not configured."

	textBroadcastStarted = "Broadcast started. I will report when it is done."

	applicantHelp = "/start - register for the tournament\n" +
		"/restart - start the form over\n" +
		"/cancel - abandon the form\n" +
		"/help - this message"
)

// command is an admin command. role is enforced before run is called.
type command struct {
	role  adminmodels.Role
	usage string
	run   func(ctx context.Context, actor domain.PrincipalID, args string) (string, error)
}

func (b *Bot) commandTable() map[string]command {
	return map[string]command{
		"help":             {usage: "/help", run: b.help},
		"pending":          {role: adminmodels.RoleModerator, usage: "/pending - list pending applications", run: b.pending},
		"confirm":          {role: adminmodels.RoleModerator, usage: "/confirm <id> - confirm an application", run: b.confirm},
		"reject":           {role: adminmodels.RoleModerator, usage: "/reject <id> [comment] - reject an application", run: b.reject},
		"broadcast":        {role: adminmodels.RoleModerator, usage: "/broadcast <text> - message every applicant", run: b.broadcast},
		"admin_stats":      {role: adminmodels.RoleModerator, usage: "/admin_stats - registration statistics", run: b.stats},
		"panel":            {role: adminmodels.RoleModerator, usage: "/panel - open the web panel", run: b.panel},
		"admin_add":        {role: adminmodels.RoleAdmin, usage: "/admin_add <id> [admin|moderator] - grant access", run: b.adminAdd},
		"admin_reactivate": {role: adminmodels.RoleAdmin, usage: "/admin_reactivate <id> [admin|moderator] - restore access", run: b.adminReactivate},
		"admin_remove":     {role: adminmodels.RoleAdmin, usage: "/admin_remove <id> - revoke access", run: b.adminRemove},
		"admin_list":       {role: adminmodels.RoleAdmin, usage: "/admin_list - list admins", run: b.adminList},
	}
}

// runCommand is the authorization interceptor in front of every admin
// command.
func (b *Bot) runCommand(ctx context.Context, actor domain.PrincipalID, name string, cmd command, args string) string {
	if cmd.role != "" {
		if _, err := b.moderation.Authorize(ctx, actor, cmd.role); err != nil {
			return b.errorText(err, actor)
		}
	}
	text, err := cmd.run(ctx, actor, args)
	if err != nil {
		b.logger.Debug("command failed", zap.String("command", name), zap.Int64("actor_id", int64(actor)), zap.Error(err))
		return b.errorText(err, actor)
	}
	return text
}

// errorText maps a failure to what the user sees. Infrastructure detail is
// logged, never shown.
func (b *Bot) errorText(err error, actor domain.PrincipalID) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeForbidden:
		return textAccessDenied
	case dErrors.CodeNotFound:
		return textNotFound
	case dErrors.CodeConflict, dErrors.CodeAlreadyProcessed, dErrors.CodeValidation,
		dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return dErrors.Message(err)
	}
	b.logger.Error("request failed", zap.Int64("actor_id", int64(actor)), zap.Error(err))
	return textFailure
}

func (b *Bot) help(ctx context.Context, actor domain.PrincipalID, _ string) (string, error) {
	var sb strings.Builder
	sb.WriteString(applicantHelp)

	a, err := b.moderation.Authorize(ctx, actor, adminmodels.RoleModerator)
	if err != nil {
		return sb.String(), nil
	}
	sb.WriteString("\n\nAdmin commands:")
	for _, name := range helpOrder {
		cmd := b.commands[name]
		if a.Role.Allows(cmd.role) {
			sb.WriteString("\n" + cmd.usage)
		}
	}
	return sb.String(), nil
}

var helpOrder = []string{
	"pending", "confirm", "reject", "broadcast", "admin_stats", "panel",
	"admin_add", "admin_reactivate", "admin_remove", "admin_list",
}

func (b *Bot) pending(ctx context.Context, actor domain.PrincipalID, _ string) (string, error) {
	regs, err := b.moderation.ListPending(ctx, actor)
	if err != nil {
		return "", err
	}
	if len(regs) == 0 {
		return textNoPending, nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Pending applications (%d):", len(regs))
	for _, r := range regs {
		fmt.Fprintf(&sb, "\n#%d %s, %s, %s, %s, %s", int64(r.ID), r.FullName, r.WeaponType, r.Category, r.AgeGroup, r.Phone)
	}
	return sb.String(), nil
}

func (b *Bot) confirm(ctx context.Context, actor domain.PrincipalID, args string) (string, error) {
	id, err := domain.ParseRegistrationID(args)
	if err != nil {
		return "", err
	}
	if _, err := b.moderation.Confirm(ctx, actor, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("Application #%d confirmed.", int64(id)), nil
}

func (b *Bot) reject(ctx context.Context, actor domain.PrincipalID, args string) (string, error) {
	idArg, comment, _ := strings.Cut(args, " ")
	id, err := domain.ParseRegistrationID(idArg)
	if err != nil {
		return "", err
	}
	if _, err := b.moderation.Reject(ctx, actor, id, comment); err != nil {
		return "", err
	}
	return fmt.Sprintf("Application #%d rejected.", int64(id)), nil
}

// broadcast replies at once and reports the totals when the fan-out is done,
// so a long announcement never holds the update worker.
func (b *Bot) broadcast(ctx context.Context, actor domain.PrincipalID, args string) (string, error) {
	if strings.TrimSpace(args) == "" {
		return "", dErrors.New(dErrors.CodeValidation, "announcement text must not be empty")
	}
	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(b.lifetime, cancel)
	b.background.Go(func() {
		defer cancel()
		defer stop()
		res, err := b.moderation.NotifyAll(bctx, actor, args)
		if err != nil {
			b.logger.Debug("command failed", zap.String("command", "broadcast"), zap.Int64("actor_id", int64(actor)), zap.Error(err))
			b.reply(actor, b.errorText(err, actor))
			return
		}
		b.reply(actor, fmt.Sprintf("Broadcast finished: %d delivered, %d failed.", res.Delivered, res.Failed))
	})
	return textBroadcastStarted, nil
}

func (b *Bot) stats(ctx context.Context, actor domain.PrincipalID, _ string) (string, error) {
	st, err := b.moderation.Stats(ctx, actor)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Total applications: %d\n", st.Total)
	fmt.Fprintf(&sb, "Pending: %d\nConfirmed: %d\nRejected: %d",
		st.ByStatus[regmodels.StatusPending], st.ByStatus[regmodels.StatusConfirmed], st.ByStatus[regmodels.StatusRejected])
	if len(st.ByWeapon) > 0 {
		sb.WriteString("\n\nBy weapon:")
		for _, w := range st.ByWeapon {
			fmt.Fprintf(&sb, "\n%s: %d (%d confirmed)", w.WeaponType, w.Total, w.Confirmed)
		}
	}
	return sb.String(), nil
}

func (b *Bot) panel(ctx context.Context, actor domain.PrincipalID, _ string) (string, error) {
	if b.tokens == nil || b.panelURL == "" {
		return textPanelOff, nil
	}
	token, err := b.tokens.Issue(ctx, actor)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to issue panel token")
	}
	return fmt.Sprintf("Panel: %s/panel/registrations?token=%s\nThe link expires after a period of inactivity.",
		b.panelURL, url.QueryEscape(token)), nil
}

func (b *Bot) adminAdd(ctx context.Context, actor domain.PrincipalID, args string) (string, error) {
	target, role, err := targetAndRole(args)
	if err != nil {
		return "", err
	}
	a, err := b.moderation.AddAdmin(ctx, actor, target, role, "")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d is now %s.", int64(a.PrincipalID), a.Role), nil
}

func (b *Bot) adminReactivate(ctx context.Context, actor domain.PrincipalID, args string) (string, error) {
	target, role, err := targetAndRole(args)
	if err != nil {
		return "", err
	}
	a, err := b.moderation.ReactivateAdmin(ctx, actor, target, role)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d is active again as %s.", int64(a.PrincipalID), a.Role), nil
}

func (b *Bot) adminRemove(ctx context.Context, actor domain.PrincipalID, args string) (string, error) {
	target, err := domain.ParsePrincipalID(args)
	if err != nil {
		return "", err
	}
	if err := b.moderation.RemoveAdmin(ctx, actor, target); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d no longer has access.", int64(target)), nil
}

func (b *Bot) adminList(ctx context.Context, actor domain.PrincipalID, _ string) (string, error) {
	admins, err := b.moderation.ListAdmins(ctx, actor)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("Admins:")
	for _, a := range admins {
		state := "active"
		if !a.IsActive {
			state = "inactive"
		}
		fmt.Fprintf(&sb, "\n%d %s (%s)", int64(a.PrincipalID), a.Role, state)
		if a.DisplayName != "" {
			sb.WriteString(" " + a.DisplayName)
		}
	}
	return sb.String(), nil
}

func targetAndRole(args string) (domain.PrincipalID, string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return 0, "", dErrors.New(dErrors.CodeInvalidInput, "principal id is required")
	}
	target, err := domain.ParsePrincipalID(fields[0])
	if err != nil {
		return 0, "", err
	}
	role := ""
	if len(fields) > 1 {
		role = fields[1]
	}
	return target, role, nil
}
