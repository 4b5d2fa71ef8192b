// Package conversation drives the applicant's registration dialogue: one
// question per message, validated answers accumulated in a session until the
// applicant confirms and the draft is handed to moderation.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"regdesk/internal/conversation/metrics"
	"regdesk/internal/conversation/models"
	regmodels "regdesk/internal/registration/models"
	"regdesk/internal/validation"
	"regdesk/pkg/domain"
	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/platform/sentinel"
)

type SessionStore interface {
	Get(ctx context.Context, p domain.PrincipalID) (*models.Session, error)
	Save(ctx context.Context, p domain.PrincipalID, sess *models.Session) error
	Delete(ctx context.Context, p domain.PrincipalID) error
}

// EventSource lists tournaments applicants may pick from.
type EventSource interface {
	ActiveFutureEvents(ctx context.Context, from time.Time) ([]*regmodels.Event, error)
}

// Submitter persists a completed registration and sets its ID.
type Submitter interface {
	Submit(ctx context.Context, reg *regmodels.Registration) error
}

const (
	textGreeting   = "Welcome! Let's register you for the tournament."
	textRestarted  = "Let's start over."
	textCancelled  = "Registration cancelled. Send /start to begin again."
	textName       = "Please enter your full name:"
	textWeapon     = "Choose your weapon:"
	textCategory   = "Choose your category:"
	textAgeGroup   = "Choose your age group:"
	textPhone      = "Share your contact or type your phone number:"
	textEvent      = "Choose the tournament:"
	textExperience = "Tell us about your fencing experience:"
	textPickOption = "Please choose one of the options below."
	textBadPhone   = "Could not read that phone number. Send 10 or 11 digits, for example 89991234567."
	textSubmitted  = "Application #%d submitted! An administrator will review it and contact you."
	textFailed     = "Sorry, we could not save your application. Please try again later with /start."
)

type Engine struct {
	sessions  SessionStore
	events    EventSource
	submitter Submitter
	rules     validation.Rules

	locks keyedMutex

	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(sessions SessionStore, events EventSource, submitter Submitter, rules validation.Rules, opts ...Option) *Engine {
	e := &Engine{
		sessions:  sessions,
		events:    events,
		submitter: submitter,
		rules:     rules,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleInbound advances the principal's dialogue by one interaction.
// Interactions for the same principal are serialised; different principals
// proceed in parallel. Validation failures are not errors: the reply
// re-prompts the same question.
func (e *Engine) HandleInbound(ctx context.Context, p domain.PrincipalID, in models.Inbound) (models.Reply, error) {
	unlock := e.locks.Lock(p)
	defer unlock()

	switch in.Command {
	case models.CommandStart:
		return e.begin(ctx, p, in, textGreeting)
	case models.CommandRestart:
		e.metrics.IncRestart()
		return e.begin(ctx, p, in, textRestarted)
	case models.CommandCancel:
		if err := e.sessions.Delete(ctx, p); err != nil {
			return models.Reply{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to cancel session")
		}
		return models.Reply{Text: textCancelled, RemoveKeyboard: true}, nil
	}

	sess, err := e.sessions.Get(ctx, p)
	if errors.Is(err, sentinel.ErrNotFound) {
		// The opening message only starts the dialogue; it is not an answer.
		return e.begin(ctx, p, in, textGreeting)
	}
	if err != nil {
		return models.Reply{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load session")
	}
	if in.Username != "" {
		sess.Draft.Username = in.Username
	}

	reply, done, err := e.step(ctx, p, sess, in)
	if err != nil || done {
		return reply, err
	}
	sess.UpdatedAt = e.now()
	if err := e.sessions.Save(ctx, p, sess); err != nil {
		return models.Reply{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to save session")
	}
	return reply, nil
}

func (e *Engine) begin(ctx context.Context, p domain.PrincipalID, in models.Inbound, intro string) (models.Reply, error) {
	sess := models.NewSession(e.now())
	sess.Draft.Username = in.Username
	if err := e.sessions.Save(ctx, p, sess); err != nil {
		return models.Reply{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to start session")
	}
	return models.Reply{Text: intro + "\n" + textName, RemoveKeyboard: true}, nil
}

// step applies one input to sess. done reports that the session was
// destroyed and must not be saved.
func (e *Engine) step(ctx context.Context, p domain.PrincipalID, sess *models.Session, in models.Inbound) (models.Reply, bool, error) {
	text := strings.TrimSpace(in.Text)
	state := sess.State

	switch state {
	case models.StateName:
		name, ok := e.rules.Name(text)
		if !ok {
			return e.reject(state, models.Reply{
				Text: fmt.Sprintf("Name must be at least %d characters. %s", e.rules.NameMinLength, textName),
			})
		}
		sess.Draft.FullName = name
		return e.advance(state, sess, models.StateWeapon), false, nil

	case models.StateWeapon:
		if !validation.Choice(text, e.rules.Weapons) {
			return e.reject(state, e.prompt(sess, state, textPickOption))
		}
		sess.Draft.WeaponType = text
		return e.advance(state, sess, models.StateCategory), false, nil

	case models.StateCategory:
		if !validation.Choice(text, e.rules.Categories) {
			return e.reject(state, e.prompt(sess, state, textPickOption))
		}
		sess.Draft.Category = text
		return e.advance(state, sess, models.StateAgeGroup), false, nil

	case models.StateAgeGroup:
		if !validation.Choice(text, e.rules.AgeGroups) {
			return e.reject(state, e.prompt(sess, state, textPickOption))
		}
		sess.Draft.AgeGroup = text
		return e.advance(state, sess, models.StatePhone), false, nil

	case models.StatePhone:
		raw := text
		if in.Contact != "" {
			raw = in.Contact
		}
		phone, err := e.rules.Phone(raw)
		if err != nil {
			return e.reject(state, e.prompt(sess, state, textBadPhone))
		}
		sess.Draft.Phone = phone
		e.loadEventOptions(ctx, p, sess)
		if len(sess.EventOptions) > 0 {
			return e.advance(state, sess, models.StateEvent), false, nil
		}
		return e.advance(state, sess, models.StateExperience), false, nil

	case models.StateEvent:
		for _, opt := range sess.EventOptions {
			if opt.Label == text {
				id := opt.ID
				sess.Draft.EventID = &id
				sess.Draft.EventLabel = opt.Label
				return e.advance(state, sess, models.StateExperience), false, nil
			}
		}
		return e.reject(state, e.prompt(sess, state, textPickOption))

	case models.StateExperience:
		exp, ok := e.rules.Experience(text)
		if !ok {
			return e.reject(state, models.Reply{
				Text: fmt.Sprintf("Please describe your experience in at least %d characters.", e.rules.ExperienceMinLength),
			})
		}
		sess.Draft.Experience = exp
		return e.advance(state, sess, models.StateConfirm), false, nil

	case models.StateConfirm:
		if e.rules.IsAffirmative(text) {
			reply, err := e.complete(ctx, p, sess)
			return reply, true, err
		}
		// Anything other than the affirmative label restarts the dialogue.
		e.metrics.IncRestart()
		fresh := models.NewSession(e.now())
		fresh.Draft.Username = sess.Draft.Username
		*sess = *fresh
		return models.Reply{Text: textRestarted + "\n" + textName, RemoveKeyboard: true}, false, nil
	}

	e.logger.Warn("unknown conversation state, restarting", zap.String("state", string(state)))
	*sess = *models.NewSession(e.now())
	return models.Reply{Text: textRestarted + "\n" + textName, RemoveKeyboard: true}, false, nil
}

func (e *Engine) reject(state models.State, reply models.Reply) (models.Reply, bool, error) {
	e.metrics.IncInput(string(state), "rejected")
	return reply, false, nil
}

func (e *Engine) advance(from models.State, sess *models.Session, to models.State) models.Reply {
	e.metrics.IncInput(string(from), "accepted")
	sess.State = to
	return e.prompt(sess, to, "")
}

// prompt renders the question for state, optionally prefixed by a hint.
func (e *Engine) prompt(sess *models.Session, state models.State, hint string) models.Reply {
	var r models.Reply
	switch state {
	case models.StateName:
		r = models.Reply{Text: textName, RemoveKeyboard: true}
	case models.StateWeapon:
		r = models.Reply{Text: textWeapon, Options: e.rules.Weapons}
	case models.StateCategory:
		r = models.Reply{Text: textCategory, Options: e.rules.Categories}
	case models.StateAgeGroup:
		r = models.Reply{Text: textAgeGroup, Options: e.rules.AgeGroups}
	case models.StatePhone:
		r = models.Reply{Text: textPhone, RequestContact: true}
	case models.StateEvent:
		r = models.Reply{Text: textEvent, Options: sess.EventLabels()}
	case models.StateExperience:
		r = models.Reply{Text: textExperience, RemoveKeyboard: true}
	case models.StateConfirm:
		r = models.Reply{Text: summary(sess.Draft), Options: []string{e.rules.ConfirmYes, e.rules.ConfirmNo}}
	}
	if hint != "" {
		r.Text = hint + "\n" + r.Text
	}
	return r
}

// loadEventOptions fills the offered tournaments. A lookup failure skips the
// step rather than blocking the applicant.
func (e *Engine) loadEventOptions(ctx context.Context, p domain.PrincipalID, sess *models.Session) {
	sess.EventOptions = nil
	if e.events == nil {
		return
	}
	now := e.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	evts, err := e.events.ActiveFutureEvents(ctx, today)
	if err != nil {
		e.logger.Warn("failed to load events, skipping event choice",
			zap.Int64("principal_id", int64(p)), zap.Error(err))
		return
	}
	for _, ev := range evts {
		sess.EventOptions = append(sess.EventOptions, models.EventOption{ID: ev.ID, Label: ev.Label()})
	}
}

// complete hands the draft to moderation. The session is destroyed whatever
// the outcome; a failed submit is not retried.
func (e *Engine) complete(ctx context.Context, p domain.PrincipalID, sess *models.Session) (models.Reply, error) {
	now := e.now()
	reg := &regmodels.Registration{
		PrincipalID: p,
		Username:    sess.Draft.Username,
		FullName:    sess.Draft.FullName,
		WeaponType:  sess.Draft.WeaponType,
		Category:    sess.Draft.Category,
		AgeGroup:    sess.Draft.AgeGroup,
		Phone:       sess.Draft.Phone,
		Experience:  sess.Draft.Experience,
		EventID:     sess.Draft.EventID,
		Status:      regmodels.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.sessions.Delete(ctx, p); err != nil {
		e.logger.Warn("failed to delete session", zap.Int64("principal_id", int64(p)), zap.Error(err))
	}

	if err := e.submitter.Submit(ctx, reg); err != nil {
		e.metrics.IncSubmission("failed")
		e.logger.Error("registration submit failed",
			zap.Int64("principal_id", int64(p)),
			zap.Error(err),
		)
		return models.Reply{Text: textFailed, RemoveKeyboard: true}, nil
	}
	e.metrics.IncSubmission("submitted")
	e.logger.Info("registration submitted",
		zap.Int64("principal_id", int64(p)),
		zap.Int64("registration_id", int64(reg.ID)),
	)
	return models.Reply{Text: fmt.Sprintf(textSubmitted, int64(reg.ID)), RemoveKeyboard: true}, nil
}

func summary(d models.Draft) string {
	var b strings.Builder
	b.WriteString("Please check your application:\n")
	fmt.Fprintf(&b, "Name: %s\n", d.FullName)
	fmt.Fprintf(&b, "Weapon: %s\n", d.WeaponType)
	fmt.Fprintf(&b, "Category: %s\n", d.Category)
	fmt.Fprintf(&b, "Age group: %s\n", d.AgeGroup)
	fmt.Fprintf(&b, "Phone: %s\n", d.Phone)
	if d.EventLabel != "" {
		fmt.Fprintf(&b, "Tournament: %s\n", d.EventLabel)
	}
	fmt.Fprintf(&b, "Experience: %s\n\n", d.Experience)
	b.WriteString("Is everything correct?")
	return b.String()
}

// keyedMutex serialises work per principal. Entries are reference counted
// and removed once no goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[domain.PrincipalID]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(p domain.PrincipalID) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[domain.PrincipalID]*keyedEntry)
	}
	entry, ok := k.locks[p]
	if !ok {
		entry = &keyedEntry{}
		k.locks[p] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, p)
		}
		k.mu.Unlock()
	}
}
