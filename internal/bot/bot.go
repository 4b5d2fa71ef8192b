// Package bot is the Telegram transport. It turns updates into conversation
// inputs, admin commands and moderation callbacks, and renders the results
// back as chat messages.
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	adminmodels "regdesk/internal/admin/models"
	"regdesk/internal/accesstoken"
	convmodels "regdesk/internal/conversation/models"
	"regdesk/internal/moderation"
	"regdesk/internal/notify"
	regmodels "regdesk/internal/registration/models"
	"regdesk/pkg/domain"
)

// API is the slice of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	HandleUpdate(r *http.Request) (*tgbotapi.Update, error)
}

type Conversation interface {
	HandleInbound(ctx context.Context, p domain.PrincipalID, in convmodels.Inbound) (convmodels.Reply, error)
}

// Moderation is the operator surface reachable from chat.
type Moderation interface {
	Authorize(ctx context.Context, p domain.PrincipalID, role adminmodels.Role) (*adminmodels.Admin, error)
	ListPending(ctx context.Context, actor domain.PrincipalID) ([]*regmodels.Registration, error)
	Confirm(ctx context.Context, actor domain.PrincipalID, id domain.RegistrationID) (*regmodels.Registration, error)
	Reject(ctx context.Context, actor domain.PrincipalID, id domain.RegistrationID, comment string) (*regmodels.Registration, error)
	NotifyAll(ctx context.Context, actor domain.PrincipalID, body string) (notify.BroadcastResult, error)
	Stats(ctx context.Context, actor domain.PrincipalID) (*regmodels.Stats, error)
	AddAdmin(ctx context.Context, actor, target domain.PrincipalID, role, displayName string) (*adminmodels.Admin, error)
	ReactivateAdmin(ctx context.Context, actor, target domain.PrincipalID, role string) (*adminmodels.Admin, error)
	RemoveAdmin(ctx context.Context, actor, target domain.PrincipalID) error
	ListAdmins(ctx context.Context, actor domain.PrincipalID) ([]*adminmodels.Admin, error)
}

const (
	defaultWorkers     = 8
	defaultPollTimeout = 60
	queueSize          = 256
)

type Bot struct {
	api          API
	conversation Conversation
	moderation   Moderation
	tokens       accesstoken.Store
	panelURL     string

	workers     int
	pollTimeout int
	queue       chan tgbotapi.Update
	commands    map[string]command

	// lifetime is the context Run was started with. Background jobs such
	// as broadcasts stop when it ends; Run waits for them before returning.
	lifetime   context.Context
	background sync.WaitGroup

	logger *zap.Logger
}

type Option func(*Bot)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Bot) { b.logger = logger }
}

// WithPanel enables /panel links rooted at baseURL.
func WithPanel(tokens accesstoken.Store, baseURL string) Option {
	return func(b *Bot) {
		b.tokens = tokens
		b.panelURL = strings.TrimRight(baseURL, "/")
	}
}

// WithWorkers sets how many updates are handled in parallel. Updates from
// one principal always land on the same worker and keep their order.
func WithWorkers(n int) Option {
	return func(b *Bot) {
		if n > 0 {
			b.workers = n
		}
	}
}

func WithPollTimeout(seconds int) Option {
	return func(b *Bot) {
		if seconds > 0 {
			b.pollTimeout = seconds
		}
	}
}

func New(api API, conversation Conversation, moderation Moderation, opts ...Option) *Bot {
	b := &Bot{
		api:          api,
		conversation: conversation,
		moderation:   moderation,
		workers:      defaultWorkers,
		pollTimeout:  defaultPollTimeout,
		queue:        make(chan tgbotapi.Update, queueSize),
		lifetime:     context.Background(),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.commands = b.commandTable()
	return b
}

// RegisterWebhook points Telegram at url. Polling deployments pass an empty
// url to remove a previously registered webhook.
func (b *Bot) RegisterWebhook(url string) error {
	if url == "" {
		if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			return fmt.Errorf("delete webhook: %w", err)
		}
		return nil
	}
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("build webhook: %w", err)
	}
	if _, err := b.api.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	b.logger.Info("webhook registered")
	return nil
}

// WebhookHandler accepts pushed updates and queues them for the workers.
func (b *Bot) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		update, err := b.api.HandleUpdate(r)
		if err != nil {
			b.logger.Warn("malformed webhook update", zap.Error(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		select {
		case b.queue <- *update:
			w.WriteHeader(http.StatusOK)
		case <-r.Context().Done():
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}
}

// Run handles updates until ctx is done. With polling it also pulls updates
// from Telegram; otherwise it serves what WebhookHandler queues.
func (b *Bot) Run(ctx context.Context, polling bool) error {
	b.lifetime = ctx
	shards := make([]chan tgbotapi.Update, b.workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := range shards {
		shards[i] = make(chan tgbotapi.Update, queueSize/b.workers+1)
		ch := shards[i]
		g.Go(func() error {
			for update := range ch {
				b.HandleUpdate(gctx, update)
			}
			return nil
		})
	}

	var source tgbotapi.UpdatesChannel
	if polling {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = b.pollTimeout
		source = b.api.GetUpdatesChan(u)
		b.logger.Info("polling for updates")
	}

	route := func(update tgbotapi.Update) {
		shard := shards[shardOf(update, len(shards))]
		select {
		case shard <- update:
		case <-ctx.Done():
		}
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case update, ok := <-source:
			if !ok {
				break loop
			}
			route(update)
		case update := <-b.queue:
			route(update)
		}
	}
	if polling {
		b.api.StopReceivingUpdates()
	}
	for _, ch := range shards {
		close(ch)
	}
	err := g.Wait()
	b.background.Wait()
	b.logger.Info("bot stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func shardOf(update tgbotapi.Update, n int) int {
	from := update.SentFrom()
	if from == nil || n <= 1 {
		return 0
	}
	id := from.ID
	if id < 0 {
		id = -id
	}
	return int(id % int64(n))
}

// HandleUpdate processes one update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	principal := domain.PrincipalID(msg.From.ID)
	if msg.Chat != nil && !msg.Chat.IsPrivate() {
		return
	}

	if msg.IsCommand() {
		name := msg.Command()
		if cmd, ok := b.commands[name]; ok {
			b.reply(principal, b.runCommand(ctx, principal, name, cmd, strings.TrimSpace(msg.CommandArguments())))
			return
		}
	}

	in := convmodels.Inbound{Username: msg.From.UserName}
	switch {
	case msg.IsCommand():
		c, ok := conversationCommand(msg.Command())
		if !ok {
			b.reply(principal, textUnknownCommand)
			return
		}
		in.Command = c
	case msg.Contact != nil:
		in.Contact = msg.Contact.PhoneNumber
	default:
		in.Text = msg.Text
	}

	reply, err := b.conversation.HandleInbound(ctx, principal, in)
	if err != nil {
		b.logger.Error("conversation failed", zap.Int64("principal_id", int64(principal)), zap.Error(err))
		b.reply(principal, textFailure)
		return
	}
	b.send(renderReply(principal, reply))
}

func conversationCommand(name string) (convmodels.Command, bool) {
	switch name {
	case "start":
		return convmodels.CommandStart, true
	case "restart":
		return convmodels.CommandRestart, true
	case "cancel":
		return convmodels.CommandCancel, true
	}
	return "", false
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	actor := domain.PrincipalID(q.From.ID)
	action, id, ok := moderation.ParseCallback(q.Data)
	if !ok {
		b.answer(q.ID, "unknown action")
		return
	}

	var (
		reg *regmodels.Registration
		err error
	)
	if action == "confirm" {
		reg, err = b.moderation.Confirm(ctx, actor, id)
	} else {
		reg, err = b.moderation.Reject(ctx, actor, id, "")
	}
	if err != nil {
		b.answer(q.ID, b.errorText(err, actor))
		return
	}
	b.answer(q.ID, "done")

	if q.Message != nil && q.Message.Chat != nil {
		text := fmt.Sprintf("%s\n\n%s by %s", q.Message.Text, statusWord(reg.Status), displayName(q.From))
		edit := tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID, text)
		if _, err := b.api.Send(edit); err != nil {
			b.logger.Warn("failed to update alert message", zap.Error(err))
		}
	}
}

func (b *Bot) reply(to domain.PrincipalID, text string) {
	b.send(tgbotapi.NewMessage(int64(to), text))
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Warn("failed to send reply", zap.Error(err))
	}
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.logger.Warn("failed to answer callback", zap.Error(err))
	}
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return domain.PrincipalID(u.ID).String()
	}
	return name
}

func statusWord(s regmodels.Status) string {
	if s == regmodels.StatusRejected {
		return "Rejected"
	}
	return "Confirmed"
}
