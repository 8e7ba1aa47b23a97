// Package telegram implements transport.Transport on a Telegram forum
// supergroup: every topic is a resource and its channel, labels are mirrored
// to the topic icon.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"
	"gorm.io/gorm"

	"venue-backend/config"
	"venue-backend/internal/transport"
)

// Adapter is the Telegram transport.
type Adapter struct {
	bot   *tele.Bot
	db    *gorm.DB
	log   zerolog.Logger
	icons map[transport.Label]string

	// display names learned from updates, keyed by user id
	names sync.Map

	confirmMu sync.Mutex
	confirms  map[string]*pendingConfirm

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	runWG   sync.WaitGroup
}

var _ transport.Transport = (*Adapter)(nil)

// New connects to the Bot API and prepares the bookkeeping tables.
func New(cfg config.TelegramConfig, labels map[string]string, db *gorm.DB, logger zerolog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	return newAdapter(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: time.Duration(cfg.PollTimeoutSeconds) * time.Second},
	}, labels, db, logger)
}

func newAdapter(settings tele.Settings, labels map[string]string, db *gorm.DB, logger zerolog.Logger) (*Adapter, error) {
	b, err := tele.NewBot(settings)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("telegram tables: %w", err)
	}
	icons := make(map[transport.Label]string, len(labels))
	for label, emojiID := range labels {
		icons[transport.Label(label)] = emojiID
	}
	return &Adapter{
		bot:      b,
		db:       db,
		log:      logger.With().Str("component", "telegram").Logger(),
		icons:    icons,
		confirms: make(map[string]*pendingConfirm),
	}, nil
}

// Start begins long polling. It returns immediately; polling stops when ctx
// is done or Stop is called.
func (a *Adapter) Start(ctx context.Context) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return
	}
	a.running = true
	ctx, a.cancel = context.WithCancel(ctx)
	a.runWG.Add(1)
	go func() {
		defer a.runWG.Done()
		// bot.Stop blocks unless polling is running, so it has one caller.
		go func() {
			<-ctx.Done()
			a.bot.Stop()
		}()
		a.log.Info().Msg("polling started")
		a.bot.Start()
		a.log.Info().Msg("polling stopped")
	}()
}

// Stop ends polling, waiting at most until ctx is done.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	cancel := a.cancel
	a.runMu.Unlock()
	if !wasRunning {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.log.Warn().Err(ctx.Err()).Msg("telegram stop cancelled")
		return ctx.Err()
	}
}

func (a *Adapter) Render(ctx context.Context, channel string, msg transport.Message) (string, error) {
	chatID, threadID, err := ParseChannel(channel)
	if err != nil {
		return "", err
	}
	opts := &tele.SendOptions{ThreadID: threadID, ReplyMarkup: markup(msg.Controls)}
	sent, err := a.bot.Send(&tele.Chat{ID: chatID}, msg.Text, opts)
	if err != nil {
		return "", classify(err)
	}

	rec := AuthoredMessage{Channel: channel, ChatID: chatID, MessageID: sent.ID}
	if err := a.db.WithContext(ctx).Create(&rec).Error; err != nil {
		// The message is out; losing the record only means purge misses it.
		a.log.Error().Err(err).Str("channel", channel).Int("message_id", sent.ID).Msg("failed to record authored message")
	}
	return messageRef(chatID, sent.ID), nil
}

func (a *Adapter) Edit(_ context.Context, ref string, msg transport.Message) error {
	chatID, messageID, err := parseMessageRef(ref)
	if err != nil {
		return err
	}
	stored := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
	_, err = a.bot.Edit(stored, msg.Text, &tele.SendOptions{ReplyMarkup: markup(msg.Controls)})
	return classify(err)
}

func (a *Adapter) Delete(ctx context.Context, ref string) error {
	chatID, messageID, err := parseMessageRef(ref)
	if err != nil {
		return err
	}
	if err := a.deleteMessage(chatID, messageID); err != nil {
		return err
	}
	return a.db.WithContext(ctx).
		Where("chat_id = ? AND message_id = ?", chatID, messageID).
		Delete(&AuthoredMessage{}).Error
}

func (a *Adapter) deleteMessage(chatID int64, messageID int) error {
	stored := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
	return classify(a.bot.Delete(stored))
}

// PurgeAuthored deletes every recorded message of channel. Messages that are
// already gone are skipped.
func (a *Adapter) PurgeAuthored(ctx context.Context, channel string) error {
	var recs []AuthoredMessage
	if err := a.db.WithContext(ctx).Where("channel = ?", channel).Order("id").Find(&recs).Error; err != nil {
		return err
	}
	var errs []error
	for _, rec := range recs {
		err := a.deleteMessage(rec.ChatID, rec.MessageID)
		switch {
		case err == nil, errors.Is(err, transport.ErrNotFound):
			if err := a.db.WithContext(ctx).Delete(&AuthoredMessage{}, rec.ID).Error; err != nil {
				errs = append(errs, err)
			}
		default:
			errs = append(errs, fmt.Errorf("delete message %d: %w", rec.MessageID, err))
		}
	}
	return errors.Join(errs...)
}

// ApplyLabels stores the label set and mirrors the first label that has a
// configured icon onto the forum topic.
func (a *Adapter) ApplyLabels(ctx context.Context, resource string, labels ...transport.Label) error {
	chatID, threadID, err := ParseChannel(resource)
	if err != nil {
		return err
	}
	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_id = ?", resource).Delete(&ResourceLabel{}).Error; err != nil {
			return err
		}
		for i, l := range labels {
			if err := tx.Create(&ResourceLabel{ResourceID: resource, Label: string(l), Position: i}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store labels for %s: %w", resource, err)
	}

	if threadID == 0 {
		return nil
	}
	for _, l := range labels {
		icon, ok := a.icons[l]
		if !ok {
			continue
		}
		topic := &tele.Topic{ThreadID: threadID, IconCustomEmojiID: icon}
		if err := a.bot.EditTopic(&tele.Chat{ID: chatID}, topic); err != nil {
			a.log.Warn().Err(err).Str("resource", resource).Str("label", string(l)).Msg("failed to update topic icon")
		}
		break
	}
	return nil
}

func (a *Adapter) Labels(ctx context.Context, resource string) ([]transport.Label, error) {
	var rows []ResourceLabel
	if err := a.db.WithContext(ctx).Where("resource_id = ?", resource).Order("position").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]transport.Label, len(rows))
	for i, r := range rows {
		out[i] = transport.Label(r.Label)
	}
	return out, nil
}

func (a *Adapter) NotifyUser(_ context.Context, userID, text string) error {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", userID, transport.ErrNotFound)
	}
	_, err = a.bot.Send(&tele.User{ID: id}, text)
	return classify(err)
}

func (a *Adapter) NotifyChannel(_ context.Context, channel, text string) error {
	chatID, threadID, err := ParseChannel(channel)
	if err != nil {
		return err
	}
	_, err = a.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{ThreadID: threadID})
	return classify(err)
}

// Mention returns "@username" for users seen before, else their first name,
// else the raw id.
func (a *Adapter) Mention(userID string) string {
	if v, ok := a.names.Load(userID); ok {
		return v.(string)
	}
	return userID
}

func (a *Adapter) remember(u *tele.User) {
	if u == nil {
		return
	}
	name := u.FirstName
	if u.Username != "" {
		name = "@" + u.Username
	}
	if name != "" {
		a.names.Store(strconv.FormatInt(u.ID, 10), name)
	}
}

// markup turns controls into a one-row inline keyboard. Disabled controls
// stay visible but carry an inert payload.
func markup(controls []transport.Control) *tele.ReplyMarkup {
	if len(controls) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	btns := make([]tele.Btn, 0, len(controls))
	for _, c := range controls {
		data := callbackNoop
		if !c.Disabled {
			data = encodeCallback(c.Action, c.Payload)
		}
		btns = append(btns, tele.Btn{Text: c.Label, Data: data})
	}
	rm.Inline(rm.Row(btns...))
	return rm
}

// classify maps Bot API failures onto the transport sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	desc := strings.ToLower(err.Error())
	if strings.Contains(desc, "message is not modified") {
		return nil
	}
	var tgErr *tele.Error
	if errors.As(err, &tgErr) {
		switch {
		case tgErr.Code == 403:
			return fmt.Errorf("%w: %v", transport.ErrForbidden, err)
		case tgErr.Code == 400 && strings.Contains(strings.ToLower(tgErr.Description), "not found"):
			return fmt.Errorf("%w: %v", transport.ErrNotFound, err)
		}
	}
	switch {
	case strings.Contains(desc, "not found"), strings.Contains(desc, "message can't be deleted"):
		return fmt.Errorf("%w: %v", transport.ErrNotFound, err)
	case strings.Contains(desc, "forbidden"), strings.Contains(desc, "blocked by the user"):
		return fmt.Errorf("%w: %v", transport.ErrForbidden, err)
	}
	return err
}
