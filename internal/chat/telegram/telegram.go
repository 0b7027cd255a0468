// Package telegram implements chat.Client on top of the Telegram Bot API.
//
// The workspace group is expected to be a forum supergroup; named channels are
// forum topics inside it.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"herald/internal/chat"
	logx "herald/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Client struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	// The Bot API cannot enumerate forum topics, so ListChannels only sees
	// topics this client created in-process. Lasting channel identity lives in
	// the registry's persisted bindings; this index is just the discovery view.
	mu     sync.Mutex
	topics map[int64][]chat.ChannelInfo
}

var _ chat.Client = (*Client)(nil)

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, log: log, bot: b, topics: map[int64][]chat.ChannelInfo{}}, nil
}

func (c *Client) SendToChannel(ctx context.Context, dest chat.Destination, msg chat.Message) error {
	if dest.IsZero() {
		return errors.New("empty destination")
	}
	return c.send(ctx, dest.ChatID, dest.TopicID, msg)
}

func (c *Client) SendDirect(ctx context.Context, recipient int64, msg chat.Message) error {
	if recipient == 0 {
		return errors.New("empty recipient")
	}
	return c.send(ctx, recipient, 0, msg)
}

func (c *Client) send(ctx context.Context, chatID int64, topicID int, msg chat.Message) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	opts := &tele.SendOptions{
		DisableWebPagePreview: true,
		ThreadID:              topicID,
	}
	_, err := c.bot.Send(&tele.Chat{ID: chatID}, msg.Render(), opts)
	return mapSendErr(err)
}

func (c *Client) CreateChannel(ctx context.Context, group int64, name, description string) (chat.Destination, error) {
	if err := ctxErr(ctx); err != nil {
		return chat.Destination{}, err
	}
	// telebot's typed topic API has shifted between betas; go through Raw so we
	// control the response shape.
	raw, err := c.bot.Raw("createForumTopic", map[string]any{
		"chat_id": group,
		"name":    name,
	})
	if err != nil {
		return chat.Destination{}, fmt.Errorf("createForumTopic %q: %w", name, err)
	}

	var resp struct {
		Result struct {
			MessageThreadID int `json:"message_thread_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return chat.Destination{}, fmt.Errorf("createForumTopic %q: decode: %w", name, err)
	}
	if resp.Result.MessageThreadID == 0 {
		return chat.Destination{}, fmt.Errorf("createForumTopic %q: no thread id in response", name)
	}

	dest := chat.Destination{ChatID: group, TopicID: resp.Result.MessageThreadID}

	c.mu.Lock()
	c.topics[group] = append(c.topics[group], chat.ChannelInfo{Name: name, Description: description, Dest: dest})
	c.mu.Unlock()

	c.log.Info("forum topic created", logx.String("name", name), logx.Int64("chat_id", group), logx.Int("thread_id", dest.TopicID))
	return dest, nil
}

func (c *Client) ListChannels(ctx context.Context, group int64) ([]chat.ChannelInfo, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.ChannelInfo(nil), c.topics[group]...), nil
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// mapSendErr normalizes Telegram 403s (blocked bot, never-started private
// chat, deactivated user) into chat.ErrRecipientRefused.
func mapSendErr(err error) error {
	if err == nil {
		return nil
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return fmt.Errorf("%w: %s", chat.ErrRecipientRefused, te.Description)
	}
	return err
}
