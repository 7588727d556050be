// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telegram implements the chat platform gateway on top of the
// Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/blinklabs-io/tenure/gateway"
	"github.com/blinklabs-io/tenure/membership"
)

const (
	DefaultCallTimeout = 15 * time.Second
	DefaultPollTimeout = 30 * time.Second

	statusMember = "member"
	statusLeft   = "left"
	statusKicked = "kicked"

	deadlineLayout = "15:04 MST"
)

var allowedUpdates = []string{"chat_member", "callback_query"}

// botAPI is the subset of *tgbotapi.BotAPI used by Client
type botAPI interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// Client implements gateway.Gateway and gateway.Receiver for one Telegram group
type Client struct {
	bot         botAPI
	logger      *slog.Logger
	location    *time.Location
	now         func() time.Time
	groupID     int64
	callTimeout time.Duration
	pollTimeout time.Duration
	retention   time.Duration
}

var (
	_ gateway.Gateway  = (*Client)(nil)
	_ gateway.Receiver = (*Client)(nil)
)

// New connects to the Bot API with the given token and returns a client for
// the group with the given chat ID
func New(
	token string,
	groupID int64,
	opts ...ClientOptionFunc,
) (*Client, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	c := newClient(nil, groupID, opts...)
	if err := tgbotapi.SetLogger(NewBotLogger(c.logger)); err != nil {
		return nil, err
	}
	httpClient := &http.Client{
		// Long polls hold the request open for pollTimeout
		Timeout: c.pollTimeout + c.callTimeout,
	}
	bot, err := tgbotapi.NewBotAPIWithClient(
		token,
		tgbotapi.APIEndpoint,
		httpClient,
	)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	c.bot = bot
	c.logger.Info(
		fmt.Sprintf("authorized as bot @%s", bot.Self.UserName),
		"component", "gateway",
		"group_id", groupID,
	)
	return c, nil
}

func newClient(bot botAPI, groupID int64, opts ...ClientOptionFunc) *Client {
	c := &Client{
		bot:     bot,
		groupID: groupID,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if c.location == nil {
		c.location = time.UTC
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.callTimeout <= 0 {
		c.callTimeout = DefaultCallTimeout
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = DefaultPollTimeout
	}
	if c.retention <= 0 {
		c.retention = membership.DefaultRetentionPeriod
	}
	return c
}

// RemoveMember bans and immediately unbans the member, which removes them
// while still allowing them to join again
func (c *Client) RemoveMember(
	ctx context.Context,
	groupID int64,
	memberID int64,
) error {
	member := tgbotapi.ChatMemberConfig{ChatID: groupID, UserID: memberID}
	err := c.request(
		ctx,
		tgbotapi.BanChatMemberConfig{ChatMemberConfig: member},
	)
	if err != nil {
		return gateway.NewCallError(gateway.OpRemoveMember, memberID, err)
	}
	err = c.request(
		ctx,
		tgbotapi.UnbanChatMemberConfig{
			ChatMemberConfig: member,
			OnlyIfBanned:     true,
		},
	)
	if err != nil {
		// The member is out but banned; the next removal attempt unbans them
		return gateway.NewCallError(
			gateway.OpRemoveMember,
			memberID,
			fmt.Errorf("unban: %w", err),
		)
	}
	return nil
}

func (c *Client) Notify(ctx context.Context, groupID int64, text string) error {
	_, err := c.send(ctx, tgbotapi.NewMessage(groupID, text))
	return gateway.NewCallError(gateway.OpNotify, 0, err)
}

func (c *Client) PresentChoice(
	ctx context.Context,
	groupID int64,
	memberID int64,
	displayName string,
	deadline time.Time,
) error {
	permanent, err := ChoicePayload{
		Choice:   membership.ChoicePermanent,
		MemberID: memberID,
	}.Encode()
	if err != nil {
		return gateway.NewCallError(gateway.OpPresentChoice, memberID, err)
	}
	timed, err := ChoicePayload{
		Choice:   membership.ChoiceTimed,
		MemberID: memberID,
	}.Encode()
	if err != nil {
		return gateway.NewCallError(gateway.OpPresentChoice, memberID, err)
	}
	msg := tgbotapi.NewMessage(
		groupID,
		fmt.Sprintf(
			"👋 @%s just joined.\nPlease choose a membership option by %s, or you will be removed automatically.",
			displayName,
			deadline.In(c.location).Format(deadlineLayout),
		),
	)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔒 Permanent", permanent),
			tgbotapi.NewInlineKeyboardButtonData(
				"⏳ "+shortDuration(c.retention),
				timed,
			),
		),
	)
	_, err = c.send(ctx, msg)
	return gateway.NewCallError(gateway.OpPresentChoice, memberID, err)
}

// Receive long-polls for member and button updates and hands them to handler
// until ctx is done
func (c *Client) Receive(ctx context.Context, handler gateway.Handler) error {
	if c.bot == nil {
		return errors.New("telegram client is not connected")
	}
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Second
	retry.MaxInterval = time.Minute
	offset := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		cfg := tgbotapi.NewUpdate(offset)
		cfg.Timeout = int(c.pollTimeout / time.Second)
		cfg.AllowedUpdates = allowedUpdates
		updates, err := c.getUpdates(ctx, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay := retry.NextBackOff()
			c.logger.Warn(
				fmt.Sprintf("failed to get updates, retrying in %s: %s", delay, err),
				"component", "gateway",
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		retry.Reset()
		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			c.handleUpdate(ctx, handler, update)
		}
	}
}

func (c *Client) handleUpdate(
	ctx context.Context,
	handler gateway.Handler,
	update tgbotapi.Update,
) {
	switch {
	case update.ChatMember != nil:
		c.handleMemberUpdate(ctx, handler, update.ChatMember)
	case update.CallbackQuery != nil:
		c.handleCallback(ctx, handler, update.CallbackQuery)
	}
}

func (c *Client) handleMemberUpdate(
	ctx context.Context,
	handler gateway.Handler,
	upd *tgbotapi.ChatMemberUpdated,
) {
	if upd.Chat.ID != c.groupID || !isJoin(upd) {
		return
	}
	user := upd.NewChatMember.User
	if user == nil {
		return
	}
	if err := handler.OnJoin(ctx, user.ID, displayName(user), c.now()); err != nil {
		c.logger.Error(
			fmt.Sprintf("failed to record join: %s", err),
			"component", "gateway",
			"member_id", user.ID,
		)
	}
}

// isJoin reports whether the update moves a user from outside the group to a
// regular member
func isJoin(upd *tgbotapi.ChatMemberUpdated) bool {
	old := upd.OldChatMember.Status
	return (old == statusLeft || old == statusKicked) &&
		upd.NewChatMember.Status == statusMember
}

func (c *Client) handleCallback(
	ctx context.Context,
	handler gateway.Handler,
	query *tgbotapi.CallbackQuery,
) {
	logger := c.logger.With("component", "gateway")
	if query.Message != nil && query.Message.Chat != nil &&
		query.Message.Chat.ID != c.groupID {
		return
	}
	payload, err := DecodePayload(query.Data)
	if err != nil {
		logger.Debug(fmt.Sprintf("ignoring button press: %s", err))
		c.answer(ctx, query, "")
		return
	}
	if query.From == nil || query.From.ID != payload.MemberID {
		c.answer(ctx, query, "This choice is not yours to make.")
		return
	}
	outcome, err := handler.OnChoice(ctx, payload.MemberID, payload.Choice, c.now())
	if err != nil {
		logger.Error(
			fmt.Sprintf("failed to record choice: %s", err),
			"member_id", payload.MemberID,
		)
		c.answer(ctx, query, "Something went wrong, please try again.")
		return
	}
	switch outcome {
	case membership.ChoiceAccepted:
		c.answer(ctx, query, "Choice saved.")
		c.editPrompt(ctx, query, c.acceptedText(payload.Choice))
	case membership.ChoiceAlreadyDecided:
		c.answer(ctx, query, "You have already chosen.")
	case membership.ChoiceUnknownMember:
		c.answer(ctx, query, "This prompt has expired.")
		c.editPrompt(ctx, query, "⚠️ This prompt has expired.")
	}
}

func (c *Client) acceptedText(choice membership.Choice) string {
	if choice == membership.ChoicePermanent {
		return "✅ Membership set to permanent."
	}
	return "✅ Membership set to " + shortDuration(c.retention) + "."
}

func (c *Client) answer(
	ctx context.Context,
	query *tgbotapi.CallbackQuery,
	text string,
) {
	if err := c.request(ctx, tgbotapi.NewCallback(query.ID, text)); err != nil {
		c.logger.Debug(
			fmt.Sprintf("failed to answer button press: %s", err),
			"component", "gateway",
		)
	}
}

func (c *Client) editPrompt(
	ctx context.Context,
	query *tgbotapi.CallbackQuery,
	text string,
) {
	if query.Message == nil || query.Message.Chat == nil {
		return
	}
	edit := tgbotapi.NewEditMessageText(
		query.Message.Chat.ID,
		query.Message.MessageID,
		text,
	)
	if err := c.request(ctx, edit); err != nil {
		c.logger.Warn(
			fmt.Sprintf("failed to edit prompt: %s", err),
			"component", "gateway",
		)
	}
}

func (c *Client) request(ctx context.Context, chattable tgbotapi.Chattable) error {
	_, err := call(ctx, c.callTimeout, func() (*tgbotapi.APIResponse, error) {
		return c.bot.Request(chattable)
	})
	return err
}

func (c *Client) send(
	ctx context.Context,
	chattable tgbotapi.Chattable,
) (tgbotapi.Message, error) {
	return call(ctx, c.callTimeout, func() (tgbotapi.Message, error) {
		return c.bot.Send(chattable)
	})
}

func (c *Client) getUpdates(
	ctx context.Context,
	cfg tgbotapi.UpdateConfig,
) ([]tgbotapi.Update, error) {
	return call(ctx, c.pollTimeout+c.callTimeout, func() ([]tgbotapi.Update, error) {
		return c.bot.GetUpdates(cfg)
	})
}

// call runs fn and gives up once ctx is done or timeout elapses. The bot
// library takes no context, so an abandoned call finishes in the background,
// bounded by the HTTP client timeout.
func call[T any](
	ctx context.Context,
	timeout time.Duration,
	fn func() (T, error),
) (T, error) {
	type result struct {
		err   error
		value T
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resultCh := make(chan result, 1)
	go func() {
		v, err := fn()
		resultCh <- result{value: v, err: err}
	}()
	select {
	case r := <-resultCh:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func displayName(user *tgbotapi.User) string {
	if user.UserName != "" {
		return user.UserName
	}
	return strings.TrimSpace(user.FirstName + " " + user.LastName)
}

// shortDuration renders a duration without trailing zero units, e.g. "24h"
func shortDuration(d time.Duration) string {
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}
