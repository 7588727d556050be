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

package telegram

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/tenure/gateway"
	"github.com/blinklabs-io/tenure/internal/test/testutil"
	"github.com/blinklabs-io/tenure/membership"
)

const testGroupID = -1009876543210

var testNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

type fakeBot struct {
	requestErr func(c tgbotapi.Chattable) error
	updates    chan []tgbotapi.Update
	calls      []tgbotapi.Chattable
	offsets    []int
	mu         sync.Mutex
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan []tgbotapi.Update, 8)}
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	hook := f.requestErr
	f.mu.Unlock()
	if hook != nil {
		if err := hook(c); err != nil {
			return nil, err
		}
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	return tgbotapi.Message{MessageID: 1}, nil
}

func (f *fakeBot) GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, cfg.Offset)
	f.mu.Unlock()
	select {
	case batch := <-f.updates:
		return batch, nil
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (f *fakeBot) Calls() []tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := make([]tgbotapi.Chattable, len(f.calls))
	copy(ret, f.calls)
	return ret
}

type recordingHandler struct {
	outcome membership.ChoiceOutcome
	joins   []int64
	names   []string
	choices []membership.Choice
	mu      sync.Mutex
}

func (h *recordingHandler) OnJoin(
	ctx context.Context,
	memberID int64,
	displayName string,
	now time.Time,
) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joins = append(h.joins, memberID)
	h.names = append(h.names, displayName)
	return nil
}

func (h *recordingHandler) OnChoice(
	ctx context.Context,
	memberID int64,
	choice membership.Choice,
	now time.Time,
) (membership.ChoiceOutcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.choices = append(h.choices, choice)
	return h.outcome, nil
}

func (h *recordingHandler) Joins() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.joins...)
}

func (h *recordingHandler) Choices() []membership.Choice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]membership.Choice(nil), h.choices...)
}

func testClient(bot *fakeBot) *Client {
	return newClient(
		bot,
		testGroupID,
		WithNow(func() time.Time { return testNow }),
		WithCallTimeout(time.Second),
	)
}

func memberUpdate(id int, chatID int64, user *tgbotapi.User, oldStatus, newStatus string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: id,
		ChatMember: &tgbotapi.ChatMemberUpdated{
			Chat:          tgbotapi.Chat{ID: chatID},
			OldChatMember: tgbotapi.ChatMember{User: user, Status: oldStatus},
			NewChatMember: tgbotapi.ChatMember{User: user, Status: newStatus},
		},
	}
}

func callbackUpdate(id int, from int64, data string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: id,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb",
			From: &tgbotapi.User{ID: from},
			Data: data,
			Message: &tgbotapi.Message{
				MessageID: 77,
				Chat:      &tgbotapi.Chat{ID: testGroupID},
			},
		},
	}
}

func TestRemoveMemberBansThenUnbans(t *testing.T) {
	bot := newFakeBot()
	c := testClient(bot)
	require.NoError(t, c.RemoveMember(context.Background(), testGroupID, 42))

	calls := bot.Calls()
	require.Len(t, calls, 2)
	ban, ok := calls[0].(tgbotapi.BanChatMemberConfig)
	require.True(t, ok, "first call should be a ban")
	assert.Equal(t, int64(testGroupID), ban.ChatID)
	assert.Equal(t, int64(42), ban.UserID)
	unban, ok := calls[1].(tgbotapi.UnbanChatMemberConfig)
	require.True(t, ok, "second call should be an unban")
	assert.True(t, unban.OnlyIfBanned)
	assert.Equal(t, int64(42), unban.UserID)
}

func TestRemoveMemberBanFailure(t *testing.T) {
	bot := newFakeBot()
	bot.requestErr = func(c tgbotapi.Chattable) error {
		return &tgbotapi.Error{Code: 400, Message: "Bad Request: not enough rights"}
	}
	c := testClient(bot)
	err := c.RemoveMember(context.Background(), testGroupID, 42)
	require.ErrorIs(t, err, gateway.ErrCallFailed)
	var callErr *gateway.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, gateway.OpRemoveMember, callErr.Op)
	// No unban after a failed ban
	assert.Len(t, bot.Calls(), 1)
}

func TestCallTimeout(t *testing.T) {
	bot := newFakeBot()
	release := make(chan struct{})
	defer close(release)
	bot.requestErr = func(c tgbotapi.Chattable) error {
		<-release
		return nil
	}
	c := newClient(bot, testGroupID, WithCallTimeout(20*time.Millisecond))
	err := c.RemoveMember(context.Background(), testGroupID, 42)
	require.ErrorIs(t, err, gateway.ErrCallFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPresentChoiceButtons(t *testing.T) {
	bot := newFakeBot()
	c := testClient(bot)
	deadline := testNow.Add(10 * time.Minute)
	require.NoError(
		t,
		c.PresentChoice(context.Background(), testGroupID, 42, "alice", deadline),
	)
	calls := bot.Calls()
	require.Len(t, calls, 1)
	msg, ok := calls[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(testGroupID), msg.ChatID)
	assert.Contains(t, msg.Text, "@alice")
	assert.Contains(t, msg.Text, "09:10 UTC")
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	buttons := markup.InlineKeyboard[0]
	require.Len(t, buttons, 2)
	assert.Equal(t, "⏳ 24h", buttons[1].Text)

	var choices []membership.Choice
	for _, b := range buttons {
		require.NotNil(t, b.CallbackData)
		p, err := DecodePayload(*b.CallbackData)
		require.NoError(t, err)
		assert.Equal(t, int64(42), p.MemberID)
		choices = append(choices, p.Choice)
	}
	assert.Equal(
		t,
		[]membership.Choice{membership.ChoicePermanent, membership.ChoiceTimed},
		choices,
	)
}

func TestNotify(t *testing.T) {
	bot := newFakeBot()
	c := testClient(bot)
	require.NoError(t, c.Notify(context.Background(), testGroupID, "hello"))
	msg := bot.Calls()[0].(tgbotapi.MessageConfig)
	assert.Equal(t, "hello", msg.Text)
}

func TestJoinDetection(t *testing.T) {
	alice := &tgbotapi.User{ID: 1, UserName: "alice"}
	bob := &tgbotapi.User{ID: 2, FirstName: "Bob", LastName: "Builder"}
	carol := &tgbotapi.User{ID: 3, UserName: "carol"}
	dave := &tgbotapi.User{ID: 4, UserName: "dave"}
	erin := &tgbotapi.User{ID: 5, UserName: "erin"}
	testDefs := []struct {
		update tgbotapi.Update
		join   bool
	}{
		{memberUpdate(1, testGroupID, alice, statusLeft, statusMember), true},
		{memberUpdate(2, testGroupID, bob, statusKicked, statusMember), true},
		// Promotion is not a join
		{memberUpdate(3, testGroupID, carol, statusMember, "administrator"), false},
		// Leaving is ignored
		{memberUpdate(4, testGroupID, dave, statusMember, statusLeft), false},
		// Other chats are ignored
		{memberUpdate(5, -100111, erin, statusLeft, statusMember), false},
	}
	bot := newFakeBot()
	c := testClient(bot)
	handler := &recordingHandler{}
	for _, td := range testDefs {
		c.handleUpdate(context.Background(), handler, td.update)
	}
	assert.Equal(t, []int64{1, 2}, handler.Joins())
	assert.Equal(t, []string{"alice", "Bob Builder"}, handler.names)
}

func TestCallbackPresserCheck(t *testing.T) {
	bot := newFakeBot()
	c := testClient(bot)
	handler := &recordingHandler{outcome: membership.ChoiceAccepted}
	data, err := ChoicePayload{Choice: membership.ChoiceTimed, MemberID: 42}.Encode()
	require.NoError(t, err)

	c.handleUpdate(context.Background(), handler, callbackUpdate(1, 99, data))
	assert.Empty(t, handler.Choices())
	calls := bot.Calls()
	require.Len(t, calls, 1)
	answer, ok := calls[0].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	assert.Equal(t, "This choice is not yours to make.", answer.Text)

	c.handleUpdate(context.Background(), handler, callbackUpdate(2, 42, data))
	assert.Equal(t, []membership.Choice{membership.ChoiceTimed}, handler.Choices())
	calls = bot.Calls()
	require.Len(t, calls, 3)
	_, ok = calls[1].(tgbotapi.CallbackConfig)
	assert.True(t, ok)
	edit, ok := calls[2].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Equal(t, 77, edit.MessageID)
	assert.Equal(t, "✅ Membership set to 24h.", edit.Text)
}

func TestCallbackOutcomes(t *testing.T) {
	data, err := ChoicePayload{Choice: membership.ChoicePermanent, MemberID: 42}.Encode()
	require.NoError(t, err)
	testDefs := []struct {
		outcome    membership.ChoiceOutcome
		answer     string
		editedText string
	}{
		{membership.ChoiceAccepted, "Choice saved.", "✅ Membership set to permanent."},
		{membership.ChoiceAlreadyDecided, "You have already chosen.", ""},
		{membership.ChoiceUnknownMember, "This prompt has expired.", "⚠️ This prompt has expired."},
	}
	for _, td := range testDefs {
		t.Run(td.outcome.String(), func(t *testing.T) {
			bot := newFakeBot()
			c := testClient(bot)
			handler := &recordingHandler{outcome: td.outcome}
			c.handleUpdate(context.Background(), handler, callbackUpdate(1, 42, data))
			calls := bot.Calls()
			require.NotEmpty(t, calls)
			answer := calls[0].(tgbotapi.CallbackConfig)
			assert.Equal(t, td.answer, answer.Text)
			if td.editedText == "" {
				assert.Len(t, calls, 1)
				return
			}
			require.Len(t, calls, 2)
			assert.Equal(t, td.editedText, calls[1].(tgbotapi.EditMessageTextConfig).Text)
		})
	}
}

func TestCallbackBadPayload(t *testing.T) {
	bot := newFakeBot()
	c := testClient(bot)
	handler := &recordingHandler{}
	c.handleUpdate(context.Background(), handler, callbackUpdate(1, 42, "permanent:42"))
	assert.Empty(t, handler.Choices())
	// The press is still answered so the client stops spinning
	require.Len(t, bot.Calls(), 1)
}

func TestReceiveDispatchesAndAdvancesOffset(t *testing.T) {
	bot := newFakeBot()
	c := testClient(bot)
	handler := &recordingHandler{}
	bot.updates <- []tgbotapi.Update{
		memberUpdate(10, testGroupID, &tgbotapi.User{ID: 1, UserName: "a"}, statusLeft, statusMember),
		memberUpdate(11, testGroupID, &tgbotapi.User{ID: 2, UserName: "b"}, statusLeft, statusMember),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Receive(ctx, handler)
	}()
	testutil.WaitForCondition(
		t,
		func() bool { return len(handler.Joins()) == 2 },
		time.Second,
		"joins were not dispatched",
	)
	testutil.WaitForCondition(
		t,
		func() bool {
			bot.mu.Lock()
			defer bot.mu.Unlock()
			return len(bot.offsets) > 0 && bot.offsets[len(bot.offsets)-1] == 12
		},
		time.Second,
		"offset was not advanced",
	)
	cancel()
	err := testutil.RequireReceive(t, done, time.Second, "Receive did not return")
	require.NoError(t, err)
}

func TestReceiveRequiresConnection(t *testing.T) {
	c := newClient(nil, testGroupID)
	err := c.Receive(context.Background(), &recordingHandler{})
	require.Error(t, err)
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New("", testGroupID)
	require.Error(t, err)
}

func TestPayloadDecodeRejects(t *testing.T) {
	for _, data := range []string{
		"permanent:42",
		`{"c":"forever","m":42}`,
		`{"c":"timed","m":0}`,
		`{"c":"timed"}`,
	} {
		_, err := DecodePayload(data)
		assert.ErrorIs(t, err, ErrInvalidPayload, data)
	}
	_, err := ChoicePayload{Choice: "x", MemberID: 1}.Encode()
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestPayloadFitsCallbackLimit(t *testing.T) {
	p := ChoicePayload{Choice: membership.ChoicePermanent, MemberID: 1<<63 - 1}
	data, err := p.Encode()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(data), maxPayloadLength)
	decoded, err := DecodePayload(data)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}

func TestShortDuration(t *testing.T) {
	assert.Equal(t, "24h", shortDuration(24*time.Hour))
	assert.Equal(t, "1h30m", shortDuration(90*time.Minute))
	assert.Equal(t, "10m", shortDuration(10*time.Minute))
	assert.Equal(t, "45s", shortDuration(45*time.Second))
}

func TestBotLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(
		slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	l := NewBotLogger(logger)
	l.Printf("Endpoint: %s\n", "getMe")
	l.Println("hello", "world")
	out := buf.String()
	assert.Contains(t, out, `"msg":"Endpoint: getMe"`)
	assert.Contains(t, out, `"msg":"hello world"`)
	assert.Contains(t, out, `"component":"gateway"`)
}
