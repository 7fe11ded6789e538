// proof-of-human/platform/update.go
package platform

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Asyncod/proof-of-human/models"
	"github.com/Asyncod/proof-of-human/utils"
)

// Event is the tagged union of inbound events produced from one update.
type Event interface{ isEvent() }

// MessageEvent wraps an inbound chat message.
type MessageEvent struct{ Message models.Message }

// ActionEvent wraps an inbound button press.
type ActionEvent struct{ Action models.ActionPress }

// MemberChangeEvent wraps a membership transition.
type MemberChangeEvent struct{ Change models.MemberEvent }

func (MessageEvent) isEvent()      {}
func (ActionEvent) isEvent()       {}
func (MemberChangeEvent) isEvent() {}

// --- Wire payloads (Bot API subset) ---

type wireUser struct {
	ID           int64  `json:"id"`
	IsBot        bool   `json:"is_bot"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
}

func (u *wireUser) fullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

type wireChat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Username string `json:"username"`
}

type wireMessage struct {
	MessageID          int64     `json:"message_id"`
	From               *wireUser `json:"from"`
	SenderChat         *wireChat `json:"sender_chat"`
	Chat               wireChat  `json:"chat"`
	Text               string    `json:"text"`
	IsAutomaticForward bool      `json:"is_automatic_forward"`
}

type wireCallback struct {
	ID   string   `json:"id"`
	From wireUser `json:"from"`
	Data string   `json:"data"`
}

type wireMemberState struct {
	Status string   `json:"status"`
	User   wireUser `json:"user"`
}

type wireMemberUpdate struct {
	Chat          wireChat        `json:"chat"`
	From          wireUser        `json:"from"`
	Date          int64           `json:"date"`
	OldChatMember wireMemberState `json:"old_chat_member"`
	NewChatMember wireMemberState `json:"new_chat_member"`
}

// Update is one Bot API update envelope.
type Update struct {
	UpdateID      int64             `json:"update_id"`
	Message       *wireMessage      `json:"message"`
	CallbackQuery *wireCallback     `json:"callback_query"`
	MyChatMember  *wireMemberUpdate `json:"my_chat_member"`
	ChatMember    *wireMemberUpdate `json:"chat_member"`
}

func isMemberStatus(s string) bool {
	switch models.MemberStatus(s) {
	case models.MemberCreator, models.MemberAdmin, models.MemberPlain:
		return true
	}
	return false
}

// DecodeUpdate parses one webhook body into an Event. Updates carrying
// nothing the gate reacts to decode to (nil, nil).
func DecodeUpdate(body []byte) (Event, error) {
	var upd Update
	if err := json.Unmarshal(body, &upd); err != nil {
		return nil, fmt.Errorf("malformed update: %w", err)
	}

	switch {
	case upd.CallbackQuery != nil:
		return ActionEvent{Action: models.ActionPress{
			QueryID:  upd.CallbackQuery.ID,
			SenderID: upd.CallbackQuery.From.ID,
			Data:     upd.CallbackQuery.Data,
		}}, nil

	case upd.MyChatMember != nil:
		m := upd.MyChatMember
		joined := isMemberStatus(m.NewChatMember.Status) && !isMemberStatus(m.OldChatMember.Status)
		left := !isMemberStatus(m.NewChatMember.Status) && isMemberStatus(m.OldChatMember.Status)

		var transition models.MemberTransition
		switch {
		case joined && m.OldChatMember.Status == string(models.MemberLeft):
			transition = models.BotReturned
		case joined:
			transition = models.BotAdded
		case left:
			transition = models.BotRemoved
		default:
			return nil, nil
		}
		return MemberChangeEvent{Change: memberEvent(transition, m, m.From)}, nil

	case upd.ChatMember != nil:
		m := upd.ChatMember
		if !isMemberStatus(m.NewChatMember.Status) || isMemberStatus(m.OldChatMember.Status) {
			return nil, nil
		}
		return MemberChangeEvent{Change: memberEvent(models.UserAdded, m, m.NewChatMember.User)}, nil

	case upd.Message != nil:
		msg := upd.Message
		out := models.Message{
			ID:          msg.MessageID,
			ChatID:      msg.Chat.ID,
			ChatKind:    models.ChatKind(msg.Chat.Type),
			ChatTitle:   msg.Chat.Title,
			Text:        msg.Text,
			AutoForward: msg.IsAutomaticForward,
		}
		if msg.From != nil {
			out.SenderID = msg.From.ID
			out.SenderUsername = msg.From.Username
			out.SenderName = msg.From.fullName()
			out.SenderLanguage = msg.From.LanguageCode
			out.SenderIsBot = msg.From.IsBot
		}
		if msg.SenderChat != nil && models.ChatKind(msg.SenderChat.Type) == models.ChatChannel {
			out.SenderChannel = true
		}
		return MessageEvent{Message: out}, nil
	}

	return nil, nil
}

func memberEvent(transition models.MemberTransition, m *wireMemberUpdate, actor wireUser) models.MemberEvent {
	return models.MemberEvent{
		Transition:    transition,
		ChatID:        m.Chat.ID,
		ChatKind:      models.ChatKind(m.Chat.Type),
		ChatTitle:     m.Chat.Title,
		ChatUsername:  m.Chat.Username,
		ActorID:       actor.ID,
		ActorUsername: actor.Username,
		ActorName:     actor.fullName(),
		ActorLanguage: actor.LanguageCode,
		ActorIsBot:    actor.IsBot,
		At:            utils.FormatTimestamp(time.Unix(m.Date, 0)),
	}
}
