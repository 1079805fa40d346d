// Package model defines the clinic domain entities stored in the relational object store.
package model

import (
	"encoding/json"

	"github.com/and161185/clinic-keeper/internal/storage"
)

// User is a Telegram account talking to the bot.
type User struct {
	storage.Base
	TelegramID int64
	UserName   string
	Name       string
	Chat       storage.Relation[*User, *Chat]
	Client     storage.Relation[*User, *Client]
}

// Links implements storage.Entity.
func (u *User) Links() []storage.Link { return []storage.Link{u.Chat, u.Client} }

type userRecord struct {
	storage.BaseRecord
	TelegramID int64                            `json:"tg_id"`
	UserName   string                           `json:"uname"`
	Name       string                           `json:"name"`
	Chat       storage.Relation[*User, *Chat]   `json:"chat"`
	Client     storage.Relation[*User, *Client] `json:"client"`
}

// MarshalJSON implements json.Marshaler.
func (u *User) MarshalJSON() ([]byte, error) {
	return json.Marshal(userRecord{
		BaseRecord: u.Record(),
		TelegramID: u.TelegramID,
		UserName:   u.UserName,
		Name:       u.Name,
		Chat:       u.Chat,
		Client:     u.Client,
	})
}

// MainState is the dialogue screen a chat is on.
type MainState int

// Dialogue screens, in persisted order.
const (
	StateStart MainState = iota
	StateMainMenu
	StateMakeAppointment
	StatePaidAppointment
	StateSelectService
	StateSelectClinic
	StateSelectDates
	StateSelectDoctor
	StateSelectTime
	StateNearestTime
	StateInputTime
	StateSetPersonalInfo
	StateConfirm
	StateMake
	StateCantMake
	StateStateInsurance
	StatePrivateInsurance
	StateDoctors
	StateServices
	StateClinics
	StateForClient
	StateSales
	StateContacts
	StateListAppointments
	StateConfirmCancel
	StateCmdMainMenu
)

// SubState is the step within a dialogue screen.
type SubState int

// Dialogue steps, in persisted order.
const (
	SubBase SubState = iota
	SubAsk
	SubProcessAnswer
	SubInvalid
)

// Chat is the conversation of a user with the bot.
type Chat struct {
	storage.Base
	User        storage.Relation[*Chat, *User]
	State       MainState
	Sub         SubState
	ChatID      int64
	LastMessage int32
}

// Links implements storage.Entity.
func (c *Chat) Links() []storage.Link { return []storage.Link{c.User} }

type chatRecord struct {
	storage.BaseRecord
	User        storage.Relation[*Chat, *User] `json:"user"`
	State       MainState                      `json:"gs"`
	Sub         SubState                       `json:"ss"`
	ChatID      int64                          `json:"chat_id"`
	LastMessage int32                          `json:"last_msg"`
}

// MarshalJSON implements json.Marshaler.
func (c *Chat) MarshalJSON() ([]byte, error) {
	return json.Marshal(chatRecord{
		BaseRecord:  c.Record(),
		User:        c.User,
		State:       c.State,
		Sub:         c.Sub,
		ChatID:      c.ChatID,
		LastMessage: c.LastMessage,
	})
}
