package model

import "time"

type LoginState string

const (
	StateCreated       LoginState = "created"
	StateCodeSubmitted LoginState = "code_submitted"
	StateAwaiting2FA   LoginState = "awaiting_2fa"
	StateAuthorized    LoginState = "authorized"
)

type Session struct {
	Key        string
	Phone      string
	State      LoginState
	Authorized bool
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the session outlived its TTL at now. A zero
// ExpiresAt never expires.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type User struct {
	ID        string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	IsBot     bool   `json:"is_bot"`
}

type Channel struct {
	ID               string `json:"channel_id"`
	Title            string `json:"title"`
	Username         string `json:"username,omitempty"`
	Description      string `json:"description,omitempty"`
	SubscribersCount int    `json:"subscribers_count,omitempty"`
}

type Message struct {
	ID              string     `json:"message_id"`
	ChannelID       string     `json:"channel_id"`
	Date            time.Time  `json:"date"`
	Text            string     `json:"text"`
	Media           []string   `json:"media"`
	Views           int        `json:"views"`
	Forwards        int        `json:"forwards"`
	CommentsCount   int        `json:"comments_count"`
	LastCommentDate *time.Time `json:"last_comment_date"`
}

// Comment is a reply in a message's discussion thread.
type Comment struct {
	ID        string    `json:"comment_id"`
	MessageID string    `json:"message_id"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Date      time.Time `json:"date"`
	Media     []string  `json:"media"`
}

type WatchInfo struct {
	ChannelID string    `json:"channel_id"`
	StartedAt time.Time `json:"started_at"`
}
