// proof-of-human/models/models.go
package models

// --- Core Data Models ---

// UserStatus is the verification state of a user. The only legal transition
// is Unverified -> Verified; there is no downgrade path.
type UserStatus int

const (
	Unverified UserStatus = 0
	Verified   UserStatus = 1
)

// User is the global identity record, shared across all chats.
type User struct {
	ID          int64
	Username    string
	Name        string
	Status      UserStatus
	FirstSeenAt string
	Language    string
}

// Chat holds per-chat gate configuration. Defaults apply until an
// administrator changes them through settings.
type Chat struct {
	ID             int64
	Title          string
	CaptchaEnabled bool
	TimeoutSeconds int
	MaxAttempts    int
}

// Challenge is the single active captcha for a (user, chat) pair. The store
// enforces at most one per pair; the composite key is (UserID, ChatID).
type Challenge struct {
	UserID        int64
	ChatID        int64
	ExpiresAt     string
	Payload       string // token of the correct option; the only one that verifies
	MessageID     int64  // rendered challenge message, deleted on resolution
	CorrectSymbol string
	UserMessageID int64 // the triggering message, deleted on lockout or sweep
	Attempts      int
}

// --- Platform Boundary Models ---

// MemberStatus mirrors the platform's chat-membership states.
type MemberStatus string

const (
	MemberCreator MemberStatus = "creator"
	MemberAdmin   MemberStatus = "administrator"
	MemberPlain   MemberStatus = "member"
	MemberLeft    MemberStatus = "left"
	MemberKicked  MemberStatus = "kicked"
)

// IsAdmin reports whether the status carries administrative rights.
func (s MemberStatus) IsAdmin() bool {
	return s == MemberCreator || s == MemberAdmin
}

// ChatKind distinguishes direct conversations from gated group contexts.
type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSupergroup ChatKind = "supergroup"
	ChatChannel    ChatKind = "channel"
)

// Message is the inbound event the Verification Gate admits or drops.
type Message struct {
	ID        int64
	ChatID    int64
	ChatKind  ChatKind
	ChatTitle string

	SenderID       int64
	SenderUsername string
	SenderName     string
	SenderLanguage string
	SenderIsBot    bool

	// SenderChannel marks anonymous channel-post senders, which cannot be
	// gated meaningfully.
	SenderChannel bool
	// AutoForward marks automatic forward notices from linked channels.
	AutoForward bool

	Text string
}

// ActionPress is a button-press event carrying an opaque action identifier.
type ActionPress struct {
	QueryID  string
	SenderID int64
	Data     string
}

// MemberTransition tags a chat-membership change event.
type MemberTransition string

const (
	BotAdded    MemberTransition = "bot_added"
	BotReturned MemberTransition = "bot_returned"
	BotRemoved  MemberTransition = "bot_removed"
	UserAdded   MemberTransition = "user_added"
)

// MemberEvent is the single discriminated event for all membership
// transitions the gate reacts to.
type MemberEvent struct {
	Transition MemberTransition

	ChatID       int64
	ChatKind     ChatKind
	ChatTitle    string
	ChatUsername string

	ActorID       int64
	ActorUsername string
	ActorName     string
	ActorLanguage string
	ActorIsBot    bool

	At string
}
