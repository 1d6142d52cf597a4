package model

import "time"

// Category is the intent label attached to a stored message.
type Category string

// Fixed label set. CategoryInbox is the default when classification fails.
const (
	CategoryInbox         Category = "Inbox"
	CategorySent          Category = "Sent"
	CategoryInterested    Category = "Interested"
	CategoryMeetingBooked Category = "Meeting Booked"
	CategoryNotInterested Category = "Not Interested"
	CategorySpam          Category = "Spam"
	CategoryOutOfOffice   Category = "Out of Office"
)

// Categories lists every valid label in display order.
var Categories = []Category{
	CategoryInbox,
	CategorySent,
	CategoryInterested,
	CategoryMeetingBooked,
	CategoryNotInterested,
	CategorySpam,
	CategoryOutOfOffice,
}

// ParseCategory returns the Category matching s exactly, or false.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Valid reports whether c belongs to the fixed label set.
func (c Category) Valid() bool {
	_, ok := ParseCategory(string(c))
	return ok
}

// FolderInbox is the only folder mirrored.
const FolderInbox = "Inbox"

// Placeholders used when the remote message lacks the corresponding part.
const (
	DefaultSubject   = "No Subject"
	DefaultSender    = "Unknown Sender"
	DefaultRecipient = "unknown@domain.com"
	NoBodyText       = "No email body available."
	NoPreviewText    = "No preview available"
)

// PreviewLength is the number of characters kept before the ellipsis.
const PreviewLength = 100

// Message is a mirrored mailbox message. Its identity is the pair
// (AccountID, UID).
type Message struct {
	// ID is the internal unique identifier for this record.
	ID string `json:"id" db:"id"`

	// AccountID references the mailbox account the message was fetched from.
	AccountID string `json:"account_id" db:"account_id"`

	// UserID is the owning user of the account.
	UserID string `json:"user_id" db:"user_id"`

	// UID is the provider-assigned identifier, stable within one mailbox.
	UID uint32 `json:"uid" db:"uid"`

	Subject    string `json:"subject" db:"subject"`
	Sender     string `json:"sender" db:"sender"`
	SenderName string `json:"sender_name" db:"sender_name"`
	Recipient  string `json:"recipient" db:"recipient"`

	// Date is the Date header, or the fetch time when absent.
	Date time.Time `json:"date" db:"date"`

	// ReceivedAt is the server INTERNALDATE. Window-scoped reconciliation
	// compares against this value.
	ReceivedAt time.Time `json:"received_at" db:"received_at"`

	Preview  string   `json:"preview" db:"preview"`
	Body     string   `json:"body" db:"body"`
	Category Category `json:"category" db:"category"`
	Folder   string   `json:"folder" db:"folder"`
	Read     bool     `json:"read" db:"read"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ParsedMessage is the structured form of a fetched message before it is
// classified and stored.
type ParsedMessage struct {
	UID        uint32
	Subject    string
	Sender     string
	SenderName string
	Recipient  string
	Date       time.Time
	ReceivedAt time.Time
	TextBody   string
	HTMLBody   string
	Body       string
	Preview    string
}

// ToMessage builds a storable Message for the given account and category.
func (p *ParsedMessage) ToMessage(acct Account, category Category) Message {
	return Message{
		AccountID:  acct.ID,
		UserID:     acct.UserID,
		UID:        p.UID,
		Subject:    p.Subject,
		Sender:     p.Sender,
		SenderName: p.SenderName,
		Recipient:  p.Recipient,
		Date:       p.Date,
		ReceivedAt: p.ReceivedAt,
		Preview:    p.Preview,
		Body:       p.Body,
		Category:   category,
		Folder:     FolderInbox,
	}
}
