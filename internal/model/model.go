package model

import (
	"fmt"
	"strings"
	"time"
)

// FolderInbox is the only folder synchronized.
const FolderInbox = "Inbox"

// Label is a classification category.
type Label string

const (
	LabelInterested    Label = "Interested"
	LabelMeetingBooked Label = "Meeting Booked"
	LabelNotInterested Label = "Not Interested"
	LabelSpam          Label = "Spam"
	LabelOutOfOffice   Label = "Out of Office"
	LabelUnknown       Label = "Unknown"
)

// Labels is the closed set of classification categories.
var Labels = []Label{
	LabelInterested,
	LabelMeetingBooked,
	LabelNotInterested,
	LabelSpam,
	LabelOutOfOffice,
	LabelUnknown,
}

// ParseLabel maps free-form classifier output onto the closed label set.
// Anything unrecognized becomes LabelUnknown.
func ParseLabel(s string) Label {
	for _, l := range Labels {
		if strings.EqualFold(string(l), strings.TrimSpace(s)) {
			return l
		}
	}
	return LabelUnknown
}

// Mailbox is a configured inbox, the unit of synchronization.
type Mailbox struct {
	ID        string
	Protocol  string // "imap" or "pop3"
	Host      string
	Port      int
	Username  string
	Password  string
	UseTLS    bool
	OwnerID   string
	Demo      bool
	MarkSeen  bool
	CreatedAt time.Time

	// ProcessDays bounds the backfill window. CheckInterval is the poll
	// interval for transports without push notifications.
	ProcessDays   int
	CheckInterval time.Duration
}

// DocumentID returns the deterministic document id for a message, so that
// redelivery of the same sequence number always addresses the same document.
func DocumentID(mailboxID string, seq uint32) string {
	return fmt.Sprintf("%s-%d", mailboxID, seq)
}

// EmailDocument is the canonical, store-persisted representation of one message.
type EmailDocument struct {
	ID             string    `json:"id"`
	MailboxID      string    `json:"mailboxId"`
	Sequence       uint32    `json:"sequence"`
	OwnerID        string    `json:"ownerId"`
	Account        string    `json:"account"`
	Folder         string    `json:"folder"`
	From           string    `json:"from"`
	To             []string  `json:"to"`
	Subject        string    `json:"subject"`
	MessageID      string    `json:"messageId,omitempty"`
	Date           time.Time `json:"date"`
	Body           string    `json:"body"`
	Snippet        string    `json:"snippet"`
	Labels         []Label   `json:"labels"`
	SuggestedReply string    `json:"suggestedReply,omitempty"`
	Flags          []string  `json:"flags"`
	FetchedAt      time.Time `json:"fetchedAt"`
	Processed      bool      `json:"processed"`
}

// HasLabel reports whether l is among the document's labels.
func (d *EmailDocument) HasLabel(l Label) bool {
	for _, x := range d.Labels {
		if x == l {
			return true
		}
	}
	return false
}
