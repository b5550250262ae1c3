package models

import (
	"time"
)

// RecipientResult is the per-recipient outcome of a batch SMS send.
// Partial batch failures are visible to the caller.
type RecipientResult struct {
	Recipient string `json:"recipient"`
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SendResult is the aggregate outcome of a send operation.
type SendResult struct {
	Success bool              `json:"success"`
	Results []RecipientResult `json:"results"`
}

// Thread is a conversation thread summary.
type Thread struct {
	ID           string    `json:"thread_id"`
	Participants []string  `json:"participants"`
	Snippet      string    `json:"snippet,omitempty"`
	Unread       bool      `json:"unread"`
	Timestamp    time.Time `json:"timestamp"`
}

// Message is a single message within a thread.
type Message struct {
	ID        string    `json:"message_id"`
	ThreadID  string    `json:"thread_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Inbound   bool      `json:"inbound"`
	Timestamp time.Time `json:"timestamp"`
}

// ThreadPage is one page of thread listings.
type ThreadPage struct {
	Threads       []Thread `json:"threads"`
	NextPageToken string   `json:"next_page_token,omitempty"`
}

// ThreadDetail is a thread with its recent messages.
type ThreadDetail struct {
	ThreadID     string    `json:"thread_id"`
	Participants []string  `json:"participants"`
	Messages     []Message `json:"messages"`
}

// Account is the upstream account summary.
type Account struct {
	PhoneNumber string `json:"phone_number,omitempty"`
	Email       string `json:"email,omitempty"`
	AccountType string `json:"account_type,omitempty"`
}
