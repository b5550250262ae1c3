package common

import (
	"math/rand"

	"github.com/google/uuid"
)

// NewWebhookID generates a unique webhook subscription ID with the "whk_" prefix
func NewWebhookID() string {
	return "whk_" + uuid.New().String()
}

// NewDeliveryID generates a unique delivery attempt ID with the "dlv_" prefix
func NewDeliveryID() string {
	return "dlv_" + uuid.New().String()
}

// NewSessionToken generates an opaque API session token
func NewSessionToken() string {
	return uuid.New().String()
}

// NewTransactionID generates a random upstream transaction ID.
// The upstream service expects a positive integer below 10^14.
func NewTransactionID() int64 {
	return rand.Int63n(99999999999999) + 1
}
