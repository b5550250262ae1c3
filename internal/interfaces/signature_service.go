package interfaces

import (
	"context"

	"github.com/keithah/gvoice-rest-api/internal/models"
)

// SignPayload is the per-request payload bound into a WAA signature.
type SignPayload struct {
	ThreadID      string   `json:"thread_id"`
	Recipients    []string `json:"recipients"`
	TransactionID int64    `json:"transaction_id"`
	Timestamp     int64    `json:"timestamp"`
}

// SignatureBundle is the vendor-issued program plus the interpreter needed
// to execute it. A bundle past ExpiresAt must never be used to sign.
type SignatureBundle struct {
	InterpreterURL string
	Program        string
	GlobalName     string
	IssuedAt       int64
	ExpiresAt      int64
}

// BundleSource fetches a fresh signature bundle from the upstream
// authorization service using the current session cookies.
type BundleSource interface {
	FetchBundle(ctx context.Context, cred *models.SessionCredential) (*SignatureBundle, error)
}

// SignatureExecutor runs the opaque signing program against a payload inside
// a scriptable sandbox. Implementations own the sandbox lifecycle; the
// engine behind the interface is swappable.
type SignatureExecutor interface {
	// Initialize establishes an execution context bound to the session's
	// cookies (the program reads document/cookie state).
	Initialize(ctx context.Context, cred *models.SessionCredential) error
	// LoadProgram loads the interpreter script and verifies the expected
	// global entry point exists.
	LoadProgram(ctx context.Context, bundle *SignatureBundle) error
	// Execute runs the loaded program with the payload and returns the
	// signature string.
	Execute(ctx context.Context, bundle *SignatureBundle, payload SignPayload) (string, error)
	Close() error
}

// SignatureProvider produces WAA signatures for mutating upstream requests.
type SignatureProvider interface {
	Initialize(ctx context.Context, cred *models.SessionCredential) bool
	// Sign returns a signature for the payload, renewing the bundle first if
	// it is missing or expired. A failed pipeline degrades to the fallback
	// signature rather than failing the outer operation.
	Sign(ctx context.Context, cred *models.SessionCredential, payload SignPayload) string
	Close() error
}
