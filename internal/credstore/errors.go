package credstore

import "fmt"

// AuthKind classifies credential failures for the orchestrator's retry policy.
type AuthKind int

const (
	// AuthTransient means the token exchange failed for a retryable reason
	// (network, provider 5xx); the mailbox may be retried with backoff.
	AuthTransient AuthKind = iota
	// AuthIrrecoverable means the refresh token was rejected (invalid_grant
	// or equivalent); the mailbox must not be retried until the user
	// re-consents.
	AuthIrrecoverable
)

// AuthError reports a credential failure for a mailbox.
type AuthError struct {
	Kind      AuthKind
	MailboxID uint
	Err       error
}

func (e *AuthError) Error() string {
	kind := "transient"
	if e.Kind == AuthIrrecoverable {
		kind = "irrecoverable"
	}
	return fmt.Sprintf("auth error (%s) for mailbox %d: %v", kind, e.MailboxID, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
