package application

import "context"

// VerificationNotifier delivers a certification code to a newly created
// user's email address. Delivery is best-effort; Create logs a failed
// dispatch and keeps the PENDING record.
type VerificationNotifier interface {
	SendVerification(ctx context.Context, email, certificationCode string) error
}
