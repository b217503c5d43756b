package reconcile

import "errors"

// ErrInvoiceNotFound means the derived invoice id does not match any stored
// invoice. The event is unreconcilable: the gateway would resend the same
// correlation token, so retrying cannot help.
var ErrInvoiceNotFound = errors.New("invoice not found")
