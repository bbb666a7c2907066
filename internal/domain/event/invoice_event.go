package event

// InvoiceEventCode is the invoice lifecycle notification emitted by the
// invoice system.
type InvoiceEventCode string

const (
	InvoiceCreated             InvoiceEventCode = "Created"
	InvoiceReceivedPayment     InvoiceEventCode = "ReceivedPayment"
	InvoicePaymentSettled      InvoiceEventCode = "PaymentSettled"
	InvoicePaidInFull          InvoiceEventCode = "PaidInFull"
	InvoicePaidAfterExpiration InvoiceEventCode = "PaidAfterExpiration"
	InvoiceExpired             InvoiceEventCode = "Expired"
	InvoiceExpiredPaidPartial  InvoiceEventCode = "ExpiredPaidPartial"
	InvoiceConfirmed           InvoiceEventCode = "Confirmed"
	InvoiceCompleted           InvoiceEventCode = "Completed"
	InvoiceFailedToConfirm     InvoiceEventCode = "FailedToConfirm"
	InvoiceMarkedCompleted     InvoiceEventCode = "MarkedCompleted"
	InvoiceMarkedInvalid       InvoiceEventCode = "MarkedInvalid"
)

// WatchAction is what a lifecycle code means for the watch-list.
type WatchAction int

const (
	WatchIgnore WatchAction = iota
	WatchRefresh
	WatchRemove
)

// WatchAction maps the code onto the watch-list: codes after which payments
// can still arrive refresh the invoice, terminal codes remove it.
func (c InvoiceEventCode) WatchAction() WatchAction {
	switch c {
	case InvoiceCreated, InvoiceConfirmed, InvoiceCompleted, InvoicePaymentSettled,
		InvoicePaidAfterExpiration, InvoiceExpired, InvoiceExpiredPaidPartial, InvoiceFailedToConfirm:
		return WatchRefresh
	case InvoiceMarkedCompleted, InvoiceMarkedInvalid, InvoicePaidInFull:
		return WatchRemove
	default:
		return WatchIgnore
	}
}
