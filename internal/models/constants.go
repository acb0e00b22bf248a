package models

// Reservation lifecycle.
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusCanceled  = "CANCELED"
	StatusCompleted = "COMPLETED"
	StatusNoShow    = "NO_SHOW"
)

// Reservation payment state.
const (
	PaymentUnpaid   = "UNPAID"
	PaymentPartial  = "PARTIAL"
	PaymentPaid     = "PAID"
	PaymentRefunded = "REFUNDED"
)

// Payment methods. Anything other than CASH counts as digital in the ledger.
const (
	MethodCash        = "CASH"
	MethodTransfer    = "TRANSFER"
	MethodCard        = "CARD"
	MethodMercadoPago = "MERCADOPAGO"
	MethodMixed       = "MIXED"
)

const (
	TxIncome  = "INCOME"
	TxExpense = "EXPENSE"
)

const (
	CategoryBooking        = "BOOKING"
	CategoryBookingPayment = "BOOKING_PAYMENT"
	CategoryPlayerPayment  = "PLAYER_PAYMENT"
	CategoryRefund         = "REFUND"
	CategoryKiosk          = "KIOSCO"
	CategoryOther          = "OTHER"
)

const (
	RegisterOpen   = "OPEN"
	RegisterClosed = "CLOSED"
	RegisterNone   = "NO_REGISTER"
)

const (
	MembershipNone   = "NONE"
	MembershipActive = "ACTIVE"
)

const (
	WaitingPending   = "PENDING"
	WaitingNotified  = "NOTIFIED"
	WaitingFulfilled = "FULFILLED"
)

// Partial-failure policies for recurring series.
const (
	SeriesBestEffort   = "best_effort"
	SeriesAllOrNothing = "all_or_nothing"
)

const (
	DefaultOpenTime     = "08:00"
	DefaultCloseTime    = "23:00"
	DefaultSlotDuration = 90 // minutes
	DefaultTimezone     = "America/Argentina/Buenos_Aires"

	// MaxSeriesOccurrences caps a weekly series, seed included.
	MaxSeriesOccurrences = 52

	// RecentMovementsLimit is how many movements the register status view carries.
	RecentMovementsLimit = 20

	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)
