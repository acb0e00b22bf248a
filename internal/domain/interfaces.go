package domain

import (
	"context"
	"time"

	"courtdesk/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Queries is the storage surface available both inside and outside a transaction.
type Queries interface {
	GetTenant(ctx context.Context, id int64) (*models.Tenant, error)
	GetCourt(ctx context.Context, tenantID, courtID int64) (*models.Court, error)
	ListPriceRules(ctx context.Context, tenantID int64) ([]*models.PriceRule, error)

	GetClient(ctx context.Context, tenantID, id int64) (*models.Client, error)
	GetClientByPhone(ctx context.Context, tenantID int64, phone string) (*models.Client, error)
	CreateClient(ctx context.Context, client *models.Client) error
	UpdateClient(ctx context.Context, client *models.Client) error
	GetActiveMembership(ctx context.Context, clientID int64, asOf time.Time) (*models.Membership, error)

	HasOverlap(ctx context.Context, courtID int64, start, end time.Time, excludeID int64) (bool, error)
	CreateReservation(ctx context.Context, r *models.Reservation) error
	GetReservation(ctx context.Context, tenantID, id int64) (*models.Reservation, error)
	UpdateReservationPayment(ctx context.Context, id int64, status, paymentStatus, method string) error
	UpdateReservationStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error
	RescheduleReservation(ctx context.Context, id, fromVersion, courtID int64, start, end time.Time) error

	GetOpenRegister(ctx context.Context, tenantID int64) (*models.CashRegister, error)
	GetLatestRegisterByDate(ctx context.Context, tenantID int64, date string) (*models.CashRegister, error)
	GetRegister(ctx context.Context, tenantID, id int64) (*models.CashRegister, error)
	CreateRegister(ctx context.Context, reg *models.CashRegister) error
	CloseRegister(ctx context.Context, reg *models.CashRegister) error

	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	ListRegisterTransactions(ctx context.Context, registerID int64, limit int) ([]*models.Transaction, error)
	ListReservationTransactions(ctx context.Context, reservationID int64) ([]*models.Transaction, error)

	UpsertParticipantCharge(ctx context.Context, pc *models.ParticipantCharge) error
	ReplaceParticipantCharges(ctx context.Context, reservationID int64, charges []*models.ParticipantCharge) error
	ListParticipantCharges(ctx context.Context, reservationID int64) ([]*models.ParticipantCharge, error)

	GetProduct(ctx context.Context, tenantID, id int64) (*models.Product, error)
	AdjustStock(ctx context.Context, productID, delta int64) error
	CreateLineItem(ctx context.Context, item *models.LineItem) error
	GetLineItem(ctx context.Context, reservationID, id int64) (*models.LineItem, error)
	DeleteLineItem(ctx context.Context, id int64) error
	ListLineItems(ctx context.Context, reservationID int64) ([]*models.LineItem, error)

	CreateWaitingEntry(ctx context.Context, entry *models.WaitingListEntry) error
	ListPendingWaitingEntries(ctx context.Context, tenantID int64, date string, courtID int64) ([]*models.WaitingListEntry, error)
	MarkWaitingEntriesNotified(ctx context.Context, ids []int64) error
}

// Store runs Queries directly or inside one immediate transaction.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}

// ConfigSource serves tenant scheduling configuration and price rules.
type ConfigSource interface {
	GetTenant(ctx context.Context, id int64) (*models.Tenant, error)
	ListPriceRules(ctx context.Context, tenantID int64) ([]*models.PriceRule, error)
}

// ConfigCache stores configuration snapshots. A miss returns nil without error.
type ConfigCache interface {
	GetTenant(ctx context.Context, id int64) (*models.Tenant, error)
	SetTenant(ctx context.Context, tenant *models.Tenant) error
	GetPriceRules(ctx context.Context, tenantID int64) ([]*models.PriceRule, error)
	SetPriceRules(ctx context.Context, tenantID int64, rules []*models.PriceRule) error
	Invalidate(ctx context.Context, tenantID int64) error
}

// EffectTaskStore persists side-effect jobs.
type EffectTaskStore interface {
	CreateEffectTask(ctx context.Context, task *models.EffectTask) error
	GetPendingEffectTasks(ctx context.Context, limit int) ([]models.EffectTask, error)
	ClaimEffectTask(ctx context.Context, id int64) (bool, error)
	UpdateEffectTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// EffectQueue accepts best-effort side effects. It never blocks on delivery.
type EffectQueue interface {
	Enqueue(ctx context.Context, kind string, tenantID, reservationID int64, payload any) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Broadcaster publishes realtime updates to a tenant channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel, event string, payload []byte) error
}

// Messenger queues an outbound text for delivery.
type Messenger interface {
	SendMessage(ctx context.Context, phone, text string) error
}

// StaffNotifier alerts facility staff.
type StaffNotifier interface {
	NotifyStaff(ctx context.Context, tenantID int64, text string) error
}

// PaymentLinkProvider returns a redirect URL for an online payment.
type PaymentLinkProvider interface {
	CreatePaymentLink(ctx context.Context, req models.PaymentLinkRequest) (string, error)
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
