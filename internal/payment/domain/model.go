package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Method string

const (
	MethodDirectDebit Method = "DirectDebit"
	MethodCreditCard  Method = "CreditCard"
	MethodTransfer    Method = "Transfer"
	MethodBancontact  Method = "Bancontact"
	MethodUnknown     Method = "Unknown"
)

// FailureCountsAgainstPackages reports whether a failed payment with this
// method marks packages as failing.
func (m Method) FailureCountsAgainstPackages() bool {
	return m == MethodDirectDebit || m == MethodTransfer
}

type Status string

const (
	StatusCreated   Status = "Created"
	StatusPending   Status = "Pending"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
)

const ProviderMollie = "mollie"

// Payment is one collection attempt for an invoice.
type Payment struct {
	ID             snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrganizationID *snowflake.ID `json:"organization_id" gorm:"index"`
	Method         Method        `json:"method" gorm:"type:text;not null"`
	Status         Status        `json:"status" gorm:"type:text;not null"`
	Price          int64         `json:"price" gorm:"not null"`
	Provider       string        `json:"provider" gorm:"type:text;not null"`
	ProviderID     *string       `json:"provider_id" gorm:"type:text;index"`
	PaidAt         *time.Time    `json:"paid_at"`
	CreatedAt      time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time     `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Payment) TableName() string { return "payments" }

// MollieCustomer links an organization to its recurring-payment customer.
type MollieCustomer struct {
	OrganizationID snowflake.ID `json:"organization_id" gorm:"primaryKey"`
	CustomerID     string       `json:"customer_id" gorm:"type:text;not null"`
	MandateID      *string      `json:"mandate_id" gorm:"type:text"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (MollieCustomer) TableName() string { return "mollie_customers" }

// EventRecord stores each provider status transition once.
type EventRecord struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	PaymentID         snowflake.ID   `json:"payment_id" gorm:"not null;index"`
	Provider          string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_event"`
	ProviderPaymentID string         `json:"provider_payment_id" gorm:"type:text;not null;uniqueIndex:ux_payment_event"`
	EventType         string         `json:"event_type" gorm:"type:text;not null;uniqueIndex:ux_payment_event"`
	Payload           datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt        time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt       *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypeChargedBack      = "charged_back"
)
