// Package domain contains persistence models for organizations.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	packagedomain "github.com/smallbiznis/memberhub/internal/billingpackage/domain"
	"gorm.io/datatypes"
)

// Organization represents a tenant.
type Organization struct {
	ID          snowflake.ID                    `gorm:"primaryKey" json:"id"`
	Name        string                          `gorm:"type:text;not null" json:"name"`
	Meta        datatypes.JSONType[Meta]        `gorm:"type:jsonb;not null" json:"meta"`
	PrivateMeta datatypes.JSONType[PrivateMeta] `gorm:"type:jsonb;not null" json:"private_meta"`
	ServerMeta  datatypes.JSONType[ServerMeta]  `gorm:"type:jsonb;not null" json:"-"`
	CreatedAt   time.Time                       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time                       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

type Meta struct {
	Company  Company              `json:"company"`
	Packages OrganizationPackages `json:"packages"`
}

type Company struct {
	Name          string  `json:"name"`
	Contact       string  `json:"contact"`
	Address       Address `json:"address"`
	VATNumber     *string `json:"vatNumber"`
	CompanyNumber *string `json:"companyNumber"`
}

type Address struct {
	Street     string `json:"street"`
	PostalCode string `json:"postalCode"`
	City       string `json:"city"`
	Country    string `json:"country"`
}

// OrganizationPackages caches the merged status per package type.
type OrganizationPackages struct {
	Packages map[packagedomain.PackageType]packagedomain.PackageStatus `json:"packages"`
}

// Entitlement folds the entitlements of every active package type.
func (p OrganizationPackages) Entitlement(now time.Time, failedGrace time.Duration) packagedomain.Entitlement {
	var result packagedomain.Entitlement
	for t, status := range p.Packages {
		if !status.IsActive(now, failedGrace) {
			continue
		}
		e := t.Entitlement()
		result.Members = result.Members || e.Members
		result.Activities = result.Activities || e.Activities
		result.Webshops = result.Webshops || e.Webshops
	}
	return result
}

type PrivateMeta struct {
	DNSRecords            []DNSRecord `json:"dnsRecords"`
	MailDomain            *string     `json:"mailDomain"`
	PendingMailDomain     *string     `json:"pendingMailDomain"`
	MailFromDomain        *string     `json:"mailFromDomain"`
	RegisterDomain        *string     `json:"registerDomain"`
	PendingRegisterDomain *string     `json:"pendingRegisterDomain"`
	MailDomainActive      bool        `json:"mailDomainActive"`
}

type ServerMeta struct {
	FirstInvalidDNSRecords *time.Time `json:"firstInvalidDNSRecords"`
	DNSRecordWarningCount  int        `json:"DNSRecordWarningCount"`
	// PrivateDKIMKey is the base64 encoded key SES signs the mail domain with.
	PrivateDKIMKey *string `json:"privateDKIMKey,omitempty"`
}

type DNSRecordType string

const (
	DNSRecordTypeCNAME DNSRecordType = "CNAME"
	DNSRecordTypeTXT   DNSRecordType = "TXT"
)

type DNSRecordStatus string

const (
	DNSRecordStatusPending DNSRecordStatus = "Pending"
	DNSRecordStatusValid   DNSRecordStatus = "Valid"
	DNSRecordStatusFailed  DNSRecordStatus = "Failed"
)

type DNSRecord struct {
	ID     string           `json:"id"`
	Type   DNSRecordType    `json:"type"`
	Name   string           `json:"name"`
	Value  string           `json:"value"`
	Status DNSRecordStatus  `json:"status"`
	Errors []DNSRecordError `json:"errors,omitempty"`
}

type DNSRecordError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Admin receives billing and DNS notices for an organization.
type Admin struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OrganizationID snowflake.ID `gorm:"not null;index" json:"organization_id"`
	Email          string       `gorm:"type:text;not null" json:"email"`
	FirstName      string       `gorm:"type:text" json:"first_name"`
	LastName       string       `gorm:"type:text" json:"last_name"`
}

func (Admin) TableName() string { return "organization_admins" }

// Member is counted for per-member package pricing.
type Member struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OrganizationID snowflake.ID `gorm:"not null;index" json:"organization_id"`
	Active         bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Member) TableName() string { return "members" }
