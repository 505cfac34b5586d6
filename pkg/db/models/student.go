package models

import (
	"time"

	"github.com/google/uuid"
)

// Student is a lesson-taking resource owner. Gateway references are stored so
// off-session charges can run without re-collecting card details.
type Student struct {
	ID                uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CompanyID         uuid.UUID `gorm:"column:company_id;type:uuid;not null;index"`
	FirstName         string    `gorm:"column:first_name;not null"`
	LastName          string    `gorm:"column:last_name;not null"`
	Email             string    `gorm:"column:email;not null"`
	Phone             *string   `gorm:"column:phone"`
	Active            bool      `gorm:"column:active;not null;default:true"`
	GatewayCustomerID *string   `gorm:"column:gateway_customer_id"`
	PaymentCardID     *string   `gorm:"column:payment_card_id"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
