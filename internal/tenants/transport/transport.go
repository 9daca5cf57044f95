package transport

import (
	"time"

	"github.com/google/uuid"
)

type TenantResponse struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Identifier      string     `json:"identifier"`
	Subdomain       *string    `json:"subdomain,omitempty"`
	Status          string     `json:"status"`
	Plan            string     `json:"plan"`
	MaxUsers        int        `json:"maxUsers"`
	MaxStorageBytes int64      `json:"maxStorageBytes"`
	LogoURL         *string    `json:"logoUrl,omitempty"`
	PrimaryColor    *string    `json:"primaryColor,omitempty"`
	TimeZone        *string    `json:"timeZone,omitempty"`
	Culture         *string    `json:"culture,omitempty"`
	UserCount       *int       `json:"userCount,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
}

type TenantUserResponse struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	FullName    string     `json:"fullName"`
	Phone       *string    `json:"phone,omitempty"`
	Status      string     `json:"status"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	Roles       []string   `json:"roles"`
}

type TenantDetailResponse struct {
	TenantResponse
	Users []TenantUserResponse `json:"users"`
}

// AdminUser describes the first Admin of a new tenant.
type AdminUser struct {
	Email     string `json:"adminEmail" validate:"required,email,max=254"`
	Password  string `json:"adminPassword" validate:"required,strongpassword"`
	FirstName string `json:"adminFirstName" validate:"required,max=100"`
	LastName  string `json:"adminLastName" validate:"required,max=100"`
}

// TenantFields are shared by the register and create payloads.
type TenantFields struct {
	Name            string  `json:"name" validate:"required,min=2,max=200"`
	Identifier      string  `json:"identifier" validate:"required,identifier"`
	Subdomain       *string `json:"subdomain" validate:"omitempty,identifier"`
	Plan            string  `json:"plan" validate:"omitempty,oneof=Free Starter Professional Enterprise"`
	MaxUsers        *int    `json:"maxUsers" validate:"omitempty,min=1"`
	MaxStorageBytes *int64  `json:"maxStorageBytes" validate:"omitempty,min=0"`
	LogoURL         *string `json:"logoUrl" validate:"omitempty,url,max=500"`
	PrimaryColor    *string `json:"primaryColor" validate:"omitempty,hexcolor6"`
	TimeZone        *string `json:"timeZone" validate:"omitempty,timezone"`
	Culture         *string `json:"culture" validate:"omitempty,culture"`
}

// RegisterTenantRequest is the anonymous sign-up payload. The admin is mandatory.
type RegisterTenantRequest struct {
	TenantFields
	AdminUser
}

// CreateTenantRequest is the platform admin payload. The admin is optional.
type CreateTenantRequest struct {
	TenantFields
	AdminEmail     *string `json:"adminEmail" validate:"omitempty,email,max=254"`
	AdminPassword  *string `json:"adminPassword" validate:"required_with=AdminEmail,omitempty,strongpassword"`
	AdminFirstName *string `json:"adminFirstName" validate:"required_with=AdminEmail,omitempty,max=100"`
	AdminLastName  *string `json:"adminLastName" validate:"required_with=AdminEmail,omitempty,max=100"`
}

type UpdateTenantRequest struct {
	Name            *string `json:"name" validate:"omitempty,min=2,max=200"`
	Subdomain       *string `json:"subdomain" validate:"omitempty,identifier"`
	Status          *string `json:"status" validate:"omitempty,oneof=Active Suspended Inactive"`
	Plan            *string `json:"plan" validate:"omitempty,oneof=Free Starter Professional Enterprise"`
	MaxUsers        *int    `json:"maxUsers" validate:"omitempty,min=1"`
	MaxStorageBytes *int64  `json:"maxStorageBytes" validate:"omitempty,min=0"`
	LogoURL         *string `json:"logoUrl" validate:"omitempty,url,max=500"`
	PrimaryColor    *string `json:"primaryColor" validate:"omitempty,hexcolor6"`
	TimeZone        *string `json:"timeZone" validate:"omitempty,timezone"`
	Culture         *string `json:"culture" validate:"omitempty,culture"`
}

type RegisterTenantResponse struct {
	Tenant       TenantResponse `json:"tenant"`
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
	ExpiresIn    int64          `json:"expiresIn"`
	TenantID     uuid.UUID      `json:"tenantId"`
	UserID       uuid.UUID      `json:"userId"`
}
