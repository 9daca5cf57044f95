package transport

import (
	"time"

	"github.com/google/uuid"
)

type LoginRequest struct {
	Email            string `json:"email" validate:"required,email"`
	Password         string `json:"password" validate:"required"`
	TenantIdentifier string `json:"tenantIdentifier" validate:"omitempty,max=63"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type UpdateProfileRequest struct {
	FirstName *string `json:"firstName" validate:"omitempty,min=1,max=100"`
	LastName  *string `json:"lastName" validate:"omitempty,min=1,max=100"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
	TimeZone  *string `json:"timeZone" validate:"omitempty,timezone"`
	Culture   *string `json:"culture" validate:"omitempty,culture"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,strongpassword"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=NewPassword"`
}

type UserInfo struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	FullName    string    `json:"fullName"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	DataScope   string    `json:"dataScope"`
}

type AuthResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresIn    int64     `json:"expiresIn"`
	TenantID     uuid.UUID `json:"tenantId"`
	UserID       uuid.UUID `json:"userId"`
	User         UserInfo  `json:"user"`
}

type ProfileResponse struct {
	ID          uuid.UUID  `json:"id"`
	TenantID    uuid.UUID  `json:"tenantId"`
	TenantName  string     `json:"tenantName"`
	Email       string     `json:"email"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	FullName    string     `json:"fullName"`
	Phone       *string    `json:"phone,omitempty"`
	TimeZone    *string    `json:"timeZone,omitempty"`
	Culture     *string    `json:"culture,omitempty"`
	Department  *string    `json:"department,omitempty"`
	Team        *string    `json:"team,omitempty"`
	Roles       []string   `json:"roles"`
	Permissions []string   `json:"permissions"`
	DataScope   string     `json:"dataScope"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}
