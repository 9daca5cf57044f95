package transport

import (
	"time"

	"github.com/google/uuid"
)

type RoleRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type UserResponse struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	FullName    string     `json:"fullName"`
	Phone       *string    `json:"phone,omitempty"`
	Status      string     `json:"status"`
	TimeZone    *string    `json:"timeZone,omitempty"`
	Culture     *string    `json:"culture,omitempty"`
	Department  *string    `json:"department,omitempty"`
	Team        *string    `json:"team,omitempty"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	Roles       []RoleRef  `json:"roles"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

type ListUsersRequest struct {
	Status *string    `form:"status" validate:"omitempty,oneof=Active Inactive"`
	RoleID *uuid.UUID `form:"roleId"`
}

type CreateUserRequest struct {
	Email      string      `json:"email" validate:"required,email,max=254"`
	Password   string      `json:"password" validate:"required,strongpassword"`
	FirstName  string      `json:"firstName" validate:"required,max=100"`
	LastName   string      `json:"lastName" validate:"required,max=100"`
	Phone      *string     `json:"phone" validate:"omitempty,max=32"`
	TimeZone   *string     `json:"timeZone" validate:"omitempty,timezone"`
	Culture    *string     `json:"culture" validate:"omitempty,culture"`
	Department *string     `json:"department" validate:"omitempty,max=100"`
	Team       *string     `json:"team" validate:"omitempty,max=100"`
	RoleIDs    []uuid.UUID `json:"roleIds" validate:"omitempty,dive,required"`
}

type UpdateUserRequest struct {
	FirstName  *string      `json:"firstName" validate:"omitempty,max=100"`
	LastName   *string      `json:"lastName" validate:"omitempty,max=100"`
	Phone      *string      `json:"phone" validate:"omitempty,max=32"`
	TimeZone   *string      `json:"timeZone" validate:"omitempty,timezone"`
	Culture    *string      `json:"culture" validate:"omitempty,culture"`
	Department *string      `json:"department" validate:"omitempty,max=100"`
	Team       *string      `json:"team" validate:"omitempty,max=100"`
	RoleIDs    *[]uuid.UUID `json:"roleIds" validate:"omitempty,dive,required"`
}

type SetRolesRequest struct {
	RoleIDs []uuid.UUID `json:"roleIds" validate:"required,dive,required"`
}
