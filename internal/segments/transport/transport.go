package transport

import (
	"time"

	"crm_saas_backend/internal/rules"

	"github.com/google/uuid"
)

type SegmentResponse struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Description *string           `json:"description,omitempty"`
	Criteria    []rules.Condition `json:"criteria"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   *time.Time        `json:"updatedAt,omitempty"`
}

type CreateSegmentRequest struct {
	Name        string            `json:"name" validate:"required,max=200"`
	Description *string           `json:"description" validate:"omitempty,max=2000"`
	Criteria    []rules.Condition `json:"criteria" validate:"max=50,dive"`
}

type UpdateSegmentRequest struct {
	Name        *string            `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string            `json:"description" validate:"omitempty,max=2000"`
	Criteria    *[]rules.Condition `json:"criteria" validate:"omitempty,max=50,dive"`
}

// SegmentContact is one contact matched by a segment.
type SegmentContact struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
}
