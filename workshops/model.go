package workshops

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/lmda/portal/internal/timeutil"
)

var ErrNotFound = errors.New("workshop not found")

// Category classifies how a workshop is sold.
type Category string

const (
	CategorySeries       Category = "series"
	CategoryFreeWorkshop Category = "free_workshop"
	CategoryPaidWorkshop Category = "paid_workshop"
)

// Status is the booking lifecycle shown to visitors.
type Status string

const (
	StatusUpcoming    Status = "upcoming"
	StatusOpen        Status = "open"
	StatusSellingFast Status = "selling_fast"
	StatusFullyBooked Status = "fully_booked"
	StatusCompleted   Status = "completed"
)

// Workshop is a listing managed by content makers.
type Workshop struct {
	ID          string          `db:"id" json:"id"`
	Title       string          `db:"title" json:"title"`
	Description string          `db:"description" json:"description,omitempty"`
	Category    Category        `db:"category" json:"category"`
	Status      Status          `db:"status" json:"status"`
	Price       decimal.Decimal `db:"price" json:"price"`
	TrainerName string          `db:"trainer_name" json:"trainer_name,omitempty"`
	ScheduledAt time.Time       `db:"scheduled_at" json:"scheduled_at"`
	CPDPoints   bool            `db:"cpd_points" json:"cpd_points"`
	IsActive    bool            `db:"is_active" json:"is_active"`
	FlyerURL    string          `db:"flyer_url" json:"flyer_url,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Input is the create/update payload.
type Input struct {
	Title       string          `json:"title" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=2000"`
	Category    Category        `json:"category" validate:"required,oneof=series free_workshop paid_workshop"`
	Status      Status          `json:"status" validate:"omitempty,oneof=upcoming open selling_fast fully_booked completed"`
	Price       decimal.Decimal `json:"price"`
	TrainerName string          `json:"trainer_name" validate:"max=100"`
	ScheduledAt string          `json:"scheduled_at" validate:"required"`
	CPDPoints   bool            `json:"cpd_points"`
	IsActive    *bool           `json:"is_active"`
	FlyerURL    string          `json:"flyer_url" validate:"omitempty,max=2048"`
}

// ValidationError describes the first invalid field of an Input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Normalizer turns raw input into a workshop, applying defaults.
type Normalizer struct {
	validate *validator.Validate
	location *time.Location
}

// NewNormalizer interprets zone-less times in loc.
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{validate: validator.New(), location: loc}
}

// Normalize validates in. Free workshops are always priced at zero and new
// workshops default to open and active.
func (n *Normalizer) Normalize(in Input) (*Workshop, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.TrainerName = strings.TrimSpace(in.TrainerName)
	in.FlyerURL = strings.TrimSpace(in.FlyerURL)

	if err := n.validate.Struct(in); err != nil {
		return nil, fieldError(err)
	}

	scheduledAt, err := timeutil.ParseScheduledAt(in.ScheduledAt, n.location)
	if err != nil {
		return nil, &ValidationError{Field: "scheduled_at", Message: "scheduled_at must be a date and time"}
	}

	price := in.Price
	if in.Category == CategoryFreeWorkshop {
		price = decimal.Zero
	}
	if price.IsNegative() {
		return nil, &ValidationError{Field: "price", Message: "price cannot be negative"}
	}

	status := in.Status
	if status == "" {
		status = StatusOpen
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	return &Workshop{
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Status:      status,
		Price:       price.Round(2),
		TrainerName: in.TrainerName,
		ScheduledAt: scheduledAt,
		CPDPoints:   in.CPDPoints,
		IsActive:    active,
		FlyerURL:    in.FlyerURL,
	}, nil
}

func fieldError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Message: "invalid workshop"}
	}

	field := verrs[0]
	name := jsonName(field.Field())
	switch field.Tag() {
	case "required":
		return &ValidationError{Field: name, Message: name + " is required"}
	case "max":
		return &ValidationError{Field: name, Message: fmt.Sprintf("%s must be at most %s characters", name, field.Param())}
	case "oneof":
		return &ValidationError{Field: name, Message: fmt.Sprintf("%s must be one of: %s", name, field.Param())}
	default:
		return &ValidationError{Field: name, Message: name + " is invalid"}
	}
}

func jsonName(field string) string {
	switch field {
	case "TrainerName":
		return "trainer_name"
	case "ScheduledAt":
		return "scheduled_at"
	case "FlyerURL":
		return "flyer_url"
	default:
		return strings.ToLower(field)
	}
}
