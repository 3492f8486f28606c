package domain

import "time"

// Records written into external collaborator tables by action handlers.
// The engine never owns these tables; it only inserts or patches rows.

type Task struct {
	ID             string
	OrganizationID string
	Title          string
	Type           string
	Status         string
	Priority       string
	PropertyID     string
	UnitID         string
	ReservationID  string
	AssignedUserID string
	CreatedAt      time.Time
}

type Message struct {
	ID                   string
	OrganizationID       string
	Channel              string
	Recipient            string
	Status               string
	TemplateID           string
	WhatsAppTemplateName string
	Subject              string
	Body                 string
	Variables            Context
	CreatedAt            time.Time
}

type Expense struct {
	ID             string
	OrganizationID string
	Category       string
	ExpenseDate    string // YYYY-MM-DD
	Amount         float64
	Currency       string
	PaymentMethod  string
	Description    string
	PropertyID     string
	UnitID         string
	CreatedAt      time.Time
}

// Member is an organization membership row, used for assignee resolution.
type Member struct {
	UserID string
	Role   string
}
