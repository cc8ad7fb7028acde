package model

import "time"

// Статусы заявки на автобус.
const (
	StatusPending  = "Pending"
	StatusApproved = "Approved"
	StatusRejected = "Rejected"
)

// TransportRequest — заявка студента на аренду автобуса.
type TransportRequest struct {
	ID          string `json:"_id"`
	StudentID   string `json:"studentId"`
	Name        string `json:"name"`
	Reason      string `json:"reason"`
	// Date — дата поездки (YYYY-MM-DD)
	Date string `json:"date"`
	// Time — время отправления (HH:MM)
	Time        string `json:"time"`
	Destination string `json:"destination"`
	// Status — Pending, Approved, Rejected
	Status string `json:"status"`
	// RequesterEmail — email владельца заявки (из токена)
	RequesterEmail string    `json:"requesterEmail"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TransportRequestInput — поля формы заявки.
type TransportRequestInput struct {
	StudentID   string `json:"studentId"`
	Name        string `json:"name"`
	Reason      string `json:"reason"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Destination string `json:"destination"`
}

// TransportRequestUpdate — частичное обновление заявки (PUT).
// nil-поля не меняются. Только статус — смена статуса администратором.
type TransportRequestUpdate struct {
	StudentID   *string `json:"studentId,omitempty"`
	Name        *string `json:"name,omitempty"`
	Reason      *string `json:"reason,omitempty"`
	Date        *string `json:"date,omitempty"`
	Time        *string `json:"time,omitempty"`
	Destination *string `json:"destination,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// Empty — true, если обновление не меняет ни одного поля.
func (u TransportRequestUpdate) Empty() bool {
	return u.StudentID == nil && u.Name == nil && u.Reason == nil &&
		u.Date == nil && u.Time == nil && u.Destination == nil && u.Status == nil
}

// Apply применяет обновление к заявке.
func (u TransportRequestUpdate) Apply(r *TransportRequest) {
	if u.StudentID != nil {
		r.StudentID = *u.StudentID
	}
	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.Reason != nil {
		r.Reason = *u.Reason
	}
	if u.Date != nil {
		r.Date = *u.Date
	}
	if u.Time != nil {
		r.Time = *u.Time
	}
	if u.Destination != nil {
		r.Destination = *u.Destination
	}
	if u.Status != nil {
		r.Status = *u.Status
	}
}

// IsValidStatus проверяет статус заявки.
func IsValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}
