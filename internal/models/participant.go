package models

import "time"

// Participant is a person that can be admitted into courses. The pair
// (document_type, document_number) is the natural key and is unique.
type Participant struct {
	ID             string    `db:"id" json:"id"`
	DocumentType   string    `db:"document_type" json:"document_type"`
	DocumentNumber string    `db:"document_number" json:"document_number"`
	FullName       string    `db:"full_name" json:"full_name"`
	Email          string    `db:"email" json:"email,omitempty"`
	Phone          string    `db:"phone" json:"phone,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// ParticipantFilter captures filtering criteria for listing participants.
type ParticipantFilter struct {
	Search    string
	Document  string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
