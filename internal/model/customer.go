package model

import (
	"errors"
	"strings"
	"time"
)

type Customer struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CustomerInput identifies a customer on a payment request. Email is the
// natural key: one Customer row per distinct email, reused thereafter.
type CustomerInput struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

var ErrInvalidEmail = errors.New("customer email is required")

func (c CustomerInput) Validate() error {
	if !strings.Contains(c.Email, "@") {
		return ErrInvalidEmail
	}
	return nil
}
