package model

import (
	"fmt"
	"strings"
)

// AccessLog is the badge swipe record attached to an access-denial
// notification. It is display-only on the client.
type AccessLog struct {
	ID             int           `json:"id"`
	CardID         string        `json:"cardId"`
	Timestamp      string        `json:"timestamp"`
	Type           string        `json:"type"`
	EmployeeID     int           `json:"employeeId"`
	AccessSystemID int           `json:"accessSystemId"`
	Success        *bool         `json:"success,omitempty"`
	Message        string        `json:"message,omitempty"`
	Employee       *Employee     `json:"employee,omitempty"`
	AccessSystem   *AccessSystem `json:"accessSystem,omitempty"`
}

// Employee is the badge holder referenced by an access log.
type Employee struct {
	ID          int    `json:"id"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email,omitempty"`
	CardID      string `json:"cardId,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Address     string `json:"address,omitempty"`
}

// FullName joins first and last name.
func (e Employee) FullName() string {
	switch {
	case e.FirstName == "":
		return e.LastName
	case e.LastName == "":
		return e.FirstName
	}
	return e.FirstName + " " + e.LastName
}

// AccessSystem is the door controller that produced the access log.
// The wire names are the server's.
type AccessSystem struct {
	ID         int    `json:"id"`
	Name       string `json:"name,omitempty"`
	Brand      string `json:"Marque"`
	Model      string `json:"Modele"`
	IPAddress  string `json:"AdresseIP"`
	Port       int    `json:"Port"`
	BuildingID *int   `json:"batimentId,omitempty"`
}

// Describe returns "Name (Brand Model, ip:port)", dropping empty parts.
func (s AccessSystem) Describe() string {
	var hw []string
	if s.Brand != "" || s.Model != "" {
		hw = append(hw, strings.TrimSpace(s.Brand+" "+s.Model))
	}
	if s.IPAddress != "" {
		addr := s.IPAddress
		if s.Port != 0 {
			addr = fmt.Sprintf("%s:%d", addr, s.Port)
		}
		hw = append(hw, addr)
	}

	name := s.Name
	if name == "" {
		name = fmt.Sprintf("reader #%d", s.ID)
	}
	if len(hw) == 0 {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, strings.Join(hw, ", "))
}
