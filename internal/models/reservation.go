// Package models defines reservation domain helpers shared across components.
package models

import (
	"regexp"
	"strings"
)

// Slot names collected across a conversation. These are the keys of
// Session.Slots and mirror the function catalog argument names.
const (
	SlotPartySize  = "party_size"
	SlotDate       = "date"
	SlotTime       = "time"
	SlotRestaurant = "restaurant"
	SlotName       = "name"
	SlotPhone      = "phone"
)

// RequiredReservationSlots lists the slots that must be filled before a
// reservation can be created.
var RequiredReservationSlots = []string{SlotName, SlotPhone, SlotDate, SlotTime, SlotPartySize}

var reservationCodePattern = regexp.MustCompile(`\b[A-Z0-9]{8}\b`)

// IsValidReservationCode checks the backend's reservation code format:
// exactly 8 alphanumeric characters.
func IsValidReservationCode(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != ReservationCodeLength {
		return false
	}
	for _, r := range code {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// ExtractReservationCode scans free text for something shaped like a
// reservation code. Returns "" when no candidate is found.
func ExtractReservationCode(text string) string {
	return reservationCodePattern.FindString(strings.ToUpper(text))
}

// EstimateDurationMinutes returns the expected table occupation for a party,
// matching the backend's sizing bands.
func EstimateDurationMinutes(partySize int) int {
	switch {
	case partySize <= 2:
		return 90
	case partySize <= 4:
		return 120
	case partySize <= 8:
		return 150
	default:
		return 180
	}
}
