package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/gastrobot/gastrobot/internal/models"
)

// The grounding policy: assistant text asserting reservation facts
// (availability, confirmation, pricing, concrete slots) must be backed by a
// function-call result produced in the same resolution cycle. Ungrounded
// replies are replaced, never passed through.

var (
	timeMentionPattern  = regexp.MustCompile(`\b([01]?\d|2[0-3]):[0-5]\d\b`)
	priceMentionPattern = regexp.MustCompile(`\d+(?:[.,]\d{1,2})?\s*(?:€|eur)|€\s*\d+`)
)

// factualMarkers are phrases that assert backend facts. The list covers the
// languages the assistant operates in (English and Spanish).
var factualMarkers = []string{
	"available", "availability", "confirmed", "booked", "we have a table",
	"your reservation", "reservation code",
	"disponible", "disponibilidad", "confirmada", "confirmado", "reservada",
	"tenemos mesa", "tu reserva", "su reserva", "código de reserva",
}

// replyIsGrounded checks an assistant reply against the function results
// gathered while handling the current message. It returns false when the
// reply asserts facts no result supplies.
func replyIsGrounded(reply string, results []*models.FunctionCallResult) bool {
	lower := strings.ToLower(reply)
	corpus := strings.ToLower(resultCorpus(results))

	// Concrete time slots must come from a backend result.
	for _, t := range timeMentionPattern.FindAllString(reply, -1) {
		if !strings.Contains(corpus, strings.ToLower(t)) {
			return false
		}
	}

	// Prices must come from a backend result.
	for _, p := range priceMentionPattern.FindAllString(lower, -1) {
		if !strings.Contains(corpus, p) {
			return false
		}
	}

	// Reservation codes must come from a backend result.
	if code := models.ExtractReservationCode(reply); code != "" {
		if !strings.Contains(corpus, strings.ToLower(code)) {
			return false
		}
	}

	// Availability/confirmation claims require at least one result this cycle.
	if len(results) == 0 {
		for _, marker := range factualMarkers {
			if strings.Contains(lower, marker) {
				return false
			}
		}
	}

	return true
}

// resultCorpus flattens all function results (payloads and domain-error
// details alike - a "fully booked" rejection is a grounded fact) into one
// searchable string.
func resultCorpus(results []*models.FunctionCallResult) string {
	var b strings.Builder
	for _, r := range results {
		if r == nil {
			continue
		}
		if data, err := json.Marshal(r); err == nil {
			b.Write(data)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
