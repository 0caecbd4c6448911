// Package catalog provides the static function catalog for GastroBot.
//
// The catalog is the only bridge between model-issued function calls and
// backend operations: it maps the function names the model may request to
// argument schemas and to backend adapter operations. It is built once at
// process start and immutable afterwards, so the valid-call surface stays
// auditable. Dispatch is an explicit lookup, never reflection.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gastrobot/gastrobot/internal/models"
)

// Operation identifies the backend adapter operation a catalog entry binds to.
type Operation string

const (
	OpCheckAvailability Operation = "check_availability"
	OpCreateReservation Operation = "create_reservation"
	OpModifyReservation Operation = "modify_reservation"
	OpCancelReservation Operation = "cancel_reservation"
	OpGetReservation    Operation = "get_reservation_info"
	OpListAlternatives  Operation = "list_alternatives"
	OpGetMenu           Operation = "get_menu"
	OpGetHours          Operation = "get_hours"
	OpGetPolicies       Operation = "get_policies"
	OpGetRestaurantInfo Operation = "get_restaurant_info"
)

// ErrUnknownFunction indicates a model/catalog mismatch: the model requested
// a function the catalog does not know. This is a configuration defect and is
// never silently ignored.
var ErrUnknownFunction = errors.New("unknown function")

// ValidationError describes malformed function arguments. It is recovered
// locally: the orchestrator feeds it back to the model as a function result
// instead of calling the backend.
type ValidationError struct {
	Function string
	Detail   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Function, e.Detail)
}

// Parameter describes one argument of a catalog function.
type Parameter struct {
	Type        string   // "string", "integer", "boolean" or "object"
	Description string
	Enum        []string // allowed values, empty means unrestricted
	Pattern     string   // regexp the (string) value must match, empty means unrestricted
}

// FunctionDescriptor is one catalog entry: the function name the model may
// request, its argument schema, and the backend operation it binds to.
type FunctionDescriptor struct {
	Name        string
	Description string
	Parameters  map[string]Parameter
	Required    []string
	Operation   Operation
}

// Catalog holds the ordered set of function descriptors.
type Catalog struct {
	descriptors []FunctionDescriptor
	byName      map[string]*FunctionDescriptor
}

// New builds the catalog from the given descriptors, preserving order.
func New(descriptors []FunctionDescriptor) (*Catalog, error) {
	c := &Catalog{
		descriptors: descriptors,
		byName:      make(map[string]*FunctionDescriptor, len(descriptors)),
	}
	for i := range descriptors {
		d := &c.descriptors[i]
		if d.Name == "" {
			return nil, fmt.Errorf("catalog descriptor %d has empty name", i)
		}
		if _, dup := c.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate catalog entry: %s", d.Name)
		}
		for _, req := range d.Required {
			if _, ok := d.Parameters[req]; !ok {
				return nil, fmt.Errorf("catalog entry %s requires undeclared parameter %s", d.Name, req)
			}
		}
		c.byName[d.Name] = d
	}
	return c, nil
}

// DescribeAll returns the catalog entries in their stable declaration order.
// The same sequence is presented to the model on every resolution cycle.
func (c *Catalog) DescribeAll() []FunctionDescriptor {
	out := make([]FunctionDescriptor, len(c.descriptors))
	copy(out, c.descriptors)
	return out
}

// Resolve looks up the backend operation bound to a function name.
func (c *Catalog) Resolve(name string) (Operation, error) {
	d, ok := c.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return d.Operation, nil
}

// Validate checks a function call's arguments against the catalog schema:
// required fields present, types coercible, no unknown fields. On success it
// returns a normalized copy of the arguments (integers coerced from JSON
// numbers or numeric strings).
func (c *Catalog) Validate(name string, args map[string]interface{}) (map[string]interface{}, error) {
	d, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}

	normalized := make(map[string]interface{}, len(args))
	for key, value := range args {
		spec, declared := d.Parameters[key]
		if !declared {
			return nil, &ValidationError{Function: name, Detail: fmt.Sprintf("unknown field %q", key)}
		}
		coerced, err := coerce(spec, key, value)
		if err != nil {
			return nil, &ValidationError{Function: name, Detail: err.Error()}
		}
		normalized[key] = coerced
	}

	for _, req := range d.Required {
		v, present := normalized[req]
		if !present || isEmpty(v) {
			return nil, &ValidationError{Function: name, Detail: fmt.Sprintf("missing required field %q", req)}
		}
	}

	if err := validateDomain(d, normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

// coerce converts a raw JSON-decoded value to the declared parameter type.
func coerce(spec Parameter, key string, value interface{}) (interface{}, error) {
	switch spec.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("field %q must be a string", key)
		}
		if len(spec.Enum) > 0 && !contains(spec.Enum, s) {
			return nil, fmt.Errorf("field %q must be one of %s", key, strings.Join(spec.Enum, ", "))
		}
		if spec.Pattern != "" {
			if matched, _ := regexp.MatchString(spec.Pattern, s); !matched {
				return nil, fmt.Errorf("field %q has invalid format", key)
			}
		}
		return s, nil
	case "integer":
		switch v := value.(type) {
		case float64:
			if v != float64(int(v)) {
				return nil, fmt.Errorf("field %q must be an integer", key)
			}
			return int(v), nil
		case int:
			return v, nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("field %q must be an integer", key)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("field %q must be an integer", key)
		}
	case "boolean":
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("field %q must be a boolean", key)
		}
		return b, nil
	case "object":
		m, ok := value.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field %q must be an object", key)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("field %q has unsupported schema type %q", key, spec.Type)
	}
}

// validateDomain applies reservation-specific argument checks beyond the
// structural schema, mirroring what the backend would reject anyway so the
// model gets a fast, local validation result.
func validateDomain(d *FunctionDescriptor, args map[string]interface{}) error {
	if size, ok := args["party_size"].(int); ok {
		if size < models.MinPartySize || size > models.MaxPartySize {
			return &ValidationError{
				Function: d.Name,
				Detail:   fmt.Sprintf("party_size must be between %d and %d", models.MinPartySize, models.MaxPartySize),
			}
		}
	}
	if code, ok := args["reservation_code"].(string); ok {
		if !models.IsValidReservationCode(code) {
			return &ValidationError{
				Function: d.Name,
				Detail:   "reservation_code must be 8 alphanumeric characters",
			}
		}
	}
	if d.Operation == OpModifyReservation {
		changes, _ := args["changes"].(map[string]interface{})
		if len(changes) == 0 {
			return &ValidationError{Function: d.Name, Detail: "changes must specify at least one field to modify"}
		}
	}
	switch d.Operation {
	case OpCheckAvailability, OpListAlternatives, OpCreateReservation:
		if date, ok := args["date"].(string); ok && date != "" {
			if err := validateReservationDate(d.Name, date); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateReservationDate rejects dates that cannot be booked: malformed
// calendar days the format pattern cannot catch, and anything before today.
func validateReservationDate(function, date string) error {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return &ValidationError{Function: function, Detail: "date must be a valid YYYY-MM-DD calendar date"}
	}
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if day.Before(today) {
		return &ValidationError{Function: function, Detail: "date cannot be in the past"}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]interface{}:
		return len(t) == 0
	case nil:
		return true
	default:
		return false
	}
}
