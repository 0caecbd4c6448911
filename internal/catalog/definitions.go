package catalog

// Argument format patterns shared by several catalog entries.
const (
	datePattern = `^\d{4}-\d{2}-\d{2}$`
	timePattern = `^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`
)

// Default builds the GastroBot function catalog. The declaration order is the
// stable order presented to the model every cycle.
func Default() (*Catalog, error) {
	return New([]FunctionDescriptor{
		{
			Name:        "check_availability",
			Description: "Check table availability for a specific date, time and party size",
			Parameters: map[string]Parameter{
				"date":         {Type: "string", Description: "Date to check (YYYY-MM-DD)", Pattern: datePattern},
				"time":         {Type: "string", Description: "Time to check (HH:MM, 24-hour)", Pattern: timePattern},
				"party_size":   {Type: "integer", Description: "Number of guests"},
				"restaurant":   {Type: "string", Description: "Restaurant branch name, when the customer names one"},
				"duration_min": {Type: "integer", Description: "Estimated duration in minutes, defaults to the party-size estimate"},
			},
			Required:  []string{"date", "time", "party_size"},
			Operation: OpCheckAvailability,
		},
		{
			Name:        "list_alternatives",
			Description: "List alternative available time slots near a requested date and time",
			Parameters: map[string]Parameter{
				"date":       {Type: "string", Description: "Requested date (YYYY-MM-DD)", Pattern: datePattern},
				"time":       {Type: "string", Description: "Requested time (HH:MM, 24-hour)", Pattern: timePattern},
				"party_size": {Type: "integer", Description: "Number of guests"},
				"restaurant": {Type: "string", Description: "Restaurant branch name, when the customer names one"},
			},
			Required:  []string{"date", "time", "party_size"},
			Operation: OpListAlternatives,
		},
		{
			Name:        "create_reservation",
			Description: "Create a new reservation. Only call after availability has been confirmed",
			Parameters: map[string]Parameter{
				"name":       {Type: "string", Description: "Customer's full name"},
				"phone":      {Type: "string", Description: "Customer's phone number"},
				"date":       {Type: "string", Description: "Reservation date (YYYY-MM-DD)", Pattern: datePattern},
				"time":       {Type: "string", Description: "Reservation time (HH:MM, 24-hour)", Pattern: timePattern},
				"party_size": {Type: "integer", Description: "Number of guests"},
				"restaurant": {Type: "string", Description: "Restaurant branch name"},
				"zone":       {Type: "string", Description: "Preferred zone (terrace, dining room, bar)"},
				"allergies":  {Type: "string", Description: "Allergies or dietary restrictions"},
				"comments":   {Type: "string", Description: "Additional comments"},
			},
			Required:  []string{"name", "phone", "date", "time", "party_size"},
			Operation: OpCreateReservation,
		},
		{
			Name:        "modify_reservation",
			Description: "Modify an existing reservation. The 8-character reservation code is mandatory - always ask the customer for it",
			Parameters: map[string]Parameter{
				"reservation_code": {Type: "string", Description: "8-character reservation code (mandatory)"},
				"changes":          {Type: "object", Description: "Fields to change: date, time, party_size, zone, allergies, comments"},
			},
			Required:  []string{"reservation_code", "changes"},
			Operation: OpModifyReservation,
		},
		{
			Name:        "cancel_reservation",
			Description: "Cancel an existing reservation. The 8-character reservation code is mandatory - always ask the customer for it",
			Parameters: map[string]Parameter{
				"reservation_code": {Type: "string", Description: "8-character reservation code (mandatory)"},
				"reason":           {Type: "string", Description: "Cancellation reason (optional)"},
			},
			Required:  []string{"reservation_code"},
			Operation: OpCancelReservation,
		},
		{
			Name:        "get_reservation_info",
			Description: "Look up a reservation by its 8-character code",
			Parameters: map[string]Parameter{
				"reservation_code": {Type: "string", Description: "8-character reservation code"},
			},
			Required:  []string{"reservation_code"},
			Operation: OpGetReservation,
		},
		{
			Name:        "get_menu",
			Description: "Get the restaurant menu, optionally filtered by category or with dish images",
			Parameters: map[string]Parameter{
				"category":    {Type: "string", Description: "Menu category (starters, mains, desserts, drinks)"},
				"show_images": {Type: "boolean", Description: "Include dish image URLs. Only when the customer explicitly asks for photos"},
				"dish_name":   {Type: "string", Description: "Specific dish name to look up (optional)"},
			},
			Operation: OpGetMenu,
		},
		{
			Name:        "get_hours",
			Description: "Get the restaurant opening hours",
			Parameters: map[string]Parameter{
				"date": {Type: "string", Description: "Specific date (YYYY-MM-DD)", Pattern: datePattern},
			},
			Operation: OpGetHours,
		},
		{
			Name:        "get_policies",
			Description: "Get the restaurant policies (cancellations, groups, etc)",
			Parameters:  map[string]Parameter{},
			Operation:   OpGetPolicies,
		},
		{
			Name:        "get_restaurant_info",
			Description: "Get restaurant information. Always use before answering questions about the restaurant itself",
			Parameters: map[string]Parameter{
				"query_type":  {Type: "string", Description: "'general' for name/address/phone, 'policies' for a specific policy", Enum: []string{"general", "policies"}},
				"policy_type": {Type: "string", Description: "For policy queries: 'smoking', 'cancellation', 'children', 'pets', etc"},
			},
			Required:  []string{"query_type"},
			Operation: OpGetRestaurantInfo,
		},
	})
}
