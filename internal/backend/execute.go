package backend

import (
	"context"
	"fmt"

	"github.com/gastrobot/gastrobot/internal/catalog"
)

// Execute dispatches a resolved catalog operation to the matching client
// method. Arguments must already be validated and normalized by the catalog.
func (c *Client) Execute(ctx context.Context, op catalog.Operation, args map[string]interface{}) (map[string]interface{}, error) {
	switch op {
	case catalog.OpCheckAvailability:
		return c.CheckAvailability(ctx, availabilityQuery(args))
	case catalog.OpListAlternatives:
		return c.ListAlternatives(ctx, availabilityQuery(args))
	case catalog.OpCreateReservation:
		return c.CreateReservation(ctx, Reservation{
			Name:       strArg(args, "name"),
			Phone:      strArg(args, "phone"),
			Date:       strArg(args, "date"),
			Time:       strArg(args, "time"),
			PartySize:  intArg(args, "party_size"),
			Restaurant: strArg(args, "restaurant"),
			Zone:       strArg(args, "zone"),
			Allergies:  strArg(args, "allergies"),
			Comments:   strArg(args, "comments"),
		})
	case catalog.OpModifyReservation:
		changes, _ := args["changes"].(map[string]interface{})
		return c.ModifyReservation(ctx, strArg(args, "reservation_code"), changes)
	case catalog.OpCancelReservation:
		return c.CancelReservation(ctx, strArg(args, "reservation_code"), strArg(args, "reason"))
	case catalog.OpGetReservation:
		return c.GetReservation(ctx, strArg(args, "reservation_code"))
	case catalog.OpGetMenu:
		return c.GetMenu(ctx, strArg(args, "category"), boolArg(args, "show_images"), strArg(args, "dish_name"))
	case catalog.OpGetHours:
		return c.GetHours(ctx, strArg(args, "date"))
	case catalog.OpGetPolicies:
		return c.GetPolicies(ctx)
	case catalog.OpGetRestaurantInfo:
		return c.GetRestaurantInfo(ctx, strArg(args, "query_type"), strArg(args, "policy_type"))
	default:
		return nil, fmt.Errorf("no backend operation bound to %q", op)
	}
}

func availabilityQuery(args map[string]interface{}) AvailabilityQuery {
	return AvailabilityQuery{
		Date:        strArg(args, "date"),
		Time:        strArg(args, "time"),
		PartySize:   intArg(args, "party_size"),
		Restaurant:  strArg(args, "restaurant"),
		DurationMin: intArg(args, "duration_min"),
	}
}

func strArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func boolArg(args map[string]interface{}, key string) bool {
	b, _ := args[key].(bool)
	return b
}
