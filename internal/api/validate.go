package api

import (
	"fmt"

	"shuttleplan/internal/model"
)

func validateAutoAssignRequest(req *model.AutoAssignRequest) error {
	if req.SlackThreshold != nil && *req.SlackThreshold < 1 {
		return fmt.Errorf("slackThreshold must be >= 1")
	}
	if req.FilterDate != "" && len(req.FilterDate) != 10 {
		return fmt.Errorf("date must be YYYY-MM-DD")
	}
	return nil
}

func validateAssignmentIn(in *model.AssignmentIn) error {
	if in.VehicleTypeID == "" {
		return fmt.Errorf("vehicleTypeId required")
	}
	if len(in.FamilyGroupIDs) == 0 {
		return fmt.Errorf("familyGroupIds required")
	}
	if in.PickupDate == "" || in.PickupTime == "" {
		return fmt.Errorf("pickupDate and pickupTime required")
	}
	return nil
}

func validatePlannerConfig(cfg map[string]any) error {
	if v, ok := cfg["slackThreshold"]; ok {
		switch n := v.(type) {
		case float64:
			if n < 1 {
				return fmt.Errorf("slackThreshold must be >= 1")
			}
		case int:
			if n < 1 {
				return fmt.Errorf("slackThreshold must be >= 1")
			}
		default:
			return fmt.Errorf("slackThreshold must be a number")
		}
	}
	if v, ok := cfg["dropoffLocation"]; ok {
		if _, isStr := v.(string); !isStr {
			return fmt.Errorf("dropoffLocation must be a string")
		}
	}
	return nil
}
