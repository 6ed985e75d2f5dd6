package model

// Core domain types for the transport allocation engine.

// GuestIn is a guest record as supplied by the guest directory.
type GuestIn struct {
    ID              string   `json:"id"`
    Name            string   `json:"name"`
    RSVPStatus      string   `json:"rsvpStatus"`
    Side            string   `json:"side,omitempty"`
    ArrivalDate     string   `json:"arrivalDate,omitempty"` // YYYY-MM-DD
    ArrivalTime     string   `json:"arrivalTime,omitempty"` // HH:MM
    ArrivalLocation string   `json:"arrivalLocation,omitempty"`
    FamilyLinkIDs   []string `json:"familyLinkIds,omitempty"`
}

// FamilyGroup is a primary guest plus linked dependents traveling
// together. Assigned/AssignedVehicleTypeID are derived from the current
// assignment set and never written directly.
type FamilyGroup struct {
    ID                    string   `json:"id"`
    EventID               string   `json:"eventId"`
    PrimaryGuestID        string   `json:"primaryGuestId"`
    MemberIDs             []string `json:"memberIds"`
    Size                  int      `json:"size"`
    ArrivalDate           string   `json:"arrivalDate,omitempty"`
    ArrivalTime           string   `json:"arrivalTime,omitempty"`
    ArrivalLocation       string   `json:"arrivalLocation,omitempty"`
    Assigned              bool     `json:"assigned"`
    AssignedVehicleTypeID string   `json:"assignedVehicleTypeId,omitempty"`
}

// VehicleType is a class of vehicle with a per-unit capacity and a count
// of identical units.
type VehicleType struct {
    ID              string `json:"id"`
    EventID         string `json:"eventId"`
    Label           string `json:"label"`
    CapacityPerUnit int    `json:"capacityPerUnit"`
    TotalUnits      int    `json:"totalUnits"`
    AvailableUnits  int    `json:"availableUnits"`
}

type VehicleTypeIn struct {
    Label           string `json:"label"`
    CapacityPerUnit int    `json:"capacityPerUnit"`
    TotalUnits      int    `json:"totalUnits"`
}

// VehicleTypePatch updates a vehicle type. Nil fields are left unchanged.
type VehicleTypePatch struct {
    Label           *string `json:"label,omitempty"`
    CapacityPerUnit *int    `json:"capacityPerUnit,omitempty"`
    TotalUnits      *int    `json:"totalUnits,omitempty"`
}

// Assignment binds one reserved vehicle unit to one or more family
// groups for a specific pickup/dropoff.
type Assignment struct {
    ID              string   `json:"id"`
    EventID         string   `json:"eventId"`
    Version         int      `json:"version"`
    VehicleTypeID   string   `json:"vehicleTypeId"`
    FamilyGroupIDs  []string `json:"familyGroupIds"`
    PassengerCount  int      `json:"passengerCount"`
    PickupDate      string   `json:"pickupDate"`
    PickupTime      string   `json:"pickupTime"`
    PickupLocation  string   `json:"pickupLocation"`
    DropoffLocation string   `json:"dropoffLocation"`
    Notes           string   `json:"notes,omitempty"`
}

type AssignmentIn struct {
    VehicleTypeID   string   `json:"vehicleTypeId"`
    FamilyGroupIDs  []string `json:"familyGroupIds"`
    PickupDate      string   `json:"pickupDate"`
    PickupTime      string   `json:"pickupTime"`
    PickupLocation  string   `json:"pickupLocation"`
    DropoffLocation string   `json:"dropoffLocation"`
    Notes           string   `json:"notes,omitempty"`
}

// AssignmentPatch updates an assignment. Nil fields are left unchanged;
// a non-nil FamilyGroupIDs replaces the member set. Version, when > 0,
// must match the stored assignment.
type AssignmentPatch struct {
    VehicleTypeID   *string  `json:"vehicleTypeId,omitempty"`
    FamilyGroupIDs  []string `json:"familyGroupIds,omitempty"`
    PickupDate      *string  `json:"pickupDate,omitempty"`
    PickupTime      *string  `json:"pickupTime,omitempty"`
    PickupLocation  *string  `json:"pickupLocation,omitempty"`
    DropoffLocation *string  `json:"dropoffLocation,omitempty"`
    Notes           *string  `json:"notes,omitempty"`
    Version         int      `json:"version,omitempty"`
}

// AutoAssignRequest drives one batch planning run for an event.
type AutoAssignRequest struct {
    EventID         string `json:"eventId"`
    FilterDate      string `json:"date,omitempty"`
    SlackThreshold  *int   `json:"slackThreshold,omitempty"`
    DropoffLocation string `json:"dropoffLocation,omitempty"`
}

// AutoAssignResult reports one run. Unassignable groups are a normal,
// non-exceptional outcome; Excluded groups lacked arrival data.
type AutoAssignResult struct {
    RunID        string        `json:"runId"`
    Created      []Assignment  `json:"created"`
    Unassignable []FamilyGroup `json:"unassignable"`
    Excluded     []FamilyGroup `json:"excluded"`
}

type SubscriptionRequest struct {
    EventID string   `json:"eventId"`
    URL     string   `json:"url"`
    Events  []string `json:"events"`
    Secret  string   `json:"secret"`
}

type Subscription struct {
    ID      string   `json:"id"`
    EventID string   `json:"eventId"`
    URL     string   `json:"url"`
    Events  []string `json:"events"`
    Secret  string   `json:"secret,omitempty"`
}
