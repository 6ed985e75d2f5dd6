package engine

import (
	"sort"
	"strings"
)

// Guest is the slice of a guest-directory record the collector needs.
type Guest struct {
	ID              string
	Name            string
	RSVPStatus      string
	ArrivalDate     string
	ArrivalTime     string
	ArrivalLocation string
	FamilyLinkIDs   []string
}

// Group is a family group: the atomic unit of transport assignment.
// Assigned and AssignedVehicleTypeID are derived via Recompute and hold
// no independent truth.
type Group struct {
	ID                    string
	PrimaryGuestID        string
	MemberIDs             []string
	Size                  int
	ArrivalDate           string
	ArrivalTime           string
	ArrivalLocation       string
	Assigned              bool
	AssignedVehicleTypeID string
}

// AssignmentView is the minimal assignment shape Recompute needs.
type AssignmentView struct {
	VehicleTypeID string
	GroupIDs      []string
}

// BuildGroups derives family groups from guest records. Only confirmed
// guests participate. Family linkage is treated as an undirected graph
// over familyLinkIds; each connected component becomes one group. The
// primary is the component member with the most links, ties broken by
// id ascending, and contributes the group's arrival metadata. Group ids
// are derived from the primary guest id so repeated runs over the same
// directory produce the same ids.
func BuildGroups(guests []Guest) []Group {
	confirmed := make(map[string]Guest)
	var order []string
	for _, g := range guests {
		if !strings.EqualFold(strings.TrimSpace(g.RSVPStatus), "confirmed") {
			continue
		}
		if g.ID == "" {
			continue
		}
		if _, dup := confirmed[g.ID]; dup {
			continue
		}
		confirmed[g.ID] = g
		order = append(order, g.ID)
	}
	sort.Strings(order)

	parent := make(map[string]string, len(order))
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			// smaller root wins for determinism
			if ra < rb {
				parent[rb] = ra
			} else {
				parent[ra] = rb
			}
		}
	}
	for _, id := range order {
		parent[id] = id
	}
	for _, id := range order {
		for _, link := range confirmed[id].FamilyLinkIDs {
			if _, ok := confirmed[link]; ok {
				union(id, link)
			}
		}
	}

	components := map[string][]string{}
	for _, id := range order {
		root := find(id)
		components[root] = append(components[root], id)
	}

	var groups []Group
	for _, members := range components {
		sort.Strings(members)
		primary := pickPrimary(members, confirmed)
		pg := confirmed[primary]
		rest := make([]string, 0, len(members)-1)
		for _, id := range members {
			if id != primary {
				rest = append(rest, id)
			}
		}
		groups = append(groups, Group{
			ID:              "fg_" + primary,
			PrimaryGuestID:  primary,
			MemberIDs:       rest,
			Size:            len(rest) + 1,
			ArrivalDate:     pg.ArrivalDate,
			ArrivalTime:     pg.ArrivalTime,
			ArrivalLocation: pg.ArrivalLocation,
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

func pickPrimary(members []string, guests map[string]Guest) string {
	best := members[0]
	for _, id := range members[1:] {
		if len(guests[id].FamilyLinkIDs) > len(guests[best].FamilyLinkIDs) {
			best = id
		}
	}
	return best
}

// Recompute derives the assigned state of every group from the current
// assignment set. It is pure: the input slice is not modified. Groups
// referenced by no assignment come back unassigned.
func Recompute(groups []Group, assignments []AssignmentView) []Group {
	byGroup := map[string]string{} // group id -> vehicle type id
	for _, a := range assignments {
		for _, gid := range a.GroupIDs {
			byGroup[gid] = a.VehicleTypeID
		}
	}
	out := make([]Group, len(groups))
	for i, g := range groups {
		g.Assigned = false
		g.AssignedVehicleTypeID = ""
		if vt, ok := byGroup[g.ID]; ok {
			g.Assigned = true
			g.AssignedVehicleTypeID = vt
		}
		out[i] = g
	}
	return out
}
