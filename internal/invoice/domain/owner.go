package domain

import "github.com/bwmarrin/snowflake"

// Owner says who a billing document belongs to. Documents outlive their
// organization, so every consumer handles both variants through MatchOwner.
type Owner interface {
	isOwner()
}

type OwnedByOrganization struct {
	ID snowflake.ID
}

type Orphaned struct{}

func (OwnedByOrganization) isOwner() {}
func (Orphaned) isOwner()            {}

// OwnerOf maps a nullable organization column to an Owner.
func OwnerOf(orgID *snowflake.ID) Owner {
	if orgID == nil || *orgID == 0 {
		return Orphaned{}
	}
	return OwnedByOrganization{ID: *orgID}
}

// MatchOwner calls exactly one of the handlers.
func MatchOwner[T any](o Owner, owned func(OwnedByOrganization) T, orphaned func(Orphaned) T) T {
	switch v := o.(type) {
	case OwnedByOrganization:
		return owned(v)
	case Orphaned:
		return orphaned(v)
	}
	return orphaned(Orphaned{})
}

// OrganizationID returns the owning organization, if any.
func OrganizationID(o Owner) (snowflake.ID, bool) {
	type result struct {
		id snowflake.ID
		ok bool
	}
	r := MatchOwner(o,
		func(owned OwnedByOrganization) result { return result{id: owned.ID, ok: true} },
		func(Orphaned) result { return result{} },
	)
	return r.id, r.ok
}
