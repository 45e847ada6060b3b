// Package access turns a configured set of administrator ids into capabilities.
package access

import "github.com/foospoll/foospollbot/internal/domain"

// Admin is proof that the caller passed the administrator check. Only Policy can mint a
// usable value; the zero value is rejected everywhere.
type Admin struct {
	id int64
}

func (a Admin) ID() int64 {
	return a.id
}

// Valid reports whether the capability came from a Policy.
func (a Admin) Valid() bool {
	return a.id != 0
}

type Policy struct {
	admins map[int64]struct{}
	order  []int64
}

func NewPolicy(adminIDs []int64) Policy {
	p := Policy{admins: make(map[int64]struct{}, len(adminIDs))}
	for _, id := range adminIDs {
		if id == 0 {
			continue
		}
		if _, dup := p.admins[id]; dup {
			continue
		}
		p.admins[id] = struct{}{}
		p.order = append(p.order, id)
	}
	return p
}

func (p Policy) Authorize(userID int64) (Admin, error) {
	if _, ok := p.admins[userID]; !ok {
		return Admin{}, domain.ErrNotAdmin
	}
	return Admin{id: userID}, nil
}

// IDs returns the administrators in configuration order.
func (p Policy) IDs() []int64 {
	return append([]int64(nil), p.order...)
}

// Primary is the capability used by scheduled jobs acting on behalf of the organizers.
func (p Policy) Primary() (Admin, error) {
	if len(p.order) == 0 {
		return Admin{}, domain.ErrNotAdmin
	}
	return Admin{id: p.order[0]}, nil
}

// Require returns ErrNotAdmin for capabilities not minted by a Policy.
func Require(a Admin) error {
	if !a.Valid() {
		return domain.ErrNotAdmin
	}
	return nil
}
