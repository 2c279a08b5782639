package store

import (
	"omnidesk.app/core/core/db"
)

type Stores struct {
	q db.DBTX
}

func NewStores(q db.DBTX) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Organizations() OrganizationStore {
	return newOrganizationStore(s.q)
}

func (s *Stores) Members() MemberStore {
	return newMemberStore(s.q)
}

func (s *Stores) Connections() ConnectionStore {
	return newConnectionStore(s.q)
}

func (s *Stores) Tickets() TicketStore {
	return newTicketStore(s.q)
}

func (s *Stores) Settings() SettingsStore {
	return newSettingsStore(s.q)
}

func (s *Stores) Stats() StatsStore {
	return newStatsStore(s.q)
}
