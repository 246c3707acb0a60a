package store

import "cyodesign.app/atelier/core/db"

type Stores struct {
	db db.DBTX
}

func NewStores(conn db.DBTX) *Stores {
	return &Stores{db: conn}
}

func (s *Stores) Chats() ChatStore {
	return newChatStore(s.db)
}

func (s *Stores) Leads() LeadStore {
	return newLeadStore(s.db)
}
