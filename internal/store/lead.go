package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"cyodesign.app/atelier/core/db"
	"cyodesign.app/atelier/internal/model"
)

type leadStore struct {
	db db.DBTX
}

func newLeadStore(conn db.DBTX) LeadStore {
	return &leadStore{db: conn}
}

const createLead = `INSERT INTO leads (id, conversation_id, subject, first_name, last_name, email, phone, city, country, specification, image_urls)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING created_at`

func (s *leadStore) Create(ctx context.Context, lead *model.Lead) error {
	urls := lead.ImageURLs
	if urls == nil {
		urls = []string{}
	}
	return s.db.QueryRow(ctx, createLead,
		lead.ID,
		lead.ConversationID,
		lead.Subject,
		lead.FirstName,
		lead.LastName,
		lead.Email,
		lead.Phone,
		lead.City,
		lead.Country,
		lead.Specification,
		urls,
	).Scan(&lead.CreatedAt)
}

const getLead = `SELECT id, conversation_id, subject, first_name, last_name, email, phone, city, country, specification, image_urls, notified_at, created_at
FROM leads WHERE id = $1`

func (s *leadStore) Get(ctx context.Context, id int64) (model.Lead, error) {
	var lead model.Lead
	err := s.db.QueryRow(ctx, getLead, id).Scan(
		&lead.ID,
		&lead.ConversationID,
		&lead.Subject,
		&lead.FirstName,
		&lead.LastName,
		&lead.Email,
		&lead.Phone,
		&lead.City,
		&lead.Country,
		&lead.Specification,
		&lead.ImageURLs,
		&lead.NotifiedAt,
		&lead.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Lead{}, ErrNotFound
		}
		return model.Lead{}, err
	}
	return lead, nil
}

const markLeadNotified = `UPDATE leads SET notified_at = $2 WHERE id = $1`

func (s *leadStore) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.db.Exec(ctx, markLeadNotified, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
