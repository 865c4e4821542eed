package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-localplayer/internal/domain/library"
)

// Order is the persisted playlist order record.
type Order struct {
	db *DB
}

// NewOrder creates an order store on db.
func NewOrder(db *DB) *Order {
	return &Order{db: db}
}

// SetOrder overwrites the order record.
func (o *Order) SetOrder(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return o.db.putState(ctx, keyOrder, string(data))
}

// GetOrder returns the stored order. A missing or unreadable record reads as
// empty; reconciliation rebuilds it from the blob store.
func (o *Order) GetOrder(ctx context.Context) ([]string, error) {
	value, ok, err := o.db.getState(ctx, keyOrder)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}

	var ids []string
	if err := json.Unmarshal([]byte(value), &ids); err != nil {
		log.Warn().Err(err).Msg("Discarding malformed playlist order")
		return []string{}, nil
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, library.ErrNotFound)
}
