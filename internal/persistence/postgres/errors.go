package postgres

import (
	"errors"

	"github.com/lib/pq"

	"github.com/radarlab/radar/internal/apperr"
)

// Unique constraint names from the schema; the mapping decides which
// duplicate kind callers observe.
const (
	constraintNewsContentHash = "news_content_hash_key"
	constraintNewsExternalID  = "news_source_id_external_id_key"
	constraintAliasNormalized = "company_aliases_pkey"
)

// mapUniqueViolation translates a 23505 into the matching kinded error.
// Anything else passes through unchanged.
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return err
	}
	switch pqErr.Constraint {
	case constraintNewsContentHash:
		return apperr.New(apperr.KindDuplicateOnHash, err)
	case constraintNewsExternalID:
		return apperr.New(apperr.KindDuplicateOnExternalID, err)
	default:
		return apperr.New(apperr.KindDuplicateOnHash, err)
	}
}
