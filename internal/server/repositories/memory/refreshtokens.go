package memory

import (
	"context"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/dmitrijs2005/waterauth/internal/dbx"
	"github.com/dmitrijs2005/waterauth/internal/server/models"
)

type refreshRepo struct {
	s  *Store
	db dbx.DBTX
}

func (r *refreshRepo) Create(_ context.Context, token *models.RefreshToken) error {
	return r.s.run(r.db, func(d *data) error {
		for _, t := range d.refresh {
			if t.TokenHash == token.TokenHash {
				return common.ErrorAlreadyExists
			}
		}
		d.refresh[token.ID] = *token
		return nil
	})
}

func (r *refreshRepo) FindByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	var found *models.RefreshToken
	err := r.s.run(r.db, func(d *data) error {
		for _, t := range d.refresh {
			if t.TokenHash == hash {
				found = &t
				return nil
			}
		}
		return common.ErrorNotFound
	})
	return found, err
}

func (r *refreshRepo) Revoke(_ context.Context, id string) (bool, error) {
	var revoked bool
	err := r.s.run(r.db, func(d *data) error {
		if t, ok := d.refresh[id]; ok && !t.IsRevoked {
			t.IsRevoked = true
			d.refresh[id] = t
			revoked = true
		}
		return nil
	})
	return revoked, err
}

func (r *refreshRepo) RevokeBySession(_ context.Context, sessionID string) (int64, error) {
	var n int64
	err := r.s.run(r.db, func(d *data) error {
		for id, t := range d.refresh {
			if t.SessionID == sessionID && !t.IsRevoked {
				t.IsRevoked = true
				d.refresh[id] = t
				n++
			}
		}
		return nil
	})
	return n, err
}
