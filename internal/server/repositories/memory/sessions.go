package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/dmitrijs2005/waterauth/internal/dbx"
	"github.com/dmitrijs2005/waterauth/internal/server/models"
)

type sessionRepo struct {
	s  *Store
	db dbx.DBTX
}

func (r *sessionRepo) Create(_ context.Context, s *models.LoginSession) error {
	return r.s.run(r.db, func(d *data) error {
		for _, existing := range d.sessions {
			if existing.JwtTokenID == s.JwtTokenID {
				return common.ErrorAlreadyExists
			}
		}
		d.sessions[s.ID] = *s
		return nil
	})
}

func (r *sessionRepo) find(match func(s *models.LoginSession) bool) (*models.LoginSession, error) {
	var found *models.LoginSession
	err := r.s.run(r.db, func(d *data) error {
		for _, s := range d.sessions {
			if match(&s) {
				found = &s
				return nil
			}
		}
		return common.ErrorNotFound
	})
	return found, err
}

func (r *sessionRepo) GetByID(_ context.Context, id string) (*models.LoginSession, error) {
	return r.find(func(s *models.LoginSession) bool { return s.ID == id })
}

func (r *sessionRepo) GetByTokenID(_ context.Context, jti string) (*models.LoginSession, error) {
	return r.find(func(s *models.LoginSession) bool { return s.JwtTokenID == jti })
}

func (r *sessionRepo) list(match func(s *models.LoginSession) bool) ([]models.LoginSession, error) {
	var result []models.LoginSession
	err := r.s.run(r.db, func(d *data) error {
		for _, s := range d.sessions {
			if match(&s) {
				result = append(result, s)
			}
		}
		return nil
	})
	return result, err
}

func (r *sessionRepo) ListActiveByUser(_ context.Context, userID string, now time.Time) ([]models.LoginSession, error) {
	result, err := r.list(func(s *models.LoginSession) bool {
		return s.UserID == userID && s.IsActive && s.ExpiresAt.After(now)
	})
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, err
}

func (r *sessionRepo) update(id string, fn func(s *models.LoginSession)) error {
	return r.s.run(r.db, func(d *data) error {
		s, ok := d.sessions[id]
		if !ok {
			return common.ErrorNotFound
		}
		fn(&s)
		d.sessions[id] = s
		return nil
	})
}

func (r *sessionRepo) Deactivate(_ context.Context, id string) error {
	return r.update(id, func(s *models.LoginSession) { s.IsActive = false })
}

func (r *sessionRepo) UpdateToken(_ context.Context, id, jti string, tokenExpiresAt time.Time) error {
	return r.update(id, func(s *models.LoginSession) {
		s.JwtTokenID = jti
		s.TokenExpiresAt = tokenExpiresAt
	})
}

func (r *sessionRepo) ListExpired(_ context.Context, before time.Time, limit int) ([]models.LoginSession, error) {
	result, err := r.list(func(s *models.LoginSession) bool { return s.ExpiresAt.Before(before) })
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, err
}

func (r *sessionRepo) Delete(_ context.Context, id string) error {
	return r.s.run(r.db, func(d *data) error {
		delete(d.sessions, id)
		for tid, t := range d.refresh {
			if t.SessionID == id {
				delete(d.refresh, tid)
			}
		}
		return nil
	})
}
