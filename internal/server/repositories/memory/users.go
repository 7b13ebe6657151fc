package memory

import (
	"context"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/dmitrijs2005/waterauth/internal/dbx"
	"github.com/dmitrijs2005/waterauth/internal/server/models"
)

type userRepo struct {
	s  *Store
	db dbx.DBTX
}

func (r *userRepo) Create(_ context.Context, user *models.User) error {
	return r.s.run(r.db, func(d *data) error {
		for _, u := range d.users {
			if collides(u.Username, user.Username) || collides(u.Email, user.Email) || collides(u.PhoneNumber, user.PhoneNumber) {
				return common.ErrorAlreadyExists
			}
		}
		d.users[user.ID] = *user
		return nil
	})
}

func collides(a, b string) bool {
	return a != "" && a == b
}

func (r *userRepo) find(match func(u *models.User) bool) (*models.User, error) {
	var found *models.User
	err := r.s.run(r.db, func(d *data) error {
		for _, u := range d.users {
			if match(&u) {
				found = &u
				return nil
			}
		}
		return common.ErrorNotFound
	})
	return found, err
}

func (r *userRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.ID == id })
}

func (r *userRepo) GetByLogin(_ context.Context, login string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return collides(u.Username, login) || collides(u.Email, login) })
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return collides(u.Email, email) })
}

func (r *userRepo) GetByPhone(_ context.Context, phone string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return collides(u.PhoneNumber, phone) })
}

func (r *userRepo) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	u, err := r.find(func(u *models.User) bool { return collides(u.Username, username) || collides(u.Email, email) })
	if err == common.ErrorNotFound {
		return false, nil
	}
	return u != nil, err
}

func (r *userRepo) update(id string, fn func(u *models.User)) error {
	return r.s.run(r.db, func(d *data) error {
		u, ok := d.users[id]
		if !ok {
			return common.ErrorNotFound
		}
		fn(&u)
		d.users[id] = u
		return nil
	})
}

func (r *userRepo) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(u *models.User) {
		u.LastLoginAt = &at
		u.UpdatedAt = at
	})
}

func (r *userRepo) SetEmailVerified(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(u *models.User) {
		u.IsEmailVerified = true
		u.UpdatedAt = at
	})
}

func (r *userRepo) SetActive(_ context.Context, id string, active bool, at time.Time) error {
	return r.update(id, func(u *models.User) {
		u.IsActive = active
		u.UpdatedAt = at
	})
}
