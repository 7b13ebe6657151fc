package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/dmitrijs2005/waterauth/internal/dbx"
	"github.com/dmitrijs2005/waterauth/internal/server/models"
)

type otpRepo struct {
	s  *Store
	db dbx.DBTX
}

func matches(o *models.OtpVerification, target string, purpose models.OtpPurpose) bool {
	return o.Purpose == purpose && (o.PhoneNumber == target || o.Email == target)
}

// Lock is a no-op: transactions already hold the store lock.
func (r *otpRepo) Lock(context.Context, string, models.OtpPurpose) error {
	return nil
}

func (r *otpRepo) Create(_ context.Context, otp *models.OtpVerification) error {
	return r.s.run(r.db, func(d *data) error {
		d.otps = append(d.otps, *otp)
		return nil
	})
}

// latest picks the newest matching record; later inserts win ties.
func (r *otpRepo) latest(target string, purpose models.OtpPurpose, ok func(o *models.OtpVerification) bool) (*models.OtpVerification, error) {
	var found *models.OtpVerification
	err := r.s.run(r.db, func(d *data) error {
		for i := range d.otps {
			o := d.otps[i]
			if !matches(&o, target, purpose) || !ok(&o) {
				continue
			}
			if found == nil || !o.CreatedAt.Before(found.CreatedAt) {
				found = &o
			}
		}
		if found == nil {
			return common.ErrorNotFound
		}
		return nil
	})
	return found, err
}

func (r *otpRepo) FindLatest(_ context.Context, target string, purpose models.OtpPurpose) (*models.OtpVerification, error) {
	return r.latest(target, purpose, func(*models.OtpVerification) bool { return true })
}

func (r *otpRepo) FindLatestLive(_ context.Context, target string, purpose models.OtpPurpose, now time.Time) (*models.OtpVerification, error) {
	return r.latest(target, purpose, func(o *models.OtpVerification) bool { return o.IsLive(now) })
}

func (r *otpRepo) InvalidateUnused(_ context.Context, target string, purpose models.OtpPurpose) (int64, error) {
	var n int64
	err := r.s.run(r.db, func(d *data) error {
		for i := range d.otps {
			if matches(&d.otps[i], target, purpose) && !d.otps[i].IsUsed {
				d.otps[i].IsUsed = true
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *otpRepo) Update(_ context.Context, otp *models.OtpVerification) error {
	return r.s.run(r.db, func(d *data) error {
		for i := range d.otps {
			if d.otps[i].ID == otp.ID {
				d.otps[i].IsUsed = otp.IsUsed
				d.otps[i].AttemptCount = otp.AttemptCount
				return nil
			}
		}
		return common.ErrorNotFound
	})
}

func (r *otpRepo) ListExpired(_ context.Context, before time.Time, limit int) ([]models.OtpVerification, error) {
	var result []models.OtpVerification
	err := r.s.run(r.db, func(d *data) error {
		for _, o := range d.otps {
			if o.ExpiresAt.Before(before) {
				result = append(result, o)
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, err
}

func (r *otpRepo) Delete(_ context.Context, id string) error {
	return r.s.run(r.db, func(d *data) error {
		for i := range d.otps {
			if d.otps[i].ID == id {
				d.otps = append(d.otps[:i], d.otps[i+1:]...)
				return nil
			}
		}
		return nil
	})
}
