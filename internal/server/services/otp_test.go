package services

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/dmitrijs2005/waterauth/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const phone = "+841234567890"

func TestClassifyTarget(t *testing.T) {
	tests := []struct {
		target  string
		want    targetKind
		wantErr bool
	}{
		{"+841234567890", targetPhone, false},
		{"0912345678", targetPhone, false},
		{"a@b.io", targetEmail, false},
		{"", 0, true},
		{"alice", 0, true},
		{"a@b", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			got, err := classifyTarget(tt.target)
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrorValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateOtpCode_SixDigits(t *testing.T) {
	re := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 50; i++ {
		code, err := generateOtpCode()
		require.NoError(t, err)
		assert.Regexp(t, re, code)
	}
}

func TestGenerate_StoresRecordByTargetKind(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.otps.newCode = func() (string, error) { return "000123", nil }

	code, err := e.otps.Generate(ctx, "bob@example.com", models.OtpPurposeEmailVerification, "u1")
	require.NoError(t, err)
	assert.Equal(t, "000123", code)

	rec, err := e.store.Otps(e.store.Conn()).FindLatest(ctx, "bob@example.com", models.OtpPurposeEmailVerification)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", rec.Email)
	assert.Empty(t, rec.PhoneNumber)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, 0, rec.AttemptCount)
	assert.False(t, rec.IsUsed)
	assert.Equal(t, e.clock.now().Add(OtpExpiry), rec.ExpiresAt)
}

func TestGenerate_InvalidTarget(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.otps.Generate(context.Background(), "not a target", models.OtpPurposeLogin, "")
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestGenerate_CooldownThenSupersede(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	first, err := e.otps.Generate(ctx, phone, models.OtpPurposeLogin, "")
	require.NoError(t, err)

	e.clock.advance(30 * time.Second)
	_, err = e.otps.Generate(ctx, phone, models.OtpPurposeLogin, "")
	require.ErrorIs(t, err, common.ErrRateLimited)
	var rl *common.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 31*time.Second, rl.RetryAfter)

	e.clock.advance(31 * time.Second)
	second, err := e.otps.Generate(ctx, phone, models.OtpPurposeLogin, "")
	require.NoError(t, err)

	if first != second {
		ok, err := e.otps.Validate(ctx, phone, models.OtpPurposeLogin, first)
		require.NoError(t, err)
		assert.False(t, ok, "superseded code must not validate")
	}

	ok, err := e.otps.Validate(ctx, phone, models.OtpPurposeLogin, second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGenerate_PurposesAreIndependent(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	_, err := e.otps.Generate(ctx, phone, models.OtpPurposeLogin, "")
	require.NoError(t, err)
	_, err = e.otps.Generate(ctx, phone, models.OtpPurposeRegister, "")
	require.NoError(t, err)
}

func TestValidate_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	code, err := e.otps.Generate(ctx, phone, models.OtpPurposeRegister, "")
	require.NoError(t, err)

	ok, err := e.otps.Validate(ctx, phone, models.OtpPurposeRegister, code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.otps.Validate(ctx, phone, models.OtpPurposeRegister, code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidate_ExhaustedAfterThreeFailures(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.otps.newCode = func() (string, error) { return "111111", nil }

	_, err := e.otps.Generate(ctx, phone, models.OtpPurposeLogin, "")
	require.NoError(t, err)

	for i := 0; i < MaxOtpAttempts; i++ {
		ok, err := e.otps.Validate(ctx, phone, models.OtpPurposeLogin, "999999")
		require.NoError(t, err)
		assert.False(t, ok)
	}

	rec, err := e.store.Otps(e.store.Conn()).FindLatest(ctx, phone, models.OtpPurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, MaxOtpAttempts, rec.AttemptCount)
	assert.False(t, rec.IsUsed)

	ok, err := e.otps.Validate(ctx, phone, models.OtpPurposeLogin, "111111")
	require.NoError(t, err)
	assert.False(t, ok, "fourth attempt fails even with the right code")

	rec, err = e.store.Otps(e.store.Conn()).FindLatest(ctx, phone, models.OtpPurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, MaxOtpAttempts+1, rec.AttemptCount)
	assert.True(t, rec.IsUsed)
}

func TestValidate_ExpiredCodeIsNotTouched(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	code, err := e.otps.Generate(ctx, phone, models.OtpPurposeLogin, "")
	require.NoError(t, err)

	e.clock.advance(OtpExpiry + time.Second)
	ok, err := e.otps.Validate(ctx, phone, models.OtpPurposeLogin, code)
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := e.store.Otps(e.store.Conn()).FindLatest(ctx, phone, models.OtpPurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.AttemptCount)
}

func TestValidate_NoRecord(t *testing.T) {
	e := newTestEnv(t)
	ok, err := e.otps.Validate(context.Background(), phone, models.OtpPurposeLogin, "123456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanSendAndRemainingCooldown(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	can, err := e.otps.CanSend(ctx, phone, models.OtpPurposeLogin)
	require.NoError(t, err)
	assert.True(t, can)
	left, err := e.otps.RemainingCooldownSeconds(ctx, phone, models.OtpPurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	_, err = e.otps.Generate(ctx, phone, models.OtpPurposeLogin, "")
	require.NoError(t, err)

	left, _ = e.otps.RemainingCooldownSeconds(ctx, phone, models.OtpPurposeLogin)
	assert.Equal(t, 60, left)

	e.clock.advance(20*time.Second + 500*time.Millisecond)
	left, _ = e.otps.RemainingCooldownSeconds(ctx, phone, models.OtpPurposeLogin)
	assert.Equal(t, 39, left)

	e.clock.advance(39*time.Second + 500*time.Millisecond)
	can, _ = e.otps.CanSend(ctx, phone, models.OtpPurposeLogin)
	assert.False(t, can, "cooldown end itself is still blocked")
	left, _ = e.otps.RemainingCooldownSeconds(ctx, phone, models.OtpPurposeLogin)
	assert.Equal(t, 0, left)

	e.clock.advance(time.Nanosecond)
	can, _ = e.otps.CanSend(ctx, phone, models.OtpPurposeLogin)
	assert.True(t, can)
}

func TestGenerate_ConcurrentRequestsIssueOneCode(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		limited int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.otps.Generate(ctx, phone, models.OtpPurposeLogin, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, common.ErrRateLimited):
				limited++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, n-1, limited)
}
