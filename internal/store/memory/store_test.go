package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gymdesk/internal/apperr"
	"gymdesk/internal/attendance"
	"gymdesk/internal/clock"
	"gymdesk/internal/membership"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func insertMember(t *testing.T, s *Store, code string) *membership.Member {
	t.Helper()
	m := &membership.Member{Code: code, Name: code, Status: membership.StatusActive, JoinDate: t0}
	err := s.Members().WithinTx(context.Background(), func(ctx context.Context, tx membership.Tx) error {
		return tx.InsertMember(ctx, m)
	})
	require.NoError(t, err)
	return m
}

func TestRollbackDiscardsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	m := insertMember(t, s, "XF001")

	boom := errors.New("boom")
	err := s.Attendance().WithinTx(ctx, func(ctx context.Context, tx attendance.Tx) error {
		if err := tx.InsertSession(ctx, &attendance.Session{MemberID: m.ID, CheckIn: t0}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	open, err := s.Attendance().CountOpen(ctx)
	require.NoError(t, err)
	assert.Zero(t, open)

	var id int64
	err = s.Attendance().WithinTx(ctx, func(ctx context.Context, tx attendance.Tx) error {
		sess := &attendance.Session{MemberID: m.ID, CheckIn: t0}
		err := tx.InsertSession(ctx, sess)
		id = sess.ID
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id, "a rolled back insert does not consume an id")
}

func TestSecondOpenSessionRejected(t *testing.T) {
	s := New()
	ctx := context.Background()
	m := insertMember(t, s, "XF001")

	err := s.Attendance().WithinTx(ctx, func(ctx context.Context, tx attendance.Tx) error {
		if err := tx.InsertSession(ctx, &attendance.Session{MemberID: m.ID, CheckIn: t0}); err != nil {
			return err
		}
		return tx.InsertSession(ctx, &attendance.Session{MemberID: m.ID, CheckIn: t0.Add(time.Minute)})
	})
	assert.True(t, apperr.Is(err, apperr.KindAlreadyCheckedIn))
}

func TestMaxCodeOrdersNumerically(t *testing.T) {
	s := New()
	insertMember(t, s, "XF999")
	insertMember(t, s, "XF1000")
	insertMember(t, s, "XF010")

	code, err := s.Members().MaxCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "XF1000", code)
}

func TestMaxCodeSkipsMalformedCodes(t *testing.T) {
	s := New()
	insertMember(t, s, "XF-LEGACY-00042")
	insertMember(t, s, "XF000123")
	insertMember(t, s, "XF007")

	code, err := s.Members().MaxCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "XF000123", code)

	only := New()
	insertMember(t, only, "legacy-7")
	code, err = only.Members().MaxCode(context.Background())
	require.NoError(t, err)
	assert.Empty(t, code)
}

func TestFaultAbortsTransaction(t *testing.T) {
	s := New()
	s.SetFault(func(op string) error {
		if op == "InsertMember" {
			return errors.New("disk full")
		}
		return nil
	})
	err := s.Members().WithinTx(context.Background(), func(ctx context.Context, tx membership.Tx) error {
		return tx.InsertMember(ctx, &membership.Member{Code: "XF001", Name: "x"})
	})
	assert.True(t, apperr.Is(err, apperr.KindStorageUnavailable))

	members, err := s.Members().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestLegacyCodeDoesNotStallRegistration(t *testing.T) {
	s := New()
	insertMember(t, s, "XF-LEGACY-00042")
	svc := membership.NewService(s.Members(), clock.NewManual(t0), time.UTC, zap.NewNop(), nil)
	ctx := context.Background()

	for _, want := range []string{"XF001", "XF002", "XF003"} {
		m, err := svc.RegisterMember(ctx, membership.Registration{Name: want})
		require.NoError(t, err)
		assert.Equal(t, want, m.Code)
	}
}
