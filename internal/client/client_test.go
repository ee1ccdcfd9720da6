package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gymdesk/internal/apperr"
	"gymdesk/internal/attendance"
	"gymdesk/internal/client"
	"gymdesk/internal/clock"
	"gymdesk/internal/httpapi"
	"gymdesk/internal/membership"
	"gymdesk/internal/payments"
	"gymdesk/internal/plans"
	"gymdesk/internal/reporting"
	"gymdesk/internal/staff"
	"gymdesk/internal/store/memory"
)

func newServer(t *testing.T) (*httptest.Server, *clock.Manual) {
	t.Helper()
	st := memory.New()
	clk := clock.NewManual(time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC))
	logger := zap.NewNop()
	hash, salt, err := staff.HashPassword("letmein")
	require.NoError(t, err)
	tokens := staff.NewTokenManager("0123456789abcdef", 24*time.Hour, clk)

	srv := httptest.NewServer(httpapi.NewRouter(httpapi.Services{
		Members:    membership.NewService(st.Members(), clk, time.UTC, logger, nil),
		Attendance: attendance.NewService(st.Attendance(), clk, time.UTC, logger, nil),
		Plans:      plans.NewService(st, clk, logger),
		Payments:   payments.NewService(st, clk, logger),
		Reports: reporting.NewService(reporting.Sources{
			Sessions: st.Attendance(), Payments: st, Members: st.Members(), Events: st,
		}, clk, time.UTC, logger),
		Staff:  staff.NewService([]staff.Account{{Username: "desk", PasswordHash: hash, Salt: salt}}, tokens, 0, logger),
		Tokens: tokens,
	}, httpapi.Options{Health: st}))
	t.Cleanup(srv.Close)
	return srv, clk
}

func TestClientRoundTrip(t *testing.T) {
	srv, clk := newServer(t)
	ctx := context.Background()
	c := client.New(srv.URL, srv.Client())

	_, err := c.RegisterMember(ctx, membership.Registration{Name: "Ada"})
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = c.Login(ctx, "desk", "wrong")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	login, err := c.Login(ctx, "desk", "letmein")
	require.NoError(t, err)
	assert.NotEmpty(t, login.Token)

	m, err := c.RegisterMember(ctx, membership.Registration{Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "XF001", m.Code)

	next, err := c.NextCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "XF002", next)

	got, err := c.GetMemberByCode(ctx, "XF001")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	in, err := c.CheckIn(ctx, m.Code)
	require.NoError(t, err)
	assert.Equal(t, m.ID, in.MemberID)

	_, err = c.CheckIn(ctx, m.Code)
	assert.True(t, apperr.Is(err, apperr.KindAlreadyCheckedIn))

	open, err := c.ListVisits(ctx, true)
	require.NoError(t, err)
	require.Len(t, open, 1)

	clk.Advance(45 * time.Minute)
	out, err := c.CheckOut(ctx, m.Code)
	require.NoError(t, err)
	assert.Equal(t, attendance.Duration{Minutes: 45}, out.Duration)

	_, err = c.CheckOut(ctx, m.Code)
	assert.True(t, apperr.Is(err, apperr.KindNoOpenSession))

	sum, err := c.TodaySummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TotalVisits)
	assert.Zero(t, sum.CurrentlyCheckedIn)
}

func TestClientUnexpectedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := client.New(srv.URL, nil).CheckIn(context.Background(), "XF001")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnknown, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "502")
}
