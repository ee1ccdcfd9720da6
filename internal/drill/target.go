package drill

import (
	"context"

	"gymdesk/internal/attendance"
	"gymdesk/internal/client"
	"gymdesk/internal/membership"
)

// Target is the system under drill.
type Target interface {
	RegisterMember(ctx context.Context, name string) (code string, err error)
	CheckIn(ctx context.Context, code string) error
	CheckOut(ctx context.Context, code string) error
	// OpenSessions counts open sessions per member code.
	OpenSessions(ctx context.Context) (map[string]int, error)
}

// HTTPTarget drills a running server through the API client.
type HTTPTarget struct {
	Client *client.Client
}

func (t HTTPTarget) RegisterMember(ctx context.Context, name string) (string, error) {
	m, err := t.Client.RegisterMember(ctx, membership.Registration{Name: name})
	if err != nil {
		return "", err
	}
	return m.Code, nil
}

func (t HTTPTarget) CheckIn(ctx context.Context, code string) error {
	_, err := t.Client.CheckIn(ctx, code)
	return err
}

func (t HTTPTarget) CheckOut(ctx context.Context, code string) error {
	_, err := t.Client.CheckOut(ctx, code)
	return err
}

func (t HTTPTarget) OpenSessions(ctx context.Context) (map[string]int, error) {
	visits, err := t.Client.ListVisits(ctx, true)
	if err != nil {
		return nil, err
	}
	return countByCode(visits), nil
}

// ServiceTarget drills the services in process.
type ServiceTarget struct {
	Members    membership.Service
	Attendance attendance.Service
}

func (t ServiceTarget) RegisterMember(ctx context.Context, name string) (string, error) {
	m, err := t.Members.RegisterMember(ctx, membership.Registration{Name: name})
	if err != nil {
		return "", err
	}
	return m.Code, nil
}

func (t ServiceTarget) CheckIn(ctx context.Context, code string) error {
	_, err := t.Attendance.CheckIn(ctx, code)
	return err
}

func (t ServiceTarget) CheckOut(ctx context.Context, code string) error {
	_, err := t.Attendance.CheckOut(ctx, code)
	return err
}

func (t ServiceTarget) OpenSessions(ctx context.Context) (map[string]int, error) {
	visits, err := t.Attendance.ListVisits(ctx, attendance.VisitFilter{OpenOnly: true})
	if err != nil {
		return nil, err
	}
	return countByCode(visits), nil
}

func countByCode(visits []attendance.Visit) map[string]int {
	out := make(map[string]int, len(visits))
	for _, v := range visits {
		out[v.MemberCode]++
	}
	return out
}
