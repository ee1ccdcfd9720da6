package membership

import (
	"context"

	"gymdesk/internal/eventstore"
)

// Service defines the member registry and identity allocation operations.
type Service interface {
	AllocateNextCode(ctx context.Context) (string, error)
	RegisterMember(ctx context.Context, reg Registration) (*Member, error)
	GetMember(ctx context.Context, id int64) (*Member, error)
	GetMemberByCode(ctx context.Context, code string) (*Member, error)
	ListMembers(ctx context.Context) ([]*Member, error)
	UpdateMember(ctx context.Context, id int64, upd Update) (*Member, error)
	DeleteMember(ctx context.Context, id int64) error
	History(ctx context.Context, id int64) ([]eventstore.Event, error)
}
