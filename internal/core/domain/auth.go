package domain

import "time"

type ClientID string

type ClientRole string

const (
	RoleOperator ClientRole = "operator"
	RoleConsumer ClientRole = "consumer"
)

// APIClient is an authenticated caller of the relay's control surface.
type APIClient struct {
	ID       ClientID
	Name     string
	Role     ClientRole
	IssuedAt time.Time
}
