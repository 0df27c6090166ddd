package health

import (
	"context"
	"time"
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Service reports readiness of the API and its dependencies.
type Service struct {
	DB        Pinger
	Providers []string
}

// NewService constructs a new health service. db may be nil when running on
// in-memory repositories.
func NewService(db Pinger, providers []string) *Service {
	return &Service{DB: db, Providers: providers}
}

// Status is the health payload.
type Status struct {
	OK        bool     `json:"ok"`
	Database  string   `json:"database"`
	Providers []string `json:"providers"`
}

// Check pings the database and lists the providers with credentials.
func (s *Service) Check(ctx context.Context) Status {
	st := Status{OK: true, Database: "memory", Providers: s.Providers}
	if st.Providers == nil {
		st.Providers = []string{}
	}
	if s.DB == nil {
		return st
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.DB.PingContext(ctx); err != nil {
		st.OK = false
		st.Database = "unreachable"
		return st
	}
	st.Database = "ok"
	return st
}
