package memstore

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/ticketflow/internal/ticket"
)

// Seed is the YAML document loaded into an in-memory store at startup so a
// dev instance has users to assign and tickets to triage.
type Seed struct {
	Users   []ticket.User   `yaml:"users"`
	Tickets []ticket.Ticket `yaml:"tickets"`
}

// LoadSeedFile reads a seed document from path into s.
func (s *Store) LoadSeedFile(path string) (*Seed, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return s.LoadSeed(f)
}

// LoadSeed decodes a seed document and stores its users and tickets.
// Missing IDs are generated, missing statuses default to open, and missing
// timestamps keep document order.
func (s *Store) LoadSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	base := s.now()
	for i := range seed.Users {
		u := &seed.Users[i]
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if u.Role == "" {
			u.Role = ticket.RoleUser
		}
		if !u.Role.Valid() {
			return nil, fmt.Errorf("seed user %s: invalid role %q", u.ID, u.Role)
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		}
		s.PutUser(u)
	}

	for i := range seed.Tickets {
		t := &seed.Tickets[i]
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.Status == "" {
			t.Status = ticket.StatusOpen
		}
		if !t.Status.Valid() {
			return nil, fmt.Errorf("seed ticket %s: invalid status %q", t.ID, t.Status)
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = base
		}
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = t.CreatedAt
		}
		s.PutTicket(t)
	}

	return &seed, nil
}
