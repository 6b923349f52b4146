package backend_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/relabs-tech/popstats/core"
	"github.com/relabs-tech/popstats/core/accounts"
	"github.com/relabs-tech/popstats/core/datausa"
	"github.com/relabs-tech/popstats/core/population"
)

func init() {
	accounts.Cost = bcrypt.MinCost
}

const upstreamBody = `{
	"annotations": {"source_name": "Census Bureau", "dataset_name": "ACS PUMS 5-year Estimate"},
	"page": {"limit": 0, "offset": 0, "total": 3},
	"data": [
		{"Nation ID": "01000US", "Nation": "United States", "Year": 2022, "Total Population": 333287557},
		{"Nation ID": "01000US", "Nation": "United States", "Year": 2021, "Total Population": 329725481},
		{"Nation ID": "01000US", "Nation": "United States", "Year": 2020, "Total Population": 326569308}
	]
}`

// memPopulations is an in-memory PopulationStore
type memPopulations struct {
	mu      sync.Mutex
	records []population.Record
	err     error
}

func (m *memPopulations) Upsert(ctx context.Context, records []population.Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	for n := range records {
		r := records[n]
		found := false
		for i := range m.records {
			if m.records[i].IDNation == r.IDNation && m.records[i].Year == r.Year {
				r.ID, r.CreatedAt = m.records[i].ID, m.records[i].CreatedAt
				m.records[i] = r
				found = true
			}
		}
		if !found {
			r.ID = uuid.New()
			r.CreatedAt = r.FetchedAt
			m.records = append(m.records, r)
		}
		records[n].ID = r.ID
	}
	return len(records), nil
}

func (m *memPopulations) sorted() []population.Record {
	records := append([]population.Record{}, m.records...)
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Year != records[j].Year {
			return records[i].Year > records[j].Year
		}
		return records[i].IDNation < records[j].IDNation
	})
	return records
}

func (m *memPopulations) List(ctx context.Context, opts population.ListOptions) ([]population.Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	records := m.sorted()
	if opts.Order == "asc" {
		sort.SliceStable(records, func(i, j int) bool { return records[i].Year < records[j].Year })
	}
	from := opts.Offset()
	if from > len(records) {
		from = len(records)
	}
	to := from + opts.Limit
	if to > len(records) {
		to = len(records)
	}
	return records[from:to], len(m.records), nil
}

func (m *memPopulations) Range(ctx context.Context, startYear, endYear int) ([]population.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := []population.Record{}
	for _, r := range m.sorted() {
		if r.Year >= startYear && r.Year <= endYear {
			result = append(result, r)
		}
	}
	return result, m.err
}

func (m *memPopulations) All(ctx context.Context) ([]population.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.sorted(), nil
}

// memUsers is an in-memory UserStore
type memUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*accounts.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[uuid.UUID]*accounts.User{}}
}

func (m *memUsers) emailTaken(email string, except uuid.UUID) bool {
	for id, u := range m.users {
		if u.Email == email && id != except {
			return true
		}
	}
	return false
}

func (m *memUsers) Create(ctx context.Context, u *accounts.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = accounts.NormalizeEmail(u.Email)
	if m.emailTaken(u.Email, uuid.Nil) {
		return accounts.ErrEmailTaken
	}
	u.ID = uuid.New()
	if u.Role == "" {
		u.Role = accounts.RoleUser
	}
	u.IsActive = true
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	clone := *u
	m.users[u.ID] = &clone
	return nil
}

func (m *memUsers) ByEmail(ctx context.Context, email string) (*accounts.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = accounts.NormalizeEmail(email)
	for _, u := range m.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, accounts.ErrNotFound
}

func (m *memUsers) ByID(ctx context.Context, id uuid.UUID) (*accounts.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *memUsers) UpdateProfile(ctx context.Context, u *accounts.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.users[u.ID]
	if !ok {
		return accounts.ErrNotFound
	}
	if m.emailTaken(u.Email, u.ID) {
		return accounts.ErrEmailTaken
	}
	stored.Email, stored.FirstName, stored.LastName = u.Email, u.FirstName, u.LastName
	return nil
}

func (m *memUsers) SetPassword(ctx context.Context, id uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.users[id]
	if !ok {
		return accounts.ErrNotFound
	}
	stored.PasswordHash = hash
	return nil
}

func (m *memUsers) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.users[id]
	if !ok {
		return accounts.ErrNotFound
	}
	stored.LastLogin = &at
	return nil
}

func (m *memUsers) deactivate(email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			u.IsActive = false
		}
	}
}

// fakeUpstream serves a fixed body or error
type fakeUpstream struct {
	mu    sync.Mutex
	body  string
	err   error
	calls int
}

func (f *fakeUpstream) Fetch(ctx context.Context) (*datausa.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return datausa.Decode([]byte(f.body))
}

type event struct {
	name    string
	payload []byte
}

// recordingNotifier remembers all events
type recordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (n *recordingNotifier) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event{name: resource + "/" + string(operation), payload: payload})
	return nil
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	names := []string{}
	for _, e := range n.events {
		names = append(names, e.name)
	}
	return names
}
