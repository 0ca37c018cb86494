package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/jobs"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func strRef(v string) *string { return &v }

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemoryUsers(users ...models.User) *memoryUsers {
	m := &memoryUsers{users: make(map[string]*models.User)}
	for i := range users {
		u := users[i]
		m.users[u.ID] = &u
	}
	return m
}

func (m *memoryUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *u
	return &copied, nil
}

func (m *memoryUsers) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.User{}
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *memoryUsers) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.Role = role
	return nil
}

type memoryBlocks struct {
	mu     sync.Mutex
	seq    int
	blocks map[string]*models.AvailabilityBlock
	users  *memoryUsers
}

func newMemoryBlocks(users *memoryUsers) *memoryBlocks {
	return &memoryBlocks{blocks: make(map[string]*models.AvailabilityBlock), users: users}
}

func (m *memoryBlocks) add(block models.AvailabilityBlock) *models.AvailabilityBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	if block.ID == "" {
		m.seq++
		block.ID = fmt.Sprintf("block-%d", m.seq)
	}
	m.blocks[block.ID] = &block
	return &block
}

func (m *memoryBlocks) FindByID(ctx context.Context, id string) (*models.AvailabilityBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *b
	return &copied, nil
}

func (m *memoryBlocks) ListRemoteIDsByAdmin(ctx context.Context, adminID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []string{}
	for _, b := range m.blocks {
		if b.AdminID == adminID && b.RemoteEventID != nil {
			ids = append(ids, *b.RemoteEventID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memoryBlocks) Upsert(ctx context.Context, block *models.AvailabilityBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.blocks {
		if existing.AdminID == block.AdminID && existing.RemoteEventID != nil && block.RemoteEventID != nil && *existing.RemoteEventID == *block.RemoteEventID {
			existing.Title = block.Title
			existing.StartTime = block.StartTime
			existing.EndTime = block.EndTime
			block.ID = existing.ID
			return nil
		}
	}
	m.seq++
	block.ID = fmt.Sprintf("block-%d", m.seq)
	copied := *block
	m.blocks[block.ID] = &copied
	return nil
}

func (m *memoryBlocks) DeleteByRemoteIDs(ctx context.Context, adminID string, remoteIDs []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, b := range m.blocks {
		if b.AdminID != adminID || b.RemoteEventID == nil {
			continue
		}
		for _, remoteID := range remoteIDs {
			if *b.RemoteEventID == remoteID {
				delete(m.blocks, id)
				removed++
				break
			}
		}
	}
	return removed, nil
}

func (m *memoryBlocks) ListUpcoming(ctx context.Context, from time.Time) ([]models.BlockWithAdmin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.BlockWithAdmin{}
	for _, b := range m.blocks {
		if b.StartTime.Before(from) {
			continue
		}
		item := models.BlockWithAdmin{AvailabilityBlock: *b}
		if m.users != nil {
			if u, err := m.users.FindByID(ctx, b.AdminID); err == nil {
				item.AdminName = u.Name
				item.AdminEmail = u.Email
			}
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

type memoryReservations struct {
	mu           sync.Mutex
	seq          int
	users        *memoryUsers
	reservations map[string]*models.Reservation
	participants []*models.Participant
	// addErr forces AddParticipant to fail once.
	addErr error
}

func newMemoryReservations(users *memoryUsers) *memoryReservations {
	return &memoryReservations{users: users, reservations: make(map[string]*models.Reservation)}
}

func (m *memoryReservations) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memoryReservations) Create(ctx context.Context, reservation *models.Reservation, first *models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reservation.ID = m.nextID("res")
	first.ID = m.nextID("part")
	first.ReservationID = reservation.ID
	stored := *reservation
	stored.Participants = nil
	m.reservations[reservation.ID] = &stored
	p := *first
	m.participants = append(m.participants, &p)
	return nil
}

func (m *memoryReservations) FindByID(ctx context.Context, id string) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *r
	return &copied, nil
}

func (m *memoryReservations) ListParticipants(ctx context.Context, reservationIDs []string) ([]models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Participant{}
	for _, p := range m.participants {
		for _, id := range reservationIDs {
			if p.ReservationID != id {
				continue
			}
			copied := *p
			if copied.UserID != nil && m.users != nil {
				if u, err := m.users.FindByID(ctx, *copied.UserID); err == nil {
					copied.UserName = u.Name
					copied.UserEmail = &u.Email
				}
			}
			out = append(out, copied)
		}
	}
	return out, nil
}

func (m *memoryReservations) IsParticipant(ctx context.Context, reservationID string, identity models.Identity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasParticipant(reservationID, identity), nil
}

func (m *memoryReservations) hasParticipant(reservationID string, identity models.Identity) bool {
	for _, p := range m.participants {
		if p.ReservationID != reservationID {
			continue
		}
		if identity.IsUser() && p.UserID != nil && *p.UserID == *identity.UserID {
			return true
		}
		if !identity.IsUser() && identity.GuestEmail != "" && p.GuestEmail != nil && strings.EqualFold(*p.GuestEmail, identity.GuestEmail) {
			return true
		}
	}
	return false
}

func (m *memoryReservations) AddParticipant(ctx context.Context, participant *models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		err := m.addErr
		m.addErr = nil
		return err
	}
	identity := models.Identity{UserID: participant.UserID}
	if participant.GuestEmail != nil {
		identity.GuestEmail = *participant.GuestEmail
	}
	if m.hasParticipant(participant.ReservationID, identity) {
		return &pq.Error{Code: "23505"}
	}
	participant.ID = m.nextID("part")
	copied := *participant
	m.participants = append(m.participants, &copied)
	return nil
}

func (m *memoryReservations) UpdateStatus(ctx context.Context, id string, status models.ReservationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return sql.ErrNoRows
	}
	r.Status = status
	return nil
}

func (m *memoryReservations) List(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Reservation{}
	for _, r := range m.reservations {
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		if filter.From != nil && r.StartTime.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !r.StartTime.Before(*filter.To) {
			continue
		}
		if filter.UserID != nil {
			mine := r.CreatorID != nil && *r.CreatorID == *filter.UserID
			if !mine {
				mine = m.hasParticipant(r.ID, models.UserIdentity(*filter.UserID))
			}
			if !mine {
				continue
			}
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memoryReservations) ListConfirmedInWindow(ctx context.Context, adminIDs []string, from, to time.Time) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Reservation{}
	for _, r := range m.reservations {
		if r.Status != models.ReservationConfirmed || !r.StartTime.Before(to) || !r.EndTime.After(from) {
			continue
		}
		for _, adminID := range adminIDs {
			if r.AdminID == adminID {
				out = append(out, *r)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memoryReservations) SetRemoteEventID(ctx context.Context, id string, remoteEventID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return sql.ErrNoRows
	}
	r.RemoteEventID = remoteEventID
	return nil
}

func (m *memoryReservations) SetParticipantRemoteEventID(ctx context.Context, participantID string, remoteEventID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p.ID == participantID {
			p.RemoteEventID = remoteEventID
			return nil
		}
	}
	return sql.ErrNoRows
}

type remoteCall struct {
	Op      string
	UserID  string
	EventID string
	Input   models.EventInput
	Patch   models.EventPatch
}

// fakeRemoteCalendar stands in for the calendar gateway. Events created through it show up
// as busy intervals of the owning user.
type fakeRemoteCalendar struct {
	mu        sync.Mutex
	seq       int
	tagged    map[string][]models.RemoteEvent
	busy      map[string][]models.BusyInterval
	calls     []remoteCall
	listErr   map[string]error
	createErr error
	updateErr error
	deleteErr error
	busyCalls int
}

func newFakeRemoteCalendar() *fakeRemoteCalendar {
	return &fakeRemoteCalendar{
		tagged:  make(map[string][]models.RemoteEvent),
		busy:    make(map[string][]models.BusyInterval),
		listErr: make(map[string]error),
	}
}

func (f *fakeRemoteCalendar) ListTaggedEvents(ctx context.Context, adminID string, from, to time.Time) ([]models.RemoteEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[adminID]; err != nil {
		return nil, err
	}
	return append([]models.RemoteEvent(nil), f.tagged[adminID]...), nil
}

func (f *fakeRemoteCalendar) ListBusyIntervals(ctx context.Context, adminID string, from, to time.Time) ([]models.BusyInterval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busyCalls++
	if err := f.listErr[adminID]; err != nil {
		return nil, err
	}
	return append([]models.BusyInterval{}, f.busy[adminID]...), nil
}

func (f *fakeRemoteCalendar) CreateEvent(ctx context.Context, userID string, input models.EventInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, remoteCall{Op: "create", UserID: userID, Input: input})
	if f.createErr != nil {
		return "", f.createErr
	}
	f.seq++
	id := fmt.Sprintf("evt-%d", f.seq)
	f.busy[userID] = append(f.busy[userID], models.BusyInterval{Start: input.Start, End: input.End, RemoteID: id})
	return id, nil
}

func (f *fakeRemoteCalendar) UpdateEvent(ctx context.Context, userID, remoteEventID string, patch models.EventPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, remoteCall{Op: "update", UserID: userID, EventID: remoteEventID, Patch: patch})
	return f.updateErr
}

func (f *fakeRemoteCalendar) DeleteEvent(ctx context.Context, userID, remoteEventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, remoteCall{Op: "delete", UserID: userID, EventID: remoteEventID})
	if f.deleteErr != nil {
		return f.deleteErr
	}
	kept := f.busy[userID][:0]
	for _, b := range f.busy[userID] {
		if b.RemoteID != remoteEventID {
			kept = append(kept, b)
		}
	}
	f.busy[userID] = kept
	return nil
}

func (f *fakeRemoteCalendar) callsOf(op string) []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []remoteCall{}
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

type recordingDispatcher struct {
	jobs []jobs.Job
	err  error
}

func (d *recordingDispatcher) Enqueue(job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

// inlineDispatcher runs mirror jobs synchronously.
type inlineDispatcher struct {
	handler jobs.Handler
	errs    []error
}

func (d *inlineDispatcher) Enqueue(job jobs.Job) error {
	if err := d.handler(context.Background(), job); err != nil {
		d.errs = append(d.errs, err)
	}
	return nil
}
