package service

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
	appErrors "github.com/reosmzreo0410-netizen/booking-system/pkg/errors"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deleted []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, pattern)
	for key := range c.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(c.entries, key)
		}
	}
	return nil
}

var slotNow = time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return time.Date(2026, 10, 20, hour, minute, 0, 0, time.UTC)
}

type slotFixture struct {
	users        *memoryUsers
	blocks       *memoryBlocks
	reservations *memoryReservations
	remote       *fakeRemoteCalendar
	cache        *memoryCache
	service      *SlotService
}

func newSlotFixture() *slotFixture {
	users := newMemoryUsers(
		models.User{ID: "admin-1", Email: "a1@example.com", Name: strRef("Hanako"), Role: models.RoleAdmin},
		models.User{ID: "admin-2", Email: "a2@example.com", Role: models.RoleAdmin},
	)
	f := &slotFixture{
		users:        users,
		blocks:       newMemoryBlocks(users),
		reservations: newMemoryReservations(users),
		remote:       newFakeRemoteCalendar(),
		cache:        newMemoryCache(),
	}
	cache := NewCacheService(f.cache, nil, time.Minute, nil, true)
	f.service = NewSlotService(f.blocks, f.reservations, f.remote, cache, fixedClock{now: slotNow}, SlotServiceConfig{SlotDuration: 30 * time.Minute}, nil)
	return f
}

func slotStarts(slots []models.Slot) []time.Time {
	out := make([]time.Time, len(slots))
	for i, s := range slots {
		out[i] = s.StartTime
	}
	return out
}

func TestSlotServiceSubdividesBlocks(t *testing.T) {
	f := newSlotFixture()
	f.blocks.add(models.AvailabilityBlock{AdminID: "admin-1", StartTime: at(10, 0), EndTime: at(11, 30)})
	f.blocks.add(models.AvailabilityBlock{AdminID: "admin-1", StartTime: at(13, 0), EndTime: at(14, 40)})
	f.blocks.add(models.AvailabilityBlock{AdminID: "admin-1", StartTime: at(16, 0), EndTime: at(16, 20)})

	slots, err := f.service.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(10, 0), at(10, 30), at(11, 0), at(13, 0), at(13, 30), at(14, 0)}, slotStarts(slots))
	for _, slot := range slots {
		assert.Equal(t, 30*time.Minute, slot.EndTime.Sub(slot.StartTime))
		assert.Equal(t, "Hanako", *slot.AdminName)
		assert.NotNil(t, slot.Reservations)
	}
}

func TestSlotServiceSkipsPastBlocks(t *testing.T) {
	f := newSlotFixture()
	f.blocks.add(models.AvailabilityBlock{AdminID: "admin-1", StartTime: slotNow.Add(-time.Hour), EndTime: slotNow.Add(time.Hour)})

	slots, err := f.service.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, slots)
	assert.Equal(t, 0, f.remote.busyCalls)
}

func TestSlotServiceRemovesSlotsOverlappingBusyTime(t *testing.T) {
	f := newSlotFixture()
	f.blocks.add(models.AvailabilityBlock{AdminID: "admin-1", StartTime: at(10, 0), EndTime: at(11, 0)})
	f.remote.busy["admin-1"] = []models.BusyInterval{{Start: at(10, 30), End: at(10, 45), RemoteID: "dentist"}}

	slots, err := f.service.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(10, 0)}, slotStarts(slots))
}

func TestSlotServiceIgnoresOwnMirroredEvents(t *testing.T) {
	f := newSlotFixture()
	block := f.blocks.add(models.AvailabilityBlock{AdminID: "admin-1", StartTime: at(10, 0), EndTime: at(11, 0)})
	reservation := &models.Reservation{
		BlockID:   &block.ID,
		AdminID:   "admin-1",
		Type:      models.ReservationGroup,
		Title:     "Guestのフィードバック会",
		Status:    models.ReservationConfirmed,
		StartTime: at(10, 0),
		EndTime:   at(10, 30),
	}
	require.NoError(t, f.reservations.Create(context.Background(), reservation, &models.Participant{GuestName: strRef("Guest")}))
	require.NoError(t, f.reservations.SetRemoteEventID(context.Background(), reservation.ID, strRef("mirrored")))
	f.remote.busy["admin-1"] = []models.BusyInterval{{Start: at(10, 0), End: at(10, 30), RemoteID: "mirrored"}}

	slots, err := f.service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, slots, 2)
	require.Len(t, slots[0].Reservations, 1)
	assert.Equal(t, reservation.ID, slots[0].Reservations[0].ID)
	assert.Equal(t, "Guest", slots[0].Reservations[0].Participants[0].Name)
	assert.Empty(t, slots[1].Reservations)
}

func TestSlotServiceWithholdsAdminWhenBusyLookupFails(t *testing.T) {
	f := newSlotFixture()
	f.blocks.add(models.AvailabilityBlock{AdminID: "admin-1", StartTime: at(10, 0), EndTime: at(11, 0)})
	f.blocks.add(models.AvailabilityBlock{AdminID: "admin-2", StartTime: at(12, 0), EndTime: at(12, 30)})
	f.remote.listErr["admin-1"] = errors.New("remote down")

	slots, err := f.service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "admin-2", slots[0].AdminID)
	assert.Nil(t, slots[0].AdminName)
}

func TestSlotServiceCachesBusyIntervals(t *testing.T) {
	f := newSlotFixture()
	f.blocks.add(models.AvailabilityBlock{AdminID: "admin-1", StartTime: at(10, 0), EndTime: at(11, 0)})
	f.remote.busy["admin-1"] = []models.BusyInterval{{Start: at(10, 30), End: at(11, 0)}}

	_, err := f.service.List(context.Background())
	require.NoError(t, err)
	slots, err := f.service.List(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.remote.busyCalls)
	assert.Len(t, slots, 1)
	assert.Contains(t, f.cache.entries, busyCacheKey("admin-1", at(10, 0), at(11, 0)))
}

func TestBusyIntervalBoundariesAreHalfOpen(t *testing.T) {
	busy := []models.BusyInterval{{Start: at(10, 30), End: at(11, 0)}}
	assert.False(t, overlapsBusy(busy, nil, at(10, 0), at(10, 30)))
	assert.False(t, overlapsBusy(busy, nil, at(11, 0), at(11, 30)))
	assert.True(t, overlapsBusy(busy, nil, at(10, 45), at(11, 15)))
}
