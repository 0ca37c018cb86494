package service

import (
	"context"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reosmzreo0410-netizen/booking-system/internal/dto"
	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
	appErrors "github.com/reosmzreo0410-netizen/booking-system/pkg/errors"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/middleware/requestid"
)

type reservationFixture struct {
	users        *memoryUsers
	blocks       *memoryBlocks
	reservations *memoryReservations
	dispatcher   *recordingDispatcher
	service      *ReservationService
	block        *models.AvailabilityBlock
}

func newReservationFixture() *reservationFixture {
	users := newMemoryUsers(
		models.User{ID: "admin-1", Email: "admin@example.com", Name: strRef("Sensei"), Role: models.RoleAdmin},
		models.User{ID: "member-1", Email: "taro@example.com", Name: strRef("Taro"), Role: models.RoleMember},
		models.User{ID: "member-2", Email: "jiro@example.com", Role: models.RoleMember},
	)
	f := &reservationFixture{
		users:        users,
		blocks:       newMemoryBlocks(users),
		reservations: newMemoryReservations(users),
		dispatcher:   &recordingDispatcher{},
	}
	f.block = f.blocks.add(models.AvailabilityBlock{AdminID: "admin-1", RemoteEventID: strRef("e1"), StartTime: at(10, 0), EndTime: at(12, 0)})
	f.service = NewReservationService(f.blocks, f.users, f.reservations, f.dispatcher, nil, nil, nil)
	return f
}

func (f *reservationFixture) request(kind models.ReservationType) dto.CreateReservationRequest {
	return dto.CreateReservationRequest{BlockID: f.block.ID, StartTime: at(10, 0), EndTime: at(10, 30), Type: kind}
}

func TestCreateReservationForUser(t *testing.T) {
	f := newReservationFixture()
	req := f.request(models.ReservationOneOnOne)
	req.Agenda = strRef("  career  ")
	req.GuestName = "ignored"

	res, err := f.service.Create(context.Background(), req, models.UserIdentity("member-1"))
	require.NoError(t, err)
	assert.Equal(t, "admin-1", res.AdminID)
	assert.Equal(t, models.ReservationConfirmed, res.Status)
	assert.Equal(t, "Taroとの1on1", res.Title)
	assert.Equal(t, "career", *res.Agenda)
	assert.Equal(t, "member-1", *res.CreatorID)
	assert.Nil(t, res.GuestName)
	require.Len(t, res.Participants, 1)
	assert.Equal(t, "member-1", *res.Participants[0].UserID)

	require.Len(t, f.dispatcher.jobs, 1)
	assert.Equal(t, JobMirrorCreate, f.dispatcher.jobs[0].Type)
	assert.Equal(t, MirrorPayload{ReservationID: res.ID, ParticipantID: res.Participants[0].ID}, f.dispatcher.jobs[0].Payload)
}

func TestDispatchCarriesRequestID(t *testing.T) {
	f := newReservationFixture()
	ctx := requestid.WithValue(context.Background(), "req-42")

	res, err := f.service.Create(ctx, f.request(models.ReservationGroup), models.UserIdentity("member-1"))
	require.NoError(t, err)
	require.NoError(t, f.service.Join(ctx, res.ID, models.GuestIdentity("Hanako", "hanako@example.com")))

	require.Len(t, f.dispatcher.jobs, 2)
	for _, job := range f.dispatcher.jobs {
		assert.Equal(t, "req-42", job.Payload.(MirrorPayload).RequestID)
	}
}

func TestCreateReservationForGuestUsesGroupTitle(t *testing.T) {
	f := newReservationFixture()
	res, err := f.service.Create(context.Background(), f.request(models.ReservationGroup), models.GuestIdentity(" Hanako ", "hanako@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "Hanakoのフィードバック会", res.Title)
	assert.Nil(t, res.CreatorID)
	assert.Equal(t, "Hanako", *res.GuestName)
	assert.Equal(t, "hanako@example.com", *res.GuestEmail)
}

func TestCreateReservationKeepsExplicitTitle(t *testing.T) {
	f := newReservationFixture()
	req := f.request(models.ReservationOneOnOne)
	req.Title = strRef("Quarterly review")
	res, err := f.service.Create(context.Background(), req, models.UserIdentity("member-2"))
	require.NoError(t, err)
	assert.Equal(t, "Quarterly review", res.Title)
}

func TestCreateReservationValidation(t *testing.T) {
	f := newReservationFixture()
	ctx := context.Background()

	missing := f.request(models.ReservationOneOnOne)
	missing.BlockID = ""
	_, err := f.service.Create(ctx, missing, models.UserIdentity("member-1"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	badType := f.request("PANEL")
	_, err = f.service.Create(ctx, badType, models.UserIdentity("member-1"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	inverted := f.request(models.ReservationOneOnOne)
	inverted.EndTime = inverted.StartTime
	_, err = f.service.Create(ctx, inverted, models.UserIdentity("member-1"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.service.Create(ctx, f.request(models.ReservationOneOnOne), models.GuestIdentity("   ", "x@example.com"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	unknown := f.request(models.ReservationOneOnOne)
	unknown.BlockID = "missing"
	_, err = f.service.Create(ctx, unknown, models.UserIdentity("member-1"))
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	assert.Empty(t, f.dispatcher.jobs)
	assert.Empty(t, f.reservations.reservations)
}

func TestCreateReservationSurvivesDispatchFailure(t *testing.T) {
	f := newReservationFixture()
	f.dispatcher.err = errors.New("queue full")
	res, err := f.service.Create(context.Background(), f.request(models.ReservationOneOnOne), models.UserIdentity("member-1"))
	require.NoError(t, err)
	assert.Contains(t, f.reservations.reservations, res.ID)
}

func TestJoinReservation(t *testing.T) {
	f := newReservationFixture()
	ctx := context.Background()
	group, err := f.service.Create(ctx, f.request(models.ReservationGroup), models.UserIdentity("member-1"))
	require.NoError(t, err)

	require.NoError(t, f.service.Join(ctx, group.ID, models.GuestIdentity("Guest", "guest@example.com")))
	assert.ErrorIs(t, f.service.Join(ctx, group.ID, models.GuestIdentity("Guest again", "GUEST@example.com")), appErrors.ErrAlreadyJoined)
	assert.ErrorIs(t, f.service.Join(ctx, group.ID, models.UserIdentity("member-1")), appErrors.ErrAlreadyJoined)
	require.NoError(t, f.service.Join(ctx, group.ID, models.UserIdentity("member-2")))

	participants, _ := f.reservations.ListParticipants(ctx, []string{group.ID})
	assert.Len(t, participants, 3)
	require.Len(t, f.dispatcher.jobs, 3)
	assert.Equal(t, JobMirrorJoin, f.dispatcher.jobs[1].Type)
}

func TestJoinReservationRejections(t *testing.T) {
	f := newReservationFixture()
	ctx := context.Background()

	assert.ErrorIs(t, f.service.Join(ctx, "missing", models.UserIdentity("member-2")), appErrors.ErrNotFound)

	single, err := f.service.Create(ctx, f.request(models.ReservationOneOnOne), models.UserIdentity("member-1"))
	require.NoError(t, err)
	assert.ErrorIs(t, f.service.Join(ctx, single.ID, models.UserIdentity("member-2")), appErrors.ErrTypeNotJoinable)

	group, err := f.service.Create(ctx, f.request(models.ReservationGroup), models.UserIdentity("member-1"))
	require.NoError(t, err)
	assert.ErrorIs(t, f.service.Join(ctx, group.ID, models.GuestIdentity("", "")), appErrors.ErrValidation)

	require.NoError(t, f.service.Cancel(ctx, group.ID, models.UserIdentity("member-1")))
	assert.ErrorIs(t, f.service.Join(ctx, group.ID, models.UserIdentity("member-2")), appErrors.ErrInvalidState)
}

func TestJoinReservationMapsUniqueViolation(t *testing.T) {
	f := newReservationFixture()
	ctx := context.Background()
	group, err := f.service.Create(ctx, f.request(models.ReservationGroup), models.UserIdentity("member-1"))
	require.NoError(t, err)

	f.reservations.addErr = &pq.Error{Code: "23505"}
	assert.ErrorIs(t, f.service.Join(ctx, group.ID, models.UserIdentity("member-2")), appErrors.ErrAlreadyJoined)

	f.reservations.addErr = errors.New("connection reset")
	assert.ErrorIs(t, f.service.Join(ctx, group.ID, models.UserIdentity("member-2")), appErrors.ErrInternal)
}

func TestCancelReservationPermissions(t *testing.T) {
	f := newReservationFixture()
	ctx := context.Background()
	group, err := f.service.Create(ctx, f.request(models.ReservationGroup), models.GuestIdentity("Creator", "creator@example.com"))
	require.NoError(t, err)
	require.NoError(t, f.service.Join(ctx, group.ID, models.UserIdentity("member-1")))

	assert.ErrorIs(t, f.service.Cancel(ctx, group.ID, models.UserIdentity("member-2")), appErrors.ErrForbidden)
	assert.ErrorIs(t, f.service.Cancel(ctx, group.ID, models.GuestIdentity("Creator", "")), appErrors.ErrForbidden)
	assert.ErrorIs(t, f.service.Cancel(ctx, "missing", models.UserIdentity("member-1")), appErrors.ErrNotFound)

	require.NoError(t, f.service.Cancel(ctx, group.ID, models.GuestIdentity("", "CREATOR@example.com")))
	stored, _ := f.reservations.FindByID(ctx, group.ID)
	assert.Equal(t, models.ReservationCancelled, stored.Status)

	other, err := f.service.Create(ctx, f.request(models.ReservationOneOnOne), models.UserIdentity("member-2"))
	require.NoError(t, err)
	require.NoError(t, f.service.Cancel(ctx, other.ID, models.UserIdentity("admin-1")))
}

func TestCancelReservationIsRepeatable(t *testing.T) {
	f := newReservationFixture()
	ctx := context.Background()
	res, err := f.service.Create(ctx, f.request(models.ReservationOneOnOne), models.UserIdentity("member-1"))
	require.NoError(t, err)
	require.NoError(t, f.reservations.SetRemoteEventID(ctx, res.ID, strRef("evt-1")))

	require.NoError(t, f.service.Cancel(ctx, res.ID, models.UserIdentity("member-1")))
	require.NoError(t, f.service.Cancel(ctx, res.ID, models.UserIdentity("member-1")))
	assert.Len(t, f.dispatcher.jobs, 3)

	// once the remote event is gone a repeated cancel dispatches nothing
	require.NoError(t, f.reservations.SetRemoteEventID(ctx, res.ID, nil))
	require.NoError(t, f.service.Cancel(ctx, res.ID, models.UserIdentity("member-1")))
	assert.Len(t, f.dispatcher.jobs, 3)
	assert.Equal(t, JobMirrorCancel, f.dispatcher.jobs[2].Type)
}

func TestGetReservationDetail(t *testing.T) {
	f := newReservationFixture()
	ctx := context.Background()
	res, err := f.service.Create(ctx, f.request(models.ReservationGroup), models.UserIdentity("member-1"))
	require.NoError(t, err)
	require.NoError(t, f.service.Join(ctx, res.ID, models.GuestIdentity("Guest", "")))

	detail, err := f.service.Get(ctx, res.ID, models.UserIdentity("member-1"))
	require.NoError(t, err)
	require.NotNil(t, detail.Block)
	assert.Equal(t, f.block.ID, detail.Block.ID)
	assert.Equal(t, "admin@example.com", detail.Admin.Email)
	assert.Equal(t, "member-1", detail.Creator.ID)
	assert.Len(t, detail.Participants, 2)

	delete(f.blocks.blocks, f.block.ID)
	detail, err = f.service.Get(ctx, res.ID, models.UserIdentity("member-1"))
	require.NoError(t, err)
	assert.Nil(t, detail.Block)

	_, err = f.service.Get(ctx, "missing", models.Identity{})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestListReservationsScopes(t *testing.T) {
	f := newReservationFixture()
	ctx := context.Background()
	mine, err := f.service.Create(ctx, f.request(models.ReservationGroup), models.UserIdentity("member-2"))
	require.NoError(t, err)
	joined, err := f.service.Create(ctx, f.request(models.ReservationGroup), models.GuestIdentity("Guest", ""))
	require.NoError(t, err)
	require.NoError(t, f.service.Join(ctx, joined.ID, models.UserIdentity("member-2")))
	_, err = f.service.Create(ctx, f.request(models.ReservationOneOnOne), models.UserIdentity("member-1"))
	require.NoError(t, err)
	cancelled, err := f.service.Create(ctx, f.request(models.ReservationOneOnOne), models.UserIdentity("member-2"))
	require.NoError(t, err)
	require.NoError(t, f.service.Cancel(ctx, cancelled.ID, models.UserIdentity("member-2")))

	member := &models.JWTClaims{UserID: "member-2", Role: models.RoleMember}
	list, err := f.service.List(ctx, member, models.ScopeMine)
	require.NoError(t, err)
	ids := []string{}
	for _, r := range list {
		ids = append(ids, r.ID)
		assert.NotNil(t, r.Participants)
	}
	assert.ElementsMatch(t, []string{mine.ID, joined.ID}, ids)

	_, err = f.service.List(ctx, member, models.ScopeAll)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	all, err := f.service.List(ctx, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}, models.ScopeAll)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = f.service.List(ctx, nil, models.ScopeMine)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestCreateReservationRejectsUnknownUser(t *testing.T) {
	f := newReservationFixture()
	_, err := f.service.Create(context.Background(), f.request(models.ReservationOneOnOne), models.UserIdentity("ghost"))
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestGetReservationRedactsContactsForOthers(t *testing.T) {
	f := newReservationFixture()
	ctx := context.Background()
	res, err := f.service.Create(ctx, f.request(models.ReservationGroup), models.GuestIdentity("Hanako", "hanako@example.com"))
	require.NoError(t, err)
	require.NoError(t, f.service.Join(ctx, res.ID, models.UserIdentity("member-1")))

	for _, viewer := range []models.Identity{{}, models.GuestIdentity("", "hanako@example.com"), models.UserIdentity("member-1")} {
		detail, err := f.service.Get(ctx, res.ID, viewer)
		require.NoError(t, err)
		assert.Nil(t, detail.GuestEmail)
		for _, p := range detail.Participants {
			assert.Nil(t, p.GuestEmail)
			assert.Nil(t, p.UserEmail)
		}
	}

	detail, err := f.service.Get(ctx, res.ID, models.UserIdentity(f.block.AdminID))
	require.NoError(t, err)
	require.NotNil(t, detail.GuestEmail)
	assert.Equal(t, "hanako@example.com", *detail.GuestEmail)
	assert.Equal(t, []string{"hanako@example.com", "taro@example.com"}, models.ParticipantEmails(detail.Participants))
}

func TestJoinReservationRejectsMalformedGuestEmail(t *testing.T) {
	f := newReservationFixture()
	ctx := context.Background()
	group, err := f.service.Create(ctx, f.request(models.ReservationGroup), models.UserIdentity("member-1"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.service.Join(ctx, group.ID, models.GuestIdentity("Guest", "not-an-email")), appErrors.ErrValidation)
	participants, _ := f.reservations.ListParticipants(ctx, []string{group.ID})
	assert.Len(t, participants, 1)

	_, err = f.service.Create(ctx, f.request(models.ReservationOneOnOne), models.GuestIdentity("Guest", "guest@"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	require.NoError(t, f.service.Join(ctx, group.ID, models.GuestIdentity("Guest", " guest@example.com ")))
}

func TestCreateReservationOutsideBlock(t *testing.T) {
	f := newReservationFixture()
	ctx := context.Background()

	early := f.request(models.ReservationOneOnOne)
	early.StartTime, early.EndTime = at(9, 30), at(10, 0)
	_, err := f.service.Create(ctx, early, models.UserIdentity("member-1"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	overrun := f.request(models.ReservationOneOnOne)
	overrun.StartTime, overrun.EndTime = at(11, 45), at(12, 15)
	_, err = f.service.Create(ctx, overrun, models.UserIdentity("member-1"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	last := f.request(models.ReservationOneOnOne)
	last.StartTime, last.EndTime = at(11, 30), at(12, 0)
	_, err = f.service.Create(ctx, last, models.UserIdentity("member-1"))
	require.NoError(t, err)
}

// eventStoringReservations stores a remote event id right before the status write,
// the way a mirror job finishing concurrently would.
type eventStoringReservations struct {
	*memoryReservations
	eventID string
}

func (r *eventStoringReservations) UpdateStatus(ctx context.Context, id string, status models.ReservationStatus) error {
	if err := r.memoryReservations.SetRemoteEventID(ctx, id, &r.eventID); err != nil {
		return err
	}
	return r.memoryReservations.UpdateStatus(ctx, id, status)
}

func TestCancelSeesEventStoredDuringCancel(t *testing.T) {
	f := newReservationFixture()
	ctx := context.Background()
	repo := &eventStoringReservations{memoryReservations: f.reservations, eventID: "evt-late"}
	svc := NewReservationService(f.blocks, f.users, repo, f.dispatcher, nil, nil, nil)

	res, err := svc.Create(ctx, f.request(models.ReservationOneOnOne), models.UserIdentity("member-1"))
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, res.ID, models.UserIdentity("member-1")))

	require.Len(t, f.dispatcher.jobs, 2)
	assert.Equal(t, JobMirrorCancel, f.dispatcher.jobs[1].Type)
}
