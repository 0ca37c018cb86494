package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
	appErrors "github.com/reosmzreo0410-netizen/booking-system/pkg/errors"
)

const (
	sendUpdatesAll     = "all"
	eventStatusCancel  = "cancelled"
	dateOnlyLayout     = "2006-01-02"
	defaultCalendarID  = "primary"
	defaultCallTimeout = 10 * time.Second
)

type credentialStore interface {
	GetCredentials(ctx context.Context, userID string) (*models.OAuthCredentials, error)
	SaveRefreshedToken(ctx context.Context, userID, accessToken string, expiry time.Time) (bool, error)
}

// CalendarGatewayConfig configures access to the Google Calendar API.
type CalendarGatewayConfig struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides the Google OAuth token endpoint.
	TokenURL string
	// Endpoint overrides the Calendar API base URL.
	Endpoint   string
	CalendarID string
	Location   *time.Location
	Timeout    time.Duration
	Marker     string
	// HTTPClient is the base client for token refresh and API calls.
	HTTPClient *http.Client
}

// CalendarGateway reads and writes events on users' Google calendars using their stored OAuth credentials.
type CalendarGateway struct {
	store   credentialStore
	oauth   *oauth2.Config
	cfg     CalendarGatewayConfig
	metrics *MetricsService
	logger  *zap.Logger
}

// NewCalendarGateway constructs a gateway.
func NewCalendarGateway(store credentialStore, cfg CalendarGatewayConfig, metrics *MetricsService, logger *zap.Logger) *CalendarGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = defaultCalendarID
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	return &CalendarGateway{
		store: store,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{calendar.CalendarScope},
		},
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// ListTaggedEvents returns timed events in [from, to) whose title carries the availability marker.
func (g *CalendarGateway) ListTaggedEvents(ctx context.Context, adminID string, from, to time.Time) (events []models.RemoteEvent, err error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	defer g.observe("list_tagged", time.Now(), &err)

	svc, err := g.client(ctx, adminID)
	if err != nil {
		return nil, err
	}

	events = []models.RemoteEvent{}
	call := g.listCall(svc, from, to).Q(g.cfg.Marker)
	err = call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if item.Status == eventStatusCancel || !strings.Contains(item.Summary, g.cfg.Marker) {
				continue
			}
			if item.Start == nil || item.End == nil || item.Start.DateTime == "" || item.End.DateTime == "" {
				continue
			}
			start, perr := time.Parse(time.RFC3339, item.Start.DateTime)
			if perr != nil {
				g.logger.Warn("skipping event with unparsable start", zap.String("event_id", item.Id), zap.Error(perr))
				continue
			}
			end, perr := time.Parse(time.RFC3339, item.End.DateTime)
			if perr != nil {
				g.logger.Warn("skipping event with unparsable end", zap.String("event_id", item.Id), zap.Error(perr))
				continue
			}
			events = append(events, models.RemoteEvent{RemoteID: item.Id, Title: item.Summary, Start: start, End: end})
		}
		return nil
	})
	if err != nil {
		return nil, remoteError("list tagged events", err)
	}
	return events, nil
}

// ListBusyIntervals returns every non-cancelled, untagged event in [from, to). Date-only events
// are interpreted in the configured time zone.
func (g *CalendarGateway) ListBusyIntervals(ctx context.Context, adminID string, from, to time.Time) (busy []models.BusyInterval, err error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	defer g.observe("list_busy", time.Now(), &err)

	svc, err := g.client(ctx, adminID)
	if err != nil {
		return nil, err
	}

	busy = []models.BusyInterval{}
	err = g.listCall(svc, from, to).Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if item.Status == eventStatusCancel || strings.Contains(item.Summary, g.cfg.Marker) {
				continue
			}
			start, ok := g.eventTime(item.Start)
			if !ok {
				continue
			}
			end, ok := g.eventTime(item.End)
			if !ok {
				continue
			}
			busy = append(busy, models.BusyInterval{Start: start, End: end, RemoteID: item.Id})
		}
		return nil
	})
	if err != nil {
		return nil, remoteError("list busy intervals", err)
	}
	return busy, nil
}

// CreateEvent inserts an event on the user's calendar and notifies attendees.
func (g *CalendarGateway) CreateEvent(ctx context.Context, userID string, input models.EventInput) (id string, err error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	defer g.observe("create", time.Now(), &err)

	svc, err := g.client(ctx, userID)
	if err != nil {
		return "", err
	}

	event := &calendar.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Start:       g.dateTime(input.Start),
		End:         g.dateTime(input.End),
		Attendees:   attendees(input.AttendeeEmails),
	}
	created, err := svc.Events.Insert(g.cfg.CalendarID, event).SendUpdates(sendUpdatesAll).Context(ctx).Do()
	if err != nil {
		return "", remoteError("create event", err)
	}
	return created.Id, nil
}

// UpdateEvent patches an event. A non-nil attendee list replaces the existing one.
func (g *CalendarGateway) UpdateEvent(ctx context.Context, userID, remoteEventID string, patch models.EventPatch) (err error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	defer g.observe("update", time.Now(), &err)

	svc, err := g.client(ctx, userID)
	if err != nil {
		return err
	}

	event := &calendar.Event{}
	if patch.Summary != nil {
		event.Summary = *patch.Summary
		event.ForceSendFields = append(event.ForceSendFields, "Summary")
	}
	if patch.Description != nil {
		event.Description = *patch.Description
		event.ForceSendFields = append(event.ForceSendFields, "Description")
	}
	if patch.AttendeeEmails != nil {
		event.Attendees = attendees(*patch.AttendeeEmails)
		event.ForceSendFields = append(event.ForceSendFields, "Attendees")
	}
	if _, err = svc.Events.Patch(g.cfg.CalendarID, remoteEventID, event).SendUpdates(sendUpdatesAll).Context(ctx).Do(); err != nil {
		return remoteError("update event", err)
	}
	return nil
}

// DeleteEvent removes an event and notifies attendees. An event that is already gone counts as deleted.
func (g *CalendarGateway) DeleteEvent(ctx context.Context, userID, remoteEventID string) (err error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	defer g.observe("delete", time.Now(), &err)

	svc, err := g.client(ctx, userID)
	if err != nil {
		return err
	}

	err = svc.Events.Delete(g.cfg.CalendarID, remoteEventID).SendUpdates(sendUpdatesAll).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			return nil
		}
		return remoteError("delete event", err)
	}
	return nil
}

func (g *CalendarGateway) client(ctx context.Context, userID string) (*calendar.Service, error) {
	creds, err := g.store.GetCredentials(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrCredentialsMissing, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load calendar credentials")
	}
	if creds.RefreshToken == nil || *creds.RefreshToken == "" {
		return nil, appErrors.Clone(appErrors.ErrCredentialsMissing, "no refresh token stored")
	}

	token := &oauth2.Token{RefreshToken: *creds.RefreshToken, TokenType: "Bearer"}
	// without a known expiry the stored access token is not trusted
	if creds.AccessToken != nil && creds.Expiry != nil {
		token.AccessToken = *creds.AccessToken
		token.Expiry = *creds.Expiry
	}

	if g.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.cfg.HTTPClient)
	}
	source := &persistingTokenSource{
		ctx:     ctx,
		base:    g.oauth.TokenSource(ctx, token),
		store:   g.store,
		userID:  userID,
		current: token.AccessToken,
	}

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, source))}
	if g.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.cfg.Endpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrRemoteUnavailable.Code, appErrors.ErrRemoteUnavailable.Status, "failed to build calendar client")
	}
	return svc, nil
}

func (g *CalendarGateway) listCall(svc *calendar.Service, from, to time.Time) *calendar.EventsListCall {
	return svc.Events.List(g.cfg.CalendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250)
}

func (g *CalendarGateway) eventTime(value *calendar.EventDateTime) (time.Time, bool) {
	if value == nil {
		return time.Time{}, false
	}
	if value.DateTime != "" {
		t, err := time.Parse(time.RFC3339, value.DateTime)
		return t, err == nil
	}
	if value.Date != "" {
		t, err := time.ParseInLocation(dateOnlyLayout, value.Date, g.cfg.Location)
		return t, err == nil
	}
	return time.Time{}, false
}

func (g *CalendarGateway) dateTime(t time.Time) *calendar.EventDateTime {
	return &calendar.EventDateTime{
		DateTime: t.In(g.cfg.Location).Format(time.RFC3339),
		TimeZone: g.cfg.Location.String(),
	}
}

func (g *CalendarGateway) observe(operation string, start time.Time, err *error) {
	g.metrics.ObserveCalendarCall(operation, *err == nil, time.Since(start))
}

func attendees(emails []string) []*calendar.EventAttendee {
	out := make([]*calendar.EventAttendee, 0, len(emails))
	for _, email := range emails {
		if email == "" {
			continue
		}
		out = append(out, &calendar.EventAttendee{Email: email})
	}
	return out
}

func remoteError(operation string, err error) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrRemoteUnavailable.Code, appErrors.ErrRemoteUnavailable.Status, fmt.Sprintf("%s failed", operation))
}

// persistingTokenSource saves every access token it has not seen before so refreshes survive the request.
type persistingTokenSource struct {
	ctx    context.Context
	base   oauth2.TokenSource
	store  credentialStore
	userID string

	mu      sync.Mutex
	current string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken == s.current {
		return token, nil
	}
	if _, err := s.store.SaveRefreshedToken(s.ctx, s.userID, token.AccessToken, token.Expiry); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}
	s.current = token.AccessToken
	return token, nil
}
