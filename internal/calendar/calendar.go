// Package calendar aggregates remote iCalendar feeds into upcoming events.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/rs/zerolog"

	"fachschaft/api/internal/cache"
	"fachschaft/api/internal/metrics"
)

var (
	ErrUnknownCalendar = errors.New("unknown calendar")
	ErrUpstream        = errors.New("calendar upstream failed")
)

type Event struct {
	Summary     *string    `json:"summary"`
	Location    *string    `json:"location"`
	Description *string    `json:"description"`
	Start       *time.Time `json:"start"`
	End         *time.Time `json:"end"`
}

type Source struct {
	Name string
	URL  string
	TTL  time.Duration
}

type feed struct {
	source Source
	events *cache.TimedCache[[]Event]
}

// Service serves configured calendars, each behind its own timed cache.
type Service struct {
	feeds   map[string]*feed
	names   []string
	client  *http.Client
	now     func() time.Time
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(sources []Source, timeout time.Duration, logger zerolog.Logger, opts ...Option) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &Service{
		feeds:  make(map[string]*feed, len(sources)),
		names:  make([]string, 0, len(sources)),
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, source := range sources {
		source := source
		if _, exists := s.feeds[source.Name]; exists {
			continue
		}
		ttl := source.TTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		s.feeds[source.Name] = &feed{
			source: source,
			events: cache.New(ttl, func(ctx context.Context) ([]Event, error) {
				return s.fetch(ctx, source)
			}, cache.WithClock[[]Event](s.now)),
		}
		s.names = append(s.names, source.Name)
	}
	sort.Strings(s.names)
	return s
}

// Names lists the configured calendars.
func (s *Service) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Events returns upcoming events of the named calendar, sorted by start.
// A failed fetch is not cached past the current request.
func (s *Service) Events(ctx context.Context, name string) ([]Event, error) {
	f, ok := s.feeds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCalendar, name)
	}
	events, err := f.events.TryGet(ctx)
	if err != nil {
		return nil, err
	}
	return upcoming(events, s.now()), nil
}

func (s *Service) fetch(ctx context.Context, source Source) ([]Event, error) {
	events, err := s.download(ctx, source)
	s.metrics.ObserveUpstream("calendar", err)
	s.metrics.ObserveCacheRefresh("calendar:"+source.Name, err)
	if err != nil {
		s.logger.Warn().Err(err).Str("calendar", source.Name).Msg("calendar fetch failed")
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, source.Name, err)
	}
	return events, nil
}

func (s *Service) download(ctx context.Context, source Source) ([]Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch: status %d", resp.StatusCode)
	}
	return Parse(resp.Body, s.now())
}

// Parse reads an iCalendar document and returns events ending after now,
// sorted by start.
func Parse(r io.Reader, now time.Time) ([]Event, error) {
	cal, err := ics.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	events := make([]Event, 0)
	for _, vevent := range cal.Events() {
		event := Event{
			Summary:     propertyValue(vevent, ics.ComponentPropertySummary),
			Location:    propertyValue(vevent, ics.ComponentPropertyLocation),
			Description: propertyValue(vevent, ics.ComponentPropertyDescription),
			Start:       eventTime(vevent.GetStartAt, vevent.GetAllDayStartAt),
			End:         eventTime(vevent.GetEndAt, vevent.GetAllDayEndAt),
		}
		if event.Location != nil {
			cleaned := strings.ReplaceAll(*event.Location, `\`, "")
			event.Location = &cleaned
		}
		events = append(events, event)
	}
	return upcoming(events, now), nil
}

// upcoming keeps events with an end after now. Events without an end are
// dropped.
func upcoming(events []Event, now time.Time) []Event {
	out := make([]Event, 0, len(events))
	for _, event := range events {
		if event.End != nil && event.End.After(now) {
			out = append(out, event)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Start, out[j].Start
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	return out
}

func propertyValue(event *ics.VEvent, property ics.ComponentProperty) *string {
	prop := event.GetProperty(property)
	if prop == nil {
		return nil
	}
	value := prop.Value
	return &value
}

func eventTime(timed, allDay func() (time.Time, error)) *time.Time {
	if t, err := timed(); err == nil {
		utc := t.UTC()
		return &utc
	}
	if t, err := allDay(); err == nil {
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return &day
	}
	return nil
}
