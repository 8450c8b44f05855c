package app

import (
	"context"
	"time"

	"fachschaft/api/internal/calendar"
	"fachschaft/api/internal/store"
)

type DoorStateInput struct {
	Time   *time.Time `json:"time"`
	IsOpen *bool      `json:"isOpen"`
}

// DoorStateAt returns the latest state recorded strictly before at.
func (s *Service) DoorStateAt(ctx context.Context, at time.Time) (store.DoorState, error) {
	var out store.DoorState
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.DoorStateAt(ctx, at)
		return err
	})
	return out, err
}

func (s *Service) DoorStatesBetween(ctx context.Context, start, end time.Time) ([]store.DoorState, error) {
	if end.Before(start) {
		return nil, errValidation("end must not be before start", nil)
	}
	var out []store.DoorState
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.DoorStatesBetween(ctx, start, end)
		return err
	})
	return out, err
}

func (s *Service) RecordDoorState(ctx context.Context, input DoorStateInput) (store.DoorState, error) {
	if input.IsOpen == nil {
		return store.DoorState{}, errValidation("isOpen is required", nil)
	}
	at := s.now().UTC()
	if input.Time != nil {
		at = *input.Time
	}
	var out store.DoorState
	err := s.write(ctx, func(repo repository) error {
		var err error
		out, err = repo.CreateDoorState(ctx, at, *input.IsOpen)
		return err
	})
	return out, err
}

func (s *Service) CalendarNames() []string {
	if s.calendar == nil {
		return []string{}
	}
	return s.calendar.Names()
}

// CalendarEvents returns the upcoming events of one configured calendar.
func (s *Service) CalendarEvents(ctx context.Context, name string) ([]calendar.Event, error) {
	if s.calendar == nil {
		return nil, calendar.ErrUnknownCalendar
	}
	return s.calendar.Events(ctx, name)
}

// AllCalendarEvents fetches every calendar. One failing feed fails the call.
func (s *Service) AllCalendarEvents(ctx context.Context) (map[string][]calendar.Event, error) {
	out := make(map[string][]calendar.Event)
	for _, name := range s.CalendarNames() {
		events, err := s.calendar.Events(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = events
	}
	return out, nil
}
