package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fachschaft/api/internal/calendar"
	"fachschaft/api/internal/store"
)

// DataStore is the read surface a protocol needs. *store.Repo satisfies it.
type DataStore interface {
	SitzungWithTops(ctx context.Context, id uuid.UUID) (store.SitzungWithTops, error)
	Persons(ctx context.Context) ([]store.Person, error)
	TemplateByName(ctx context.Context, name string) (store.Template, error)
}

// Calendars provides upcoming events per configured calendar.
type Calendars interface {
	Names() []string
	Events(ctx context.Context, name string) ([]calendar.Event, error)
}

type Request struct {
	SitzungID    uuid.UUID
	TemplateName string
	Format       Format
}

type Config struct {
	ChromePath string
	PDFTimeout time.Duration
}

// Service renders meeting protocols
type Service struct {
	engine    *Engine
	calendars Calendars
	cfg       Config
	logger    zerolog.Logger
	pdf       func(ctx context.Context, chromePath, html string, timeout time.Duration) ([]byte, error)
}

// NewService creates a new export service. calendars may be nil.
func NewService(engine *Engine, calendars Calendars, cfg Config, logger zerolog.Logger) *Service {
	if cfg.PDFTimeout <= 0 {
		cfg.PDFTimeout = 30 * time.Second
	}
	return &Service{engine: engine, calendars: calendars, cfg: cfg, logger: logger, pdf: renderPDF}
}

func (s *Service) Engine() *Engine {
	return s.engine
}

// Export loads the meeting, the persons, the upcoming calendar events and the
// template, renders HTML and converts it when PDF was requested. The built-in
// protocol is used for DefaultTemplate unless a stored template shadows it.
func (s *Service) Export(ctx context.Context, ds DataStore, req Request) (*Result, error) {
	sitzung, err := ds.SitzungWithTops(ctx, req.SitzungID)
	if err != nil {
		return nil, fmt.Errorf("load sitzung: %w", err)
	}

	persons, err := ds.Persons(ctx)
	if err != nil {
		return nil, fmt.Errorf("load persons: %w", err)
	}

	tmpl, err := ds.TemplateByName(ctx, req.TemplateName)
	if errors.Is(err, store.ErrNotFound) && req.TemplateName == DefaultTemplate {
		tmpl, err = store.Template{Name: DefaultTemplate, Inhalt: defaultProtocol}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}

	calendars, err := s.loadCalendars(ctx)
	if err != nil {
		return nil, err
	}

	html, err := s.engine.Render(tmpl, ProtocolData{Sitzung: sitzung, Persons: persons, Calendars: calendars})
	if err != nil {
		return nil, err
	}

	filename := sanitizeFilename("protokoll " + sitzung.Datetime.In(berlin).Format("2006-01-02"))
	switch req.Format {
	case FormatHTML, "":
		return &Result{Data: []byte(html), Filename: filename + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF:
		started := time.Now()
		data, err := s.pdf(ctx, s.cfg.ChromePath, html, s.cfg.PDFTimeout)
		if err != nil {
			return nil, err
		}
		s.logger.Debug().Str("sitzung", req.SitzungID.String()).Dur("took", time.Since(started)).Msg("rendered protocol pdf")
		return &Result{Data: data, Filename: filename + ".pdf", MimeType: "application/pdf"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

func (s *Service) loadCalendars(ctx context.Context) ([]CalendarEvents, error) {
	if s.calendars == nil {
		return []CalendarEvents{}, nil
	}
	names := s.calendars.Names()
	out := make([]CalendarEvents, 0, len(names))
	for _, name := range names {
		events, err := s.calendars.Events(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("calendar %s: %w", name, err)
		}
		out = append(out, CalendarEvents{Name: name, Events: events})
	}
	return out, nil
}
