package app

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"fachschaft/api/internal/auth"
	"fachschaft/api/internal/calendar"
	"fachschaft/api/internal/export"
	"fachschaft/api/internal/files"
	"fachschaft/api/internal/gitrepo"
	"fachschaft/api/internal/rbac"
	"fachschaft/api/internal/search"
	"fachschaft/api/internal/session"
	"fachschaft/api/internal/store"
)

// repository is everything the handlers read or write. *store.Repo
// satisfies it; tests substitute fakes.
type repository interface {
	CreatePerson(context.Context, store.NewPerson) (store.Person, error)
	UpsertPersonByUserName(context.Context, store.NewPerson) (store.Person, error)
	Persons(context.Context) ([]store.Person, error)
	PersonByID(context.Context, uuid.UUID) (store.Person, error)
	PersonByUserName(context.Context, string) (store.Person, error)
	PersonByMatrixID(context.Context, string) (store.Person, error)
	PersonsWithRole(context.Context, string, time.Time) ([]store.Person, error)
	UpdatePerson(context.Context, uuid.UUID, store.PersonPatch) (store.Person, error)
	DeletePerson(context.Context, uuid.UUID) error

	Roles(context.Context) ([]string, error)
	CreateRole(context.Context, string) (string, error)
	DeleteRole(context.Context, string) error
	AssignRole(context.Context, uuid.UUID, string, time.Time, time.Time) (store.RoleAssignment, error)
	RevokeRole(context.Context, uuid.UUID, string, time.Time, time.Time) error
	RolesByPerson(context.Context, uuid.UUID) ([]store.RoleAssignment, error)

	CreateAbmeldung(context.Context, uuid.UUID, time.Time, time.Time) (store.Abmeldung, error)
	RevokeAbmeldung(context.Context, uuid.UUID, time.Time, time.Time) error
	AbmeldungenByPerson(context.Context, uuid.UUID) ([]store.Abmeldung, error)
	AbmeldungenAt(context.Context, time.Time) ([]store.Abmeldung, error)
	AbmeldungenBySitzung(context.Context, uuid.UUID) ([]store.Abmeldung, error)

	CreateLegislativePeriod(context.Context, string) (store.LegislativePeriod, error)
	LegislativePeriods(context.Context) ([]store.LegislativePeriod, error)
	LegislativePeriodByID(context.Context, uuid.UUID) (store.LegislativePeriod, error)
	RenameLegislativePeriod(context.Context, uuid.UUID, string) (store.LegislativePeriod, error)
	DeleteLegislativePeriod(context.Context, uuid.UUID) (store.LegislativePeriod, error)
	LegislativePeriodSitzungen(context.Context, uuid.UUID) ([]store.SitzungWithTops, error)

	CreateSitzung(context.Context, store.NewSitzung) (store.Sitzung, error)
	Sitzungen(context.Context) ([]store.Sitzung, error)
	SitzungByID(context.Context, uuid.UUID) (store.Sitzung, error)
	UpdateSitzung(context.Context, uuid.UUID, store.SitzungPatch) (store.Sitzung, error)
	DeleteSitzung(context.Context, uuid.UUID) (store.Sitzung, error)
	FirstSitzungAfter(context.Context, time.Time) (store.Sitzung, error)
	SitzungenAfter(context.Context, time.Time, int) ([]store.Sitzung, error)
	SitzungenBetween(context.Context, time.Time, time.Time) ([]store.Sitzung, error)
	SitzungWithTops(context.Context, uuid.UUID) (store.SitzungWithTops, error)

	CreateTop(context.Context, uuid.UUID, string, string, store.TopKind) (store.Top, error)
	TopByID(context.Context, uuid.UUID) (store.Top, error)
	TopsBySitzung(context.Context, uuid.UUID) ([]store.Top, error)
	UpdateTop(context.Context, uuid.UUID, store.TopPatch) (store.Top, error)
	DeleteTop(context.Context, uuid.UUID) (store.Top, error)

	CreateAntrag(context.Context, []uuid.UUID, string, string, string) (store.Antrag, error)
	Antraege(context.Context) ([]store.Antrag, error)
	AntragByID(context.Context, uuid.UUID) (store.Antrag, error)
	UpdateAntrag(context.Context, uuid.UUID, store.AntragPatch) (store.Antrag, error)
	DeleteAntrag(context.Context, uuid.UUID) ([]uuid.UUID, error)
	AttachAntragToTop(context.Context, uuid.UUID, uuid.UUID) (*store.AntragTopMapping, error)
	DetachAntragFromTop(context.Context, uuid.UUID, uuid.UUID) (*store.AntragTopMapping, error)
	OrphanAntraege(context.Context) ([]store.Antrag, error)
	AntraegeByTop(context.Context, uuid.UUID) ([]store.Antrag, error)
	TopsByAntrag(context.Context, uuid.UUID) ([]store.Top, error)

	CreateAttachment(context.Context, uuid.UUID, string) (store.Attachment, error)
	AttachmentByID(context.Context, uuid.UUID) (store.Attachment, error)
	AntragAttachment(context.Context, uuid.UUID, uuid.UUID) (store.Attachment, error)
	DeleteAntragAttachment(context.Context, uuid.UUID, uuid.UUID) (store.Attachment, error)

	CreateDoorState(context.Context, time.Time, bool) (store.DoorState, error)
	DoorStateAt(context.Context, time.Time) (store.DoorState, error)
	DoorStatesBetween(context.Context, time.Time, time.Time) ([]store.DoorState, error)

	Templates(context.Context) ([]store.Template, error)
	TemplateByName(context.Context, string) (store.Template, error)
	CreateTemplate(context.Context, store.Template) (store.Template, error)
	UpdateTemplate(context.Context, string, string) (store.Template, error)
	DeleteTemplate(context.Context, string) (*store.Template, error)
}

// unitOfWork hands out a repository bound to exactly one connection or one
// transaction for the duration of fn.
type unitOfWork interface {
	WithConn(ctx context.Context, fn func(repository) error) error
	WithTx(ctx context.Context, fn func(repository) error) error
	Ping(ctx context.Context) error
}

type providerUnit struct {
	provider *store.Provider
}

// NewUnitOfWork adapts a store provider for the service.
func NewUnitOfWork(provider *store.Provider) unitOfWork {
	return providerUnit{provider: provider}
}

func (u providerUnit) WithConn(ctx context.Context, fn func(repository) error) error {
	return u.provider.WithConn(ctx, func(repo *store.Repo) error { return fn(repo) })
}

func (u providerUnit) WithTx(ctx context.Context, fn func(repository) error) error {
	return u.provider.WithTx(ctx, func(repo *store.Repo) error { return fn(repo) })
}

func (u providerUnit) Ping(ctx context.Context) error {
	return u.provider.Ping(ctx)
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexAntrag(rec search.AntragRecord)
	DeleteAntrag(id string)
}

type fileStore interface {
	Put(ctx context.Context, id uuid.UUID, filename, contentType string, body io.Reader, size int64) error
	Get(ctx context.Context, id uuid.UUID) (*files.Object, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type templateHistory interface {
	CommitTemplate(name, inhalt, author, message string) (gitrepo.CommitInfo, error)
	RemoveTemplate(name, author, message string) (*gitrepo.CommitInfo, error)
	History(name string, limit int) ([]gitrepo.CommitInfo, error)
	ContentAt(name, hash string) (string, error)
}

// Pinger is an optional dependency probed by the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type loginStore interface {
	SaveLoginState(ctx context.Context, state string, data session.LoginState, ttl time.Duration) error
	ConsumeLoginState(ctx context.Context, state string) (session.LoginState, error)
	RevokeClaim(ctx context.Context, jti string, expiresAt time.Time) error
}

type sessionResolver interface {
	Resolve(ctx context.Context, req *http.Request) auth.Resolution
	Establish(ctx context.Context, token *oauth2.Token) (auth.Resolution, error)
	ClearCookies() []*http.Cookie
}

type calendarSource interface {
	Names() []string
	Events(ctx context.Context, name string) ([]calendar.Event, error)
}

// Deps collects the collaborators of the service. Optional ones may stay
// nil; the routes that need them answer 503.
type Deps struct {
	Units    unitOfWork
	Policy   *rbac.Policy
	Resolver sessionResolver
	OAuth    auth.IdentityProvider
	Logins   loginStore
	Search   searchIndex
	Files    fileStore
	History  templateHistory
	Export   *export.Service
	Calendar calendarSource
	Logger   zerolog.Logger

	// Checks are optional dependencies reported by /api/ready. A failing
	// check degrades readiness without failing it.
	Checks map[string]Pinger

	// SourceName prefixes person user names: "{SourceName}-{sub}".
	SourceName        string
	PostLoginRedirect string
}

type Service struct {
	units    unitOfWork
	policy   *rbac.Policy
	resolver sessionResolver
	oauth    auth.IdentityProvider
	logins   loginStore
	search   searchIndex
	files    fileStore
	history  templateHistory
	exporter *export.Service
	calendar calendarSource
	logger   zerolog.Logger
	checks   map[string]Pinger

	sourceName        string
	postLoginRedirect string
	now               func() time.Time
}

func New(deps Deps) *Service {
	sourceName := deps.SourceName
	if sourceName == "" {
		sourceName = "oauth"
	}
	redirect := deps.PostLoginRedirect
	if redirect == "" {
		redirect = "/"
	}
	return &Service{
		units:             deps.Units,
		policy:            deps.Policy,
		resolver:          deps.Resolver,
		oauth:             deps.OAuth,
		logins:            deps.Logins,
		search:            deps.Search,
		files:             deps.Files,
		history:           deps.History,
		exporter:          deps.Export,
		calendar:          deps.Calendar,
		logger:            deps.Logger,
		checks:            deps.Checks,
		sourceName:        sourceName,
		postLoginRedirect: redirect,
		now:               time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.units.Ping(ctx)
}

// CheckOptional pings every optional dependency and returns the failures
// keyed by name.
func (s *Service) CheckOptional(ctx context.Context) map[string]error {
	failed := map[string]error{}
	for name, check := range s.checks {
		if check == nil {
			continue
		}
		if err := check.Ping(ctx); err != nil {
			failed[name] = err
		}
	}
	return failed
}

// read runs fn on a single pooled connection.
func (s *Service) read(ctx context.Context, fn func(repository) error) error {
	return s.units.WithConn(ctx, fn)
}

// write runs fn in one transaction. It commits only when fn returns nil.
func (s *Service) write(ctx context.Context, fn func(repository) error) error {
	return s.units.WithTx(ctx, fn)
}

// Actor is the identity behind a request, possibly anonymous.
type Actor struct {
	Identity       *auth.Identity
	ClaimID        string
	ClaimExpiresAt time.Time
}

func (a Actor) Authenticated() bool {
	return a.Identity != nil
}

func (a Actor) roles() []string {
	if a.Identity == nil {
		return nil
	}
	return a.Identity.Groups
}

func (a Actor) displayName() string {
	if a.Identity == nil {
		return "anonymous"
	}
	if a.Identity.Name != "" {
		return a.Identity.Name
	}
	if a.Identity.PreferredUsername != "" {
		return a.Identity.PreferredUsername
	}
	return a.Identity.Sub
}

// Can reports whether actor holds capability. Anonymous actors hold nothing.
func (s *Service) Can(actor Actor, capability rbac.Capability) bool {
	if !actor.Authenticated() {
		return false
	}
	return s.policy.HasCapability(actor.roles(), capability)
}

func (s *Service) Capabilities(actor Actor) []rbac.Capability {
	if !actor.Authenticated() || s.policy == nil {
		return []rbac.Capability{}
	}
	return s.policy.Capabilities(actor.roles())
}

// userName is the stable person key for an identity.
func (s *Service) userName(identity *auth.Identity) string {
	return s.sourceName + "-" + identity.Sub
}

// actorPerson resolves the person row of actor. An actor that never logged
// in through the callback has none and yields store.ErrNotFound.
func (s *Service) actorPerson(ctx context.Context, repo repository, actor Actor) (store.Person, error) {
	if !actor.Authenticated() {
		return store.Person{}, errUnauthorized()
	}
	return repo.PersonByUserName(ctx, s.userName(actor.Identity))
}
