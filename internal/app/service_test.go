package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"fachschaft/api/internal/auth"
	"fachschaft/api/internal/export"
	"fachschaft/api/internal/files"
	"fachschaft/api/internal/gitrepo"
	"fachschaft/api/internal/rbac"
	"fachschaft/api/internal/search"
	"fachschaft/api/internal/session"
	"fachschaft/api/internal/store"
)

// fakeRepo answers only the calls a test wires up. Anything else hits the
// nil embedded interface and panics.
type fakeRepo struct {
	repository

	mu    sync.Mutex
	calls []string

	personsFn          func(context.Context) ([]store.Person, error)
	createPersonFn     func(context.Context, store.NewPerson) (store.Person, error)
	upsertPersonFn     func(context.Context, store.NewPerson) (store.Person, error)
	personByUserNameFn func(context.Context, string) (store.Person, error)
	createAbmeldungFn  func(context.Context, uuid.UUID, time.Time, time.Time) (store.Abmeldung, error)
	abmeldungenAtFn    func(context.Context, time.Time) ([]store.Abmeldung, error)
	createSitzungFn    func(context.Context, store.NewSitzung) (store.Sitzung, error)
	sitzungWithTopsFn  func(context.Context, uuid.UUID) (store.SitzungWithTops, error)
	createTopFn        func(context.Context, uuid.UUID, string, string, store.TopKind) (store.Top, error)
	topByIDFn          func(context.Context, uuid.UUID) (store.Top, error)
	attachFn           func(context.Context, uuid.UUID, uuid.UUID) (*store.AntragTopMapping, error)
	detachFn           func(context.Context, uuid.UUID, uuid.UUID) (*store.AntragTopMapping, error)
	createAntragFn     func(context.Context, []uuid.UUID, string, string, string) (store.Antrag, error)
	antragByIDFn       func(context.Context, uuid.UUID) (store.Antrag, error)
	updateAntragFn     func(context.Context, uuid.UUID, store.AntragPatch) (store.Antrag, error)
	deleteAntragFn     func(context.Context, uuid.UUID) ([]uuid.UUID, error)
	createAttachmentFn func(context.Context, uuid.UUID, string) (store.Attachment, error)
	createDoorStateFn  func(context.Context, time.Time, bool) (store.DoorState, error)
	templateByNameFn   func(context.Context, string) (store.Template, error)
	createTemplateFn   func(context.Context, store.Template) (store.Template, error)
	deleteTemplateFn   func(context.Context, string) (*store.Template, error)
}

func (f *fakeRepo) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRepo) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeRepo) Persons(ctx context.Context) ([]store.Person, error) {
	f.record("Persons")
	return f.personsFn(ctx)
}

func (f *fakeRepo) CreatePerson(ctx context.Context, input store.NewPerson) (store.Person, error) {
	f.record("CreatePerson")
	return f.createPersonFn(ctx, input)
}

func (f *fakeRepo) UpsertPersonByUserName(ctx context.Context, input store.NewPerson) (store.Person, error) {
	f.record("UpsertPersonByUserName")
	return f.upsertPersonFn(ctx, input)
}

func (f *fakeRepo) PersonByUserName(ctx context.Context, userName string) (store.Person, error) {
	f.record("PersonByUserName")
	return f.personByUserNameFn(ctx, userName)
}

func (f *fakeRepo) CreateAbmeldung(ctx context.Context, personID uuid.UUID, start, end time.Time) (store.Abmeldung, error) {
	f.record("CreateAbmeldung")
	return f.createAbmeldungFn(ctx, personID, start, end)
}

func (f *fakeRepo) AbmeldungenAt(ctx context.Context, day time.Time) ([]store.Abmeldung, error) {
	f.record("AbmeldungenAt")
	return f.abmeldungenAtFn(ctx, day)
}

func (f *fakeRepo) CreateSitzung(ctx context.Context, input store.NewSitzung) (store.Sitzung, error) {
	f.record("CreateSitzung")
	return f.createSitzungFn(ctx, input)
}

func (f *fakeRepo) SitzungWithTops(ctx context.Context, id uuid.UUID) (store.SitzungWithTops, error) {
	f.record("SitzungWithTops")
	return f.sitzungWithTopsFn(ctx, id)
}

func (f *fakeRepo) CreateTop(ctx context.Context, sitzungID uuid.UUID, name, inhalt string, kind store.TopKind) (store.Top, error) {
	f.record("CreateTop")
	return f.createTopFn(ctx, sitzungID, name, inhalt, kind)
}

func (f *fakeRepo) TopByID(ctx context.Context, id uuid.UUID) (store.Top, error) {
	f.record("TopByID")
	return f.topByIDFn(ctx, id)
}

func (f *fakeRepo) AttachAntragToTop(ctx context.Context, antragID, topID uuid.UUID) (*store.AntragTopMapping, error) {
	f.record("AttachAntragToTop")
	return f.attachFn(ctx, antragID, topID)
}

func (f *fakeRepo) DetachAntragFromTop(ctx context.Context, antragID, topID uuid.UUID) (*store.AntragTopMapping, error) {
	f.record("DetachAntragFromTop")
	return f.detachFn(ctx, antragID, topID)
}

func (f *fakeRepo) CreateAntrag(ctx context.Context, ersteller []uuid.UUID, titel, begruendung, antragstext string) (store.Antrag, error) {
	f.record("CreateAntrag")
	return f.createAntragFn(ctx, ersteller, titel, begruendung, antragstext)
}

func (f *fakeRepo) AntragByID(ctx context.Context, id uuid.UUID) (store.Antrag, error) {
	f.record("AntragByID")
	return f.antragByIDFn(ctx, id)
}

func (f *fakeRepo) UpdateAntrag(ctx context.Context, id uuid.UUID, patch store.AntragPatch) (store.Antrag, error) {
	f.record("UpdateAntrag")
	return f.updateAntragFn(ctx, id, patch)
}

func (f *fakeRepo) DeleteAntrag(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	f.record("DeleteAntrag")
	return f.deleteAntragFn(ctx, id)
}

func (f *fakeRepo) CreateAttachment(ctx context.Context, antragID uuid.UUID, filename string) (store.Attachment, error) {
	f.record("CreateAttachment")
	return f.createAttachmentFn(ctx, antragID, filename)
}

func (f *fakeRepo) CreateDoorState(ctx context.Context, at time.Time, isOpen bool) (store.DoorState, error) {
	f.record("CreateDoorState")
	return f.createDoorStateFn(ctx, at, isOpen)
}

func (f *fakeRepo) TemplateByName(ctx context.Context, name string) (store.Template, error) {
	f.record("TemplateByName")
	return f.templateByNameFn(ctx, name)
}

func (f *fakeRepo) CreateTemplate(ctx context.Context, item store.Template) (store.Template, error) {
	f.record("CreateTemplate")
	return f.createTemplateFn(ctx, item)
}

func (f *fakeRepo) DeleteTemplate(ctx context.Context, name string) (*store.Template, error) {
	f.record("DeleteTemplate")
	return f.deleteTemplateFn(ctx, name)
}

// fakeUnit counts scopes and mirrors the commit-on-nil rule of the store
// provider.
type fakeUnit struct {
	repo      *fakeRepo
	mu        sync.Mutex
	conns     int
	txs       int
	commits   int
	rollbacks int
	commitErr error
	pingErr   error
}

func (u *fakeUnit) WithConn(_ context.Context, fn func(repository) error) error {
	u.mu.Lock()
	u.conns++
	u.mu.Unlock()
	return fn(u.repo)
}

func (u *fakeUnit) WithTx(_ context.Context, fn func(repository) error) error {
	u.mu.Lock()
	u.txs++
	u.mu.Unlock()
	if err := fn(u.repo); err != nil {
		u.mu.Lock()
		u.rollbacks++
		u.mu.Unlock()
		return err
	}
	if u.commitErr != nil {
		u.mu.Lock()
		u.rollbacks++
		u.mu.Unlock()
		return u.commitErr
	}
	u.mu.Lock()
	u.commits++
	u.mu.Unlock()
	return nil
}

func (u *fakeUnit) Ping(context.Context) error {
	return u.pingErr
}

func (u *fakeUnit) opened() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.conns + u.txs
}

type fakeResolver struct {
	resolution   auth.Resolution
	established  auth.Resolution
	establishErr error
}

func (f *fakeResolver) Resolve(context.Context, *http.Request) auth.Resolution {
	return f.resolution
}

func (f *fakeResolver) Establish(context.Context, *oauth2.Token) (auth.Resolution, error) {
	return f.established, f.establishErr
}

func (f *fakeResolver) ClearCookies() []*http.Cookie {
	return []*http.Cookie{{Name: auth.CookieUser, Value: "", MaxAge: -1}}
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed []string
	deleted []string
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text, Backend: "fake"}
}

func (f *fakeSearch) IndexAntrag(rec search.AntragRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, rec.ID)
}

func (f *fakeSearch) DeleteAntrag(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

type fakeFiles struct {
	mu      sync.Mutex
	objects map[uuid.UUID][]byte
	deleted []uuid.UUID
	putErr  error
}

func (f *fakeFiles) Put(_ context.Context, id uuid.UUID, _, _ string, body io.Reader, _ int64) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[uuid.UUID][]byte)
	}
	f.objects[id] = data
	return nil
}

func (f *fakeFiles) Get(_ context.Context, id uuid.UUID) (*files.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[id]
	if !ok {
		return nil, files.ErrNotFound
	}
	return &files.Object{ReadCloser: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data)), ContentType: "text/plain"}, nil
}

func (f *fakeFiles) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeHistory struct {
	mu        sync.Mutex
	commits   []string
	removed   []string
	revisions map[string]string
}

func (f *fakeHistory) CommitTemplate(name, _, author, message string) (gitrepo.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, message)
	return gitrepo.CommitInfo{Hash: "abc1234", Message: message, Author: author}, nil
}

func (f *fakeHistory) RemoveTemplate(name, author, message string) (*gitrepo.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	return &gitrepo.CommitInfo{Hash: "def5678", Message: message, Author: author}, nil
}

func (f *fakeHistory) History(string, int) ([]gitrepo.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gitrepo.CommitInfo, 0, len(f.commits))
	for i := len(f.commits) - 1; i >= 0; i-- {
		out = append(out, gitrepo.CommitInfo{Message: f.commits[i]})
	}
	return out, nil
}

func (f *fakeHistory) ContentAt(name, hash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inhalt, ok := f.revisions[name+"@"+hash]
	if !ok {
		return "", gitrepo.ErrUnknownRevision
	}
	return inhalt, nil
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error {
	return f.err
}

type fakeLogins struct {
	mu      sync.Mutex
	states  map[string]session.LoginState
	revoked map[string]time.Time
}

func (f *fakeLogins) SaveLoginState(_ context.Context, state string, data session.LoginState, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.states == nil {
		f.states = make(map[string]session.LoginState)
	}
	f.states[state] = data
	return nil
}

func (f *fakeLogins) ConsumeLoginState(_ context.Context, state string) (session.LoginState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.states[state]
	if !ok {
		return session.LoginState{}, session.ErrStateNotFound
	}
	delete(f.states, state)
	return data, nil
}

func (f *fakeLogins) RevokeClaim(_ context.Context, jti string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked == nil {
		f.revoked = make(map[string]time.Time)
	}
	f.revoked[jti] = expiresAt
	return nil
}

type fakeOAuth struct {
	exchanged string
}

func (f *fakeOAuth) AuthCodeURL(state string) string {
	return "https://idp.example/auth?state=" + state
}

func (f *fakeOAuth) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	f.exchanged = code
	if code == "bad" {
		return nil, errors.New("invalid_grant")
	}
	return &oauth2.Token{AccessToken: "access-" + code, RefreshToken: "refresh-" + code}, nil
}

func (f *fakeOAuth) Refresh(context.Context, string) (*oauth2.Token, error) {
	return nil, errors.New("not used")
}

func (f *fakeOAuth) UserInfo(context.Context, string) (auth.Identity, error) {
	return auth.Identity{}, errors.New("not used")
}

const testPolicy = "admin=Admin;vorstand=ManageSitzungen,ManagePersons;mitglied=CreateAntrag;finanzen=ManageAntraege;tuer=ManageDoor"

type testEnv struct {
	repo     *fakeRepo
	unit     *fakeUnit
	resolver *fakeResolver
	search   *fakeSearch
	files    *fakeFiles
	history  *fakeHistory
	logins   *fakeLogins
	oauth    *fakeOAuth
	service  *Service
	server   *HTTPServer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	policy, err := rbac.ParsePolicy(testPolicy)
	if err != nil {
		t.Fatalf("ParsePolicy() error = %v", err)
	}
	env := &testEnv{
		repo:     &fakeRepo{},
		resolver: &fakeResolver{resolution: auth.Resolution{Source: auth.SourceAnonymous}},
		search:   &fakeSearch{},
		files:    &fakeFiles{},
		history:  &fakeHistory{},
		logins:   &fakeLogins{},
		oauth:    &fakeOAuth{},
	}
	env.unit = &fakeUnit{repo: env.repo}
	env.service = New(Deps{
		Units:      env.unit,
		Policy:     policy,
		Resolver:   env.resolver,
		OAuth:      env.oauth,
		Logins:     env.logins,
		Search:     env.search,
		Files:      env.files,
		History:    env.history,
		Export:     export.NewService(export.NewEngine(), nil, export.Config{}, zerolog.Nop()),
		Logger:     zerolog.Nop(),
		SourceName: "keycloak",
	})
	env.server = NewHTTPServer(env.service, HTTPConfig{Logger: zerolog.Nop()})
	return env
}

// as makes every following request resolve to an identity with groups.
func (e *testEnv) as(sub string, groups ...string) Actor {
	identity := &auth.Identity{Sub: sub, Name: "Test " + sub, Groups: groups}
	e.resolver.resolution = auth.Resolution{
		Identity:       identity,
		Source:         auth.SourceClaim,
		ClaimID:        "jti-" + sub,
		ClaimExpiresAt: time.Now().Add(time.Minute),
	}
	return Actor{Identity: identity, ClaimID: "jti-" + sub}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestFailedAuthorInsertRollsBackMotion(t *testing.T) {
	env := newTestEnv(t)
	env.repo.createAntragFn = func(context.Context, []uuid.UUID, string, string, string) (store.Antrag, error) {
		return store.Antrag{}, errors.New("insert ersteller: foreign key")
	}

	_, err := env.service.CreateAntrag(context.Background(), AntragInput{
		Ersteller:   []uuid.UUID{uuid.New()},
		Titel:       "Mensa",
		Antragstext: "Mehr vegane Gerichte",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if env.unit.commits != 0 || env.unit.rollbacks != 1 {
		t.Fatalf("expected rollback without commit, got commits=%d rollbacks=%d", env.unit.commits, env.unit.rollbacks)
	}
	if len(env.search.indexed) != 0 {
		t.Fatalf("rolled back motion must not be indexed: %v", env.search.indexed)
	}
}

func TestCreateAntragIndexesAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	author := uuid.New()
	created := uuid.New()
	var gotAuthors []uuid.UUID
	env.repo.createAntragFn = func(_ context.Context, ersteller []uuid.UUID, titel, _, _ string) (store.Antrag, error) {
		gotAuthors = ersteller
		return store.Antrag{ID: created, Titel: titel, Ersteller: ersteller}, nil
	}

	antrag, err := env.service.CreateAntrag(context.Background(), AntragInput{
		Ersteller:   []uuid.UUID{author},
		Titel:       "  Mensa  ",
		Antragstext: "Mehr vegane Gerichte",
	})
	if err != nil {
		t.Fatalf("CreateAntrag() error = %v", err)
	}
	if antrag.Titel != "Mensa" || len(gotAuthors) != 1 || gotAuthors[0] != author {
		t.Fatalf("unexpected antrag %+v authors %v", antrag, gotAuthors)
	}
	if env.unit.commits != 1 || len(env.search.indexed) != 1 || env.search.indexed[0] != created.String() {
		t.Fatalf("expected one commit and one index call, got commits=%d indexed=%v", env.unit.commits, env.search.indexed)
	}
}

func TestCreateAntragValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.CreateAntrag(context.Background(), AntragInput{Titel: " "})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusBadRequest {
		t.Fatalf("expected validation error, got %v", err)
	}
	if env.unit.opened() != 0 {
		t.Fatal("validation must fail before opening a transaction")
	}
}

func TestDeleteAntragCleansUpAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	actor := env.as("boss", "finanzen")
	antragID := uuid.New()
	attachmentID := uuid.New()
	env.files.objects = map[uuid.UUID][]byte{attachmentID: []byte("pdf")}
	env.repo.antragByIDFn = func(context.Context, uuid.UUID) (store.Antrag, error) {
		return store.Antrag{ID: antragID}, nil
	}
	env.repo.deleteAntragFn = func(context.Context, uuid.UUID) ([]uuid.UUID, error) {
		return []uuid.UUID{attachmentID}, nil
	}

	if err := env.service.DeleteAntrag(context.Background(), actor, antragID); err != nil {
		t.Fatalf("DeleteAntrag() error = %v", err)
	}
	if len(env.files.deleted) != 1 || env.files.deleted[0] != attachmentID {
		t.Fatalf("attachment object not removed: %v", env.files.deleted)
	}
	if len(env.search.deleted) != 1 || env.search.deleted[0] != antragID.String() {
		t.Fatalf("search entry not removed: %v", env.search.deleted)
	}
}

func TestUploadAttachmentRemovesObjectWhenCommitFails(t *testing.T) {
	env := newTestEnv(t)
	actor := env.as("boss", "finanzen")
	antragID := uuid.New()
	attachmentID := uuid.New()
	env.unit.commitErr = errors.New("commit: connection reset")
	env.repo.antragByIDFn = func(context.Context, uuid.UUID) (store.Antrag, error) {
		return store.Antrag{ID: antragID}, nil
	}
	env.repo.createAttachmentFn = func(_ context.Context, _ uuid.UUID, filename string) (store.Attachment, error) {
		return store.Attachment{ID: attachmentID, Filename: filename}, nil
	}

	_, err := env.service.UploadAttachment(context.Background(), actor, antragID, AttachmentUpload{
		Filename: "../../haushalt.pdf",
		Body:     strings.NewReader("pdf"),
		Size:     3,
	})
	if err == nil {
		t.Fatal("expected commit error")
	}
	if _, ok := env.files.objects[attachmentID]; ok {
		t.Fatal("object must be removed after failed commit")
	}
}

func TestUploadAttachmentStripsDirectories(t *testing.T) {
	env := newTestEnv(t)
	actor := env.as("boss", "finanzen")
	antragID := uuid.New()
	env.repo.antragByIDFn = func(context.Context, uuid.UUID) (store.Antrag, error) {
		return store.Antrag{ID: antragID}, nil
	}
	var stored string
	env.repo.createAttachmentFn = func(_ context.Context, _ uuid.UUID, filename string) (store.Attachment, error) {
		stored = filename
		return store.Attachment{ID: uuid.New(), Filename: filename}, nil
	}

	if _, err := env.service.UploadAttachment(context.Background(), actor, antragID, AttachmentUpload{
		Filename: `..\..\haushalt.pdf`,
		Body:     strings.NewReader("pdf"),
	}); err != nil {
		t.Fatalf("UploadAttachment() error = %v", err)
	}
	if stored != "haushalt.pdf" {
		t.Fatalf("stored filename = %q", stored)
	}
}

func TestAttachmentsUnavailableWithoutStorage(t *testing.T) {
	env := newTestEnv(t)
	env.service.files = nil
	actor := env.as("boss", "finanzen")
	_, err := env.service.UploadAttachment(context.Background(), actor, uuid.New(), AttachmentUpload{Filename: "a.txt"})
	if status, _, _, _ := mapError(err); status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d (%v)", status, err)
	}
}

func TestTemplateChangesAreRecorded(t *testing.T) {
	env := newTestEnv(t)
	actor := env.as("boss", "vorstand")
	env.repo.createTemplateFn = func(_ context.Context, item store.Template) (store.Template, error) {
		return item, nil
	}
	env.repo.deleteTemplateFn = func(_ context.Context, name string) (*store.Template, error) {
		return &store.Template{Name: name}, nil
	}

	if _, err := env.service.CreateTemplate(context.Background(), actor, TemplateInput{Name: "kurz", Inhalt: "{{.Sitzung.Location}}"}); err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	if _, err := env.service.DeleteTemplate(context.Background(), actor, "kurz"); err != nil {
		t.Fatalf("DeleteTemplate() error = %v", err)
	}
	if len(env.history.commits) != 1 || env.history.commits[0] != "create template kurz" {
		t.Fatalf("unexpected commits %v", env.history.commits)
	}
	if len(env.history.removed) != 1 {
		t.Fatalf("expected removal to be recorded, got %v", env.history.removed)
	}
}

func TestInvalidTemplateIsRejectedBeforeWriting(t *testing.T) {
	env := newTestEnv(t)
	actor := env.as("boss", "vorstand")
	_, err := env.service.CreateTemplate(context.Background(), actor, TemplateInput{Name: "kaputt", Inhalt: "{{.Sitzung"})
	if !errors.Is(err, export.ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate, got %v", err)
	}
	if env.unit.opened() != 0 || len(env.history.commits) != 0 {
		t.Fatal("invalid template must not reach the store or history")
	}
}

func TestDeleteMissingTemplateIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	actor := env.as("boss", "vorstand")
	env.repo.deleteTemplateFn = func(context.Context, string) (*store.Template, error) { return nil, nil }
	_, err := env.service.DeleteTemplate(context.Background(), actor, "fehlt")
	if status, _, _, _ := mapError(err); status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	if len(env.history.removed) != 0 {
		t.Fatal("nothing deleted, nothing to record")
	}
}

func TestRenderProtocolUsesStoredTemplate(t *testing.T) {
	env := newTestEnv(t)
	sitzungID := uuid.New()
	env.repo.sitzungWithTopsFn = func(context.Context, uuid.UUID) (store.SitzungWithTops, error) {
		return store.SitzungWithTops{Sitzung: store.Sitzung{ID: sitzungID, Location: "Raum 1.23", Datetime: time.Date(2026, 5, 4, 16, 30, 0, 0, time.UTC)}}, nil
	}
	env.repo.personsFn = func(context.Context) ([]store.Person, error) { return nil, nil }
	env.repo.templateByNameFn = func(_ context.Context, name string) (store.Template, error) {
		if name != "kurz" {
			return store.Template{}, store.ErrNotFound
		}
		return store.Template{Name: "kurz", Inhalt: "Ort: {{.Sitzung.Location}}"}, nil
	}

	result, err := env.service.RenderProtocol(context.Background(), sitzungID, "kurz", export.FormatHTML)
	if err != nil {
		t.Fatalf("RenderProtocol() error = %v", err)
	}
	if string(result.Data) != "Ort: Raum 1.23" {
		t.Fatalf("unexpected output %q", result.Data)
	}

	result, err = env.service.RenderProtocol(context.Background(), sitzungID, export.DefaultTemplate, export.FormatHTML)
	if err != nil {
		t.Fatalf("default protocol error = %v", err)
	}
	if !strings.Contains(string(result.Data), "Raum 1.23") {
		t.Fatal("default protocol misses location")
	}

	if _, err := env.service.RenderProtocol(context.Background(), sitzungID, "fehlt", export.FormatHTML); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown template: want ErrNotFound, got %v", err)
	}
	if env.unit.txs != 0 {
		t.Fatal("rendering must not open transactions")
	}
}

func TestTemplateRevisionEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.history.revisions = map[string]string{"kurz@abc1234": "Ort: {{.Sitzung.Location}}"}

	rr := env.do(http.MethodGet, "/api/templates/kurz/history/abc1234", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := decodeJSON(t, rr); payload["inhalt"] != "Ort: {{.Sitzung.Location}}" || payload["hash"] != "abc1234" {
		t.Fatalf("unexpected revision %v", payload)
	}

	rr = env.do(http.MethodGet, "/api/templates/kurz/history/fffffff", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown revision: expected 404, got %d", rr.Code)
	}

	env.service.history = nil
	rr = env.do(http.MethodGet, "/api/templates/kurz/history/abc1234", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("without history: expected 503, got %d", rr.Code)
	}
}

func TestAbmeldungenAtDate(t *testing.T) {
	env := newTestEnv(t)
	var asked time.Time
	env.repo.abmeldungenAtFn = func(_ context.Context, day time.Time) ([]store.Abmeldung, error) {
		asked = day
		return []store.Abmeldung{{PersonID: uuid.New(), Start: day, End: day}}, nil
	}

	rr := env.do(http.MethodGet, "/api/abmeldungen?date=2026-05-04T00:00:00Z", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !asked.Equal(time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("queried %v", asked)
	}

	rr = env.do(http.MethodGet, "/api/abmeldungen?date=gestern", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	asked = time.Time{}
	rr = env.do(http.MethodGet, "/api/abmeldungen", "")
	if rr.Code != http.StatusOK || asked.IsZero() {
		t.Fatalf("date defaults to now, got %d", rr.Code)
	}
}
