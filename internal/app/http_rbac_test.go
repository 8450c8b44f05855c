package app

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"fachschaft/api/internal/store"
)

func TestGuardedRoutesRejectMissingCapability(t *testing.T) {
	id := uuid.New()
	other := uuid.New()
	routes := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPut, "/api/persons", `{"name":"Erika"}`},
		{http.MethodPatch, "/api/persons/" + id.String(), `{"name":"Erika"}`},
		{http.MethodDelete, "/api/persons/" + id.String(), ""},
		{http.MethodPut, "/api/persons/" + id.String() + "/roles", `{"role":"Vorsitz","start":"2026-01-01T00:00:00Z","end":"2026-12-31T00:00:00Z"}`},
		{http.MethodPut, "/api/roles", `{"name":"Kasse"}`},
		{http.MethodDelete, "/api/roles/Kasse", ""},
		{http.MethodPost, "/api/legislative-periods", `{"name":"2026/27"}`},
		{http.MethodPost, "/api/sitzungen", `{"datetime":"2026-05-04T16:30:00Z","location":"Raum 1.23","kind":"normal"}`},
		{http.MethodPatch, "/api/sitzungen/" + id.String(), `{"location":"Mensa"}`},
		{http.MethodDelete, "/api/sitzungen/" + id.String(), ""},
		{http.MethodPost, "/api/sitzungen/" + id.String() + "/tops", `{"name":"Finanzen"}`},
		{http.MethodPatch, "/api/sitzungen/" + id.String() + "/tops/" + other.String(), `{"name":"Kasse"}`},
		{http.MethodPatch, "/api/sitzungen/" + id.String() + "/tops/" + other.String() + "/assoc", `{"antragId":"` + uuid.NewString() + `"}`},
		{http.MethodDelete, "/api/sitzungen/" + id.String() + "/tops/" + other.String() + "/assoc", `{"antragId":"` + uuid.NewString() + `"}`},
		{http.MethodPost, "/api/door-state", `{"isOpen":true}`},
		{http.MethodPost, "/api/templates", `{"name":"kurz","inhalt":"x"}`},
		{http.MethodPatch, "/api/templates/kurz", `{"inhalt":"y"}`},
		{http.MethodDelete, "/api/templates/kurz", ""},
	}

	actors := []struct {
		name   string
		groups []string
	}{
		{name: "anonymous"},
		{name: "member", groups: []string{"mitglied"}},
		{name: "unknown group", groups: []string{"gast"}},
	}

	for _, actor := range actors {
		for _, route := range routes {
			t.Run(fmt.Sprintf("%s %s %s", actor.name, route.method, route.path), func(t *testing.T) {
				env := newTestEnv(t)
				if actor.name != "anonymous" {
					env.as("sub-1", actor.groups...)
				}

				rr := env.do(route.method, route.path, route.body)
				if rr.Code != http.StatusUnauthorized {
					t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
				}
				if payload := decodeJSON(t, rr); payload["code"] != "UNAUTHORIZED" {
					t.Fatalf("expected UNAUTHORIZED code, got %v", payload["code"])
				}
				if env.unit.opened() != 0 {
					t.Fatalf("denied request opened %d database scopes", env.unit.opened())
				}
			})
		}
	}
}

func TestAnonymousCannotSubmitMotion(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodPost, "/api/antraege", `{"titel":"Mensa","antragstext":"Mehr Kaffee"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if env.repo.called("CreateAntrag") {
		t.Fatal("CreateAntrag must not run for anonymous callers")
	}
}

func TestAdminHoldsEveryCapability(t *testing.T) {
	env := newTestEnv(t)
	env.as("root", "admin")
	sitzungID := uuid.New()
	env.repo.createTopFn = func(_ context.Context, sid uuid.UUID, name, inhalt string, kind store.TopKind) (store.Top, error) {
		return store.Top{ID: uuid.New(), SitzungID: sid, Name: name, Inhalt: inhalt, Kind: kind, Weight: 1}, nil
	}
	env.repo.createDoorStateFn = func(_ context.Context, at time.Time, isOpen bool) (store.DoorState, error) {
		return store.DoorState{Time: at, IsOpen: isOpen}, nil
	}

	rr := env.do(http.MethodPost, "/api/sitzungen/"+sitzungID.String()+"/tops", `{"name":"Finanzen"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeJSON(t, rr)
	if payload["kind"] != "normal" || payload["weight"] != float64(1) {
		t.Fatalf("unexpected top %v", payload)
	}

	rr = env.do(http.MethodPost, "/api/door-state", `{"isOpen":true}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if env.unit.commits != 2 {
		t.Fatalf("expected two commits, got %d", env.unit.commits)
	}
}

func TestTopsGetIncreasingWeightsPerKind(t *testing.T) {
	env := newTestEnv(t)
	env.as("chair", "vorstand")
	sitzungID := uuid.New()
	weights := map[store.TopKind]int64{}
	env.repo.createTopFn = func(_ context.Context, sid uuid.UUID, name, _ string, kind store.TopKind) (store.Top, error) {
		weights[kind]++
		return store.Top{ID: uuid.New(), SitzungID: sid, Name: name, Kind: kind, Weight: weights[kind]}, nil
	}

	var got []float64
	for _, body := range []string{`{"name":"Eins"}`, `{"name":"Zwei"}`, `{"name":"Bericht","kind":"bericht"}`} {
		rr := env.do(http.MethodPost, "/api/sitzungen/"+sitzungID.String()+"/tops", body)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
		}
		got = append(got, decodeJSON(t, rr)["weight"].(float64))
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 1 {
		t.Fatalf("unexpected weights %v", got)
	}
}

func TestUnknownTopKindIsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.as("chair", "vorstand")
	rr := env.do(http.MethodPost, "/api/sitzungen/"+uuid.NewString()+"/tops", `{"name":"X","kind":"party"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if env.unit.opened() != 0 {
		t.Fatal("validation must fail before the transaction")
	}
}

func TestMotionOwnership(t *testing.T) {
	antragID := uuid.New()
	authorID := uuid.New()
	strangerID := uuid.New()

	tests := []struct {
		name        string
		sub         string
		groups      []string
		personID    uuid.UUID
		antragFound bool
		wantStatus  int
		wantUpdate  bool
		wantLookup  bool
	}{
		{name: "author", sub: "author", personID: authorID, antragFound: true, wantStatus: http.StatusOK, wantUpdate: true, wantLookup: true},
		{name: "stranger", sub: "stranger", personID: strangerID, antragFound: true, wantStatus: http.StatusUnauthorized, wantLookup: true},
		{name: "manager", sub: "stranger", groups: []string{"finanzen"}, personID: strangerID, antragFound: true, wantStatus: http.StatusOK, wantUpdate: true},
		{name: "missing motion", sub: "author", personID: authorID, wantStatus: http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.as(tc.sub, tc.groups...)
			env.repo.antragByIDFn = func(context.Context, uuid.UUID) (store.Antrag, error) {
				if !tc.antragFound {
					return store.Antrag{}, store.ErrNotFound
				}
				return store.Antrag{ID: antragID, Titel: "Mensa", Ersteller: []uuid.UUID{authorID}}, nil
			}
			env.repo.personByUserNameFn = func(_ context.Context, userName string) (store.Person, error) {
				if userName != "keycloak-"+tc.sub {
					t.Fatalf("unexpected user name %q", userName)
				}
				return store.Person{ID: tc.personID, UserName: userName}, nil
			}
			env.repo.updateAntragFn = func(_ context.Context, id uuid.UUID, patch store.AntragPatch) (store.Antrag, error) {
				return store.Antrag{ID: id, Titel: *patch.Titel, Ersteller: []uuid.UUID{authorID}}, nil
			}

			rr := env.do(http.MethodPatch, "/api/antraege/"+antragID.String(), `{"titel":"Mensa 2.0"}`)
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d body=%s", tc.wantStatus, rr.Code, rr.Body.String())
			}
			if got := env.repo.called("UpdateAntrag"); got != tc.wantUpdate {
				t.Fatalf("UpdateAntrag called = %v, want %v", got, tc.wantUpdate)
			}
			if got := env.repo.called("PersonByUserName"); got != tc.wantLookup {
				t.Fatalf("PersonByUserName called = %v, want %v", got, tc.wantLookup)
			}
			if !tc.wantUpdate && env.unit.commits != 0 {
				t.Fatal("rejected update must not commit")
			}
		})
	}
}

func TestMotionDeleteRequiresLogin(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodDelete, "/api/antraege/"+uuid.NewString(), "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if env.unit.opened() != 0 {
		t.Fatal("anonymous delete must not reach the database")
	}
}

func TestActorWithoutPersonRowIsNotAnAuthor(t *testing.T) {
	env := newTestEnv(t)
	env.as("fresh")
	env.repo.antragByIDFn = func(context.Context, uuid.UUID) (store.Antrag, error) {
		return store.Antrag{Ersteller: []uuid.UUID{uuid.New()}}, nil
	}
	env.repo.personByUserNameFn = func(context.Context, string) (store.Person, error) {
		return store.Person{}, store.ErrNotFound
	}
	rr := env.do(http.MethodDelete, "/api/antraege/"+uuid.NewString(), "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestAbmeldungSelfService(t *testing.T) {
	selfID := uuid.New()
	otherID := uuid.New()
	body := `{"start":"2026-05-01T00:00:00Z","end":"2026-05-14T00:00:00Z"}`

	tests := []struct {
		name       string
		groups     []string
		target     uuid.UUID
		wantStatus int
	}{
		{name: "self", target: selfID, wantStatus: http.StatusOK},
		{name: "other person", target: otherID, wantStatus: http.StatusUnauthorized},
		{name: "person manager", groups: []string{"vorstand"}, target: otherID, wantStatus: http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.as("me", tc.groups...)
			env.repo.personByUserNameFn = func(context.Context, string) (store.Person, error) {
				return store.Person{ID: selfID}, nil
			}
			env.repo.createAbmeldungFn = func(_ context.Context, personID uuid.UUID, start, end time.Time) (store.Abmeldung, error) {
				return store.Abmeldung{PersonID: personID, Start: start, End: end}, nil
			}

			rr := env.do(http.MethodPut, "/api/persons/"+tc.target.String()+"/abmeldungen", body)
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d body=%s", tc.wantStatus, rr.Code, rr.Body.String())
			}
			if created := env.repo.called("CreateAbmeldung"); created != (tc.wantStatus == http.StatusOK) {
				t.Fatalf("CreateAbmeldung called = %v", created)
			}
		})
	}
}

func TestAbmeldungRejectsInvertedInterval(t *testing.T) {
	env := newTestEnv(t)
	env.as("me")
	rr := env.do(http.MethodPut, "/api/persons/"+uuid.NewString()+"/abmeldungen", `{"start":"2026-05-14T00:00:00Z","end":"2026-05-01T00:00:00Z"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTopOfOtherMeetingIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.as("chair", "vorstand")
	env.repo.topByIDFn = func(_ context.Context, id uuid.UUID) (store.Top, error) {
		return store.Top{ID: id, SitzungID: uuid.New()}, nil
	}
	path := "/api/sitzungen/" + uuid.NewString() + "/tops/" + uuid.NewString() + "/assoc"
	rr := env.do(http.MethodPatch, path, `{"antragId":"`+uuid.NewString()+`"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rr.Code, rr.Body.String())
	}
	if env.repo.called("AttachAntragToTop") {
		t.Fatal("attach must not run for a foreign top")
	}
}

func TestAssocReportsWhetherAnythingChanged(t *testing.T) {
	env := newTestEnv(t)
	env.as("chair", "vorstand")
	sitzungID := uuid.New()
	topID := uuid.New()
	antragID := uuid.New()
	linked := false
	env.repo.topByIDFn = func(context.Context, uuid.UUID) (store.Top, error) {
		return store.Top{ID: topID, SitzungID: sitzungID}, nil
	}
	env.repo.antragByIDFn = func(context.Context, uuid.UUID) (store.Antrag, error) {
		return store.Antrag{ID: antragID}, nil
	}
	env.repo.attachFn = func(_ context.Context, a, top uuid.UUID) (*store.AntragTopMapping, error) {
		if linked {
			return nil, nil
		}
		linked = true
		return &store.AntragTopMapping{AntragID: a, TopID: top}, nil
	}
	env.repo.detachFn = func(_ context.Context, a, top uuid.UUID) (*store.AntragTopMapping, error) {
		if !linked {
			return nil, nil
		}
		linked = false
		return &store.AntragTopMapping{AntragID: a, TopID: top}, nil
	}

	path := "/api/sitzungen/" + sitzungID.String() + "/tops/" + topID.String() + "/assoc"
	body := `{"antragId":"` + antragID.String() + `"}`
	steps := []struct {
		method  string
		changed bool
	}{
		{http.MethodPatch, true},
		{http.MethodPatch, false},
		{http.MethodDelete, true},
		{http.MethodDelete, false},
	}
	for i, step := range steps {
		rr := env.do(step.method, path, body)
		if rr.Code != http.StatusOK {
			t.Fatalf("step %d: expected 200, got %d body=%s", i, rr.Code, rr.Body.String())
		}
		if got := decodeJSON(t, rr)["changed"]; got != step.changed {
			t.Fatalf("step %d: changed = %v, want %v", i, got, step.changed)
		}
	}
}

func TestAssocRequiresMotionID(t *testing.T) {
	env := newTestEnv(t)
	env.as("chair", "vorstand")
	path := "/api/sitzungen/" + uuid.NewString() + "/tops/" + uuid.NewString() + "/assoc"
	rr := env.do(http.MethodPatch, path, `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
