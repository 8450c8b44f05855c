package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Person struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	UserName  string    `json:"userName"`
	MatrixID  *string   `json:"matrixId"`
}

type NewPerson struct {
	Name      string
	FirstName string
	LastName  string
	UserName  string
	MatrixID  *string
}

type PersonPatch struct {
	Name      *string
	FirstName *string
	LastName  *string
	UserName  *string
	MatrixID  *string
}

type RoleAssignment struct {
	PersonID uuid.UUID `json:"personId"`
	Role     string    `json:"role"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

type Abmeldung struct {
	PersonID uuid.UUID `json:"personId"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

type LegislativePeriod struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type SitzungKind string

const (
	SitzungNormal        SitzungKind = "normal"
	SitzungVV            SitzungKind = "vv"
	SitzungWahlVV        SitzungKind = "wahlvv"
	SitzungErsatz        SitzungKind = "ersatz"
	SitzungKonsti        SitzungKind = "konsti"
	SitzungDringlichkeit SitzungKind = "dringlichkeit"
)

func ParseSitzungKind(value string) (SitzungKind, error) {
	switch kind := SitzungKind(strings.ToLower(strings.TrimSpace(value))); kind {
	case SitzungNormal, SitzungVV, SitzungWahlVV, SitzungErsatz, SitzungKonsti, SitzungDringlichkeit:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown sitzung kind %q", value)
	}
}

type TopKind string

const (
	TopRegularia     TopKind = "regularia"
	TopBericht       TopKind = "bericht"
	TopNormal        TopKind = "normal"
	TopVerschiedenes TopKind = "verschiedenes"
)

func ParseTopKind(value string) (TopKind, error) {
	switch kind := TopKind(strings.ToLower(strings.TrimSpace(value))); kind {
	case TopRegularia, TopBericht, TopNormal, TopVerschiedenes:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown top kind %q", value)
	}
}

type Sitzung struct {
	ID                  uuid.UUID   `json:"id"`
	Datetime            time.Time   `json:"datetime"`
	Location            string      `json:"location"`
	Kind                SitzungKind `json:"kind"`
	Antragsfrist        *time.Time  `json:"antragsfrist"`
	LegislativePeriodID *uuid.UUID  `json:"legislativePeriodId"`
}

type NewSitzung struct {
	Datetime            time.Time
	Location            string
	Kind                SitzungKind
	Antragsfrist        *time.Time
	LegislativePeriodID *uuid.UUID
}

type SitzungPatch struct {
	Datetime            *time.Time
	Location            *string
	Kind                *SitzungKind
	Antragsfrist        *time.Time
	LegislativePeriodID *uuid.UUID
}

type Top struct {
	ID        uuid.UUID `json:"id"`
	SitzungID uuid.UUID `json:"sitzungId"`
	Name      string    `json:"name"`
	Weight    int64     `json:"weight"`
	Inhalt    string    `json:"inhalt"`
	Kind      TopKind   `json:"kind"`
}

type TopPatch struct {
	Name   *string
	Inhalt *string
	Kind   *TopKind
	Weight *int64
}

type Antrag struct {
	ID          uuid.UUID   `json:"id"`
	Titel       string      `json:"titel"`
	Antragstext string      `json:"antragstext"`
	Begruendung string      `json:"begruendung"`
	CreatedAt   time.Time   `json:"createdAt"`
	Ersteller   []uuid.UUID `json:"ersteller"`
	Anhaenge    []uuid.UUID `json:"anhaenge"`
}

// HasAuthor reports whether personID is one of the recorded authors.
func (a Antrag) HasAuthor(personID uuid.UUID) bool {
	for _, id := range a.Ersteller {
		if id == personID {
			return true
		}
	}
	return false
}

type AntragPatch struct {
	// Ersteller replaces the full author set when non-nil.
	Ersteller   *[]uuid.UUID
	Titel       *string
	Antragstext *string
	Begruendung *string
}

type AntragTopMapping struct {
	AntragID uuid.UUID `json:"antragId"`
	TopID    uuid.UUID `json:"topId"`
}

type Attachment struct {
	ID       uuid.UUID `json:"id"`
	Filename string    `json:"filename"`
}

type DoorState struct {
	Time   time.Time `json:"time"`
	IsOpen bool      `json:"isOpen"`
}

type Template struct {
	Name   string `json:"name"`
	Inhalt string `json:"inhalt"`
}

type TopWithAntraege struct {
	Top
	Antraege []Antrag `json:"antraege"`
}

type SitzungWithTops struct {
	Sitzung
	Tops []TopWithAntraege `json:"tops"`
}
