package types

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidRecord wraps every validation or decoding failure of a record.
var ErrInvalidRecord = errors.New("invalid record")

// Record is implemented by every resource type held in state.
type Record interface {
	RecordID() ID
	// WithID returns a copy of the record carrying id.
	WithID(id ID) Record
	Validate() error
}

// Role is the membership level of a user.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleGerant Role = "gerant"
	RoleMembre Role = "membre"
)

var roleLabels = map[Role]string{
	RoleAdmin:  "Administrateur",
	RoleGerant: "Gérant",
	RoleMembre: "Membre",
}

// Label returns the display label of the role, or the raw role when unknown.
func (r Role) Label() string {
	if l, ok := roleLabels[r]; ok {
		return l
	}
	return string(r)
}

// CanManage reports whether the role may moderate content and see census reports.
func (r Role) CanManage() bool {
	return r == RoleGerant || r == RoleAdmin
}

// CanAdmin reports whether the role may manage users.
func (r Role) CanAdmin() bool {
	return r == RoleAdmin
}

// XassidaStatus is the moderation state of a proposed xassida.
type XassidaStatus string

const (
	StatusPending  XassidaStatus = "en_attente"
	StatusValid    XassidaStatus = "valide"
	StatusRejected XassidaStatus = "rejete"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsValidEmail applies the loose shape check used at registration.
func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

func invalid(c Collection, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidRecord, c, fmt.Sprintf(format, args...))
}

// User is a member account.
type User struct {
	ID           ID     `json:"id"`
	Nom          string `json:"nom"`
	Email        string `json:"email"`
	Password     string `json:"password,omitempty"`
	Role         Role   `json:"role"`
	Diwane       ID     `json:"diwane,omitempty"`
	DateCreation string `json:"dateCreation,omitempty"`
}

func (u User) RecordID() ID { return u.ID }

func (u User) WithID(id ID) Record {
	u.ID = id
	return u
}

func (u User) Validate() error {
	if strings.TrimSpace(u.Nom) == "" {
		return invalid(Users, "nom is required")
	}
	if !IsValidEmail(u.Email) {
		return invalid(Users, "email %q is malformed", u.Email)
	}
	if u.Role != "" {
		if _, ok := roleLabels[u.Role]; !ok {
			return invalid(Users, "unknown role %q", u.Role)
		}
	}
	return nil
}

// Public returns r as it may leave the process. Users lose their password.
func Public(r Record) Record {
	if u, ok := r.(User); ok {
		u.Password = ""
		return u
	}
	return r
}

// PublicList applies Public to every record, returning a new slice.
func PublicList(recs []Record) []Record {
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = Public(r)
	}
	return out
}

// Xassida is a devotional text proposed by a member and moderated by managers.
type Xassida struct {
	ID           ID            `json:"id"`
	Titre        string        `json:"titre"`
	Auteur       string        `json:"auteur,omitempty"`
	Description  string        `json:"description,omitempty"`
	Statut       XassidaStatus `json:"statut,omitempty"`
	ProposePar   ID            `json:"proposePar,omitempty"`
	DateCreation string        `json:"dateCreation,omitempty"`
}

func (x Xassida) RecordID() ID { return x.ID }

func (x Xassida) WithID(id ID) Record {
	x.ID = id
	return x
}

func (x Xassida) Validate() error {
	if strings.TrimSpace(x.Titre) == "" {
		return invalid(Xassidas, "titre is required")
	}
	switch x.Statut {
	case "", StatusPending, StatusValid, StatusRejected:
	default:
		return invalid(Xassidas, "unknown statut %q", x.Statut)
	}
	return nil
}

// Evenement is a reading session organised by a diwane.
type Evenement struct {
	ID          ID     `json:"id"`
	Nom         string `json:"nom"`
	Description string `json:"description,omitempty"`
	Date        string `json:"date,omitempty"`
	Diwane      ID     `json:"diwane,omitempty"`
	CreePar     ID     `json:"creePar,omitempty"`
}

func (e Evenement) RecordID() ID { return e.ID }

func (e Evenement) WithID(id ID) Record {
	e.ID = id
	return e
}

func (e Evenement) Validate() error {
	if strings.TrimSpace(e.Nom) == "" {
		return invalid(Evenements, "nom is required")
	}
	if e.Date != "" {
		if _, err := ParseDate(e.Date); err != nil {
			return invalid(Evenements, "date %q: %v", e.Date, err)
		}
	}
	return nil
}

// Lecture records how many times a user read a xassida during an event.
type Lecture struct {
	ID          ID     `json:"id"`
	UserID      ID     `json:"userId"`
	XassidaID   ID     `json:"xassidaId"`
	EvenementID ID     `json:"evenementId"`
	Nombre      int    `json:"nombre"`
	Date        string `json:"date,omitempty"`
}

func (l Lecture) RecordID() ID { return l.ID }

func (l Lecture) WithID(id ID) Record {
	l.ID = id
	return l
}

func (l Lecture) Validate() error {
	if l.UserID == "" || l.XassidaID == "" || l.EvenementID == "" {
		return invalid(Lectures, "userId, xassidaId and evenementId are required")
	}
	if l.Nombre < 0 {
		return invalid(Lectures, "nombre must not be negative, got %d", l.Nombre)
	}
	return nil
}

// Diwane is a local chapter.
type Diwane struct {
	ID    ID     `json:"id"`
	Nom   string `json:"nom"`
	Ville string `json:"ville,omitempty"`
}

func (d Diwane) RecordID() ID { return d.ID }

func (d Diwane) WithID(id ID) Record {
	d.ID = id
	return d
}

func (d Diwane) Validate() error {
	if strings.TrimSpace(d.Nom) == "" {
		return invalid(Diwanes, "nom is required")
	}
	return nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

// ParseDate parses the date formats produced by the web forms and the store.
func ParseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
