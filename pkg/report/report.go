// Package report aggregates the loaded collections into the dashboard figures
// and the participation census shown to managers.
package report

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-diwane/pkg/types"
)

var (
	// ErrForbidden is returned when the user's role may not see a report.
	ErrForbidden = errors.New("role not allowed to view this report")
	// ErrUnknownUser is returned when a viewer id matches no user.
	ErrUnknownUser = errors.New("unknown user")
)

// Source is the state the reports are computed from. *client.Client satisfies it.
type Source interface {
	Load(ctx context.Context, colls ...types.Collection) error
	GetState(c types.Collection) []types.Record
}

// Dashboard holds the headline figures for one user.
type Dashboard struct {
	MyLectures        int `json:"myLectures"`
	AvailableXassidas int `json:"availableXassidas"`
	UpcomingEvents    int `json:"upcomingEvents"`
	// TotalUsers is only set for admins.
	TotalUsers *int `json:"totalUsers,omitempty"`
}

// Total is the number of readings attributed to one subject.
type Total struct {
	ID       types.ID `json:"id"`
	Label    string   `json:"label"`
	Nombre   int      `json:"nombre"`
	Lectures int      `json:"lectures"`
}

// Filter narrows the lectures counted by Participation. Empty fields match all.
type Filter struct {
	Diwane    types.ID
	Evenement types.ID
}

// Participation is the census of readings, each breakdown sorted by Nombre
// descending.
type Participation struct {
	Nombre      int     `json:"nombre"`
	Lectures    int     `json:"lectures"`
	ByEvenement []Total `json:"byEvenement"`
	ByDiwane    []Total `json:"byDiwane"`
	ByUser      []Total `json:"byUser"`
	ByXassida   []Total `json:"byXassida"`
}

// Reporter loads fresh state and computes reports from it.
type Reporter struct {
	src    Source
	logger zerolog.Logger
	now    func() time.Time
}

// NewReporter creates a Reporter reading from src.
func NewReporter(src Source, logger zerolog.Logger) (*Reporter, error) {
	if src == nil {
		return nil, errors.New("source cannot be nil")
	}
	return &Reporter{
		src:    src,
		logger: logger.With().Str("component", "Reporter").Logger(),
		now:    time.Now,
	}, nil
}

// Viewer loads the users and returns the one whose id is id.
func (r *Reporter) Viewer(ctx context.Context, id types.ID) (types.User, error) {
	if err := r.src.Load(ctx, types.Users); err != nil {
		return types.User{}, fmt.Errorf("failed to load users: %w", err)
	}
	for _, rec := range r.src.GetState(types.Users) {
		if u, ok := rec.(types.User); ok && u.ID == id {
			return u, nil
		}
	}
	return types.User{}, fmt.Errorf("%w: %s", ErrUnknownUser, id)
}

// Dashboard loads the collections it needs and returns user's figures.
func (r *Reporter) Dashboard(ctx context.Context, user types.User) (Dashboard, error) {
	if err := r.src.Load(ctx, types.Users, types.Xassidas, types.Evenements, types.Lectures); err != nil {
		return Dashboard{}, fmt.Errorf("failed to load dashboard data: %w", err)
	}
	return BuildDashboard(r.src, user, r.now()), nil
}

// Participation loads the collections it needs and returns the census. Only
// managers and admins may see it.
func (r *Reporter) Participation(ctx context.Context, user types.User, f Filter) (Participation, error) {
	if !user.Role.CanManage() {
		return Participation{}, fmt.Errorf("%w: %s", ErrForbidden, user.Role)
	}
	if err := r.src.Load(ctx, types.Users, types.Xassidas, types.Evenements, types.Lectures, types.Diwanes); err != nil {
		return Participation{}, fmt.Errorf("failed to load participation data: %w", err)
	}
	p := BuildParticipation(r.src, f)
	r.logger.Debug().Int("lectures", p.Lectures).Int("nombre", p.Nombre).Msg("Built participation report.")
	return p, nil
}

// BuildDashboard computes the dashboard from already loaded state. Upcoming
// events are those dated on or after the start of now's day in UTC.
func BuildDashboard(src Source, user types.User, now time.Time) Dashboard {
	var d Dashboard
	for _, r := range src.GetState(types.Lectures) {
		if l, ok := r.(types.Lecture); ok && l.UserID == user.ID {
			d.MyLectures++
		}
	}
	for _, r := range src.GetState(types.Xassidas) {
		if x, ok := r.(types.Xassida); ok && x.Statut == types.StatusValid {
			d.AvailableXassidas++
		}
	}
	today := now.UTC().Truncate(24 * time.Hour)
	for _, r := range src.GetState(types.Evenements) {
		e, ok := r.(types.Evenement)
		if !ok || e.Date == "" {
			continue
		}
		if at, err := types.ParseDate(e.Date); err == nil && !at.Before(today) {
			d.UpcomingEvents++
		}
	}
	if user.Role.CanAdmin() {
		n := len(src.GetState(types.Users))
		d.TotalUsers = &n
	}
	return d
}

// BuildParticipation computes the census from already loaded state. Lectures
// are attributed to a diwane through the reading user.
func BuildParticipation(src Source, f Filter) Participation {
	users := index[types.User](src.GetState(types.Users))
	xassidas := index[types.Xassida](src.GetState(types.Xassidas))
	evenements := index[types.Evenement](src.GetState(types.Evenements))
	diwanes := index[types.Diwane](src.GetState(types.Diwanes))

	byEvenement := newTally(func(id types.ID) string { return evenements[id].Nom })
	byDiwane := newTally(func(id types.ID) string { return diwanes[id].Nom })
	byUser := newTally(func(id types.ID) string { return users[id].Nom })
	byXassida := newTally(func(id types.ID) string { return xassidas[id].Titre })

	var p Participation
	for _, r := range src.GetState(types.Lectures) {
		l, ok := r.(types.Lecture)
		if !ok {
			continue
		}
		diwane := users[l.UserID].Diwane
		if f.Diwane != "" && diwane != f.Diwane {
			continue
		}
		if f.Evenement != "" && l.EvenementID != f.Evenement {
			continue
		}
		p.Nombre += l.Nombre
		p.Lectures++
		byEvenement.add(l.EvenementID, l.Nombre)
		byUser.add(l.UserID, l.Nombre)
		byXassida.add(l.XassidaID, l.Nombre)
		if diwane != "" {
			byDiwane.add(diwane, l.Nombre)
		}
	}

	p.ByEvenement = byEvenement.sorted()
	p.ByDiwane = byDiwane.sorted()
	p.ByUser = byUser.sorted()
	p.ByXassida = byXassida.sorted()
	return p
}

func index[T types.Record](recs []types.Record) map[types.ID]T {
	out := make(map[types.ID]T, len(recs))
	for _, r := range recs {
		if v, ok := r.(T); ok {
			out[v.RecordID()] = v
		}
	}
	return out
}

type tally struct {
	label  func(types.ID) string
	totals map[types.ID]*Total
}

func newTally(label func(types.ID) string) *tally {
	return &tally{label: label, totals: make(map[types.ID]*Total)}
}

func (t *tally) add(id types.ID, nombre int) {
	tot, ok := t.totals[id]
	if !ok {
		tot = &Total{ID: id, Label: t.label(id)}
		if tot.Label == "" {
			tot.Label = id.String()
		}
		t.totals[id] = tot
	}
	tot.Nombre += nombre
	tot.Lectures++
}

// sorted orders by Nombre descending, then label and id for a stable result.
func (t *tally) sorted() []Total {
	out := make([]Total, 0, len(t.totals))
	for _, tot := range t.totals {
		out = append(out, *tot)
	}
	slices.SortFunc(out, func(a, b Total) int {
		if c := cmp.Compare(b.Nombre, a.Nombre); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Label, b.Label); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
