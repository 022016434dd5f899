package engine

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/spire-automator/internal/models"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
)

// Houser runs room searches until an assignment is confirmed.
//
// Each cycle runs the next search in round-robin order and assigns the best
// acceptable room. Without SearchForever the loop stops at the first confirmed
// assignment. With it the loop never stops and only moves to a room that ranks
// strictly better than the one already held, both ranked under the search of the
// current cycle. A held room that search would not accept is never given up.
type Houser struct {
	portal   HousingPortal
	searches []models.RoomSearch
	forever  bool
	pacer    *pacer
	logger   *zap.Logger
	observer HousingObserver

	current *models.Room
	cycles  int
}

// HouserOption configures a Houser.
type HouserOption func(*Houser)

// WithSearchForever keeps searching after the first assignment.
func WithSearchForever(forever bool) HouserOption {
	return func(h *Houser) {
		h.forever = forever
	}
}

// WithHousingLoadInterval sets the minimum interval between searches.
func WithHousingLoadInterval(d time.Duration) HouserOption {
	return func(h *Houser) {
		h.pacer.interval = d
	}
}

// WithHousingSleeper replaces the pacing wait.
func WithHousingSleeper(sleep Sleeper) HouserOption {
	return func(h *Houser) {
		if sleep != nil {
			h.pacer.sleep = sleep
		}
	}
}

// WithHousingClock replaces the time source.
func WithHousingClock(now Clock) HouserOption {
	return func(h *Houser) {
		if now != nil {
			h.pacer.now = now
		}
	}
}

// WithHousingLogger sets the logger.
func WithHousingLogger(logger *zap.Logger) HouserOption {
	return func(h *Houser) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHousingObserver adds an observer.
func WithHousingObserver(observer HousingObserver) HouserOption {
	return func(h *Houser) {
		if observer == nil {
			return
		}
		if existing, ok := h.observer.(HousingObservers); ok {
			h.observer = append(existing, observer)
			return
		}
		h.observer = HousingObservers{observer}
	}
}

// NewHouser constructs a housing loop over searches.
func NewHouser(portal HousingPortal, searches []models.RoomSearch, opts ...HouserOption) *Houser {
	h := &Houser{
		portal:   portal,
		searches: append([]models.RoomSearch(nil), searches...),
		pacer:    newPacer(DefaultLoadInterval, nil, nil),
		logger:   zap.NewNop(),
		observer: NopObserver{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Run blocks until an assignment is confirmed (or forever with SearchForever), ctx is done,
// or an irrecoverable fault occurs.
func (h *Houser) Run(ctx context.Context) error {
	if len(h.searches) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "at least one room search is required")
	}
	h.logger.Info("beginning automated room search", zap.Int("searches", len(h.searches)), zap.Bool("search_forever", h.forever))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		assigned, err := h.Cycle(ctx)
		if err != nil {
			return err
		}
		if assigned && !h.forever {
			h.logger.Info("room assigned", zap.String("room", h.current.String()), zap.Int("cycles", h.cycles))
			return nil
		}
		if _, err := h.pacer.wait(ctx); err != nil {
			return err
		}
	}
}

// Cycle runs the next search and assigns its best candidate. It reports whether an
// assignment was confirmed this cycle.
func (h *Houser) Cycle(ctx context.Context) (bool, error) {
	h.cycles++
	cycle := h.cycles
	h.pacer.mark()
	search := h.searches[(cycle-1)%len(h.searches)]

	start := h.pacer.now()
	results, err := h.portal.SearchRooms(ctx, search)
	h.observer.SearchCompleted(cycle, search, len(results), err, h.pacer.now().Sub(start))
	if err != nil {
		return false, h.absorb(ctx, err, "room search failed, retrying next cycle", zap.String("search", search.Name))
	}
	h.logger.Info("room search finished", zap.String("search", search.Name), zap.Int("rooms", len(results)))

	best, ok := h.pick(search, results)
	if !ok {
		h.logger.Debug("no acceptable room this cycle", zap.String("search", search.Name))
		return false, nil
	}

	h.logger.Info("assigning room", zap.String("room", best.String()))
	assigned, err := h.portal.Assign(ctx, best)
	h.observer.RoomAssigned(cycle, best, assigned && err == nil, err)
	if err != nil {
		return false, h.absorb(ctx, err, "room assignment faulted", zap.String("room", best.String()))
	}
	if !assigned {
		h.logger.Info("room assignment not confirmed", zap.String("room", best.String()))
		return false, nil
	}
	room := best
	h.current = &room
	return true, nil
}

// Current returns the last confirmed assignment.
func (h *Houser) Current() (models.Room, bool) {
	if h.current == nil {
		return models.Room{}, false
	}
	return *h.current, true
}

// Cycles returns the number of cycles started so far.
func (h *Houser) Cycles() int {
	return h.cycles
}

func (h *Houser) pick(search models.RoomSearch, results []models.Room) (models.Room, bool) {
	best, rank, ok := BestRoom(search, results)
	if !ok || h.current == nil {
		return best, ok
	}
	if best.Key() == h.current.Key() {
		return models.Room{}, false
	}
	heldRank, acceptable := RankRoom(search, heldRoom(search, *h.current))
	if !acceptable || rank >= heldRank {
		return models.Room{}, false
	}
	return best, true
}

// heldRoom ignores availability: the student already occupies a space.
func heldRoom(search models.RoomSearch, room models.Room) models.Room {
	if room.OpenSpaces < search.MinOpenSpaces {
		room.OpenSpaces = search.MinOpenSpaces
	}
	if room.OpenSpaces < 1 {
		room.OpenSpaces = 1
	}
	return room
}

func (h *Houser) absorb(ctx context.Context, err error, msg string, fields ...zap.Field) error {
	if appErrors.IsIrrecoverable(err) {
		h.logger.Error("irrecoverable portal fault", append(fields, zap.Error(err))...)
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	h.logger.Warn(msg, append(fields, zap.Error(err))...)
	return nil
}

// BestRoom returns the best acceptable room and its rank (lower is better). Ties keep
// the portal's result order.
func BestRoom(search models.RoomSearch, rooms []models.Room) (models.Room, int, bool) {
	var (
		best     models.Room
		bestRank int
		found    bool
	)
	for _, room := range rooms {
		rank, ok := RankRoom(search, room)
		if !ok {
			continue
		}
		if !found || rank < bestRank {
			best, bestRank, found = room, rank, true
		}
	}
	return best, bestRank, found
}

// RankRoom scores a room against the search preferences. Rooms without open space, or
// outside the allowed designs and types, are not acceptable. Preferred buildings rank
// first in listed order, then preferred areas, then everything else.
func RankRoom(search models.RoomSearch, room models.Room) (int, bool) {
	minSpaces := search.MinOpenSpaces
	if minSpaces < 1 {
		minSpaces = 1
	}
	if room.OpenSpaces < minSpaces {
		return 0, false
	}
	if len(search.Designs) > 0 && indexFold(search.Designs, room.Design) < 0 {
		return 0, false
	}
	if len(search.Types) > 0 && indexFold(search.Types, room.Type) < 0 {
		return 0, false
	}
	if len(search.PreferredBuildings) == 0 && len(search.PreferredAreas) == 0 {
		return 0, true
	}
	if i := indexFold(search.PreferredBuildings, room.Building); i >= 0 {
		return i, true
	}
	area := room.Area
	if area == "" {
		area = models.ResidentialArea(room.Building)
	}
	if i := indexFold(search.PreferredAreas, area); i >= 0 {
		return len(search.PreferredBuildings) + i, true
	}
	return len(search.PreferredBuildings) + len(search.PreferredAreas), true
}

func indexFold(list []string, value string) int {
	value = strings.TrimSpace(value)
	for i, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), value) {
			return i
		}
	}
	return -1
}
