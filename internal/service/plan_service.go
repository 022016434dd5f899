package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/noah-isme/spire-automator/internal/engine"
	"github.com/noah-isme/spire-automator/internal/models"
	"github.com/noah-isme/spire-automator/internal/portal/memory"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
)

// Condition types accepted in plan files.
const (
	CondSectionOpen           = "section_open"
	CondSectionClosed         = "section_closed"
	CondLectureEnrolled       = "lecture_enrolled"
	CondLectureNotEnrolled    = "lecture_not_enrolled"
	CondLectureInCart         = "lecture_in_cart"
	CondDiscussionEnrolled    = "discussion_enrolled"
	CondDiscussionNotEnrolled = "discussion_not_enrolled"
	CondEditable              = "editable"
	CondNot                   = "not"
	CondAllOf                 = "all_of"
	CondAnyOf                 = "any_of"
)

// PlanFile is the on-disk description of an enrollment plan.
type PlanFile struct {
	Actions []ActionSpec `mapstructure:"actions" validate:"required,min=1,dive"`
	Links   []LinkSpec   `mapstructure:"links" validate:"dive"`
	Compete [][]string   `mapstructure:"compete" validate:"dive,min=2,dive,required"`
}

// ActionSpec declares one action. Lectures are resolved against the live portal:
// add targets come from the cart, drop and edit targets from the schedule.
type ActionSpec struct {
	ID         string          `mapstructure:"id"`
	Kind       string          `mapstructure:"kind" validate:"required,oneof=add drop edit swap"`
	Lecture    string          `mapstructure:"lecture" validate:"required"`
	Discussion string          `mapstructure:"discussion"`
	Drop       string          `mapstructure:"drop" validate:"required_if=Kind swap"`
	Conditions []ConditionSpec `mapstructure:"conditions" validate:"dive"`
}

// ConditionSpec declares a condition; composites nest through Of.
type ConditionSpec struct {
	Type       string          `mapstructure:"type" validate:"required,oneof=section_open section_closed lecture_enrolled lecture_not_enrolled lecture_in_cart discussion_enrolled discussion_not_enrolled editable not all_of any_of"`
	Section    string          `mapstructure:"section"`
	Lecture    string          `mapstructure:"lecture"`
	Discussion string          `mapstructure:"discussion"`
	Of         []ConditionSpec `mapstructure:"of" validate:"dive"`
}

// LinkSpec makes every action in To satisfied once From succeeds.
type LinkSpec struct {
	From string   `mapstructure:"from" validate:"required"`
	To   []string `mapstructure:"to" validate:"required,min=1,dive,required"`
}

type searchesFile struct {
	Searches []models.RoomSearch `mapstructure:"searches" validate:"required,min=1,dive"`
}

type fixtureFile struct {
	Lectures []memory.FixtureLecture `mapstructure:"lectures" validate:"dive"`
	Schedule []string                `mapstructure:"schedule"`
	Cart     []string                `mapstructure:"cart"`
	Seats    []models.Section        `mapstructure:"seats" validate:"dive"`
	Rooms    []models.Room           `mapstructure:"rooms"`
}

// PlanService turns plan, search and fixture files into engine inputs.
type PlanService struct {
	validator *validator.Validate
	logger    *zap.Logger
	newID     func() string
}

// NewPlanService constructs the plan loader.
func NewPlanService(validate *validator.Validate, logger *zap.Logger) *PlanService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanService{validator: validate, logger: logger, newID: uuid.NewString}
}

// Load builds the plan described by path, or the cart-derived default plan when
// path is empty.
func (s *PlanService) Load(ctx context.Context, portal engine.EnrollmentPortal, path string) (*engine.Plan, error) {
	if strings.TrimSpace(path) == "" {
		s.logger.Info("no plan file configured, deriving plan from shopping cart")
		return s.DefaultPlan(ctx, portal)
	}
	file, err := s.ReadPlanFile(path)
	if err != nil {
		return nil, err
	}
	return s.Build(ctx, portal, file)
}

// ReadPlanFile parses and validates a YAML or JSON plan file.
func (s *PlanService) ReadPlanFile(path string) (*PlanFile, error) {
	var file PlanFile
	if err := s.readFile(path, &file); err != nil {
		return nil, err
	}
	for i := range file.Actions {
		file.Actions[i].Kind = strings.ToLower(strings.TrimSpace(file.Actions[i].Kind))
	}
	if err := s.validator.Struct(file); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid plan file")
	}
	return &file, nil
}

// Build resolves a plan file against the portal's current schedule and cart.
func (s *PlanService) Build(ctx context.Context, portal engine.EnrollmentPortal, file *PlanFile) (*engine.Plan, error) {
	if file == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "plan file is required")
	}
	schedule, cart, err := s.observe(ctx, portal)
	if err != nil {
		return nil, err
	}

	plan := engine.NewPlan()
	for _, spec := range file.Actions {
		action, err := s.buildAction(spec, schedule, cart)
		if err != nil {
			return nil, err
		}
		if err := plan.Add(action); err != nil {
			return nil, err
		}
	}
	for _, link := range file.Links {
		if err := plan.Link(link.From, link.To...); err != nil {
			return nil, err
		}
	}
	for _, group := range file.Compete {
		if err := plan.Compete(group...); err != nil {
			return nil, err
		}
	}
	s.logger.Info("plan loaded", zap.Int("actions", plan.Len()), zap.Int("links", len(file.Links)), zap.Int("compete_groups", len(file.Compete)))
	return plan, nil
}

// DefaultPlan adds every cart lecture. Lectures with discussions get one Add per
// discussion gated on its seat, and the alternatives compete so the first
// discussion to open wins.
func (s *PlanService) DefaultPlan(ctx context.Context, portal engine.EnrollmentPortal) (*engine.Plan, error) {
	_, cart, err := s.observe(ctx, portal)
	if err != nil {
		return nil, err
	}

	plan := engine.NewPlan()
	for _, lecture := range sortedLectureList(cart) {
		if !lecture.HasDiscussions() {
			if err := plan.Add(engine.NewAdd("add-"+lecture.ID, lecture, nil, engine.LectureNotEnrolled(lecture.ID))); err != nil {
				return nil, err
			}
			continue
		}
		group := make([]string, 0, len(lecture.Discussions))
		for _, d := range lecture.SortedDiscussions() {
			d := d
			id := fmt.Sprintf("add-%s-%s", lecture.ID, d.ID)
			if err := plan.Add(engine.NewAdd(id, lecture, &d, engine.SectionOpen(d.ID), engine.LectureNotEnrolled(lecture.ID))); err != nil {
				return nil, err
			}
			group = append(group, id)
		}
		if len(group) > 1 {
			if err := plan.Compete(group...); err != nil {
				return nil, err
			}
		}
	}
	if plan.Len() == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "shopping cart is empty and no plan file is configured")
	}
	s.logger.Info("default plan derived", zap.Int("actions", plan.Len()), zap.Int("cart", len(cart)))
	return plan, nil
}

// LoadSearches reads the ordered housing searches.
func (s *PlanService) LoadSearches(path string) ([]models.RoomSearch, error) {
	var file searchesFile
	if err := s.readFile(path, &file); err != nil {
		return nil, err
	}
	for i := range file.Searches {
		search := &file.Searches[i]
		search.Location = models.LocationFilter(strings.ToUpper(string(search.Location)))
		search.RoomFilter = models.RoomFilter(strings.ToUpper(string(search.RoomFilter)))
		search.Space = models.SpaceFilter(strings.ToUpper(string(search.Space)))
	}
	if err := s.validator.Struct(file); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid housing searches file")
	}
	return file.Searches, nil
}

// LoadFixture reads a simulated-portal fixture.
func (s *PlanService) LoadFixture(path string) (memory.Fixture, error) {
	var file fixtureFile
	if err := s.readFile(path, &file); err != nil {
		return memory.Fixture{}, err
	}
	// Seats are listed rather than keyed because viper folds map keys to lower case.
	for i := range file.Seats {
		file.Seats[i].Seats = models.SeatStatus(strings.ToUpper(strings.TrimSpace(string(file.Seats[i].Seats))))
	}
	if err := s.validator.Struct(file); err != nil {
		return memory.Fixture{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid portal fixture")
	}

	fixture := memory.Fixture{
		Lectures: file.Lectures,
		Schedule: file.Schedule,
		Cart:     file.Cart,
		Seats:    make(map[string]models.SeatStatus, len(file.Seats)),
		Rooms:    file.Rooms,
	}
	for _, seat := range file.Seats {
		fixture.Seats[seat.ID] = seat.Seats
	}
	return fixture, nil
}

func (s *PlanService) readFile(path string, dest interface{}) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("failed to read %s", path))
	}
	if err := v.Unmarshal(dest); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("failed to decode %s", path))
	}
	return nil
}

func (s *PlanService) observe(ctx context.Context, portal engine.EnrollmentPortal) (map[string]models.Lecture, map[string]models.Lecture, error) {
	schedule, err := portal.CurrentSchedule(ctx)
	if err != nil {
		return nil, nil, err
	}
	cart, err := portal.ShoppingCart(ctx)
	if err != nil {
		return nil, nil, err
	}
	return schedule, cart, nil
}

func (s *PlanService) buildAction(spec ActionSpec, schedule, cart map[string]models.Lecture) (engine.Action, error) {
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		id = s.newID()
	}
	conditions := make([]engine.Condition, 0, len(spec.Conditions))
	for _, cs := range spec.Conditions {
		cond, err := buildCondition(cs)
		if err != nil {
			return nil, fmt.Errorf("action %s: %w", id, err)
		}
		conditions = append(conditions, cond)
	}

	switch engine.Kind(strings.ToUpper(spec.Kind)) {
	case engine.KindAdd:
		lecture, err := lookupLecture(cart, spec.Lecture, "shopping cart")
		if err != nil {
			return nil, err
		}
		discussion, err := optionalDiscussion(lecture, spec.Discussion)
		if err != nil {
			return nil, err
		}
		return engine.NewAdd(id, lecture, discussion, conditions...), nil
	case engine.KindDrop:
		lecture, err := lookupLecture(schedule, spec.Lecture, "schedule")
		if err != nil {
			return nil, err
		}
		return engine.NewDrop(id, lecture, conditions...), nil
	case engine.KindEdit:
		lecture, err := lookupLecture(schedule, spec.Lecture, "schedule")
		if err != nil {
			return nil, err
		}
		discussion, err := optionalDiscussion(lecture, spec.Discussion)
		if err != nil {
			return nil, err
		}
		if discussion == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("edit %s requires a discussion", id))
		}
		return engine.NewEdit(id, lecture, *discussion, conditions...), nil
	case engine.KindSwap:
		drop, err := lookupLecture(schedule, spec.Drop, "schedule")
		if err != nil {
			return nil, err
		}
		add, err := lookupLecture(cart, spec.Lecture, "shopping cart")
		if err != nil {
			return nil, err
		}
		discussion, err := optionalDiscussion(add, spec.Discussion)
		if err != nil {
			return nil, err
		}
		return engine.NewSwap(id, drop, add, discussion, conditions...), nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown action kind %q", spec.Kind))
	}
}

func buildCondition(spec ConditionSpec) (engine.Condition, error) {
	need := func(field, value string) error {
		if strings.TrimSpace(value) == "" {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("condition %s requires %s", spec.Type, field))
		}
		return nil
	}

	switch strings.ToLower(spec.Type) {
	case CondSectionOpen, CondSectionClosed:
		if err := need("section", spec.Section); err != nil {
			return engine.Condition{}, err
		}
		if strings.EqualFold(spec.Type, CondSectionOpen) {
			return engine.SectionOpen(spec.Section), nil
		}
		return engine.SectionClosed(spec.Section), nil
	case CondLectureEnrolled, CondLectureNotEnrolled, CondLectureInCart:
		if err := need("lecture", spec.Lecture); err != nil {
			return engine.Condition{}, err
		}
		switch strings.ToLower(spec.Type) {
		case CondLectureEnrolled:
			return engine.LectureEnrolled(spec.Lecture), nil
		case CondLectureNotEnrolled:
			return engine.LectureNotEnrolled(spec.Lecture), nil
		default:
			return engine.LectureInCart(spec.Lecture), nil
		}
	case CondDiscussionEnrolled, CondDiscussionNotEnrolled, CondEditable:
		if err := need("lecture", spec.Lecture); err != nil {
			return engine.Condition{}, err
		}
		if err := need("discussion", spec.Discussion); err != nil {
			return engine.Condition{}, err
		}
		switch strings.ToLower(spec.Type) {
		case CondDiscussionEnrolled:
			return engine.DiscussionEnrolled(spec.Lecture, spec.Discussion), nil
		case CondDiscussionNotEnrolled:
			return engine.DiscussionNotEnrolled(spec.Lecture, spec.Discussion), nil
		default:
			return engine.Editable(spec.Lecture, spec.Discussion), nil
		}
	case CondNot:
		if len(spec.Of) != 1 {
			return engine.Condition{}, appErrors.Clone(appErrors.ErrValidation, "condition not takes exactly one operand")
		}
		inner, err := buildCondition(spec.Of[0])
		if err != nil {
			return engine.Condition{}, err
		}
		return engine.Not(inner), nil
	case CondAllOf, CondAnyOf:
		if len(spec.Of) == 0 {
			return engine.Condition{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("condition %s needs operands", spec.Type))
		}
		operands := make([]engine.Condition, 0, len(spec.Of))
		for _, child := range spec.Of {
			cond, err := buildCondition(child)
			if err != nil {
				return engine.Condition{}, err
			}
			operands = append(operands, cond)
		}
		if strings.EqualFold(spec.Type, CondAllOf) {
			return engine.AllOf(operands...), nil
		}
		return engine.AnyOf(operands...), nil
	default:
		return engine.Condition{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown condition type %q", spec.Type))
	}
}

func lookupLecture(lectures map[string]models.Lecture, id, where string) (models.Lecture, error) {
	lecture, ok := lectures[strings.TrimSpace(id)]
	if !ok {
		return models.Lecture{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("lecture %q not found in %s", id, where))
	}
	return lecture, nil
}

func optionalDiscussion(lecture models.Lecture, id string) (*models.Discussion, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	d, ok := lecture.Discussion(id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("lecture %s has no discussion %q", lecture.ID, id))
	}
	return &d, nil
}

func sortedLectureList(lectures map[string]models.Lecture) []models.Lecture {
	list := make([]models.Lecture, 0, len(lectures))
	for _, l := range lectures {
		list = append(list, l)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
