// Package trialcond resolves named trial conditions to concrete trial sets.
//
// A condition is a registered function name plus an argument dictionary.
// Plain argument keys restrict (all must match); keys with a leading
// underscore exclude (any match drops the record).
package trialcond

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"ephyspipe/internal/dhash"
	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
)

const (
	FuncExcludeStim = "trials_exclude_stim"
	FuncIncludeStim = "trials_include_stim"
)

var ErrUnknownConditionFunc = errors.New("trialcond: unknown condition function")

// Source is the record set conditions select from.
type Source interface {
	ListBehaviorTrials(ctx context.Context) ([]models.BehaviorTrial, error)
	ListStimEvents(ctx context.Context) ([]repository.StimEvent, error)
}

type Func func(ctx context.Context, src Source, args map[string]any) ([]models.TrialKey, error)

type Registry struct {
	funcs map[string]Func
}

// NewRegistry returns a registry holding the built-in stim functions.
func NewRegistry() *Registry {
	r := &Registry{funcs: map[string]Func{}}
	r.Register(FuncExcludeStim, ExcludeStim)
	r.Register(FuncIncludeStim, IncludeStim)
	return r
}

func (r *Registry) Register(name string, fn Func) {
	r.funcs[name] = fn
}

func (r *Registry) Lookup(name string) (Func, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConditionFunc, name)
	}
	return fn, nil
}

// Trials materializes the trial keys selected by a stored condition.
func (r *Registry) Trials(ctx context.Context, src Source, cond models.TrialCondition) ([]models.TrialKey, error) {
	fn, err := r.Lookup(cond.TrialConditionFunc)
	if err != nil {
		return nil, err
	}
	args := map[string]any{}
	if len(cond.TrialConditionArgs) > 0 {
		if err := json.Unmarshal(cond.TrialConditionArgs, &args); err != nil {
			return nil, fmt.Errorf("trialcond: %s args: %w", cond.TrialConditionName, err)
		}
	}
	return fn(ctx, src, args)
}

// New builds a storable condition; the hash covers function and arguments.
func (r *Registry) New(name, fn string, args map[string]any) (models.TrialCondition, error) {
	if _, err := r.Lookup(fn); err != nil {
		return models.TrialCondition{}, err
	}
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return models.TrialCondition{}, err
	}
	return models.TrialCondition{
		TrialConditionName: name,
		TrialConditionFunc: fn,
		TrialConditionArgs: datatypes.JSON(raw),
		TrialConditionHash: Hash(fn, args),
	}, nil
}

// Hash is independent of argument order.
func Hash(fn string, args map[string]any) string {
	return dhash.DictToHash(map[string]string{
		"trial_condition_func": fn,
		"trial_condition_arg":  dhash.DictToHash(stringify(args)),
	})
}

func stringify(args map[string]any) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// Spec is a condition definition before it is stored.
type Spec struct {
	Name string
	Func string
	Args map[string]any
}

// DefaultSpecs are the conditions created by a PSTH populate run.
func DefaultSpecs() []Spec {
	return []Spec{
		{Name: "all_nostim", Func: FuncExcludeStim, Args: map[string]any{}},
		{Name: "all_stim", Func: FuncIncludeStim, Args: map[string]any{}},
		{Name: "stim_left", Func: FuncIncludeStim, Args: map[string]any{"stim_laterality": "left"}},
		{Name: "stim_right", Func: FuncIncludeStim, Args: map[string]any{"stim_laterality": "right"}},
		{Name: "stim_both", Func: FuncIncludeStim, Args: map[string]any{"stim_laterality": "both"}},
	}
}

// MatchNames returns the sorted names containing every keyword, each
// keyword consuming its match so repeated keywords need repeated matches.
func MatchNames(names, keywords []string) []string {
	var out []string
	for _, name := range names {
		rest, ok := name, true
		for _, k := range keywords {
			if !strings.Contains(rest, k) {
				ok = false
				break
			}
			rest = strings.ReplaceAll(rest, k, "")
		}
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ExcludeStim selects behavior trials that have no matching stim event.
func ExcludeStim(ctx context.Context, src Source, args map[string]any) ([]models.TrialKey, error) {
	behav, stim, err := selectTrials(ctx, src, args)
	if err != nil {
		return nil, err
	}
	out := make([]models.TrialKey, 0, len(behav))
	for _, k := range behav {
		if _, ok := stim[k]; !ok {
			out = append(out, k)
		}
	}
	return out, nil
}

// IncludeStim selects behavior trials that have a matching stim event.
func IncludeStim(ctx context.Context, src Source, args map[string]any) ([]models.TrialKey, error) {
	behav, stim, err := selectTrials(ctx, src, args)
	if err != nil {
		return nil, err
	}
	out := make([]models.TrialKey, 0, len(stim))
	for _, k := range behav {
		if _, ok := stim[k]; ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func selectTrials(ctx context.Context, src Source, args map[string]any) ([]models.TrialKey, map[models.TrialKey]struct{}, error) {
	include, exclude := splitArgs(args)

	trials, err := src.ListBehaviorTrials(ctx)
	if err != nil {
		return nil, nil, err
	}
	events, err := src.ListStimEvents(ctx)
	if err != nil {
		return nil, nil, err
	}

	behavIn, behavEx := restrictTo(include, behaviorFields), restrictTo(exclude, behaviorFields)
	stimIn, stimEx := restrictTo(include, stimFields), restrictTo(exclude, stimFields)

	var behav []models.TrialKey
	for _, bt := range trials {
		attrs := behaviorAttrs(bt)
		if matchAll(attrs, behavIn) && !matchAny(attrs, behavEx) {
			behav = append(behav, models.TrialKey{SubjectID: bt.SubjectID, Session: bt.Session, Trial: bt.Trial})
		}
	}
	stim := map[models.TrialKey]struct{}{}
	for _, ev := range events {
		attrs := stimAttrs(ev)
		if matchAll(attrs, stimIn) && !matchAny(attrs, stimEx) {
			stim[models.TrialKey{SubjectID: ev.SubjectID, Session: ev.Session, Trial: ev.Trial}] = struct{}{}
		}
	}
	return behav, stim, nil
}

func splitArgs(args map[string]any) (include, exclude map[string]any) {
	include, exclude = map[string]any{}, map[string]any{}
	for k, v := range args {
		if strings.HasPrefix(k, "_") {
			exclude[k[1:]] = v
		} else {
			include[k] = v
		}
	}
	return include, exclude
}

var behaviorFields = map[string]struct{}{
	"subject_id": {}, "session": {}, "trial": {}, "task": {}, "task_protocol": {},
}

// session-level fields are not stim attributes
var stimFields = map[string]struct{}{
	"trial": {}, "photostim_event_id": {}, "photo_stim": {}, "photostim_device": {},
	"power": {}, "pulse_duration": {}, "pulse_frequency": {}, "pulses_per_train": {},
	"photostim_event_time": {}, "stim_brain_area": {}, "stim_laterality": {},
}

func restrictTo(args map[string]any, fields map[string]struct{}) map[string]any {
	out := map[string]any{}
	for k, v := range args {
		if _, ok := fields[k]; ok {
			out[k] = v
		}
	}
	return out
}

func behaviorAttrs(bt models.BehaviorTrial) map[string]any {
	return map[string]any{
		"subject_id":    bt.SubjectID,
		"session":       bt.Session,
		"trial":         bt.Trial,
		"task":          bt.Task,
		"task_protocol": bt.TaskProtocol,
	}
}

func stimAttrs(ev repository.StimEvent) map[string]any {
	return map[string]any{
		"trial":                ev.Trial,
		"photostim_event_id":   ev.PhotostimEventID,
		"photo_stim":           ev.PhotoStim,
		"photostim_device":     ev.PhotostimDevice,
		"power":                ev.Power,
		"pulse_duration":       ev.PulseDuration,
		"pulse_frequency":      ev.PulseFrequency,
		"pulses_per_train":     ev.PulsesPerTrain,
		"photostim_event_time": ev.PhotostimEventTime,
		"stim_brain_area":      ev.StimBrainArea,
		"stim_laterality":      ev.StimLaterality,
	}
}

func matchAll(attrs, want map[string]any) bool {
	for k, v := range want {
		if !equalValue(attrs[k], v) {
			return false
		}
	}
	return true
}

func matchAny(attrs, want map[string]any) bool {
	for k, v := range want {
		if equalValue(attrs[k], v) {
			return true
		}
	}
	return false
}

// equalValue compares a record attribute with a JSON argument, numerically
// when both sides are numbers.
func equalValue(attr, arg any) bool {
	a, aNil := text(attr)
	b, bNil := text(arg)
	if aNil || bNil {
		return aNil && bNil
	}
	da, errA := decimal.NewFromString(a)
	db, errB := decimal.NewFromString(b)
	if errA == nil && errB == nil {
		return da.Equal(db)
	}
	return a == b
}

func text(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", true
	case *int:
		if x == nil {
			return "", true
		}
		return fmt.Sprint(*x), false
	case *decimal.Decimal:
		if x == nil {
			return "", true
		}
		return x.String(), false
	case decimal.Decimal:
		return x.String(), false
	case float64:
		return decimal.NewFromFloat(x).String(), false
	default:
		return fmt.Sprint(x), false
	}
}
