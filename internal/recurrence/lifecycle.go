package recurrence

import (
	"fmt"
	"time"
)

// ProfileStatus is the lifecycle state of a recurring profile.
type ProfileStatus string

const (
	ProfileActive    ProfileStatus = "ACTIVE"
	ProfilePaused    ProfileStatus = "PAUSED"
	ProfileCancelled ProfileStatus = "CANCELLED"
)

// Valid reports whether s is one of the enumerated profile states.
func (s ProfileStatus) Valid() bool {
	switch s {
	case ProfileActive, ProfilePaused, ProfileCancelled:
		return true
	}
	return false
}

// Terminal reports whether s allows no further transitions.
func (s ProfileStatus) Terminal() bool { return s == ProfileCancelled }

// profileTransitions declares the allowed profile state changes.
// CANCELLED has no outgoing edges.
var profileTransitions = map[ProfileStatus][]ProfileStatus{
	ProfileActive: {ProfilePaused, ProfileCancelled},
	ProfilePaused: {ProfileActive, ProfileCancelled},
}

// CanTransition reports whether from declares a transition to target.
func (s ProfileStatus) CanTransition(target ProfileStatus) bool {
	for _, t := range profileTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// TransitionKind distinguishes why a lifecycle operation was refused.
type TransitionKind int

const (
	// KindInvalidTransition: the current state does not declare the
	// requested transition.
	KindInvalidTransition TransitionKind = iota
	// KindAlreadyTerminal: the entity is in a terminal state. Split off so
	// callers can say "already handled" instead of "not allowed".
	KindAlreadyTerminal
)

// TransitionError reports a refused lifecycle transition. The entity is left
// unchanged; the caller surfaces the message and does not retry.
type TransitionError struct {
	Kind TransitionKind
	From string
	To   string
}

func (e *TransitionError) Error() string {
	if e.Kind == KindAlreadyTerminal {
		return fmt.Sprintf("state %s is terminal, cannot transition to %s", e.From, e.To)
	}
	return fmt.Sprintf("cannot transition from %s to %s", e.From, e.To)
}

// IsAlreadyTerminal reports whether err is a TransitionError refused because
// the entity was already in a terminal state.
func IsAlreadyTerminal(err error) bool {
	te, ok := err.(*TransitionError)
	return ok && te.Kind == KindAlreadyTerminal
}

// TransitionProfile checks the profile state machine and returns the new
// status, or a TransitionError when the edge is not declared. CANCELLED
// declares no outgoing edges, so every operation on a cancelled profile is
// refused as an invalid transition; the already-terminal split is reserved
// for instance re-marks, where it protects audit fields.
func TransitionProfile(from, to ProfileStatus) (ProfileStatus, error) {
	if !from.CanTransition(to) {
		return from, &TransitionError{Kind: KindInvalidTransition, From: string(from), To: string(to)}
	}
	return to, nil
}

// InstanceStatus is the completion state of one materialized occurrence.
type InstanceStatus string

const (
	InstanceUpcoming   InstanceStatus = "UPCOMING"
	InstanceInProgress InstanceStatus = "IN_PROGRESS"
	InstanceDone       InstanceStatus = "DONE"
	InstanceSkipped    InstanceStatus = "SKIPPED"
	// InstanceOverdue is derived, never stored: an UPCOMING or IN_PROGRESS
	// instance whose due date has passed. See EffectiveStatus.
	InstanceOverdue InstanceStatus = "OVERDUE"
)

// Valid reports whether s is a storable instance state. OVERDUE is excluded:
// it is computed at read time, not persisted.
func (s InstanceStatus) Valid() bool {
	switch s {
	case InstanceUpcoming, InstanceInProgress, InstanceDone, InstanceSkipped:
		return true
	}
	return false
}

// Terminal reports whether s allows no further transitions.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceDone || s == InstanceSkipped
}

// Instance is one materialized occurrence of a template, tracked through its
// own completion lifecycle independently of the template's on/off state.
type Instance struct {
	ID          string
	TemplateID  string
	PeriodStart time.Time
	PeriodEnd   time.Time
	DueAt       time.Time
	Status      InstanceStatus
	DoneAt      *time.Time
	DoneByID    string
	Note        string
}

// EffectiveStatus returns the status an instance should report at the given
// time. The stored status never becomes OVERDUE; callers must recompute this
// on every read since the same instance flips once now passes DueAt.
func EffectiveStatus(inst Instance, now time.Time) InstanceStatus {
	if (inst.Status == InstanceUpcoming || inst.Status == InstanceInProgress) && now.After(inst.DueAt) {
		return InstanceOverdue
	}
	return inst.Status
}

// MarkDone returns a copy of inst completed at now by doneBy. Re-marking a
// DONE or SKIPPED instance is refused as AlreadyTerminal so the original
// audit fields are never overwritten.
func MarkDone(inst Instance, doneBy, note string, now time.Time) (Instance, error) {
	return closeInstance(inst, InstanceDone, doneBy, note, now)
}

// MarkSkip returns a copy of inst skipped at now by doneBy. Same terminality
// rules as MarkDone.
func MarkSkip(inst Instance, doneBy, note string, now time.Time) (Instance, error) {
	return closeInstance(inst, InstanceSkipped, doneBy, note, now)
}

// Start returns a copy of inst moved to IN_PROGRESS.
func Start(inst Instance) (Instance, error) {
	if inst.Status.Terminal() {
		return inst, &TransitionError{Kind: KindAlreadyTerminal, From: string(inst.Status), To: string(InstanceInProgress)}
	}
	if inst.Status != InstanceUpcoming {
		return inst, &TransitionError{Kind: KindInvalidTransition, From: string(inst.Status), To: string(InstanceInProgress)}
	}
	inst.Status = InstanceInProgress
	return inst, nil
}

func closeInstance(inst Instance, target InstanceStatus, doneBy, note string, now time.Time) (Instance, error) {
	if inst.Status.Terminal() {
		return inst, &TransitionError{Kind: KindAlreadyTerminal, From: string(inst.Status), To: string(target)}
	}
	if inst.Status != InstanceUpcoming && inst.Status != InstanceInProgress {
		return inst, &TransitionError{Kind: KindInvalidTransition, From: string(inst.Status), To: string(target)}
	}
	inst.Status = target
	t := now
	inst.DoneAt = &t
	inst.DoneByID = doneBy
	inst.Note = note
	return inst, nil
}
