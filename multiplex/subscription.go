// Package multiplex implements the subscription multiplexer (C3): it
// owns the process-wide table of entity cells, ref-counts per-field
// interest across every consumer of a given (entity, id), and batches
// the resulting subscribe/unsubscribe intents before handing them to a
// transport.
package multiplex

import (
	"github.com/sylphxai/lens-go"
)

// key identifies one entity record.
type key struct {
	entity string
	id     string
}

// subscriptionState is the per-record bookkeeping the multiplexer keeps
// alongside the entity cell itself: how many live readers/subscribers
// are interested in each field, and in the whole record, plus the set of
// field names whose subscribe/unsubscribe intent has not yet been sent.
type subscriptionState struct {
	cell *lens.EntityCell

	fieldRefs map[string]int
	fullRefs  int

	pendingSubscribe   map[string]struct{}
	pendingUnsubscribe map[string]struct{}

	// pendingFullSubscribe/pendingFullUnsubscribe track the wildcard
	// intent the same way pendingSubscribe/pendingUnsubscribe do for
	// individual fields, since the whole-record subscription is a single
	// binary intent rather than a per-name set.
	pendingFullSubscribe   bool
	pendingFullUnsubscribe bool
}

func newSubscriptionState(cell *lens.EntityCell) *subscriptionState {
	return &subscriptionState{
		cell:               cell,
		fieldRefs:          make(map[string]int),
		pendingSubscribe:   make(map[string]struct{}),
		pendingUnsubscribe: make(map[string]struct{}),
	}
}

// retainField increments a field's ref count, queuing a subscribe intent
// the first time it goes from zero to one.
func (s *subscriptionState) retainField(field string) {
	s.fieldRefs[field]++
	if s.fieldRefs[field] == 1 {
		delete(s.pendingUnsubscribe, field)
		s.pendingSubscribe[field] = struct{}{}
	}
}

// releaseField decrements a field's ref count, queuing an unsubscribe
// intent once it drops back to zero.
func (s *subscriptionState) releaseField(field string) {
	if s.fieldRefs[field] == 0 {
		return
	}
	s.fieldRefs[field]--
	if s.fieldRefs[field] == 0 {
		delete(s.fieldRefs, field)
		delete(s.pendingSubscribe, field)
		s.pendingUnsubscribe[field] = struct{}{}
	}
}

// retainFull increments the whole-record ref count, queuing a wildcard
// subscribe intent the first time it goes from zero to one. The intent
// is not sent immediately: it goes out with the next flush, like the
// per-field intents.
func (s *subscriptionState) retainFull() {
	s.fullRefs++
	if s.fullRefs == 1 {
		s.pendingFullUnsubscribe = false
		s.pendingFullSubscribe = true
	}
}

// releaseFull decrements the whole-record ref count, queuing a wildcard
// unsubscribe intent once it drops back to zero.
func (s *subscriptionState) releaseFull() {
	if s.fullRefs == 0 {
		return
	}
	s.fullRefs--
	if s.fullRefs == 0 {
		s.pendingFullSubscribe = false
		s.pendingFullUnsubscribe = true
	}
}

// canDerive reports whether field is already covered by an existing
// subscription — either the whole-record wildcard, or that field's own
// ref-count being positive (spec §3 "canDerive ... is true iff the
// full-entity ref-count > 0, or every requested field's ref-count > 0").
func (s *subscriptionState) canDerive(field string) bool {
	return s.fullRefs > 0 || s.fieldRefs[field] > 0
}

// idle reports whether the record has no field ref counts and no
// whole-record ref count left. Holders of the entity cell itself are
// not counted.
func (s *subscriptionState) idle() bool {
	return s.fullRefs == 0 && len(s.fieldRefs) == 0
}
