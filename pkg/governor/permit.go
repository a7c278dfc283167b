package governor

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tollgate/pkg/core"
	"tollgate/pkg/feedback"
)

// Permit is the admission of one call. Its debit is already committed; Complete
// reports the call's outcome back to the governor.
type Permit struct {
	ID         uuid.UUID
	Operation  string
	Category   string
	Cost       core.CostVector
	AdmittedAt time.Time
	Waited     time.Duration

	chargeOnReject bool
	gov            *Governor
	done           atomic.Bool
}

// Complete reconciles the governor with the call's response metadata. When the venue
// rejected the call and the operation is not billed on rejection, the permit's debit is
// returned first. Only the first call has an effect.
func (p *Permit) Complete(meta feedback.Metadata) {
	if p == nil || !p.done.CompareAndSwap(false, true) {
		return
	}
	g := p.gov
	if meta.Rejected && !p.chargeOnReject {
		n := g.refund(p.Cost, p.AdmittedAt)
		g.metrics.refunds.Add(1)
		g.logger.Debug().Str("op", p.Operation).Str("permit", p.ID.String()).Int("dimensions", n).Msg("refunded rejected call")
	}
	g.apply(p.Operation, p.Cost.Dimensions(), meta)
}

// Completed reports whether Complete has been called.
func (p *Permit) Completed() bool {
	return p.done.Load()
}
