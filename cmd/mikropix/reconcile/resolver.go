package reconcile

import (
	"sort"
	"time"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

// DefaultTolerance is the widest timestamp gap accepted by heuristic matching.
const DefaultTolerance = time.Second

// Resolver attributes sale records to resellers. The device owner lookup is
// built once per request; heuristic matching is only used for PIX rows that
// neither carry a user nor belong to an owned device, and its results are
// always marked low confidence.
type Resolver struct {
	owners    map[string]string
	hints     []models.AttributionHint
	tolerance time.Duration
}

func NewResolver(devices []models.Device, hints []models.AttributionHint, tolerance time.Duration) *Resolver {
	owners := make(map[string]string, len(devices))
	for _, d := range devices {
		if d.OwnerID != "" {
			owners[d.ID] = d.OwnerID
		}
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Resolver{owners: owners, hints: hints, tolerance: tolerance}
}

type reference struct {
	userID    string
	timestamp time.Time
}

// Resolve returns attributed copies of records; the input is left untouched.
func (r *Resolver) Resolve(records []models.SaleRecord) []models.SaleRecord {
	out := make([]models.SaleRecord, len(records))
	copy(out, records)

	for i := range out {
		rec := &out[i]
		if rec.UserID != "" {
			if rec.Attribution == models.AttributionUnresolved || rec.Attribution == "" {
				rec.Attribution = models.AttributionDirect
			}
			continue
		}
		if owner, ok := r.owners[rec.DeviceID]; ok {
			rec.UserID = owner
			rec.Attribution = models.AttributionDirect
			continue
		}
		rec.Attribution = models.AttributionUnresolved
	}

	index := make(map[string][]reference)
	for _, rec := range out {
		if rec.Source != models.SourcePix || rec.UserID == "" {
			continue
		}
		k := matchKey(rec.GrossAmount.StringFixed(2), rec.AdminCommission.StringFixed(2))
		index[k] = append(index[k], reference{userID: rec.UserID, timestamp: rec.Timestamp})
	}
	for _, h := range r.hints {
		if h.UserID == "" {
			continue
		}
		k := matchKey(h.GrossAmount.StringFixed(2), h.AdminCommission.StringFixed(2))
		index[k] = append(index[k], reference{userID: h.UserID, timestamp: h.Timestamp})
	}
	for k := range index {
		refs := index[k]
		sort.SliceStable(refs, func(i, j int) bool {
			if !refs[i].timestamp.Equal(refs[j].timestamp) {
				return refs[i].timestamp.Before(refs[j].timestamp)
			}
			return refs[i].userID < refs[j].userID
		})
	}

	for i := range out {
		rec := &out[i]
		if rec.UserID != "" || rec.Source != models.SourcePix {
			rec.Confidence = rec.Attribution.Confidence()
			continue
		}
		k := matchKey(rec.GrossAmount.StringFixed(2), rec.AdminCommission.StringFixed(2))
		if userID, ambiguous, ok := r.match(index[k], rec.Timestamp); ok {
			rec.UserID = userID
			rec.Attribution = models.AttributionHeuristic
			rec.Ambiguous = ambiguous
		}
		rec.Confidence = rec.Attribution.Confidence()
	}
	return out
}

// match picks the reference closest in time within the tolerance; refs are
// ordered by timestamp so the earliest wins a tie.
func (r *Resolver) match(refs []reference, at time.Time) (string, bool, bool) {
	best := -1
	var bestGap time.Duration
	users := make(map[string]struct{})
	for i, ref := range refs {
		gap := ref.timestamp.Sub(at)
		if gap < 0 {
			gap = -gap
		}
		if gap > r.tolerance {
			continue
		}
		users[ref.userID] = struct{}{}
		if best == -1 || gap < bestGap {
			best, bestGap = i, gap
		}
	}
	if best == -1 {
		return "", false, false
	}
	return refs[best].userID, len(users) > 1, true
}

func matchKey(gross, admin string) string {
	return gross + "|" + admin
}

// Payable reports whether a record may feed a balance-affecting computation.
func Payable(rec models.SaleRecord) bool {
	return rec.Payable && rec.UserID != "" && rec.Attribution == models.AttributionDirect
}
