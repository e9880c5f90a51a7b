package audit

import (
	"sort"
)

// DiffRecords compares the record sets of two runs and reports, per URL,
// whether it was added, removed, or changed (verdict or flag set) between
// them. Unchanged URLs are omitted. Output is URL-sorted.
func DiffRecords(before, after []AuditRecord) []URLDelta {
	beforeByURL := make(map[string]AuditRecord, len(before))
	for _, r := range before {
		beforeByURL[r.URL] = r
	}
	afterByURL := make(map[string]AuditRecord, len(after))
	for _, r := range after {
		afterByURL[r.URL] = r
	}

	var deltas []URLDelta
	for url, b := range beforeByURL {
		a, ok := afterByURL[url]
		if !ok {
			deltas = append(deltas, URLDelta{
				URL:           url,
				Kind:          DeltaRemoved,
				BeforeVerdict: recordVerdict(b),
				BeforeFlags:   sortedFlags(b.DiscrepancyFlags),
			})
			continue
		}
		if recordVerdict(b) == recordVerdict(a) && sameFlags(b.DiscrepancyFlags, a.DiscrepancyFlags) {
			continue
		}
		deltas = append(deltas, URLDelta{
			URL:           url,
			Kind:          DeltaChanged,
			BeforeVerdict: recordVerdict(b),
			AfterVerdict:  recordVerdict(a),
			BeforeFlags:   sortedFlags(b.DiscrepancyFlags),
			AfterFlags:    sortedFlags(a.DiscrepancyFlags),
		})
	}
	for url, a := range afterByURL {
		if _, ok := beforeByURL[url]; ok {
			continue
		}
		deltas = append(deltas, URLDelta{
			URL:          url,
			Kind:         DeltaAdded,
			AfterVerdict: recordVerdict(a),
			AfterFlags:   sortedFlags(a.DiscrepancyFlags),
		})
	}

	sort.Slice(deltas, func(i, j int) bool { return deltas[i].URL < deltas[j].URL })
	return deltas
}

func recordVerdict(r AuditRecord) Verdict {
	if r.Inspection == nil {
		return ""
	}
	return r.Inspection.Verdict
}

func sortedFlags(flags []Flag) []Flag {
	if len(flags) == 0 {
		return nil
	}
	out := append([]Flag(nil), flags...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sameFlags(a, b []Flag) bool {
	as, bs := sortedFlags(a), sortedFlags(b)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
