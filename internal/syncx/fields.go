package syncx

// FieldWhitelist is the fixed, ordered set of note fields a conflict report
// may name. Conflict changedFields are always a subset, in this order.
var FieldWhitelist = []string{
	"content",
	"title",
	"tags",
	"type",
	"isProcessed",
	"isCompleted",
	"isArchived",
	"isPinned",
	"dueDate",
	"priority",
	"analysisState",
	"analysisVersion",
	"contentHash",
	"deletedAt",
}

var whitelisted = func() map[string]struct{} {
	m := make(map[string]struct{}, len(FieldWhitelist))
	for _, f := range FieldWhitelist {
		m[f] = struct{}{}
	}
	return m
}()

// DiffFields compares two notes field by field across the whitelist and
// returns the names that differ, in whitelist order.
func DiffFields(base, server *Note) []string {
	differs := map[string]bool{
		"content":         base.Content != server.Content,
		"title":           !eqStrPtr(base.Title, server.Title),
		"tags":            !eqTags(base.Tags, server.Tags),
		"type":            base.Type != server.Type,
		"isProcessed":     base.IsProcessed != server.IsProcessed,
		"isCompleted":     base.IsCompleted != server.IsCompleted,
		"isArchived":      base.IsArchived != server.IsArchived,
		"isPinned":        base.IsPinned != server.IsPinned,
		"dueDate":         !eqI64Ptr(base.DueDate, server.DueDate),
		"priority":        !eqStrPtr(base.Priority, server.Priority),
		"analysisState":   !eqStrPtr(base.AnalysisState, server.AnalysisState),
		"analysisVersion": !eqIntPtr(base.AnalysisVersion, server.AnalysisVersion),
		"contentHash":     !eqStrPtr(base.ContentHash, server.ContentHash),
		"deletedAt":       !eqI64Ptr(base.DeletedAt, server.DeletedAt),
	}

	var out []string
	for _, f := range FieldWhitelist {
		if differs[f] {
			out = append(out, f)
		}
	}
	return out
}

// FilterFields keeps only whitelisted names from a client's claimed list and
// re-orders them to whitelist order.
func FilterFields(claimed []string) []string {
	keep := make(map[string]struct{}, len(claimed))
	for _, f := range claimed {
		if _, ok := whitelisted[f]; ok {
			keep[f] = struct{}{}
		}
	}
	var out []string
	for _, f := range FieldWhitelist {
		if _, ok := keep[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// ConflictFields computes the changedFields payload for a version conflict.
// base is the client's snapshot of what it edited against; base and server
// may each be nil. With both snapshots present the diff is authoritative,
// empty included; otherwise the client's claimed fields are used, defaulting
// to content. A tombstoned server note always reports deletedAt.
func ConflictFields(base, server *Note, claimed []string) []string {
	var fields []string
	if base != nil && server != nil {
		// An empty base diff stays empty: the base snapshot proves nothing
		// the client can merge at actually moved.
		fields = DiffFields(base, server)
	} else {
		fields = FilterFields(claimed)
		if len(fields) == 0 {
			fields = []string{"content"}
		}
	}
	if server != nil && server.Deleted() && !contains(fields, "deletedAt") {
		fields = append(fields, "deletedAt")
	}
	return fields
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func eqStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqI64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
