// Package syncengine implements the Sync Engine (C7): push/pull against a
// remote transport.Adapter, ancestor-aware fast-forward detection, and
// three-way conflict detection/resolution (spec.md §4.7).
//
// The per-field diff in this file generalizes the field-by-field 3-way
// merge rules this codebase has long used for merging concurrently edited
// records: unchanged-on-one-side fields take the other side, fields changed
// identically on both sides take that value, and only a true two-sided
// divergence is a conflict.
package syncengine

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/odi-dev/odi/internal/entity"
)

// ConflictingField is one field that changed to different values on both
// sides of a divergent ref (spec.md §4.7.4).
type ConflictingField struct {
	Name          string
	LocalValue    any
	RemoteValue   any
	AncestorValue any
}

// threeWayDiffFields compares ancestor, local, and remote structs of the
// same concrete type field by field. It returns the set of conflicting
// fields; when empty, merged holds the auto-resolved value.
func threeWayDiffFields(ancestor, local, remote any) (merged any, conflicts []ConflictingField, err error) {
	lv := reflect.ValueOf(local)
	rv := reflect.ValueOf(remote)
	if lv.Type() != rv.Type() {
		return nil, nil, fmt.Errorf("threeWayDiffFields: type mismatch %s vs %s", lv.Type(), rv.Type())
	}
	var av reflect.Value
	hasAncestor := ancestor != nil
	if hasAncestor {
		av = reflect.ValueOf(ancestor)
	}

	lv, rv = reflect.Indirect(lv), reflect.Indirect(rv)
	if hasAncestor {
		av = reflect.Indirect(av)
	}

	out := reflect.New(lv.Type())
	outElem := out.Elem()

	for i := 0; i < lv.NumField(); i++ {
		field := lv.Type().Field(i)
		if field.PkgPath != "" { // unexported
			continue
		}
		lf := lv.Field(i)
		rf := rv.Field(i)

		var af reflect.Value
		ancestorKnown := hasAncestor
		if hasAncestor {
			af = av.Field(i)
		}

		localChanged := !ancestorKnown || !reflect.DeepEqual(af.Interface(), lf.Interface())
		remoteChanged := !ancestorKnown || !reflect.DeepEqual(af.Interface(), rf.Interface())
		sameValue := reflect.DeepEqual(lf.Interface(), rf.Interface())

		if !sameValue && ancestorKnown && localChanged && remoteChanged && isStringSet(field.Type) {
			merged, setConflict := setMergeField(af, lf, rf)
			outElem.Field(i).Set(merged)
			if setConflict {
				conflicts = append(conflicts, ConflictingField{
					Name: field.Name, LocalValue: lf.Interface(), RemoteValue: rf.Interface(), AncestorValue: af.Interface(),
				})
			}
			continue
		}

		switch {
		case sameValue:
			outElem.Field(i).Set(lf)
		case ancestorKnown && !localChanged && remoteChanged:
			outElem.Field(i).Set(rf)
		case ancestorKnown && localChanged && !remoteChanged:
			outElem.Field(i).Set(lf)
		case ancestorKnown && field.Name == "UpdatedAt" && field.Type == reflect.TypeOf(time.Time{}):
			// Every mutation bumps UpdatedAt, so both sides of any divergence
			// differ here; keep the later timestamp instead of reporting it.
			if rf.Interface().(time.Time).After(lf.Interface().(time.Time)) {
				outElem.Field(i).Set(rf)
			} else {
				outElem.Field(i).Set(lf)
			}
		default:
			cf := ConflictingField{Name: field.Name, LocalValue: lf.Interface(), RemoteValue: rf.Interface()}
			if ancestorKnown {
				cf.AncestorValue = af.Interface()
			}
			conflicts = append(conflicts, cf)
			outElem.Field(i).Set(lf) // placeholder; caller must not use merged if conflicts is non-empty
		}
	}

	return out.Interface(), conflicts, nil
}

// isStringSet reports whether t is a slice of a string-kinded type — the
// shape every sorted-set field (Issue.CoAuthors/Assignees/Labels,
// Team.Members/Permissions/ProjectAccess, Project.Labels, ...) uses.
func isStringSet(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.String
}

// setMergeField merges a sorted-set field per spec.md §9 DESIGN NOTES:
// additions from either side union together, a removal only takes effect
// when both sides agree on it (the intersection of each side's removals),
// and a side adding while the other side removes is reported as a conflict
// rather than silently resolved in either direction. Implementers must not
// substitute whole-field equality or another set policy here.
func setMergeField(ancestor, local, remote reflect.Value) (merged reflect.Value, conflict bool) {
	ancestorSet := stringSetOf(ancestor)
	localSet := stringSetOf(local)
	remoteSet := stringSetOf(remote)

	localAdds := setDiff(localSet, ancestorSet)
	localRemoves := setDiff(ancestorSet, localSet)
	remoteAdds := setDiff(remoteSet, ancestorSet)
	remoteRemoves := setDiff(ancestorSet, remoteSet)

	// A pure add/add or remove/remove divergence resolves automatically
	// below; one side adding while the other removes (even a different
	// element) means the two sides disagree about the set's direction, so
	// it is reported rather than resolved.
	conflict = (len(localAdds) > 0 && len(remoteRemoves) > 0) || (len(remoteAdds) > 0 && len(localRemoves) > 0)

	result := make(map[string]bool, len(ancestorSet))
	for e := range ancestorSet {
		result[e] = true
	}
	for e := range localAdds {
		result[e] = true
	}
	for e := range remoteAdds {
		result[e] = true
	}
	for e := range localRemoves {
		if remoteRemoves[e] {
			delete(result, e)
		}
	}

	keys := make([]string, 0, len(result))
	for e := range result {
		keys = append(keys, e)
	}
	sort.Strings(keys)

	elemType := local.Type().Elem()
	out := reflect.MakeSlice(local.Type(), 0, len(keys))
	for _, e := range keys {
		out = reflect.Append(out, reflect.ValueOf(e).Convert(elemType))
	}
	return out, conflict
}

// stringSetOf collects a string-kinded slice's elements into a set, treating
// an invalid (zero) Value as empty.
func stringSetOf(v reflect.Value) map[string]bool {
	out := map[string]bool{}
	if !v.IsValid() {
		return out
	}
	for i := 0; i < v.Len(); i++ {
		out[v.Index(i).String()] = true
	}
	return out
}

// setDiff returns the elements of a not present in b.
func setDiff(a, b map[string]bool) map[string]bool {
	out := map[string]bool{}
	for e := range a {
		if !b[e] {
			out[e] = true
		}
	}
	return out
}

// isStructural reports whether a divergent ref's conflict must be treated
// as structural (spec.md §4.7.4): unknown ancestor, or differing entity
// kinds between local and remote.
func isStructural(ancestorHash string, localKind, remoteKind entity.Kind) bool {
	return ancestorHash == "" || localKind != remoteKind
}
