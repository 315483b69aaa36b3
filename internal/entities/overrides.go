package entities

import (
	"sort"
	"strings"

	"storyloom/internal/store"
)

// Rules is the compiled set of override actions for one story: names to
// drop entirely, and names to fold into a canonical target.
type Rules struct {
	Suppress map[string]struct{}
	Merges   map[string]string
}

// Empty reports whether the rules would change nothing.
func (r *Rules) Empty() bool {
	return r == nil || (len(r.Suppress) == 0 && len(r.Merges) == 0)
}

// CompileRules folds override rows (story-scoped plus global) into a Rules
// set. Merge rows without a target are ignored.
func CompileRules(rows []*store.EntityOverride) *Rules {
	rules := &Rules{
		Suppress: make(map[string]struct{}),
		Merges:   make(map[string]string),
	}
	for _, row := range rows {
		switch row.Action {
		case store.OverrideSuppress:
			rules.Suppress[row.Name] = struct{}{}
		case store.OverrideMerge:
			if target := strings.TrimSpace(row.TargetName); target != "" {
				rules.Merges[row.Name] = target
			}
		}
	}
	if rules.Empty() {
		return nil
	}
	return rules
}

// ApplyOverrides suppresses and merges mined entities per the rules, then
// aggregates rows that landed on the same canonical name: occurrence counts
// sum, confidence takes the max, the seen-chapter span widens, and aliases
// and supporting chapters union. Output is sorted case-insensitively.
func ApplyOverrides(mined []*store.Entity, rules *Rules) []*store.Entity {
	if rules.Empty() {
		return mined
	}

	aggregated := make(map[string]*store.Entity)
	var order []string
	for _, entity := range mined {
		if _, drop := rules.Suppress[entity.Name]; drop {
			continue
		}

		aliases := make(map[string]struct{}, len(entity.Aliases)+2)
		for _, alias := range entity.Aliases {
			aliases[alias] = struct{}{}
		}
		if target, ok := rules.Merges[entity.Name]; ok && target != entity.Name {
			aliases[entity.Name] = struct{}{}
			aliases[target] = struct{}{}
			entity.Name = target
		}

		key := strings.ToLower(entity.Name)
		existing := aggregated[key]
		if existing == nil {
			if len(aliases) > 0 {
				entity.Aliases = sortedStrings(aliases)
			}
			aggregated[key] = entity
			order = append(order, key)
			continue
		}

		existing.OccurrenceCount += entity.OccurrenceCount
		if entity.Confidence > existing.Confidence {
			existing.Confidence = entity.Confidence
		}
		if entity.FirstSeenChapter != nil &&
			(existing.FirstSeenChapter == nil || *entity.FirstSeenChapter < *existing.FirstSeenChapter) {
			existing.FirstSeenChapter = entity.FirstSeenChapter
		}
		if entity.LastSeenChapter != nil &&
			(existing.LastSeenChapter == nil || *entity.LastSeenChapter > *existing.LastSeenChapter) {
			existing.LastSeenChapter = entity.LastSeenChapter
		}

		merged := make(map[string]struct{}, len(existing.Aliases)+len(aliases))
		for _, alias := range existing.Aliases {
			merged[alias] = struct{}{}
		}
		for alias := range aliases {
			merged[alias] = struct{}{}
		}
		if len(merged) > 0 {
			existing.Aliases = sortedStrings(merged)
		}

		existing.SupportingChapters = unionInts(existing.SupportingChapters, entity.SupportingChapters)
	}

	out := make([]*store.Entity, 0, len(aggregated))
	for _, key := range order {
		out = append(out, aggregated[key])
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

func sortedStrings(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for value := range set {
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}

func unionInts(a, b []int) []int {
	set := make(map[int]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	return sortedInts(set)
}
