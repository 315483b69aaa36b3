// Package entities derives named entities and thematic motifs from cached
// story corpora. Extraction is regex-heuristic by design: capitalized-word
// runs become candidate entities, and the multi-word "organization" versus
// "character" split is approximate rather than ground truth. User-authored
// override rules (suppress, merge) are applied before anything is persisted.
package entities

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"storyloom/internal/logging"
	"storyloom/internal/store"
)

var (
	entityPattern  = regexp.MustCompile(`\b([A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)*)\b`)
	keywordPattern = regexp.MustCompile(`[a-zA-Z]{5,}`)

	entityStopwords = map[string]struct{}{
		"The": {}, "A": {}, "An": {}, "And": {}, "But": {}, "Or": {},
		"He": {}, "She": {}, "They": {}, "His": {}, "Her": {}, "Its": {},
		"Their": {}, "Chapter": {}, "Story": {},
	}

	titleCaser = cases.Title(language.English)
	foldCaser  = cases.Fold()
)

const (
	themeNameLimit     = 255
	keywordThemeLimit  = 5
	keywordCandidates  = 10
	declaredWeight     = 1.0
	declaredConfidence = 0.6
	keywordConfidence  = 0.45
)

// RefreshResult summarizes one extraction pass.
type RefreshResult struct {
	Processed  int
	Entities   int
	Themes     int
	StartedAt  time.Time
	FinishedAt time.Time
	DurationMS float64
}

// Metadata returns the audit-row payload for this pass.
func (r *RefreshResult) Metadata() map[string]any {
	return map[string]any{
		"processed":   r.Processed,
		"entities":    r.Entities,
		"themes":      r.Themes,
		"duration_ms": r.DurationMS,
	}
}

// Extractor mines entities and themes per story and fully replaces the
// stored rows on every pass.
type Extractor struct {
	store          *store.Store
	logger         *slog.Logger
	minOccurrences int
}

func NewExtractor(st *store.Store, logger *slog.Logger, minOccurrences int) *Extractor {
	if logger == nil {
		logger = logging.NewNop()
	}
	if minOccurrences < 1 {
		minOccurrences = 2
	}
	return &Extractor{
		store:          st,
		logger:         logging.NewComponentLogger(logger, "entities"),
		minOccurrences: minOccurrences,
	}
}

// Refresh re-extracts entities and themes for every story whose corpus
// snapshot is present. Stories without a snapshot are skipped.
func (e *Extractor) Refresh(ctx context.Context, stories []*store.Story, snapshots map[string]*store.CorpusSnapshot) (*RefreshResult, error) {
	startedAt := time.Now().UTC()
	timer := time.Now()
	result := &RefreshResult{StartedAt: startedAt}

	for _, story := range stories {
		snapshot := snapshots[story.ID]
		if snapshot == nil {
			e.logger.Debug("skipping entity extraction; corpus missing",
				logging.String(logging.FieldStoryID, story.ID),
			)
			continue
		}

		mined := e.mineEntities(snapshot)
		themes := e.buildThemes(story, snapshot)

		rules, err := e.loadOverrides(ctx, story.ID)
		if err != nil {
			return nil, err
		}
		mined = ApplyOverrides(mined, rules)

		if err := e.store.ReplaceExtraction(ctx, story.ID, mined, themes); err != nil {
			return nil, fmt.Errorf("replacing extraction for %s: %w", story.ID, err)
		}

		result.Processed++
		result.Entities += len(mined)
		result.Themes += len(themes)

		e.logger.Debug("entity extraction completed",
			logging.String(logging.FieldStoryID, story.ID),
			logging.Int("entities", len(mined)),
			logging.Int("themes", len(themes)),
		)
	}

	result.FinishedAt = time.Now().UTC()
	result.DurationMS = float64(time.Since(timer).Microseconds()) / 1000
	return result, nil
}

// mineEntities tallies capitalized-word runs across the snapshot's chapters.
func (e *Extractor) mineEntities(snapshot *store.CorpusSnapshot) []*store.Entity {
	counts := make(map[string]int)
	chapterHits := make(map[string]map[int]struct{})

	for _, doc := range snapshot.Data.Chapters {
		for _, match := range entityPattern.FindAllString(doc.Content, -1) {
			cleaned := strings.TrimSpace(match)
			if cleaned == "" {
				continue
			}
			if _, stop := entityStopwords[cleaned]; stop {
				continue
			}
			// Skip SHOUTING identifiers.
			if strings.ToUpper(cleaned) == cleaned {
				continue
			}
			counts[cleaned]++
			if chapterHits[cleaned] == nil {
				chapterHits[cleaned] = make(map[int]struct{})
			}
			chapterHits[cleaned][doc.ChapterNumber] = struct{}{}
		}
	}

	now := time.Now().UTC()
	entities := make([]*store.Entity, 0, len(counts))
	for name, occurrences := range counts {
		if occurrences < e.minOccurrences {
			continue
		}
		chapters := sortedInts(chapterHits[name])
		var firstSeen, lastSeen *int
		if len(chapters) > 0 {
			first := chapters[0]
			last := chapters[len(chapters)-1]
			firstSeen, lastSeen = &first, &last
		}
		entities = append(entities, &store.Entity{
			StoryID:            snapshot.StoryID,
			Name:               name,
			EntityType:         classifyEntity(name),
			Confidence:         entityConfidence(occurrences),
			FirstSeenChapter:   firstSeen,
			LastSeenChapter:    lastSeen,
			OccurrenceCount:    occurrences,
			SupportingChapters: chapters,
			UpdatedAt:          now,
		})
	}

	sort.Slice(entities, func(i, j int) bool {
		return strings.ToLower(entities[i].Name) < strings.ToLower(entities[j].Name)
	})
	return entities
}

// classifyEntity labels multi-word phrases as organizations and single words
// as characters. Approximate on purpose; override rules exist to correct it.
func classifyEntity(name string) string {
	if strings.Contains(name, " ") {
		return "organization"
	}
	return "character"
}

func entityConfidence(occurrences int) float64 {
	confidence := 0.3 + float64(occurrences)/5
	if confidence > 1.0 {
		return 1.0
	}
	return confidence
}

// buildThemes emits the story's declared themes first (full weight), then
// the top mined keywords with decaying weight. Duplicate names are folded
// case-insensitively, first occurrence wins.
func (e *Extractor) buildThemes(story *store.Story, snapshot *store.CorpusSnapshot) []*store.Theme {
	now := time.Now().UTC()
	themes := make([]*store.Theme, 0, 8)
	seen := make(map[string]struct{})

	add := func(name string, weight, confidence float64, source string, rank int) {
		normalized := strings.TrimSpace(name)
		if normalized == "" {
			return
		}
		truncated := normalized
		original := ""
		if runes := []rune(normalized); len(runes) > themeNameLimit {
			truncated = string(runes[:themeNameLimit])
			original = normalized
		}
		key := foldCaser.String(truncated)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		themes = append(themes, &store.Theme{
			StoryID:      story.ID,
			Name:         truncated,
			Weight:       weight,
			Confidence:   confidence,
			Source:       source,
			Rank:         rank,
			OriginalName: original,
			UpdatedAt:    now,
		})
	}

	for i, name := range normalizeThemeData(story.ThemeData) {
		add(name, declaredWeight, declaredConfidence, store.ThemeSourceDeclared, i+1)
	}
	for i, keyword := range extractKeywords(snapshot) {
		weight := 1.0 - 0.05*float64(i)
		if weight < 0.3 {
			weight = 0.3
		}
		add(keyword, weight, keywordConfidence, store.ThemeSourceKeyword, i+1)
	}
	return themes
}

// normalizeThemeData flattens the premise generator's theme payload, which
// may be a list, a map of groups, or a bare string.
func normalizeThemeData(data any) []string {
	switch value := data.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		out := make([]string, 0, len(value))
		for _, item := range value {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var out []string
		for _, key := range keys {
			if k := strings.TrimSpace(key); k != "" {
				out = append(out, k)
			}
			switch nested := value[key].(type) {
			case []any:
				for _, item := range nested {
					if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
						out = append(out, s)
					}
				}
			case string:
				if s := strings.TrimSpace(nested); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(value); s != "" {
			return []string{s}
		}
		return nil
	default:
		if s := strings.TrimSpace(fmt.Sprint(value)); s != "" {
			return []string{s}
		}
		return nil
	}
}

// extractKeywords pulls the most common long lowercase words from the
// premise and chapter text, title-cased for display.
func extractKeywords(snapshot *store.CorpusSnapshot) []string {
	var blob strings.Builder
	blob.WriteString(snapshot.Data.Premise)
	for _, doc := range snapshot.Data.Chapters {
		blob.WriteString(" ")
		blob.WriteString(doc.Content)
	}

	counts := make(map[string]int)
	var order []string
	for _, token := range keywordPattern.FindAllString(blob.String(), -1) {
		word := strings.ToLower(token)
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}

	// Rank by count with insertion order breaking ties, consider only the
	// top candidates, and keep words that actually repeat.
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > keywordCandidates {
		order = order[:keywordCandidates]
	}
	keywords := make([]string, 0, keywordThemeLimit)
	for _, word := range order {
		if len(keywords) == keywordThemeLimit {
			break
		}
		if counts[word] < 2 {
			continue
		}
		keywords = append(keywords, titleCaser.String(word))
	}
	return keywords
}

func (e *Extractor) loadOverrides(ctx context.Context, storyID string) (*Rules, error) {
	rows, err := e.store.OverridesForStory(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("loading overrides for %s: %w", storyID, err)
	}
	return CompileRules(rows), nil
}

func sortedInts(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for value := range set {
		out = append(out, value)
	}
	sort.Ints(out)
	return out
}
