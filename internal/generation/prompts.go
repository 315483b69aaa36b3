package generation

import (
	"fmt"
	"sort"
	"strings"

	"storyloom/internal/store"
)

const (
	premiseSystemPrompt = "You are a story architect. Respond with JSON only."
	chapterSystemPrompt = "You are a serial fiction writer. Respond with JSON only."

	evaluationSystemPrompt = "You are a story quality evaluator. Respond with JSON only."

	// Chapter excerpts fed to the evaluator are capped to keep the prompt
	// within model context limits.
	evaluationExcerptLimit = 4000
	coverPremiseLimit      = 200
)

func renderPremisePrompt(authors []string) string {
	var style string
	if len(authors) == 1 {
		style = fmt.Sprintf("Adopt the writing style and sensibilities of %s.", authors[0])
	} else {
		style = fmt.Sprintf("Blend the writing styles and sensibilities of %s, and %s.",
			strings.Join(authors[:len(authors)-1], ", "), authors[len(authors)-1])
	}
	var b strings.Builder
	b.WriteString("Invent a premise for a new serialized science fiction story.\n")
	b.WriteString(style)
	b.WriteString("\nThe premise should sustain dozens of chapters and leave room for escalating strangeness.\n\n")
	b.WriteString("Return ONLY valid JSON in this exact structure:\n")
	b.WriteString("{\n")
	b.WriteString("  \"title\": \"An evocative, specific title\",\n")
	b.WriteString("  \"premise\": \"Two to four sentences describing the story premise\",\n")
	b.WriteString("  \"themes\": [\"theme1\", \"theme2\", \"theme3\"]\n")
	b.WriteString("}")
	return b.String()
}

func renderChapterPrompt(story *store.Story, recent []*store.Chapter, chapterNumber int, expected map[string]float64) string {
	var context strings.Builder
	for i, chapter := range recent {
		if i > 0 {
			context.WriteString("\n\n")
		}
		fmt.Fprintf(&context, "Chapter %d: %s", chapter.ChapterNumber, chapter.Content)
	}
	previous := context.String()
	if previous == "" {
		previous = "None yet."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Story: %s\n", story.Title)
	fmt.Fprintf(&b, "Premise: %s\n", story.Premise)
	fmt.Fprintf(&b, "Previous chapters: %s\n\n", previous)
	fmt.Fprintf(&b, "Write Chapter %d. Continue naturally, develop characters/plot, introduce complications.\n", chapterNumber)
	b.WriteString("Aim for 600-900 words and ensure the chapter forms a coherent arc with a beginning, middle, and end.")
	b.WriteString(" Do not end mid-sentence; conclude with a strong beat or hook.\n\n")
	b.WriteString("CHAOS PARAMETERS for this chapter (scale 0.0-1.0):\n")
	fmt.Fprintf(&b, "- Absurdity: %.3f (logical inconsistencies, bizarre situations)\n", expected["absurdity"])
	fmt.Fprintf(&b, "- Surrealism: %.3f (dreamlike, symbolic, reality-bending elements)\n", expected["surrealism"])
	fmt.Fprintf(&b, "- Ridiculousness: %.3f (comedic absurdity, over-the-top scenarios)\n", expected["ridiculousness"])
	fmt.Fprintf(&b, "- Insanity: %.3f (chaotic, unhinged, breaking conventions)\n\n", expected["insanity"])
	b.WriteString("Write the chapter with these parameters in mind, making it progressively more chaotic as specified.\n\n")
	b.WriteString("After writing the chapter, respond with ONLY valid JSON in this exact structure:\n")
	b.WriteString("{\n")
	b.WriteString("  \"chapter_content\": \"Your full chapter text here...\",\n")
	fmt.Fprintf(&b, "  \"absurdity\": %.3f,\n", expected["absurdity"])
	fmt.Fprintf(&b, "  \"surrealism\": %.3f,\n", expected["surrealism"])
	fmt.Fprintf(&b, "  \"ridiculousness\": %.3f,\n", expected["ridiculousness"])
	fmt.Fprintf(&b, "  \"insanity\": %.3f,\n", expected["insanity"])
	b.WriteString("  \"content_levels\": {}\n")
	b.WriteString("}\n\n")
	b.WriteString("Return the EXACT chaos parameter values provided above in your response.")
	return b.String()
}

func renderEvaluationPrompt(story *store.Story, recent []*store.Chapter, threshold float64) string {
	var summaries strings.Builder
	for i, chapter := range recent {
		if i > 0 {
			summaries.WriteString("\n\n")
		}
		excerpt := chapter.Content
		if len(excerpt) > evaluationExcerptLimit {
			excerpt = excerpt[:evaluationExcerptLimit]
		}
		fmt.Fprintf(&summaries, "Chapter %d: %s", chapter.ChapterNumber, excerpt)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Story: %s\nPremise: %s\n", story.Title, story.Premise)
	fmt.Fprintf(&b, "Current chapter count: %d\n", story.ChapterCount)
	fmt.Fprintf(&b, "Recent chapters:\n%s\n\n", summaries.String())
	b.WriteString("Evaluate this story's quality and viability.\n\n")
	b.WriteString("Score 0-10 on each dimension:\n")
	b.WriteString("- coherence: Is the plot logical and consistent? (0-3=incoherent, 4-6=some issues, 7-8=good, 9-10=excellent)\n")
	b.WriteString("- novelty: Is the story fresh and interesting? (0-3=derivative, 4-6=somewhat interesting, 7-8=creative, 9-10=highly original)\n")
	b.WriteString("- engagement: Would readers want to continue? (0-3=boring, 4-6=mildly interesting, 7-8=engaging, 9-10=captivating)\n")
	b.WriteString("- pacing: Does the story progress well? (0-3=stalled, 4-6=uneven, 7-8=good flow, 9-10=perfect pace)\n\n")
	fmt.Fprintf(&b, "Quality threshold: %.1f/10 (overall weighted score)\n\n", threshold*10)
	b.WriteString("Set should_continue to FALSE if ANY of these critical issues apply:\n")
	b.WriteString("- Story is severely repetitive or going in circles\n")
	b.WriteString("- Plot has completely stalled or become incoherent\n")
	b.WriteString("- Story has completely lost its original premise or direction\n")
	b.WriteString("- Major continuity errors or severe logical inconsistencies\n")
	b.WriteString("- The story is fundamentally broken and cannot be salvaged\n\n")
	b.WriteString("Set should_continue to TRUE if the story is still viable and meeting the quality threshold.\n")
	b.WriteString("Minor issues, uneven pacing, or moderate quality are acceptable if above the threshold.\n\n")
	b.WriteString("Return ONLY valid JSON in this exact structure:\n")
	b.WriteString("{\n")
	b.WriteString("  \"coherence_score\": <0-10>,\n")
	b.WriteString("  \"novelty_score\": <0-10>,\n")
	b.WriteString("  \"engagement_score\": <0-10>,\n")
	b.WriteString("  \"pacing_score\": <0-10>,\n")
	b.WriteString("  \"should_continue\": <true/false>,\n")
	b.WriteString("  \"reasoning\": \"Brief explanation of your decision\",\n")
	b.WriteString("  \"issues\": [\"issue1\", \"issue2\"]\n")
	b.WriteString("}")
	return b.String()
}

func renderCoverPrompt(title, premise string, contentSettings map[string]float64) string {
	if len(premise) > coverPremiseLimit {
		premise = premise[:coverPremiseLimit]
	}
	title = sanitizePromptText(title)
	premise = sanitizePromptText(premise)
	tone := ""
	if cues := coverToneCues(contentSettings); cues != "" {
		tone = fmt.Sprintf("Visual mood: %s. ", cues)
	}
	return fmt.Sprintf(
		"Book cover art for a science fiction story titled '%s'. "+
			"Story premise: %s. "+
			"Create a striking, atmospheric cover image with a cinematic composition. "+
			"%s"+
			"Style: modern sci-fi book cover, professional, dramatic lighting. "+
			"Ensure the imagery stays PG-13: avoid nudity, explicit intimacy, graphic violence, or gore. "+
			"Render the title text '%s' clearly within the artwork, integrating it into the scene with polished typography.",
		title, premise, tone, title,
	)
}

// coverAxisMoods maps content axes onto imagery the image model handles well.
var coverAxisMoods = map[string]string{
	"violence":       "dynamic action energy",
	"romance":        "heartfelt relationships",
	"existentialism": "vast contemplative emptiness",
	"horror":         "eerie suspense",
	"crime":          "noir intrigue",
	"supernatural":   "mystical wonder",
}

// coverToneCues turns the three strongest content axes into a mood clause.
// Axes at zero contribute nothing; an empty result omits the clause.
func coverToneCues(contentSettings map[string]float64) string {
	type scored struct {
		axis  string
		level float64
	}
	axes := make([]scored, 0, len(contentSettings))
	for axis, level := range contentSettings {
		if level <= 0 {
			continue
		}
		axes = append(axes, scored{axis: axis, level: level})
	}
	sort.Slice(axes, func(i, j int) bool {
		if axes[i].level != axes[j].level {
			return axes[i].level > axes[j].level
		}
		return axes[i].axis < axes[j].axis
	})
	if len(axes) > 3 {
		axes = axes[:3]
	}

	cues := make([]string, 0, len(axes))
	for _, entry := range axes {
		mood, ok := coverAxisMoods[entry.axis]
		if !ok {
			mood = strings.ReplaceAll(entry.axis, "_", " ")
		}
		cues = append(cues, fmt.Sprintf("%s %s", intensityDescriptor(entry.level), mood))
	}
	return strings.Join(cues, "; ")
}

func intensityDescriptor(level float64) string {
	switch {
	case level >= 8.5:
		return "extreme"
	case level >= 6.5:
		return "high"
	case level >= 4.5:
		return "moderate"
	case level >= 2.5:
		return "low"
	default:
		return "subtle"
	}
}

// sanitizePromptText strips characters that break image prompt quoting.
func sanitizePromptText(text string) string {
	replacer := strings.NewReplacer("'", "", "\"", "", "\n", " ", "\r", " ", "\t", " ")
	return strings.Join(strings.Fields(replacer.Replace(text)), " ")
}
