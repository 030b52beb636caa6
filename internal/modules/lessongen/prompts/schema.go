package prompts

import "sort"

// Schemas are written for strict structured output: every property is
// required and no extra properties are allowed.

func obj(props map[string]any) map[string]any {
	req := make([]string, 0, len(props))
	for k := range props {
		req = append(req, k)
	}
	sort.Strings(req)
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             req,
		"additionalProperties": false,
	}
}

func arr(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

func str() map[string]any { return map[string]any{"type": "string"} }
func num() map[string]any { return map[string]any{"type": "integer"} }

func subtopicRefSchema() map[string]any {
	return obj(map[string]any{
		"chapterId":     str(),
		"subtopicIndex": num(),
	})
}

// PlannerSchema describes the planner response: a public table of contents
// and private sizing and chunking hints.
func PlannerSchema() map[string]any {
	chapter := obj(map[string]any{
		"chapterId":     str(),
		"title":         str(),
		"subtopics":     arr(str()),
		"description":   str(),
		"learningGoals": arr(str()),
	})
	estimate := obj(map[string]any{
		"chapterId":     str(),
		"subtopicIndex": num(),
		"words":         num(),
		"tokens":        num(),
	})
	block := obj(map[string]any{
		"blockId":      str(),
		"items":        arr(subtopicRefSchema()),
		"targetTokens": num(),
		"rationale":    str(),
	})
	return obj(map[string]any{
		"public": obj(map[string]any{
			"learningOutcome":         str(),
			"recommendedChapterCount": num(),
			"toc":                     arr(chapter),
		}),
		"private": obj(map[string]any{
			"estimates": obj(map[string]any{
				"totalWords":  num(),
				"totalTokens": num(),
				"perSubtopic": arr(estimate),
			}),
			"chunking": obj(map[string]any{
				"cohesionBlocks": arr(block),
			}),
			"sequencingRationale": str(),
			"continuityHints":     str(),
		}),
	})
}

// WriterSchema describes one subtask's content.
func WriterSchema() map[string]any {
	section := obj(map[string]any{
		"id":           str(),
		"title":        str(),
		"html":         str(),
		"quizAnchorId": str(),
	})
	return obj(map[string]any{
		"outlineDelta": arr(str()),
		"sections":     arr(section),
		"contentChunk": str(),
	})
}
