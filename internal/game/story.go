package game

import "strings"

// MissingAnswer stands in for a slot whose player never answered.
const MissingAnswer = "—"

// AnswerKey addresses one submitted answer within a room.
type AnswerKey struct {
	Question int
	UserID   int64
}

// Compose builds one narrative per player from the full answer set.
//
// order fixes the player sequence (join order). Narrative s takes its
// answer for question q from the player at position (s+q) mod len(order),
// so each player's answer to each question lands in exactly one narrative
// and every narrative starts its rotation at a distinct offset.
func Compose(order []int64, answers map[AnswerKey]string, numQuestions int) []string {
	if len(order) == 0 {
		return nil
	}
	narratives := make([]string, 0, len(order))
	for s := range order {
		parts := make([]string, 0, numQuestions)
		for q := 0; q < numQuestions; q++ {
			author := order[(s+q)%len(order)]
			text, ok := answers[AnswerKey{Question: q, UserID: author}]
			if !ok || text == "" {
				text = MissingAnswer
			}
			parts = append(parts, text)
		}
		narratives = append(narratives, strings.Join(parts, " "))
	}
	return narratives
}
