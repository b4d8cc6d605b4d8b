package game

// DefaultQuestions is the classic "story in a circle" prompt sequence.
// Every player answers each one privately; the composer then rotates the
// answers into one story per player.
var DefaultQuestions = []string{
	"Who?",
	"With whom?",
	"Where?",
	"When?",
	"What were they doing?",
	"What happened next?",
	"What did the witnesses say?",
	"How did it end?",
}
