package context

import (
	"regexp"
)

// TaskType classifies what the user is asking for
type TaskType string

const (
	TaskCodeGeneration  TaskType = "code_generation"
	TaskCodeReview      TaskType = "code_review"
	TaskFileAnalysis    TaskType = "file_analysis"
	TaskTerminalCommand TaskType = "terminal_command"
	TaskQuickAnswer     TaskType = "quick_answer"
	TaskGeneral         TaskType = "general"
)

const quickAnswerMaxLength = 100

type taskPattern struct {
	taskType TaskType
	patterns []*regexp.Regexp
}

// Checked in order; the first matching task wins.
var taskPatterns = []taskPattern{
	{TaskCodeGeneration, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(create|write|generate|build|implement|make|add)\b.*\b(function|class|component|code|file|script)\b`),
		regexp.MustCompile(`(?i)\b(new|create)\b.*\b(file|folder|directory)\b`),
	}},
	{TaskCodeReview, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(review|refactor|improve|optimize|fix|debug|check)\b.*\b(code|function|class|file)\b`),
		regexp.MustCompile(`(?i)\bwhat('s| is)\b.*\b(wrong|issue|bug|problem)\b`),
	}},
	{TaskFileAnalysis, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(read|show|display|analyze|explain|what)\b.*\b(file|content|code)\b`),
		regexp.MustCompile(`(?i)\b(list|show|display)\b.*\b(files|folders|directory)\b`),
	}},
	{TaskTerminalCommand, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(run|execute|terminal|command|shell|bash|npm|git|chmod)\b`),
		regexp.MustCompile(`(?i)\b(how to|how do i)\b.*\b(install|run|start|build)\b`),
	}},
}

var quickAnswerPattern = regexp.MustCompile(`(?i)^(what|how|why|when|where|who|is|are|can|could|would|should)\b`)

// DetectTaskType classifies user input for context prioritization and model routing
func DetectTaskType(input string) TaskType {
	for _, tp := range taskPatterns {
		for _, re := range tp.patterns {
			if re.MatchString(input) {
				return tp.taskType
			}
		}
	}

	if quickAnswerPattern.MatchString(input) && textLength(input) < quickAnswerMaxLength {
		return TaskQuickAnswer
	}

	return TaskGeneral
}
