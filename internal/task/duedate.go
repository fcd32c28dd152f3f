package task

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// DueDateLayout is the calendar-date form stored in task documents.
const DueDateLayout = "2006-01-02"

var dueDateParser = initDueDateParser()

func initDueDateParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseDueDate normalizes a due date expression to YYYY-MM-DD.
// It accepts the storage layout directly, or natural language such as
// "tomorrow" and "in 2 days" resolved against now. Empty input means
// no due date.
func ParseDueDate(text string, now time.Time) (string, error) {
	if text == "" {
		return "", nil
	}

	if t, err := time.Parse(DueDateLayout, text); err == nil {
		return t.Format(DueDateLayout), nil
	}

	r, err := dueDateParser.Parse(text, now)
	if err != nil {
		return "", fmt.Errorf("failed to parse due date %q: %w", text, err)
	}
	if r == nil {
		return "", fmt.Errorf("unrecognized due date %q", text)
	}

	return r.Time.Format(DueDateLayout), nil
}
