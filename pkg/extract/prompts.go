package extract

import (
	"fmt"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
)

const schemaName = "efv_schema"

const schemaDescription = "Events, factors and variables stated in one passage of a credit rating report."

// DefaultSystemPrompt is sent as the system message of every extraction call.
const DefaultSystemPrompt = `You are an information extraction model for credit rating reports.
Work only with the passage you are given. Answer with strict JSON that matches the supplied JSON schema and nothing else.
Copy numbers, dates, units and quotes exactly as they are written. Use null only where the schema allows it.`

// DefaultInstruction is the task message placed in front of the passage.
const DefaultInstruction = `# Task
Extract three lists from the passage: events, factors and variables.

# Rules
- The JSON schema defines field names, types and required fields.
- Use only the passage. Do not add outside knowledge and do not guess.
- Copy numbers, dates, units and quotes verbatim without normalising them.
- Prefer items that could move the company's credit quality or share price.
- Point at the evidence with start_char and end_char, or with anchor (the first five words of the sentence, copied exactly) and offset (characters from the start of that sentence to the end of the evidence).

# Event types
%s`

// PromptFor renders the user prompt for one passage.
func PromptFor(instruction, passage string) string {
	return fmt.Sprintf("%s\n\nPASSAGE:\n%s", instruction, passage)
}

func defaultInstruction() string {
	return fmt.Sprintf(DefaultInstruction, common.EventTypeGuide())
}
