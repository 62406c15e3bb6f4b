package summarize

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

const systemPrompt = `You summarize meeting transcripts.
Answer with a single JSON object and nothing else, using exactly this shape:
{"summary": "<short paragraph>", "keyDecisions": ["<decision>"], "actionItems": [{"task": "<task>", "owner": "<name or null>", "deadline": "<date or null>"}]}
Use empty arrays when the meeting has no decisions or action items. Only use facts stated in the transcript.`

// buildMessages frames the transcript and optional refinement for a chat model.
func buildMessages(req Request) []*schema.Message {
	var user strings.Builder
	if instr := strings.TrimSpace(req.Instruction); instr != "" {
		user.WriteString("Instruction: ")
		user.WriteString(instr)
		user.WriteString("\n\n")
	} else {
		user.WriteString("Summarize this meeting.\n\n")
	}
	user.WriteString("Transcript:\n")
	user.WriteString(strings.TrimSpace(req.Text))

	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(user.String()),
	}
}
