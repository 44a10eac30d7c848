package prompt

import "agentpress/internal/message"

// Assemble builds the message sequence for one turn. The system prompt comes
// first. An ephemeral message is placed right before the last user message,
// or after all thread messages when there is none. Thread messages are not
// modified.
func Assemble(system message.Message, thread []message.Message, ephemeral *message.Message) []message.Message {
	out := make([]message.Message, 0, len(thread)+2)
	out = append(out, system)

	if ephemeral == nil {
		return append(out, thread...)
	}

	at := lastUserIndex(thread)
	if at < 0 {
		out = append(out, thread...)
		return append(out, *ephemeral)
	}

	out = append(out, thread[:at]...)
	out = append(out, *ephemeral)
	return append(out, thread[at:]...)
}

// SystemMessage wraps text as a system message that is sent to the model.
func SystemMessage(text string) message.Message {
	m := message.New(message.RoleSystem, text)
	m.FromModel = true
	return m
}

func lastUserIndex(msgs []message.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == message.RoleUser {
			return i
		}
	}
	return -1
}
