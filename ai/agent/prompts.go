package agent

import (
	"fmt"
	"time"
)

const systemPromptTemplate = `You are a helpful AI assistant with access to real-time web search.
The current date and time is %s.

When answering questions:

1. Always search the web for up-to-date information when relevant.
2. Cite your sources using inline markdown links, e.g. [example](https://example.com).
3. Be thorough but concise in your responses.
4. If you're unsure about something, search the web to verify.
5. When providing information, always include the source where you found it.
6. Never include raw URLs - always use markdown link formatting.

Remember to use the searchWeb tool whenever you need current information.`

func systemPrompt(now time.Time) string {
	return fmt.Sprintf(systemPromptTemplate, now.Format("Mon Jan 2 2006 15:04:05 MST"))
}

const titleLimit = 50

// ChatTitle derives a chat title from the user's opening message. The HTTP
// layer uses it for the initial insert and the orchestrator for the final
// merge, so both agree.
func ChatTitle(userText string) string {
	runes := []rune(userText)
	if len(runes) <= titleLimit {
		return userText
	}
	return string(runes[:titleLimit]) + "..."
}
