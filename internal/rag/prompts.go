package rag

import (
	"fmt"
	"strings"

	"nfrag/internal/session"
)

const condenseTemplate = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.

Chat History:
%s
Follow Up Input: %s
Standalone question:`

const qaSystemTemplate = `Use the following pieces of context to answer the user's question. 
If you don't know the answer, just say that you don't know, don't try to make up an answer.
----------------
%s`

var rolePrefix = map[session.Role]string{
	session.RoleUser:      "Human",
	session.RoleAssistant: "Assistant",
	session.RoleSystem:    "System",
}

func renderHistory(history []session.Message) string {
	var sb strings.Builder
	for _, m := range history {
		sb.WriteString("\n")
		sb.WriteString(rolePrefix[m.Role])
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

func condensePrompt(history []session.Message, question string) string {
	return fmt.Sprintf(condenseTemplate, renderHistory(history), question)
}

func qaSystemPrompt(context string) string {
	return fmt.Sprintf(qaSystemTemplate, context)
}
