package scenarios

import (
	"github.com/vango-go/vai-voice-agents/pkg/agents"
	"github.com/vango-go/vai-voice-agents/pkg/agents/guardrail"
)

const simpleChatInstructions = `You are a friendly, knowledgeable general assistant talking to the user by voice.
Keep replies short and conversational. Ask a clarifying question when a request is ambiguous.
Never make up facts; say so when you are not sure.`

func SimpleChat() Scenario {
	return Scenario{
		Key:         "simpleChat",
		Description: "A single general-purpose voice assistant.",
		Policy:      policyPtr(guardrail.CompanyPolicy("Chat")),
		Build: func(d Deps) (*agents.Set, error) {
			return agents.NewSet(&agents.Agent{
				Name:         "simpleChat",
				Voice:        defaultVoice,
				Instructions: withSpeed(simpleChatInstructions, d.Speed),
			})
		},
	}
}

func SimpleHandoff() Scenario {
	return Scenario{
		Key:         "simpleHandoff",
		Description: "A greeter that hands off to a haiku writer.",
		Policy:      policyPtr(guardrail.CompanyPolicy("Chat")),
		Build: func(d Deps) (*agents.Set, error) {
			return agents.NewSet(
				&agents.Agent{
					Name:               "greeter",
					Voice:              defaultVoice,
					HandoffDescription: "Agent that greets the user.",
					Instructions:       withSpeed("Greet the user warmly and ask whether they would like a haiku. If they do, hand off to the haiku writer.", d.Speed),
					Handoffs:           []agents.HandoffTarget{agents.To("haikuWriter")},
				},
				&agents.Agent{
					Name:               "haikuWriter",
					Voice:              defaultVoice,
					HandoffDescription: "Agent that writes haiku.",
					Instructions:       withSpeed("Ask the user for a topic, then reply with a haiku about it.", d.Speed),
				},
			)
		},
	}
}
