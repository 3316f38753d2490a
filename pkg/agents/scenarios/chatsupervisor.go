package scenarios

import (
	"context"

	"github.com/vango-go/vai-voice-agents/pkg/agents"
	"github.com/vango-go/vai-voice-agents/pkg/agents/guardrail"
	"github.com/vango-go/vai-voice-agents/pkg/agents/supervisor"
	"github.com/vango-go/vai-voice-agents/pkg/agents/tools"
)

const (
	supervisorCompany = "newTelco"
	supervisorModel   = "gpt-4.1"
	supervisorPrefix  = "[supervisorAgent] "
)

func ChatSupervisor() Scenario {
	return Scenario{
		Key:         "chatSupervisor",
		Description: "A junior chat agent that defers non-trivial turns to a text supervisor with tools.",
		Policy:      policyPtr(guardrail.CompanyPolicy(supervisorCompany)),
		Build: func(d Deps) (*agents.Set, error) {
			return agents.NewSet(&agents.Agent{
				Name:         "chatAgent",
				Voice:        defaultVoice,
				Instructions: withSpeed(chatAgentInstructions, d.Speed),
				Tools:        []tools.Spec{nextResponseTool(d)},
			})
		},
	}
}

const chatAgentInstructions = `You are a helpful junior customer service agent for NewTelco. You handle greetings and small talk yourself
and defer everything else to a more capable supervisor by calling getNextResponseFromSupervisor.

# What you may do yourself
- Greet the user: "Hi, you've reached NewTelco, how can I help you?"
- Small talk, and collecting information the supervisor needs (phone number, zip code).

# Everything else
- Before calling the supervisor, say a short filler such as "Let me check on that."
- Read the supervisor's answer to the user verbatim.`

const supervisorInstructions = `You are an expert customer service supervisor giving real-time guidance to a junior agent who is talking to a customer.
Write the exact next message the junior agent should say. You may answer directly or call a tool first.
If a tool needs information you don't have, tell the junior agent to ask for it.

==== Domain ====
You work for NewTelco.
- Always call a tool before answering factual questions about the company, its offerings or the user's account, and only use retrieved context.
- Escalate to a human if the user asks.
- Do not discuss prohibited topics: politics, religion, controversial news, medical, legal or financial advice, personal chats, internal operations, or criticism of people or companies.

# Response style
- Professional and concise. This is a voice conversation: no bullet lists, short prose.
- Never call a tool with missing, empty or placeholder values.
- Cite policy documents after the statement they support: [NAME](ID).`

type policyArgs struct {
	Topic string `json:"topic" jsonschema:"description=Topic or keyword to search company policies for."`
}

type accountArgs struct {
	PhoneNumber string `json:"phone_number" jsonschema:"description=Formatted as '(xxx) xxx-xxxx'. Must be provided by the user."`
}

type storeArgs struct {
	ZipCode string `json:"zip_code" jsonschema:"description=The customer's 5-digit zip code."`
}

type policyDoc struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Topic   string `json:"topic"`
	Content string `json:"content"`
}

var policyDocs = []policyDoc{
	{
		ID:      "ID-010",
		Name:    "Family Plan Policy",
		Topic:   "family plan options",
		Content: "The family plan allows up to 5 lines per account. All lines share a single data pool. Each additional line after the first receives a 10% discount. All lines must be on the same account.",
	},
	{
		ID:      "ID-020",
		Name:    "Promotions and Discounts Policy",
		Topic:   "promotions and discounts",
		Content: "The Summer Unlimited Data Sale provides a 20% discount on the Unlimited Plus plan for the first 6 months for new activations completed by July 31, 2024. Promotions cannot be combined with other offers.",
	},
	{
		ID:      "ID-030",
		Name:    "International Plans Policy",
		Topic:   "international plans",
		Content: "International plans are available and include discounted calling, texting and data usage in over 100 countries.",
	},
	{
		ID:      "ID-040",
		Name:    "Handset Offers Policy",
		Topic:   "new handsets",
		Content: "Handsets from brands such as iPhone and Google are available. The iPhone 16 is $200 and the Google Pixel 8 is available for $0, both with an additional 18-month commitment. These offers are valid while supplies last and may require eligible plans or trade-ins.",
	},
	{
		ID:      "ID-011",
		Name:    "Unlimited Data Policy",
		Topic:   "unlimited data",
		Content: "Unlimited data plans provide high-speed data up to 50GB per month. After 50GB, speeds may be reduced during network congestion. All lines on a family plan share the same data pool. Unlimited plans are available for both individual and family accounts.",
	},
}

var sampleAccount = map[string]any{
	"accountId":         "NT-123456",
	"name":              "Alex Johnson",
	"phone":             "+1-206-135-1246",
	"email":             "alex.johnson@email.com",
	"plan":              "Unlimited Plus",
	"balanceDue":        "$42.17",
	"lastBillDate":      "2024-05-15",
	"lastPaymentDate":   "2024-05-20",
	"lastPaymentAmount": "$42.17",
	"status":            "Active",
	"address": map[string]any{
		"street": "1234 Pine St",
		"city":   "Seattle",
		"state":  "WA",
		"zip":    "98101",
	},
}

var sampleStores = []map[string]any{
	{
		"name":     "NewTelco San Francisco Downtown Store",
		"address":  "1 Market St, San Francisco, CA 94105",
		"zip_code": "94105",
		"phone":    "(415) 555-1001",
		"hours":    "Mon-Sat 10am-7pm, Sun 11am-5pm",
	},
	{
		"name":     "NewTelco Seattle Downtown",
		"address":  "1600 Pine St, Seattle, WA 98101",
		"zip_code": "98101",
		"phone":    "(206) 555-4001",
		"hours":    "Mon-Sat 10am-8pm, Sun 11am-6pm",
	},
}

// supervisorTools run locally inside the supervisor's nested loop.
func supervisorTools() *tools.Registry {
	return tools.MustRegistry(
		tools.Func("lookupPolicyDocument", "Look up internal documents and policies by topic or keyword.",
			func(_ context.Context, _ policyArgs, _ tools.Context) (any, error) { return policyDocs, nil }),
		tools.Func("getUserAccountInfo", "Read user account information. It cannot change or delete anything.",
			func(_ context.Context, _ accountArgs, _ tools.Context) (any, error) { return sampleAccount, nil }),
		tools.Func("findNearestStore", "Find the nearest store location from the customer's zip code.",
			func(_ context.Context, _ storeArgs, _ tools.Context) (any, error) { return sampleStores, nil }),
	)
}

type nextResponseArgs struct {
	RelevantContextFromLastUserMessage string `json:"relevantContextFromLastUserMessage" jsonschema:"description=Key information from the user's latest message. It may be empty if the message added nothing new."`
}

func nextResponseTool(d Deps) tools.Spec {
	return tools.Spec{
		Name: "getNextResponseFromSupervisor",
		Description: "Get the next response from a highly intelligent supervisor when facing a non-trivial decision. " +
			"Returns a message describing what to say next.",
		Parameters: tools.SchemaFor[nextResponseArgs](),
		Invoker: &supervisor.Delegate{
			Client:       d.Client,
			Model:        supervisorModel,
			Instructions: supervisorInstructions,
			Prompt:       supervisor.HistoryPrompt("relevantContextFromLastUserMessage"),
			Tools:        supervisorTools(),
			ResultKey:    "nextResponse",
			Prefix:       supervisorPrefix,
			Logger:       d.logger(),
		},
	}
}
