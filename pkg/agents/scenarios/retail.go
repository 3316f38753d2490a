package scenarios

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/vango-go/vai-voice-agents/pkg/agents"
	"github.com/vango-go/vai-voice-agents/pkg/agents/guardrail"
	"github.com/vango-go/vai-voice-agents/pkg/agents/supervisor"
	"github.com/vango-go/vai-voice-agents/pkg/agents/tools"
)

const (
	retailCompany     = "Snowy Peak Boards"
	eligibilityModel  = "o4-mini"
	eligibilityWindow = 10
)

func CustomerServiceRetail() Scenario {
	return Scenario{
		Key:         "customerServiceRetail",
		Description: "Snowboard shop with returns, sales and a simulated human agent.",
		Policy:      policyPtr(guardrail.CompanyPolicy(retailCompany)),
		Build:       buildRetail,
	}
}

func buildRetail(d Deps) (*agents.Set, error) {
	returns := &agents.Agent{
		Name:               "returns",
		Voice:              defaultVoice,
		HandoffDescription: "Customer service agent specialized in order lookups, policy checks and return initiation.",
		Instructions:       withSpeed(returnsInstructions, d.Speed),
		Tools: []tools.Spec{
			lookupOrdersTool(),
			retrievePolicyTool(),
			eligibilityTool(d),
		},
		Handoffs: []agents.HandoffTarget{agents.To("salesAgent"), agents.To("simulatedHuman")},
	}
	sales := &agents.Agent{
		Name:               "salesAgent",
		Voice:              defaultVoice,
		HandoffDescription: "Handles sales questions: new products, recommendations, promotions and purchases.",
		Instructions: withSpeed("You are a helpful sales assistant. Share current promotions, deals and product recommendations, "+
			"help with purchase questions and walk the user through checkout when they are ready.", d.Speed),
		Tools:    []tools.Spec{lookupNewSalesTool(), addToCartTool(), checkoutTool()},
		Handoffs: []agents.HandoffTarget{agents.To("returns"), agents.To("simulatedHuman")},
	}
	human := &agents.Agent{
		Name:               "simulatedHuman",
		Voice:              defaultVoice,
		HandoffDescription: "Placeholder human agent for frustrated users or explicit requests for a person.",
		Instructions: withSpeed("You are a laid-back human assistant who will do anything to help. In your first message, greet the user "+
			"cheerfully and tell them you are an AI standing in for a human agent. Your agent_role='human_agent'.", d.Speed),
		Handoffs: []agents.HandoffTarget{agents.To("returns"), agents.To("salesAgent")},
	}
	return agents.NewSet(returns, sales, human)
}

const returnsInstructions = `# Identity
You are Jane, a calm and approachable online store assistant for Snowy Peak Boards who specializes in returns.
You have spent many seasons on the slopes and bring that experience to every conversation.

# Steps
1. Ask for the user's phone number, look up their orders and confirm the item before continuing.
2. Ask why the user wants to return the item.
3. Always call retrievePolicy before checkEligibilityAndPossiblyInitiateReturn.
4. Always confirm eligibility with checkEligibilityAndPossiblyInitiateReturn before promising anything.
5. If the check asks for more information, ask the user and call it again with the new details.

# Before calling a function
Tell the user what you are about to do, and give short updates if a call takes more than a few seconds.

# General
- Confirm spellings of names and numbers.
- Today's date is 2024-12-26.`

type lookupOrdersArgs struct {
	PhoneNumber string `json:"phoneNumber" jsonschema:"description=Phone number tied to the user's orders."`
}

type orderItem struct {
	ItemID         string  `json:"item_id"`
	ItemName       string  `json:"item_name"`
	RetailPriceUSD float64 `json:"retail_price_usd"`
}

type order struct {
	OrderID       string      `json:"order_id"`
	OrderDate     string      `json:"order_date"`
	DeliveredDate *string     `json:"delivered_date"`
	OrderStatus   string      `json:"order_status"`
	SubtotalUSD   float64     `json:"subtotal_usd"`
	TotalUSD      float64     `json:"total_usd"`
	Items         []orderItem `json:"items"`
}

func sampleOrders() []order {
	delivered := "2024-09-16T14:00:00Z"
	return []order{
		{
			OrderID:       "SNP-20230914-001",
			OrderDate:     "2024-09-14T09:30:00Z",
			DeliveredDate: &delivered,
			OrderStatus:   "delivered",
			SubtotalUSD:   409.98,
			TotalUSD:      471.48,
			Items: []orderItem{
				{"SNB-TT-X01", "Twin Tip Snowboard X", 249.99},
				{"SNB-BOOT-ALM02", "All-Mountain Snowboard Boots", 159.99},
			},
		},
		{
			OrderID:     "SNP-20230820-002",
			OrderDate:   "2023-08-20T10:15:00Z",
			OrderStatus: "in_transit",
			SubtotalUSD: 339.97,
			TotalUSD:    390.97,
			Items: []orderItem{
				{"SNB-PKbk-012", "Park & Pipe Freestyle Board", 189.99},
				{"GOG-037", "Mirrored Snow Goggles", 89.99},
				{"SNB-BIND-CPRO", "Carving Pro Binding Set", 59.99},
			},
		},
	}
}

func lookupOrdersTool() tools.Spec {
	return tools.Func("lookupOrders",
		"Retrieve detailed order information, including shipping status and items, by the user's phone number. Share only the minimum needed to remind the user of the order.",
		func(_ context.Context, _ lookupOrdersArgs, _ tools.Context) (any, error) {
			return map[string]any{"orders": sampleOrders()}, nil
		})
}

type retrievePolicyArgs struct {
	Region       string `json:"region" jsonschema:"description=The region the user is in."`
	ItemCategory string `json:"itemCategory" jsonschema:"description=Category of the item the user wants to return."`
}

const returnPolicy = `At Snowy Peak Boards we keep our policies transparent and customer friendly.

1. GENERAL RETURN POLICY
- Return window: 30 days from the delivery date.
- Eligibility: items must be unused, in original packaging, with tags attached.
- Shipping costs are non-refundable unless the error was ours.

2. CONDITION REQUIREMENTS
- Items showing use, wear or damage may incur restocking fees or partial refunds.
- Promotional items not returned in acceptable condition may be deducted from the refund.
- Returns may be denied when a pattern of excessive returns is observed.

3. DEFECTIVE ITEMS
- Defective items qualify for a full refund or exchange within 1 year of purchase when the defect is outside normal wear and occurred under normal use.
- The customer must describe the defect in enough detail. A verbal description is sufficient; photos are not required.
- Examples:
  - "It's defective, there's a big crack": MORE INFORMATION NEEDED
  - "The board delaminated and the edge came off during normal use after about three runs": ACCEPT RETURN

4. REFUND PROCESSING
- Inspection takes up to 5 business days after the item reaches our warehouse.
- Refunds go to the original payment method; store credit may be offered.
- Visibly used or incomplete returns may receive a partial refund.

5. EXCHANGES
- Confirm availability of the new item before starting a return.
- Limited-stock exchanges may be processed as a separate purchase plus a standard return.

6. ADDITIONAL CLAUSES
- Returns past 30 days may receive store credit at our discretion if the item is resalable.`

func retrievePolicyTool() tools.Spec {
	return tools.Func("retrievePolicy",
		"Retrieve the store's policies, including return eligibility. Use it to decide what to ask the user, not to recite it.",
		func(_ context.Context, _ retrievePolicyArgs, _ tools.Context) (any, error) {
			return map[string]any{"policy": returnPolicy}, nil
		})
}

type eligibilityArgs struct {
	UserDesiredAction string `json:"userDesiredAction" jsonschema:"description=The action the user wants taken."`
	Question          string `json:"question" jsonschema:"description=The question for the escalation agent."`
}

const eligibilityInstructions = "You are an expert at assessing the eligibility of cases against the provided guidelines. " +
	"You follow the guidelines closely and do things by the book."

// eligibilityPrompt renders the request plus the most recent messages.
func eligibilityPrompt(raw json.RawMessage, ictx tools.Context) (string, error) {
	var args eligibilityArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("decode arguments: %w", err)
	}
	msgs := ictx.Messages()
	if len(msgs) > eligibilityWindow {
		msgs = msgs[len(msgs)-eligibilityWindow:]
	}
	history, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`Consider the request, the policies and the facts below and decide whether the user's desired action can be completed under the policies. Give a concise justification. Consider edge cases and missing information that could change the verdict. If ANY critical information is unknown, ask for it under "Additional Information Needed" instead of denying the claim.

<modelContext>
userDesiredAction: %s
question: %s
</modelContext>

<conversationContext>
%s
</conversationContext>

<output_format>
# Rationale
# User Request
# Is Eligible
true/false/need_more_information
# Additional Information Needed
# Return Next Steps
Only if eligible: tell the user they will get a text message with next steps, and confirm the item number, order number and phone number.
</output_format>`, args.UserDesiredAction, args.Question, history), nil
}

func eligibilityTool(d Deps) tools.Spec {
	return tools.Spec{
		Name: "checkEligibilityAndPossiblyInitiateReturn",
		Description: "Check whether a proposed action is allowed for an order. An experienced agent with the full conversation " +
			"decides and may initiate the return. Always call retrievePolicy first. This can take up to 10 seconds.",
		Parameters: tools.SchemaFor[eligibilityArgs](),
		Invoker: &supervisor.Delegate{
			Client:       d.Client,
			Model:        eligibilityModel,
			Instructions: eligibilityInstructions,
			Prompt:       eligibilityPrompt,
			ResultKey:    "result",
			MaxRounds:    1,
			Logger:       d.logger(),
		},
	}
}

type saleItem struct {
	ItemID         int    `json:"item_id"`
	Type           string `json:"type"`
	Name           string `json:"name"`
	RetailPriceUSD int    `json:"retail_price_usd"`
	SalePriceUSD   int    `json:"sale_price_usd"`
	DiscountPct    int    `json:"sale_discount_pct"`
}

var saleItems = []saleItem{
	{101, "snowboard", "Alpine Blade", 450, 360, 20},
	{102, "snowboard", "Peak Bomber", 499, 374, 25},
	{201, "apparel", "Thermal Jacket", 120, 84, 30},
	{202, "apparel", "Insulated Pants", 150, 112, 25},
	{301, "boots", "Glacier Grip", 250, 200, 20},
	{302, "boots", "Summit Steps", 300, 210, 30},
	{401, "accessories", "Goggles", 80, 60, 25},
	{402, "accessories", "Warm Gloves", 60, 48, 20},
}

type lookupSalesArgs struct {
	Category string `json:"category" jsonschema:"enum=snowboard,enum=apparel,enum=boots,enum=accessories,enum=any,description=Product category the user is interested in."`
}

// salesFor filters by category ("any" matches everything) and orders by
// discount, largest first.
func salesFor(category string) []saleItem {
	out := make([]saleItem, 0, len(saleItems))
	for _, it := range saleItems {
		if category == "any" || it.Type == category {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DiscountPct > out[j].DiscountPct })
	return out
}

func lookupNewSalesTool() tools.Spec {
	return tools.Func("lookupNewSales",
		"Check current promotions, discounts and special offers relevant to the user's query.",
		func(_ context.Context, args lookupSalesArgs, _ tools.Context) (any, error) {
			return map[string]any{"sales": salesFor(args.Category)}, nil
		})
}

type addToCartArgs struct {
	ItemID string `json:"item_id" jsonschema:"description=ID of the item to add to the cart."`
}

func addToCartTool() tools.Spec {
	return tools.Func("addToCart", "Add an item to the user's shopping cart.",
		func(_ context.Context, _ addToCartArgs, _ tools.Context) (any, error) {
			return map[string]any{"success": true}, nil
		})
}

type checkoutArgs struct {
	ItemIDs     []string `json:"item_ids" jsonschema:"description=IDs of the items the user is buying."`
	PhoneNumber string   `json:"phone_number" jsonschema:"description=User phone number used for verification formatted like '(111) 222-3333',pattern=^\\(\\d{3}\\) \\d{3}-\\d{4}$"`
}

func checkoutTool() tools.Spec {
	return tools.Func("checkout", "Start checkout with the items the user selected.",
		func(_ context.Context, _ checkoutArgs, _ tools.Context) (any, error) {
			return map[string]any{"checkoutUrl": "https://example.com/checkout"}, nil
		})
}
