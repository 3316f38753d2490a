package scenarios

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vango-go/vai-voice-agents/pkg/agents"
	"github.com/vango-go/vai-voice-agents/pkg/agents/guardrail"
	"github.com/vango-go/vai-voice-agents/pkg/agents/responses"
	"github.com/vango-go/vai-voice-agents/pkg/agents/supervisor"
	"github.com/vango-go/vai-voice-agents/pkg/agents/tools"
	"github.com/vango-go/vai-voice-agents/pkg/agents/workspace"
)

const (
	workspacePurpose = "discuss a home renovation project"
	workspaceModel   = "gpt-4.1"
	managerPrefix    = "[workspaceManager] "
)

var errNoWorkspace = errors.New("no workspace attached to this session")

func WorkspaceBuilder() Scenario {
	return Scenario{
		Key:         "workspaceBuilder",
		Description: "Agents that build a tabbed renovation workspace, estimate costs and research materials.",
		Policy:      policyPtr(guardrail.TopicPolicy(workspacePurpose)),
		Workspace:   true,
		Build:       buildWorkspaceBuilder,
	}
}

func buildWorkspaceBuilder(d Deps) (*agents.Set, error) {
	changes := makeWorkspaceChangesTool(d)
	info := workspaceInfoTool()

	manager := &agents.Agent{
		Name:         "workspaceManager",
		Voice:        defaultVoice,
		Instructions: withSpeed(managerInstructions, d.Speed),
		Tools:        WorkspaceTools(),
		Handoffs:     []agents.HandoffTarget{agents.To("designer")},
	}
	designer := &agents.Agent{
		Name:               "designer",
		Voice:              defaultVoice,
		HandoffDescription: "Interior designer that shapes the project's look and layout.",
		Instructions:       withSpeed(designerInstructions, d.Speed),
		Tools:              []tools.Spec{info, changes},
		Handoffs:           []agents.HandoffTarget{agents.To("estimator"), agents.To("materialsAndSupplies")},
	}
	estimator := &agents.Agent{
		Name:               "estimator",
		Voice:              defaultVoice,
		HandoffDescription: "Construction estimator for costs and timelines.",
		Instructions:       withSpeed(estimatorInstructions, d.Speed),
		Tools:              []tools.Spec{calculateTool(d), info, changes},
		Handoffs:           []agents.HandoffTarget{agents.To("designer"), agents.To("materialsAndSupplies")},
	}
	materials := &agents.Agent{
		Name:               "materialsAndSupplies",
		Voice:              defaultVoice,
		HandoffDescription: "Finds materials and supplies for the project.",
		Instructions:       withSpeed(materialsInstructions, d.Speed),
		Tools:              []tools.Spec{searchMaterialsTool(d), info, changes},
		Handoffs:           []agents.HandoffTarget{agents.To("designer"), agents.To("estimator")},
	}
	return agents.NewSet(manager, designer, estimator, materials)
}

const managerInstructions = `You help the user set up a project workspace. Your only job is to build the workspace with your tools and then hand off.
1. Ask what kind of workspace the user wants.
2. Decide on a few useful tabs and tell the user you are setting them up. Do not ask for confirmation.
3. Build the tabs. Use "csv" for lists of items and "markdown" for free-form content.
4. Call get_workspace_info, remove unused tabs and select the first tab.
5. Hand off to the designer without announcing it.`

const designerInstructions = `You are an expert interior designer working with the user on a design project in a shared workspace.
Ask about style, budget and constraints, propose ideas, and keep the workspace up to date with makeWorkspaceChanges.
Hand off to the estimator for costs or timelines and to materialsAndSupplies for materials.
Do not greet the user; continue where the conversation left off.`

const estimatorInstructions = `You are an expert construction estimator helping the user calculate construction costs and timelines.
Always use the calculate tool for arithmetic instead of working it out yourself, and record results in the workspace.
Hand off to the designer for design ideas.
Do not greet the user; continue where the conversation left off.`

const materialsInstructions = `You are a materials and supplies expert helping the user and designer pick materials for the project.
Ask questions and use searchMaterials to build a list of materials and supplies, and document everything in the workspace.
Do not greet the user; continue where the conversation left off.`

// Pointers distinguish absent locator fields from zero values.
func locate(index *int, name *string) workspace.Locator {
	loc := workspace.Locator{Index: index}
	if name != nil {
		loc.Name = *name
	}
	return loc
}

type addTabArgs struct {
	Name    string  `json:"name" jsonschema:"description=Name of the tab"`
	Type    string  `json:"type" jsonschema:"description=Tab type: markdown or csv"`
	Content *string `json:"content,omitempty" jsonschema:"description=Initial content of the tab"`
}

type selectTabArgs struct {
	Index *int    `json:"index,omitempty" jsonschema:"description=Zero-based position of the tab,minimum=0"`
	Name  *string `json:"name,omitempty" jsonschema:"description=Name of the tab to select"`
}

type renameTabArgs struct {
	Index       *int    `json:"index,omitempty" jsonschema:"description=Zero-based position of the tab,minimum=0"`
	CurrentName *string `json:"current_name,omitempty" jsonschema:"description=Current name of the tab"`
	NewName     string  `json:"new_name" jsonschema:"description=New name for the tab"`
}

type deleteTabArgs struct {
	Index *int    `json:"index,omitempty" jsonschema:"description=Zero-based position of the tab,minimum=0"`
	Name  *string `json:"name,omitempty" jsonschema:"description=Name of the tab"`
}

type setContentArgs struct {
	Index   *int    `json:"index,omitempty" jsonschema:"description=Zero-based position of the tab,minimum=0"`
	Name    *string `json:"name,omitempty" jsonschema:"description=Name of the tab"`
	Content *string `json:"content" jsonschema:"description=Tab content: pipe-delimited CSV or Markdown depending on the tab type"`
}

func message(msg string) map[string]any { return map[string]any{"message": msg} }

func ws(ictx tools.Context) (*workspace.Workspace, error) {
	if ictx.Workspace == nil {
		return nil, errNoWorkspace
	}
	return ictx.Workspace, nil
}

func workspaceInfoTool() tools.Spec {
	return tools.Func("get_workspace_info", "Get the current state of the workspace.",
		func(_ context.Context, _ struct{}, ictx tools.Context) (any, error) {
			w, err := ws(ictx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"workspace": w.Info()}, nil
		})
}

// WorkspaceTools are the tab editing tools. Failures are reported as
// messages so the model can correct itself.
func WorkspaceTools() []tools.Spec {
	return []tools.Spec{
		tools.Func("add_workspace_tab", "Add a new tab to the workspace.",
			func(_ context.Context, args addTabArgs, ictx tools.Context) (any, error) {
				w, err := ws(ictx)
				if err != nil {
					return nil, err
				}
				content := ""
				if args.Content != nil {
					content = *args.Content
				}
				tab := w.AddTab(args.Name, workspace.ParseTabType(args.Type), content)
				return message(fmt.Sprintf("Tab '%s' added.", tab.Name)), nil
			}),
		tools.Func("set_selected_tab_id", "Set the currently selected tab in the workspace.",
			func(_ context.Context, args selectTabArgs, ictx tools.Context) (any, error) {
				w, err := ws(ictx)
				if err != nil {
					return nil, err
				}
				if err := w.Select(locate(args.Index, args.Name)); err != nil {
					return message("Unable to locate tab for set_tab_content."), nil
				}
				return message("Tab selected."), nil
			}),
		tools.Func("rename_workspace_tab", "Rename an existing workspace tab.",
			func(_ context.Context, args renameTabArgs, ictx tools.Context) (any, error) {
				w, err := ws(ictx)
				if err != nil {
					return nil, err
				}
				switch err := w.Rename(locate(args.Index, args.CurrentName), args.NewName); {
				case errors.Is(err, workspace.ErrInvalidName):
					return message("Invalid new_name for rename."), nil
				case err != nil:
					return message("Unable to locate tab for rename."), nil
				}
				return message(fmt.Sprintf("Tab renamed to %s.", args.NewName)), nil
			}),
		tools.Func("delete_workspace_tab", "Delete a workspace tab.",
			func(_ context.Context, args deleteTabArgs, ictx tools.Context) (any, error) {
				w, err := ws(ictx)
				if err != nil {
					return nil, err
				}
				if err := w.Delete(locate(args.Index, args.Name)); err != nil {
					return message("Unable to locate tab for deletion."), nil
				}
				return message("Tab deleted."), nil
			}),
		tools.Func("set_tab_content", "Set the content of a workspace tab (pipe-delimited CSV or Markdown depending on the tab type).",
			func(_ context.Context, args setContentArgs, ictx tools.Context) (any, error) {
				w, err := ws(ictx)
				if err != nil {
					return nil, err
				}
				if args.Content == nil {
					return message("Content must be a string."), nil
				}
				if err := w.SetContent(locate(args.Index, args.Name), *args.Content); err != nil {
					return message("Unable to locate tab for set_tab_content."), nil
				}
				return message("Tab content updated."), nil
			}),
		workspaceInfoTool(),
	}
}

type workspaceChangesArgs struct {
	TabsToChange           string `json:"tabsToChange" jsonschema:"description=Tabs to change"`
	WorkspaceChangesToMake string `json:"workspaceChangesToMake" jsonschema:"description=Description of the changes to make. Tell the user you are updating the workspace whenever you call this."`
}

const workspaceChangesInstructions = `You are a workspace builder assistant. Use the tools to apply the requested changes to the workspace.
Before adding a tab, check whether a tab for the same purpose already exists. Use the conversation history for context.
- Find tabs by name first, then change them.
- If no matching tab exists, create one with the given name.

# Important
Only change the tabs listed in tabsToChange, and make only the requested changes.`

func workspaceChangesPrompt(raw json.RawMessage, ictx tools.Context) (string, error) {
	var args workspaceChangesArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("decode arguments: %w", err)
	}
	w, err := ws(ictx)
	if err != nil {
		return "", err
	}
	history, err := json.MarshalIndent(ictx.Messages(), "", "  ")
	if err != nil {
		return "", err
	}
	state, err := json.MarshalIndent(map[string]any{"workspace": w.Info()}, "", "  ")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("==== Conversation History ====\n")
	b.Write(history)
	b.WriteString("\n\n==== Current Workspace State ====\n")
	b.Write(state)
	b.WriteString("\n\n==== Requested Workspace Changes ====\n")
	b.WriteString(args.WorkspaceChangesToMake)
	return b.String(), nil
}

// makeWorkspaceChangesTool gives non-manager agents write access to the
// workspace through a nested loop over WorkspaceTools.
func makeWorkspaceChangesTool(d Deps) tools.Spec {
	return tools.Spec{
		Name:        "makeWorkspaceChanges",
		Description: "Make changes to the tabs or content of the workspace.",
		Parameters:  tools.SchemaFor[workspaceChangesArgs](),
		Invoker: &supervisor.Delegate{
			Client:       d.Client,
			Model:        workspaceModel,
			Instructions: workspaceChangesInstructions,
			Prompt:       workspaceChangesPrompt,
			Tools:        tools.MustRegistry(WorkspaceTools()...),
			ResultKey:    "workspaceManagerResponse",
			Prefix:       managerPrefix,
			Logger:       d.logger(),
		},
	}
}

type calculateArgs struct {
	DataToCalculate string `json:"data_to_calculate" jsonschema:"description=Detailed description of the construction cost or timeline to calculate"`
}

func calculateTool(d Deps) tools.Spec {
	return tools.Spec{
		Name:        "calculate",
		Description: "Calculate construction costs or a construction timeline.",
		Parameters:  tools.SchemaFor[calculateArgs](),
		Invoker: &supervisor.Delegate{
			Client: d.Client,
			Model:  workspaceModel,
			Instructions: "You are a construction budget calculator and timeline planner. " +
				"Answer by writing and running code with the code interpreter.",
			Prompt:    historyThen("Relevant Conversation History", "Requested Calculation", "data_to_calculate"),
			Hosted:    []responses.Tool{responses.CodeInterpreter()},
			ResultKey: "calculatorResponse",
			Announce:  "[calculate]",
			Logger:    d.logger(),
		},
	}
}

type searchMaterialsArgs struct {
	Query string `json:"query" jsonschema:"description=Search query for materials and supplies"`
}

func searchMaterialsTool(d Deps) tools.Spec {
	return tools.Spec{
		Name:        "searchMaterials",
		Description: "Search the web for useful information about materials and supplies.",
		Parameters:  tools.SchemaFor[searchMaterialsArgs](),
		Invoker: &supervisor.Delegate{
			Client: d.Client,
			Model:  workspaceModel,
			Instructions: "You are a materials and supplies assistant. Search the web for information relevant to the query, " +
				"using the conversation history for context.",
			Prompt:    historyThen("Recent Conversation History", "Search Query", "query"),
			Hosted:    []responses.Tool{responses.WebSearchPreview()},
			ResultKey: "webResponse",
			Announce:  "[materials search]",
			Logger:    d.logger(),
		},
	}
}

// historyThen renders the message history under one heading and the string
// argument field under another.
func historyThen(historyHeading, argHeading, field string) supervisor.PromptFunc {
	return func(raw json.RawMessage, ictx tools.Context) (string, error) {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return "", fmt.Errorf("decode arguments: %w", err)
		}
		arg, _ := m[field].(string)
		history, err := json.MarshalIndent(ictx.Messages(), "", "  ")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("==== %s ====\n%s\n\n==== %s ====\n%s", historyHeading, history, argHeading, arg), nil
	}
}
