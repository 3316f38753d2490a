package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/vango-go/vai-voice-agents/pkg/agents/transcript"
	"github.com/vango-go/vai-voice-agents/pkg/agents/workspace"
)

// transcriptPrinter writes finished messages, breadcrumbs and guardrail
// verdicts as they land in the transcript. Streaming deltas are not echoed.
type transcriptPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[string]bool
	flagged map[string]bool
}

func newTranscriptPrinter(out io.Writer) *transcriptPrinter {
	return &transcriptPrinter{
		out:     out,
		printed: make(map[string]bool),
		flagged: make(map[string]bool),
	}
}

func (p *transcriptPrinter) observe(op transcript.Op, it transcript.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if it.Kind == transcript.KindBreadcrumb {
		if op == transcript.OpAdded {
			fmt.Fprintf(p.out, "  · %s\n", it.Title)
		}
		return
	}
	if it.Hidden {
		return
	}
	if it.Status == transcript.StatusDone && !p.printed[it.ItemID] {
		p.printed[it.ItemID] = true
		fmt.Fprintf(p.out, "%s: %s\n", it.Role, it.Text)
	}
	if g := it.Guardrail; g != nil && g.Status == transcript.StatusDone && !p.flagged[it.ItemID] {
		if g.Category != "" && g.Category != transcript.CategoryNone {
			p.flagged[it.ItemID] = true
			fmt.Fprintf(p.out, "  ! guardrail %s: %s\n", g.Category, g.Rationale)
		}
	}
}

func (p *transcriptPrinter) workspaceChanged(info workspace.Info) {
	p.mu.Lock()
	defer p.mu.Unlock()
	printWorkspace(p.out, info)
}
