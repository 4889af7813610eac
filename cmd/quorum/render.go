package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"quorum/internal/normalize"
	"quorum/internal/pipeline"
)

// Color definitions shared by every command's output.
var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func disableColor() {
	color.NoColor = true
}

func renderError(msg string) string {
	return red("✗ " + msg)
}

// Renderer is the CLI sink for pipeline state changes. It is strictly
// downstream of the tracker: it paints, it never mutates run state.
type Renderer struct {
	out     io.Writer
	verbose bool
	md      *MarkdownRenderer

	streamingSeen map[string]bool
	lastAgent     string
	needNewline   bool
}

func NewRenderer(out io.Writer, verbose bool) *Renderer {
	md, err := NewMarkdownRenderer()
	if err != nil {
		md = nil // plain text final answer is still fine
	}
	return &Renderer{
		out:           out,
		verbose:       verbose,
		md:            md,
		streamingSeen: make(map[string]bool),
	}
}

func (r *Renderer) StageStarted(stage int) {
	r.breakLine()
	fmt.Fprintf(r.out, "\n%s\n", bold(fmt.Sprintf("── Stage %d · %s ──", stage, pipeline.StageName(stage))))
	r.streamingSeen = make(map[string]bool)
}

func (r *Renderer) StageCompleted(stage, count int) {
	r.breakLine()
	fmt.Fprintf(r.out, "%s\n", gray(fmt.Sprintf("stage %d closed with %d agents", stage, count)))
}

func (r *Renderer) AgentDelta(stage int, agent, delta string) {
	if !r.verbose {
		if !r.streamingSeen[agent] {
			r.streamingSeen[agent] = true
			r.breakLine()
			fmt.Fprintf(r.out, "%s\n", gray("· "+agent+" streaming"))
		}
		return
	}
	if r.lastAgent != agent {
		r.breakLine()
		fmt.Fprintf(r.out, "%s ", cyan("["+agent+"]"))
		r.lastAgent = agent
	}
	fmt.Fprint(r.out, delta)
	r.needNewline = !strings.HasSuffix(delta, "\n")
}

func (r *Renderer) AgentCompleted(stage int, agent string, out *normalize.StageOutput) {
	r.breakLine()
	switch stage {
	case pipeline.StageEvaluate:
		fmt.Fprintf(r.out, "%s\n", green("✓ "+agent))
		if len(out.Rankings) > 0 {
			fmt.Fprintf(r.out, "  %s %s\n", gray("ranking:"), strings.Join(out.Rankings, " > "))
		}
		if len(out.FlaggedFacts) > 0 {
			fmt.Fprintf(r.out, "  %s %d\n", yellow("flagged facts:"), len(out.FlaggedFacts))
		}
	case pipeline.StageSynthesize:
		fmt.Fprintf(r.out, "%s\n", green(fmt.Sprintf("✓ %s synthesized (confidence %.2f)", agent, out.Confidence)))
	default:
		fmt.Fprintf(r.out, "%s\n", green(fmt.Sprintf("✓ %s (confidence %.2f, %d facts)", agent, out.Confidence, len(out.AtomicFacts))))
	}
}

func (r *Renderer) AgentFailed(stage int, agent, message string) {
	r.breakLine()
	fmt.Fprintf(r.out, "%s\n", red("✗ "+message))
}

func (r *Renderer) SynthesizerChosen(agent, label string) {
	r.breakLine()
	name := label
	if name == "" {
		name = agent
	}
	fmt.Fprintf(r.out, "%s\n", blue("synthesizer: "+name))
}

func (r *Renderer) RunCompleted(run *pipeline.Run) {
	r.breakLine()
	final, agent := run.Final()
	if final == nil {
		fmt.Fprintf(r.out, "\n%s\n", yellow("pipeline finished without a synthesized answer"))
		return
	}
	fmt.Fprintf(r.out, "\n%s\n", bold("═══ Final Answer ═══"))
	if agent != "" {
		fmt.Fprintf(r.out, "%s\n", gray("by "+agent))
	}
	r.writeMarkdown(final.FinalAnswer)
	fmt.Fprintf(r.out, "%s\n", gray(fmt.Sprintf("confidence %.2f", final.Confidence)))
}

func (r *Renderer) RunFailed(message string) {
	r.breakLine()
	fmt.Fprintf(r.out, "%s\n", renderError("pipeline error: "+message))
}

// Summary prints the closing state of a run, live or cancelled.
func (r *Renderer) Summary(run *pipeline.Run, cancelled bool) {
	r.breakLine()
	if cancelled {
		fmt.Fprintf(r.out, "\n%s\n", yellow("cancelled — showing partial results"))
	}
	for stage := pipeline.StageDraft; stage <= pipeline.StageEvaluate; stage++ {
		resp := run.Responses(stage)
		if resp.Len() == 0 {
			continue
		}
		fmt.Fprintf(r.out, "%s\n", gray(fmt.Sprintf("stage %d (%s): %d responses", stage, pipeline.StageName(stage), resp.Len())))
	}
	for _, stage := range run.ErrorStages() {
		for _, msg := range run.Errors(stage) {
			if stage == 0 {
				fmt.Fprintf(r.out, "%s\n", red("pipeline: "+msg))
			} else {
				fmt.Fprintf(r.out, "%s\n", red(fmt.Sprintf("stage %d: %s", stage, msg)))
			}
		}
	}
}

// RenderRun paints a restored run in one pass, mirroring the live layout.
func (r *Renderer) RenderRun(run *pipeline.Run) {
	for stage := pipeline.StageDraft; stage <= pipeline.StageEvaluate; stage++ {
		resp := run.Responses(stage)
		if resp.Len() == 0 && len(run.Errors(stage)) == 0 {
			continue
		}
		fmt.Fprintf(r.out, "\n%s\n", bold(fmt.Sprintf("── Stage %d · %s ──", stage, pipeline.StageName(stage))))
		for _, agent := range resp.Agents() {
			out, _ := resp.Get(agent)
			r.AgentCompleted(stage, agent, out)
			if stage != pipeline.StageEvaluate && out.Answer != "" {
				fmt.Fprintf(r.out, "  %s\n", firstLine(out.Answer))
			}
		}
		for _, msg := range run.Errors(stage) {
			fmt.Fprintf(r.out, "%s\n", red("✗ "+msg))
		}
	}
	if agent, label := run.Synthesizer(); agent != "" {
		r.SynthesizerChosen(agent, label)
	}
	r.RunCompleted(run)
	if msgs := run.Errors(0); len(msgs) > 0 {
		for _, msg := range msgs {
			r.RunFailed(msg)
		}
	}
}

func (r *Renderer) writeMarkdown(text string) {
	if r.md != nil {
		if rendered, err := r.md.Render(text); err == nil {
			fmt.Fprint(r.out, rendered)
			return
		}
	}
	fmt.Fprintf(r.out, "%s\n", text)
}

func (r *Renderer) breakLine() {
	if r.needNewline {
		fmt.Fprintln(r.out)
		r.needNewline = false
	}
	r.lastAgent = ""
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	const max = 96
	if len(line) > max {
		return line[:max] + "…"
	}
	return line
}
