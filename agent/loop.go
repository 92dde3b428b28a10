package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/Cshiyuan/browser-brain/models"
	"github.com/Cshiyuan/browser-brain/session"
)

const systemPrompt = `You are a web automation agent controlling a real browser.
Each turn you receive the current page (URL, title, content as markdown, candidate links)
and must reply with a single JSON object:

{
  "evaluation": "one sentence judging the previous step's outcome",
  "next_goal": "one sentence describing what you do next",
  "action": {
    "type": "navigate" | "click" | "type" | "scroll" | "done",
    "url": "for navigate",
    "selector": "CSS selector for click/type",
    "text": "text for type",
    "direction": "down or up, for scroll"
  },
  "success": true or false (with "done": whether the task was accomplished),
  "final_answer": "with type done: the extracted result; JSON matching the requested schema when one was given"
}

Rules: act step by step, one action per turn. Use "done" as soon as the task is
finished or clearly impossible. Never invent page content.`

// decision is the parsed form of one LLM reply.
type decision struct {
	Evaluation  string `json:"evaluation"`
	NextGoal    string `json:"next_goal"`
	Action      action `json:"action"`
	Success     bool   `json:"success"`
	FinalAnswer string `json:"final_answer"`
}

type action struct {
	Type      string `json:"type"`
	URL       string `json:"url,omitempty"`
	Selector  string `json:"selector,omitempty"`
	Text      string `json:"text,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// BrowserAgent is the LLM-driven Capability implementation: observe the page,
// ask the reasoning backend for one decision, act on it, repeat within the
// step budget.
type BrowserAgent struct {
	llm  *LLMClient
	conv *converter.Converter
}

// NewBrowserAgent creates the default capability backed by the given client.
func NewBrowserAgent(llm *LLMClient) *BrowserAgent {
	return &BrowserAgent{
		llm:  llm,
		conv: newMarkdownConverter(),
	}
}

// Run executes the task on the session's page. It returns the partial history
// alongside the error when a step fails mid-run.
func (a *BrowserAgent) Run(ctx context.Context, sess *session.Session, req *models.TaskRequest) (*History, error) {
	page, err := sess.Page(ctx)
	if err != nil {
		return nil, err
	}
	timing := sess.Timing()

	hist := &History{}
	messages := []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildTaskPrompt(sess, req)},
	}

	for step := 0; step < req.MaxSteps; step++ {
		select {
		case <-ctx.Done():
			return hist, ctx.Err()
		default:
		}

		view := capturePage(page.Context(ctx), a.conv)
		messages = append(messages, observationMessage(ctx, page, view, req.UseVision))

		reply, err := a.llm.Chat(ctx, messages)
		if err != nil {
			return hist, err
		}
		messages = append(messages, ChatMessage{Role: "assistant", Content: reply})

		dec, err := parseDecision(reply)
		if err != nil {
			return hist, models.NewAgentError(models.ErrCodeLLMFailure, "unparseable agent decision", err)
		}

		hist.Steps = append(hist.Steps, Step{
			Evaluation: dec.Evaluation,
			NextGoal:   dec.NextGoal,
			URL:        view.URL,
		})
		hist.VisitedURLs = append(hist.VisitedURLs, view.URL)

		slog.Debug("agent step",
			"session", sess.ID(),
			"step", step+1,
			"evaluation", dec.Evaluation,
			"nextGoal", dec.NextGoal,
			"action", dec.Action.Type,
			"url", view.URL,
		)

		if dec.Action.Type == "done" {
			hist.FinalAnswer = dec.FinalAnswer
			hist.Achieved = dec.Success
			return hist, nil
		}

		if err := a.act(ctx, page, dec.Action, timing); err != nil {
			// A failed action is an observation, not a run failure: report it
			// to the agent and let it pick another path.
			messages = append(messages, ChatMessage{
				Role:    "user",
				Content: fmt.Sprintf("action %q failed: %v", dec.Action.Type, err),
			})
		}

		select {
		case <-ctx.Done():
			return hist, ctx.Err()
		case <-time.After(timing.ActionWait):
		}
	}

	// Step budget exhausted without a done decision.
	return hist, nil
}

// act performs one browser action under the session's timing profile.
func (a *BrowserAgent) act(ctx context.Context, page *rod.Page, act action, timing session.TimingProfile) error {
	p := page.Context(ctx)

	switch act.Type {
	case "navigate":
		if act.URL == "" {
			return fmt.Errorf("navigate action requires a url")
		}
		if err := p.Navigate(act.URL); err != nil {
			return err
		}
		if err := p.Timeout(timing.MaxLoadWait).WaitLoad(); err != nil {
			slog.Debug("page load wait did not converge", "url", act.URL, "error", err)
		}
		return sleepCtx(ctx, timing.SettleWait)

	case "click":
		if act.Selector == "" {
			return fmt.Errorf("click action requires a selector")
		}
		el, err := p.Element(act.Selector)
		if err != nil {
			return fmt.Errorf("element %q not found: %w", act.Selector, err)
		}
		return el.Click(proto.InputMouseButtonLeft, 1)

	case "type":
		if act.Selector == "" {
			return fmt.Errorf("type action requires a selector")
		}
		el, err := p.Element(act.Selector)
		if err != nil {
			return fmt.Errorf("element %q not found: %w", act.Selector, err)
		}
		return el.Input(act.Text)

	case "scroll":
		res, err := p.Eval(`() => window.innerHeight`)
		if err != nil {
			return fmt.Errorf("failed to get viewport height: %w", err)
		}
		delta := float64(res.Value.Int())
		if act.Direction == "up" {
			delta = -delta
		}
		return p.Mouse.Scroll(0, delta, 0)

	default:
		return fmt.Errorf("unknown action type: %s", act.Type)
	}
}

// buildTaskPrompt assembles the opening user message, prepending the retained
// session's accumulated notes so chained tasks build on earlier outcomes.
func buildTaskPrompt(sess *session.Session, req *models.TaskRequest) string {
	var b strings.Builder
	if notes := sess.Notes(); len(notes) > 0 {
		b.WriteString("Context from earlier tasks in this session:\n")
		for _, n := range notes {
			b.WriteString(n)
			b.WriteString("\n---\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Task: ")
	b.WriteString(req.Task)
	if len(req.OutputSchema) > 0 {
		b.WriteString("\n\nWhen done, final_answer must be JSON matching this schema:\n")
		b.Write(req.OutputSchema)
	}
	return b.String()
}

// observationMessage renders the page view as a user turn. With vision on, a
// JPEG screenshot rides along as an image part.
func observationMessage(ctx context.Context, page *rod.Page, view PageView, vision bool) ChatMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Current page: %s\nTitle: %s\n\n%s", view.URL, view.Title, view.Content)
	if len(view.Links) > 0 {
		b.WriteString("\n\nLinks on page:\n")
		for _, l := range view.Links {
			b.WriteString("- ")
			b.WriteString(l)
			b.WriteString("\n")
		}
	}

	if !vision {
		return ChatMessage{Role: "user", Content: b.String()}
	}

	shot, err := page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatJpeg,
	})
	if err != nil {
		slog.Warn("screenshot capture failed, sending text-only observation", "error", err)
		return ChatMessage{Role: "user", Content: b.String()}
	}

	return ChatMessage{Role: "user", Content: []any{
		TextPart{Type: "text", Text: b.String()},
		ImagePart{Type: "image_url", ImageURL: ImageURL{
			URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(shot),
		}},
	}}
}

// parseDecision extracts the decision JSON from the model reply, tolerating
// markdown code fences around the object.
func parseDecision(reply string) (*decision, error) {
	text := strings.TrimSpace(reply)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var dec decision
	if err := json.Unmarshal([]byte(text), &dec); err != nil {
		return nil, err
	}
	if dec.Action.Type == "" {
		return nil, fmt.Errorf("decision has no action type")
	}
	return &dec, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
