/*
Package notify decides whether a finished run should be announced and delivers
the digest by email. It also prints the console report.
*/
package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shanehull/douclip/internal/ai"
	"github.com/shanehull/douclip/internal/logger"
	"github.com/shanehull/douclip/internal/pipeline"
	"github.com/shanehull/douclip/internal/types"
)

// Digest is the content of one notification.
type Digest struct {
	Run         *types.Run
	Matches     []types.Match
	Analysis    *ai.Digest
	Operational bool
}

type Outcome string

const (
	Sent    Outcome = "sent"
	Skipped Outcome = "skipped"
)

type Renderer interface {
	Render(d Digest) (*RenderedMessage, error)
}

type Sender interface {
	Send(msg *RenderedMessage) error
}

type Summarizer interface {
	Summarize(ctx context.Context, matches []types.Match) (*ai.Digest, error)
}

type Notifier struct {
	renderer   Renderer
	sender     Sender
	summarizer Summarizer
	window     AlwaysWindow
	enabled    bool
	log        logger.Logger
	now        func() time.Time
}

// NewNotifier wires the policy to a sink. summarizer may be nil.
func NewNotifier(renderer Renderer, sender Sender, summarizer Summarizer, window AlwaysWindow, enabled bool, log logger.Logger) *Notifier {
	return &Notifier{
		renderer:   renderer,
		sender:     sender,
		summarizer: summarizer,
		window:     window,
		enabled:    enabled,
		log:        log,
		now:        time.Now,
	}
}

// Notify applies the policy to d and sends it when the policy says so.
func (n *Notifier) Notify(ctx context.Context, d Digest) (Outcome, error) {
	if d.Run == nil || d.Run.Status != types.RunStatusOK {
		n.log.Info("Notification skipped", zap.String("reason", "run did not succeed"))
		return Skipped, nil
	}

	decision := Decide(Input{
		Mode:         d.Run.Mode,
		MatchCount:   len(d.Matches),
		AlwaysNotify: n.window.Contains(n.now()),
		Enabled:      n.enabled,
	})
	if !decision.Send {
		n.log.Info("Notification skipped", zap.String("reason", decision.Reason))
		return Skipped, nil
	}
	d.Operational = decision.Operational

	if n.summarizer != nil && len(d.Matches) > 0 && d.Analysis == nil {
		analysis, err := n.summarizer.Summarize(ctx, d.Matches)
		if err != nil {
			n.log.Warn("AI digest failed, sending without it", zap.Error(err))
		} else {
			d.Analysis = analysis
		}
	}

	msg, err := n.renderer.Render(d)
	if err != nil {
		return Skipped, fmt.Errorf("render notification: %w", err)
	}
	if err := n.sender.Send(msg); err != nil {
		return Skipped, fmt.Errorf("send notification: %w", err)
	}

	n.log.Info("Notification sent",
		zap.String("reason", decision.Reason),
		zap.Int("matches", len(d.Matches)),
	)
	return Sent, nil
}

// Report prints a human-readable summary of a run to w.
func Report(w io.Writer, res *pipeline.Result) {
	if res == nil || res.Run == nil {
		return
	}
	run := res.Run

	fmt.Fprintln(w, "\n===========================================")
	fmt.Fprintf(w, "RUN %s (%s, %s)\n", run.ID, run.Mode, run.Status)
	fmt.Fprintf(w, "Window: %s .. %s\n", run.StartDate.Format(types.DateLayout), run.EndDate.Format(types.DateLayout))
	fmt.Fprintf(w, "Files: %d seen, %d processed, %d skipped, %d failed (%d malformed records)\n",
		run.FilesSeen, run.FilesProcessed, run.FilesSkipped, run.FilesFailed, run.RecordsSkipped)
	if run.Notes != "" {
		fmt.Fprintf(w, "Notes: %s\n", run.Notes)
	}
	fmt.Fprintln(w, "===========================================")

	for _, rep := range res.Reports {
		status := ""
		if rep.ListingFailed {
			status = " (listing failed)"
		}
		fmt.Fprintf(w, "%s: %d processed, %d skipped, %d failed, %d matches%s\n",
			rep.Date.Format(types.DateLayout), rep.Processed, rep.Skipped, rep.Failed, rep.Matches, status)
	}

	if len(res.Matches) == 0 {
		fmt.Fprintln(w, "\n-------------------------------------------")
		fmt.Fprintln(w, "No new matches.")
		fmt.Fprintln(w, "-------------------------------------------")
		return
	}

	fmt.Fprintf(w, "\n%d MATCHES FOUND\n", len(res.Matches))
	for i, m := range res.Matches {
		fmt.Fprintf(w, "\n--- MATCH #%d ---\n", i+1)
		fmt.Fprintf(w, "Filter:  %s\n", m.FilterName)
		fmt.Fprintf(w, "Keyword: %s\n", m.KeywordHit)
		fmt.Fprintf(w, "File:    %s (%s)\n", m.SourceFile, m.PubDate)
		if m.Organization != "" {
			fmt.Fprintf(w, "Org:     %s\n", m.Organization)
		}
		if m.Title != "" {
			fmt.Fprintf(w, "Title:   %s\n", m.Title)
		}
		if m.Link != "" {
			fmt.Fprintf(w, "URL:     %s\n", m.Link)
		}
		fmt.Fprintf(w, "Snippet:\n\t%s\n", strings.TrimSpace(m.Snippet))
	}
}
