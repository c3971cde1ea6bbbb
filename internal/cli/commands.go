package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mbaumer/clipq/internal/jobs"
	"github.com/mbaumer/clipq/internal/remote"
	"github.com/mbaumer/clipq/internal/session"
	"github.com/mbaumer/clipq/internal/tui"
	"github.com/mbaumer/clipq/internal/upload"
	"github.com/mbaumer/clipq/pkg/models"
)

func runLogin(tokens session.TokenStore, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return fmt.Errorf("usage: clipq login <token>")
	}
	if err := tokens.SetToken(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Println("token stored")
	return nil
}

func (a *app) runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	status := fs.String("status", "", "filter by status (queued, processing, paused, completed, failed, cancelled)")
	limit := fs.Int("limit", a.cfg.List.Limit, "maximum number of jobs")
	query := fs.String("q", "", "substring filter over title, description, url, filename")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tracker := jobs.NewTracker(a.dir)
	defer tracker.Close()
	tracker.SetQuery(*query)
	if fail := tracker.Refresh(context.Background(), *limit, models.JobStatus(*status)); fail != nil {
		return fail
	}

	snap := tracker.Snapshot()
	if len(snap.Filtered) == 0 {
		fmt.Println("no jobs")
		return nil
	}
	for _, job := range snap.Filtered {
		printJob(job)
	}
	return nil
}

func printJob(job models.Job) {
	status := string(job.Status)
	if job.Status == models.StatusProcessing {
		status = fmt.Sprintf("%s %d%%", job.Status, job.ProgressPct)
	}
	mark := " "
	if job.IsFlagged {
		mark = "⚑"
	}
	ref := job.SourceURL
	if job.Source == models.SourceFile {
		ref = job.Filename
	}
	fmt.Printf("%s %-36s  %-14s  %-30.30s  %s\n", mark, job.ID, status, job.Title, ref)
}

func (a *app) runSubmit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	file := fs.String("file", "", "path of a local media file to upload")
	title := fs.String("title", "", "job title")
	desc := fs.String("description", "", "job description")
	live := fs.Bool("live", false, "treat the URL as a live source")
	maxDuration := fs.Int("max-duration", 0, "max capture duration in seconds (live only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	meta := models.Metadata{Title: *title, Description: *desc}

	jnl, err := a.openJournal()
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jnl.Close()

	orch := upload.NewOrchestrator(a.transport, a.dir, jnl)
	defer orch.Close()

	ctx := context.Background()

	if *file == "" {
		// URL submission: one call, no upload phases.
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: clipq submit <url> | clipq submit -file <path>")
		}
		sourceURL := fs.Arg(0)
		var capture *models.CaptureOptions
		if *live {
			capture = &models.CaptureOptions{Live: true, MaxDurationSecs: *maxDuration}
		}
		job, fail := orch.SubmitURL(ctx, sourceURL, meta, capture)
		if fail != nil {
			return fail
		}
		if err := jnl.RecordSubmission(ctx, job.ID, string(models.SourceURL), sourceURL); err != nil {
			fmt.Fprintf(os.Stderr, "warning: recording submission: %v\n", err)
		}
		fmt.Printf("job created: %s\n", job.ID)
		return nil
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	unsubscribe := orch.Subscribe(func(st upload.State) {
		switch st.Phase {
		case upload.PhaseRequestingPresign:
			fmt.Println("requesting upload destination…")
		case upload.PhaseUploading:
			if st.TotalBytes > 0 {
				fmt.Printf("\ruploading… %d%%", st.BytesUploaded*100/st.TotalBytes)
			}
		case upload.PhaseFinalizing:
			fmt.Println("\nfinalizing…")
		}
	})
	defer unsubscribe()

	job, fail := orch.Submit(ctx, upload.FileSubmission{
		Filename: filepath.Base(*file),
		Data:     data,
		Metadata: meta,
	})
	if fail != nil {
		st := orch.State()
		if st.UploadID != "" && !st.CanRetry {
			return fmt.Errorf("%s (upload %s kept for resume-finalize)", fail.Message, st.UploadID)
		}
		if st.CanRetry {
			return fmt.Errorf("%s (safe to retry)", fail.Message)
		}
		return fail
	}
	if err := jnl.RecordSubmission(ctx, job.ID, string(models.SourceFile), filepath.Base(*file)); err != nil {
		fmt.Fprintf(os.Stderr, "warning: recording submission: %v\n", err)
	}
	fmt.Printf("job created: %s\n", job.ID)
	return nil
}

// runAction covers the single-job commands that share one shape.
func (a *app) runAction(command string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: clipq %s <jobID>", command)
	}
	jobID := args[0]

	tracker := jobs.NewTracker(a.dir)
	defer tracker.Close()

	ctx := context.Background()
	switch command {
	case "pause":
		tracker.Pause(ctx, jobID)
	case "resume":
		tracker.Resume(ctx, jobID)
	case "cancel":
		tracker.Cancel(ctx, jobID)
	case "delete":
		tracker.Delete(ctx, jobID)
	}
	return printNotices(tracker)
}

func (a *app) runFlag(args []string) error {
	fs := flag.NewFlagSet("flag", flag.ContinueOnError)
	clear := fs.Bool("clear", false, "remove the flag instead of setting it")
	note := fs.String("note", "", "note to attach to the flag")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: clipq flag <jobID> [-clear] [-note n]")
	}

	tracker := jobs.NewTracker(a.dir)
	defer tracker.Close()
	tracker.SetFlag(context.Background(), fs.Arg(0), !*clear, *note)
	return printNotices(tracker)
}

func printNotices(tracker *jobs.Tracker) error {
	errMsg, okMsg := tracker.ConsumeNotices()
	if errMsg != "" {
		return fmt.Errorf("%s", errMsg)
	}
	fmt.Println(okMsg)
	return nil
}

func (a *app) runWatch(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: clipq watch <jobID>")
	}
	jobID := args[0]

	watcher := remote.NewEventWatcher(a.sess.BaseURL(), a.sess)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, fail := watcher.Watch(ctx, jobID)
	if fail != nil {
		return fail
	}
	for ev := range events {
		fmt.Printf("%s  %s %d%%\n", ev.JobID, ev.Status, ev.ProgressPct)
	}
	return nil
}

func (a *app) runStuck(args []string) error {
	jnl, err := a.openJournal()
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jnl.Close()

	stuck, err := jnl.ListStuckFinalizes(context.Background())
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		fmt.Println("no uploads awaiting finalize")
		return nil
	}
	for _, s := range stuck {
		fmt.Printf("%s  %-30.30s  %s  (%s)\n", s.UploadID, s.Filename, s.Message, s.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func (a *app) runResumeFinalize(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: clipq resume-finalize <uploadID>")
	}

	jnl, err := a.openJournal()
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jnl.Close()

	orch := upload.NewOrchestrator(a.transport, a.dir, jnl)
	defer orch.Close()

	job, fail := orch.ResumeFinalize(context.Background(), args[0])
	if fail != nil {
		return fail
	}
	fmt.Printf("job created: %s\n", job.ID)
	return nil
}

func (a *app) runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("n", 20, "number of entries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	jnl, err := a.openJournal()
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jnl.Close()

	history, err := jnl.RecentSubmissions(context.Background(), *limit)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println("no submissions yet")
		return nil
	}
	for _, h := range history {
		fmt.Printf("%s  %-4s  %-40.40s  %s\n", h.JobID, h.Source, h.Ref, h.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func (a *app) runManage(args []string) error {
	if len(args) != 0 && strings.TrimSpace(strings.Join(args, "")) != "" {
		return fmt.Errorf("usage: clipq manage")
	}

	tracker := jobs.NewTracker(a.dir)
	defer tracker.Close()

	p := tea.NewProgram(tui.New(tracker, a.cfg.List.Limit), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
