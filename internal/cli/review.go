package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/lens/internal/config"
	"github.com/dshills/lens/internal/events"
	"github.com/dshills/lens/internal/output"
	"github.com/dshills/lens/internal/providers"
	"github.com/dshills/lens/internal/review"
)

var (
	flagRepo         string
	flagGlob         string
	flagExclude      string
	flagWorkers      int
	flagProvider     string
	flagModel        string
	flagParser       string
	flagFormat       string
	flagOut          string
	flagPretty       bool
	flagInteractive  bool
	flagQuiet        bool
	flagVerbose      bool
	flagFailOnIssues bool
	flagNoMergeBase  bool
	flagNoRedact     bool
	flagValidatorsF  string
)

func buildOverrides() map[string]string {
	m := make(map[string]string)
	if flagProvider != "" {
		m["provider"] = flagProvider
	}
	if flagModel != "" {
		m["model"] = flagModel
	}
	if flagFormat != "" {
		m["format"] = flagFormat
	}
	if flagGlob != "" {
		m["fileGlob"] = flagGlob
	}
	if flagExclude != "" {
		m["exclude"] = flagExclude
	}
	if flagWorkers > 0 {
		m["workers"] = strconv.Itoa(flagWorkers)
	}
	if flagParser != "" {
		m["parser"] = flagParser
	}
	if flagValidatorsF != "" {
		m["validatorsFile"] = flagValidatorsF
	}
	if flagNoMergeBase {
		m["mergeBase"] = "false"
	}
	if flagLogLevel != "" {
		m["log.level"] = flagLogLevel
	}
	return m
}

var reviewCmd = &cobra.Command{
	Use:   "review <base> [target]",
	Short: "Review the functions changed between two revisions",
	Long: "Review every function touched between base and target. Without a target the " +
		"working tree is compared against base. With --interactive the reviewer may ask " +
		"questions about a function before it writes its verdict.",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(buildOverrides())
		if err != nil {
			return err
		}
		if flagNoRedact {
			cfg.Privacy.RedactSecrets = false
			fmt.Fprintln(os.Stderr, "WARNING: secret redaction is disabled")
		}
		if !flagInteractive {
			cfg.MaxClarifications = -1
		}
		req := review.Request{Repo: flagRepo, Base: args[0]}
		if len(args) == 2 {
			req.Target = args[1]
		}
		runReview(cmd.Context(), cfg, req)
		return nil
	},
}

func runReview(ctx context.Context, cfg config.Config, req review.Request) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	log, err := newLogger(cfg)
	if err != nil {
		fail(ExitUsageError, "%v", err)
		return
	}
	defer func() { _ = log.Sync() }()

	eng, cleanup, err := buildEngine(cfg, log)
	if err != nil {
		if providers.IsAuthError(err) || errors.Is(err, providers.ErrUnknownProvider) {
			fail(ExitAuthError, "%v", err)
			return
		}
		fail(ExitRuntimeError, "%v", err)
		return
	}
	defer cleanup()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var wg sync.WaitGroup
	sub := eng.Subscribe(false)
	var questions chan events.Event
	if flagInteractive {
		questions = make(chan events.Event, 64)
		wg.Add(1)
		go func() {
			defer wg.Done()
			answerQuestions(runCtx, eng, questions, cancelRun, log)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		var printer *output.EventPrinter
		if !flagQuiet {
			printer = output.NewEventPrinter(os.Stderr, !color.NoColor, flagVerbose)
		}
		forwardEvents(runCtx, sub, printer, questions)
	}()

	report, err := eng.Run(runCtx, req)
	sub.Close()
	cancelRun()
	wg.Wait()
	if err != nil {
		fail(ExitRuntimeError, "%v", err)
		return
	}

	opts := output.Options{Color: flagOut == "" && !color.NoColor, Pretty: flagPretty}
	if err := output.WriteReport(report, cfg.Format, flagOut, opts); err != nil {
		fail(ExitRuntimeError, "writing output: %v", err)
		return
	}
	if flagGHPR > 0 {
		if err := postToGitHub(ctx, report); err != nil {
			fail(ExitRuntimeError, "posting to GitHub: %v", err)
			return
		}
	}
	exitCode = reviewExitCode(report, flagFailOnIssues)
}

// forwardEvents prints events and hands clarification requests to the
// prompt loop until the subscription closes. Once ctx is done, requests are
// dropped instead of handed over.
func forwardEvents(ctx context.Context, sub *events.Subscription, printer *output.EventPrinter, questions chan<- events.Event) {
	if questions != nil {
		defer close(questions)
	}
	for ev := range sub.Events() {
		if printer != nil {
			printer.Print(ev)
		}
		if questions == nil || ev.Kind != events.KindClarificationRequested {
			continue
		}
		select {
		case questions <- ev:
		case <-ctx.Done():
		}
	}
}

// answerQuestions prompts for one answer per question, in arrival order.
// End of input cancels the run so waiting sessions end.
func answerQuestions(ctx context.Context, eng *review.Engine, questions <-chan events.Event, cancel context.CancelFunc, log *zap.Logger) {
	rl, err := readline.NewEx(&readline.Config{Prompt: "> ", Stdout: os.Stderr})
	if err != nil {
		log.Error("interactive prompt unavailable", zap.Error(err))
		cancel()
		return
	}
	var once sync.Once
	closePrompt := func() { once.Do(func() { _ = rl.Close() }) }
	defer closePrompt()
	go func() {
		<-ctx.Done()
		closePrompt()
	}()

	for ev := range questions {
		if ctx.Err() != nil {
			return
		}
		data, _ := ev.Data.(events.ClarificationRequested)
		answer, err := prompt(rl, ev.Session, data.Question)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, readline.ErrInterrupt) {
				log.Error("reading answer", zap.Error(err))
			}
			cancel()
			return
		}
		if err := eng.Reply(ev.Session, answer); err != nil {
			log.Warn("reply not delivered", zap.String("session", ev.Session), zap.Error(err))
		}
	}
}

func prompt(rl *readline.Instance, session, question string) (string, error) {
	fmt.Fprintf(rl.Stderr(), "\n%s asks:\n  %s\n", session, question)
	for {
		line, err := rl.Readline()
		if err != nil {
			return "", err
		}
		if line != "" {
			return line, nil
		}
	}
}

func reviewExitCode(report *review.Report, failOnIssues bool) int {
	switch {
	case report.Summary.Errored > 0:
		return ExitRuntimeError
	case failOnIssues && report.Summary.Issues > 0:
		return ExitIssues
	default:
		return ExitSuccess
	}
}

func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagRepo, "repo", ".", "Repository path")
	cmd.Flags().StringVar(&flagGlob, "glob", "", "File glob to review (default *.php)")
	cmd.Flags().StringVar(&flagExclude, "exclude", "", "Exclude path globs (comma-separated)")
	cmd.Flags().IntVar(&flagWorkers, "workers", 0, "Functions reviewed concurrently")
	cmd.Flags().StringVar(&flagProvider, "provider", "", "LLM provider (anthropic, openai, gemini, ollama)")
	cmd.Flags().StringVar(&flagModel, "model", "", "Model name")
	cmd.Flags().StringVar(&flagParser, "parser", "", "Source parser (regex, treesitter)")
	cmd.Flags().StringVar(&flagValidatorsF, "validators", "", "YAML file with extra or overriding validators")
	cmd.Flags().BoolVar(&flagNoMergeBase, "no-merge-base", false, "Diff base directly instead of the merge base")
	cmd.Flags().BoolVar(&flagNoRedact, "no-redact", false, "Disable secret redaction (use with caution)")
}

func init() {
	addEngineFlags(reviewCmd)
	reviewCmd.Flags().StringVar(&flagFormat, "format", "", "Output format (text, json, markdown, sarif)")
	reviewCmd.Flags().StringVar(&flagOut, "out", "", "Output file path (default: stdout)")
	reviewCmd.Flags().BoolVar(&flagPretty, "pretty", false, "Render verdict markdown in text output")
	reviewCmd.Flags().BoolVarP(&flagInteractive, "interactive", "i", false, "Answer reviewer questions at a prompt")
	reviewCmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "Do not print progress")
	reviewCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Print every event")
	reviewCmd.Flags().BoolVar(&flagFailOnIssues, "fail-on-issues", false, "Exit 1 when any validator reports an issue")
}
