// funai is the operator CLI: it reconciles the storage folder and ingests
// packages from local files using the server's configuration.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/hujiangang/funAI/internal/app"
	"github.com/hujiangang/funAI/internal/config"
	"github.com/hujiangang/funAI/internal/ingest"
	"github.com/hujiangang/funAI/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var bf *ingest.BuildFailure
		if errors.As(err, &bf) && len(bf.Output) > 0 {
			fmt.Fprintf(os.Stderr, "\nbuild output:\n%s\n", bf.Output)
		}
		os.Exit(1)
	}
}

const usage = `Usage: funai <command> [flags]

Commands:
  reconcile   sync loose *.html files in the storage root into the catalog
  ingest      ingest a local document or archive

Configuration is read from the environment, .env and CONFIG_FILE, as for
the server.
`

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("command required")
	}

	switch args[0] {
	case "reconcile":
		return runReconcile(ctx, args[1:], out)
	case "ingest":
		return runIngest(ctx, args[1:], out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func setup(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: "console", OutputPath: "stderr"}); err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func runReconcile(ctx context.Context, args []string, out io.Writer) error {
	flagSet := pflag.NewFlagSet("reconcile", pflag.ContinueOnError)
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.Reconciler.Run(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, rep)
}

func runIngest(ctx context.Context, args []string, out io.Writer) error {
	var (
		archive, htmlFile string
		sub               ingest.Submission
	)
	flagSet := pflag.NewFlagSet("ingest", pflag.ContinueOnError)
	flagSet.StringVar(&archive, "archive", "", "path to a zip or tar archive (multi-file game)")
	flagSet.StringVar(&htmlFile, "html", "", "path to an HTML document (single-file game)")
	flagSet.StringVar(&sub.Title, "title", "", "title (default: from <title> or filename)")
	flagSet.StringVar(&sub.Description, "description", "", "description")
	flagSet.StringVar(&sub.Author, "author", "", "author")
	flagSet.StringVar(&sub.AIModel, "ai-model", "", "model that generated the game")
	flagSet.StringVar(&sub.Prompt, "prompt", "", "prompt used to generate the game")
	flagSet.IntVar(&sub.CategoryID, "category", 0, "category id")
	flagSet.StringVar(&sub.EditPassword, "edit-password", "", "password required to edit the game later")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if (archive == "") == (htmlFile == "") {
		return errors.New("exactly one of --archive or --html is required")
	}

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if htmlFile != "" {
		data, err := os.ReadFile(htmlFile)
		if err != nil {
			return err
		}
		g, err := a.Pipeline.IngestDocument(ctx, sub, string(data))
		if err != nil {
			return err
		}
		return printJSON(out, g.Summary())
	}

	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()
	g, err := a.Pipeline.IngestArchive(ctx, sub, f)
	if err != nil {
		return err
	}
	return printJSON(out, g.Summary())
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
