package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/locflow/locflow/internal/dispatch"
	"github.com/locflow/locflow/internal/manifest"
	"github.com/locflow/locflow/internal/matcher"
	"github.com/locflow/locflow/internal/provider"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// translateJob is one (file, target locale) unit on the direct path.
type translateJob struct {
	file   manifest.SourceFile
	target string
}

func newTranslateCommand() *cobra.Command {
	var (
		targets   []string
		files     []string
		model     string
		showStats bool
	)

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate files synchronously through the staggered queue",
		Long: `Sends each (file, target locale) pair as a direct provider call
through the rate-smoothed dispatch queue and writes results straight
into the target locale trees. Suited to small jobs where batch-job
turnaround is not worth it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(cmd))
			if err != nil {
				return err
			}
			client := a.client
			if model == "" {
				model = a.cfg.Model
			}

			scanned, err := a.builder.ScanSource(a.cfg.SourceLocale)
			if err != nil {
				return err
			}
			scanned = filterByPath(scanned, files)
			if len(scanned) == 0 {
				return manifest.ErrNoMatchingFiles
			}
			resolved := a.registry.Filter(targets)
			if len(resolved) == 0 {
				return manifest.ErrNoValidTargetLocales
			}

			queue := dispatch.New(func(ctx context.Context, job translateJob) (string, error) {
				return client.Complete(ctx, provider.Request{
					Model:    model,
					System:   manifest.SystemInstruction(),
					User:     manifest.UserInstruction(job.file.Kind, a.cfg.SourceLocale, job.target, string(job.file.Content)),
					JSONMode: job.file.Kind == manifest.KindJSON,
				})
			}, dispatch.Options{
				StaggerDelay:   a.cfg.Dispatch.StaggerDelay(),
				MaxConcurrent:  a.cfg.Dispatch.Concurrency(),
				RequestTimeout: a.cfg.Dispatch.RequestTimeout(),
			})
			defer queue.Close()

			type pending struct {
				job    translateJob
				future *dispatch.Future[string]
			}
			var all []pending
			for _, f := range scanned {
				for _, target := range resolved {
					all = append(all, pending{
						job:    translateJob{file: f, target: target},
						future: queue.Enqueue(translateJob{file: f, target: target}),
					})
				}
			}
			fmt.Printf("Translating %d files into %d locales (%d requests)\n",
				len(scanned), len(resolved), len(all))

			var mu sync.Mutex
			written, failed := 0, 0

			g, ctx := errgroup.WithContext(cmd.Context())
			for _, p := range all {
				g.Go(func() error {
					text, err := p.future.Wait(ctx)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						failed++
						fmt.Printf("  FAIL %s -> %s: %v\n", p.job.file.Path, p.job.target, err)
						return nil
					}
					if err := writeDirectResult(a, p.job, text); err != nil {
						failed++
						fmt.Printf("  FAIL %s -> %s: %v\n", p.job.file.Path, p.job.target, err)
						return nil
					}
					written++
					fmt.Printf("  ok   %s -> %s\n", p.job.file.Path, p.job.target)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			if showStats {
				stats := queue.Stats()
				fmt.Printf("\nQueue: %d queued, %d active, processing=%t\n",
					stats.QueueLength, stats.ActiveCount, stats.Processing)
			}
			fmt.Printf("\nDone: %d written, %d failed\n", written, failed)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&targets, "locales", nil, "Target locales (default: all configured)")
	cmd.Flags().StringSliceVar(&files, "files", nil, "Restrict to these relative paths")
	cmd.Flags().StringVar(&model, "model", "", "Override the configured model")
	cmd.Flags().BoolVar(&showStats, "stats", false, "Print queue statistics when done")

	return cmd
}

func filterByPath(scanned []manifest.SourceFile, include []string) []manifest.SourceFile {
	if len(include) == 0 {
		return scanned
	}
	set := make(map[string]struct{}, len(include))
	for _, p := range include {
		set[p] = struct{}{}
	}
	var out []manifest.SourceFile
	for _, f := range scanned {
		if _, ok := set[f.Path]; ok {
			out = append(out, f)
		}
	}
	return out
}

// writeDirectResult mirrors the batch write-back: markdown lands verbatim,
// JSON is unwrapped from its {"translation": ...} envelope and re-indented.
func writeDirectResult(a *app, job translateJob, text string) error {
	target := job.target + "/" + job.file.Path
	text = matcher.DecodeUnicodeEscapes(text)

	if job.file.Kind != manifest.KindJSON {
		return a.content.Write(target, []byte(text))
	}

	doc, _ := matcher.UnwrapTranslation(text)
	var pretty any
	if err := json.Unmarshal(doc, &pretty); err != nil {
		return fmt.Errorf("provider returned unparsable JSON for %s: %w", job.file.Path, err)
	}
	data, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	return a.content.Write(target, data)
}
