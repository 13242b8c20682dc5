package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"farm-exporter/internal/registry"
	"farm-exporter/internal/watchdog"
	"farm-exporter/internal/worker"
)

// CollectOptions configure the one-shot collect command.
type CollectOptions struct {
	Sources []string
	Out     io.Writer
}

// Collect polls the selected sources once, including a reward scan, and
// prints every metric. It fails if any source failed.
func (a *App) Collect(ctx context.Context, opts CollectOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	enabled, err := a.newSources(opts.Sources)
	if err != nil {
		return err
	}
	if err := a.checkVersions(ctx, enabled); err != nil {
		return err
	}

	reg := registry.New()
	counters := watchdog.NewCounters()

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source\tMetric\tValue\tHelp")

	var errs []error
	for _, es := range enabled {
		w := worker.New(es.adapter, es.interval, reg, counters, nil, a.Logger)
		start := time.Now()
		snap, err := w.Poll(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
			fmt.Fprintf(writer, "%s\t-\terror\t%s\n", w.Name(), sanitizeInline(err.Error()))
			continue
		}
		a.Logger.Debug().Str("source", w.Name()).Dur("took", time.Since(start)).Msg("collected")
		for _, m := range snap.Metrics() {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", w.Name(), m.Name, formatValue(m.Value), sanitizeInline(m.Help))
		}
	}

	if err := writer.Flush(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

var (
	_ worker.Publisher    = (*registry.Registry)(nil)
	_ worker.ErrorCounter = (*watchdog.Counters)(nil)
)
