// lessonctl follows a lesson run from the terminal. By default it starts the
// run on the server's scheduler and polls its events; with -drive it calls
// resume itself until the run is terminal, which is how deployments without
// a scheduler progress a run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yungbote/lessongen-backend/internal/services"
)

func main() {
	var (
		base     = flag.String("api", envOr("LESSONGEN_API", "http://localhost:8080"), "API base URL")
		token    = flag.String("token", os.Getenv("LESSONGEN_TOKEN"), "bearer token")
		lessonID = flag.String("lesson", "", "lesson id to split and run")
		runID    = flag.String("run", "", "existing run id to resume")
		interval = flag.Duration("interval", 500*time.Millisecond, "pause between polls")
		drive    = flag.Bool("drive", false, "call resume from this client instead of the server scheduler")
	)
	flag.Parse()

	if (*lessonID == "") == (*runID == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -lesson or -run is required")
		os.Exit(2)
	}

	api := newAPIClient(*base, *token)
	first, err := bootstrap(api, *lessonID, *runID, *drive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	final, err := tea.NewProgram(newModel(api, first, *interval, *drive)).Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}
	if m, ok := final.(model); ok && m.err != nil {
		os.Exit(1)
	}
}

func bootstrap(api *apiClient, lessonID, runID string, drive bool) (*services.RunSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if runID == "" {
		snap, err := api.split(ctx, lessonID)
		if err != nil {
			return nil, err
		}
		runID = snap.Run.ID.String()
	}
	if drive {
		return api.get(ctx, runID, 0)
	}
	return api.start(ctx, runID)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
