package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/meikuraledutech/canvas"
	"github.com/meikuraledutech/canvas/autosync"
	"github.com/meikuraledutech/canvas/client"
	"github.com/meikuraledutech/canvas/config"
	"github.com/meikuraledutech/canvas/logging"
	"go.uber.org/zap"
)

// A headless editing session against a running server: create a workflow,
// build its canvas through the palette, let autosave push it, and read it
// back.
func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	keep := flag.Bool("keep", false, "keep the workflow instead of deleting it at the end")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	remote := client.New(cfg.Sync.BaseURL, client.WithTimeout(cfg.Sync.Timeout), client.WithLogger(logger.Named("client")))

	// 1. Pick a trigger from the catalog and create the workflow the canvas
	//    belongs to.
	triggers, err := remote.Triggers(ctx)
	if err != nil {
		log.Fatalf("list triggers: %v", err)
	}
	if len(triggers) == 0 {
		log.Fatal("trigger catalog is empty, POST /schema first")
	}
	trigger := triggers[0]
	palette, err := remote.Palette(ctx)
	if err != nil {
		log.Fatalf("load palette: %v", err)
	}

	wf, err := remote.CreateWorkflow(ctx, "Lead follow-up", "draft", trigger.ID)
	if err != nil {
		log.Fatalf("create workflow: %v", err)
	}
	fmt.Printf("workflow %d created\n", wf.ID)
	id := strconv.FormatInt(wf.ID, 10)

	// 2. Mount the canvas. The server has no canvas yet, so the default
	//    trigger is all there is.
	cv := canvas.New(canvas.WithTrigger(trigger.Name, trigger.ID), canvas.WithLogger(logger.Named("canvas")))
	ctrl := autosync.New(id, cv, remote,
		autosync.WithInterval(cfg.Sync.Interval),
		autosync.WithJustSavedFor(cfg.Sync.JustSavedFor),
		autosync.WithLogger(logger.Named("autosync")),
		autosync.WithNotifier(autosync.NotifierFunc(func(err error) {
			logger.Warn("sync problem", zap.Error(err))
		})),
	)
	ctrl.Mount(ctx)
	<-ctrl.Loaded()
	defer ctrl.Unmount()

	// 3. Tap-to-add every palette item.
	placements := make(chan canvas.Placement)
	done := make(chan struct{})
	go func() {
		cv.Listen(ctx, placements)
		close(done)
	}()
	for _, item := range palette {
		placements <- canvas.Placement{Item: item}
	}
	close(placements)
	<-done

	// 4. Chain them from the trigger.
	g := cv.Graph()
	for i := 1; i < len(g.Nodes); i++ {
		cv.Connect(g.Nodes[i-1].ID, g.Nodes[i].ID)
	}

	// 5. Save now instead of waiting for the next tick.
	if err := ctrl.SaveNow(ctx); err != nil {
		log.Fatalf("save: %v", err)
	}
	st := ctrl.Status()
	fmt.Printf("saved at %s (just saved: %v)\n", st.LastSaved.Format("15:04:05"), st.JustSaved)

	// 6. Read it back from the server.
	if err := ctrl.Reload(ctx); err != nil {
		log.Fatalf("reload: %v", err)
	}
	fmt.Println("\ncanvas as stored:")
	printJSON(cv.GetCanvasData())

	if !*keep {
		ctrl.Unmount()
		if err := remote.DeleteWorkflow(ctx, wf.ID); err != nil {
			log.Fatalf("delete workflow: %v", err)
		}
		fmt.Printf("\nworkflow %d deleted\n", wf.ID)
	}
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
