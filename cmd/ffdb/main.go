package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/flatfiledb/ffdb/internal/ffdberr"
)

var gitCommitSHA = ""

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-interrupt:
			fmt.Println()
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}

		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:        "ffdb",
		Version:     gitCommitSHA,
		Description: "Build, query, merge, and prune flat-file record databases with an external positional index.",
		Flags:       NewKlogFlagSet(),
		Commands: []*cli.Command{
			newCmd_Index(),
			newCmd_Extract(),
			newCmd_Merge(),
			newCmd_Remove(),
		},
	}

	sort.Sort(cli.FlagsByName(app.Flags))
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.RunContext(ctx, os.Args); err != nil {
		var ee *ffdberr.ExitError
		if errors.As(err, &ee) {
			klog.Error(ee.Err)
			os.Exit(ee.Code)
		}
		klog.Error(err)
		os.Exit(ffdberr.CodeOf(err))
	}
}
