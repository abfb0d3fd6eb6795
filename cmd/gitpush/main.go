package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tasuku43/gitpush/internal/cli"
	"github.com/tasuku43/gitpush/internal/ui"
)

func main() {
	err := cli.Run(context.Background(), os.Args[1:])
	if err == nil {
		return
	}
	var taskErr *cli.TaskError
	if !errors.As(err, &taskErr) {
		if ui.IsTerminal(os.Stderr) {
			renderer := ui.NewRenderer(os.Stderr, ui.DefaultTheme(), true)
			renderer.Blank()
			renderer.BulletError(fmt.Sprintf("error: %s", err.Error()))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	os.Exit(cli.ExitCode(err))
}
