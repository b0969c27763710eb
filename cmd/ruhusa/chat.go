package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/ruhusa/internal/gateway/cli"
)

var (
	chatEmployee string
	chatNoStream bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant in the terminal",
	Long: `Start an interactive session as one employee. The session talks to
the database directly; no server needs to be running.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatEmployee, "employee", "", "employee ID to act as (or RUHUSA_EMPLOYEE_ID env)")
	chatCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "print whole answers instead of streaming")
}

func runChat(_ *cobra.Command, _ []string) error {
	settings, cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	employeeID := chatEmployee
	if employeeID == "" && cfg.Gateways.CLI != nil {
		employeeID = cfg.Gateways.CLI.EmployeeID
	}
	employeeID = goutils.Env("RUHUSA_EMPLOYEE_ID", employeeID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, settings, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	gw := cli.NewGateway(sc.Agent, employeeID, os.Stdin, os.Stdout, logger, cli.WithStreaming(!chatNoStream))
	return gw.Start(ctx)
}
