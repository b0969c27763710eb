package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/ruhusa/internal/gateway/mcpserver"
)

var mcpEmployee string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the HR tools to an MCP client over stdio",
	Long: `Expose the tool catalog (balances, calendar, PTO and expense validation
and submission, receipts, handbook search) as Model Context Protocol tools.
Every call runs as one employee and goes through the same validation, audit
and policy checks as the assistant's own tool calls. Logs go to stderr.`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpEmployee, "employee", "", "employee ID the tools act as (or RUHUSA_MCP_EMPLOYEE_ID env)")
}

func runMCP(_ *cobra.Command, _ []string) error {
	settings, cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	employeeID := mcpEmployee
	if employeeID == "" && cfg.Gateways.MCP != nil {
		employeeID = cfg.Gateways.MCP.EmployeeID
	}
	employeeID = goutils.Env("RUHUSA_MCP_EMPLOYEE_ID", employeeID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, settings, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	srv, err := mcpserver.NewServer(sc.Dispatcher, employeeID, version, os.Stdin, os.Stdout, logger)
	if err != nil {
		return err
	}
	logger.Info("mcp server starting", slog.String("employee_id", employeeID))
	return srv.Start(ctx)
}
