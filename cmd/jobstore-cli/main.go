// jobstore CLI — инструмент командной строки для диагностики
// кластера через HTTP API узла.
//
// Использование:
//
//	jobstore [--api-url URL] [--json] <command> [flags]
//
// Команды:
//
//	instances list   Записи живости инстансов
//	fired list       Эпизоды срабатывания
//	recover          Запуск цикла восстановления
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/jobstore/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "jobstore",
		Short:         "jobstore CLI — cluster diagnostics",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := "http://localhost:8090"
	if v := os.Getenv("JOBSTORE_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "Node API URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewInstancesCmd(clientFn, outputFn),
		cli.NewFiredCmd(clientFn, outputFn),
		cli.NewRecoverCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
