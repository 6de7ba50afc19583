// Package main - gwctl, операторская утилита шлюза: вычисляет ключи авторизации,
// собирает и разбирает execute-payload, выпускает токены и отправляет вызовы.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gwctl",
		Short:         "Operator CLI for the self-authorizing gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newSelectorCmd(),
		newActionIDCmd(),
		newEncodeCmd(),
		newDecodeCmd(),
		newTokenCmd(),
		newSendCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
