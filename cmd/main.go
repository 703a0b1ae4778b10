// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

// The iplc tool inspects, verifies and runs IronPLC bytecode containers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const toolVersion = "0.4.0"

func main() {
	root := &cobra.Command{
		Use:           "iplc",
		Short:         "IronPLC bytecode container tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newDumpCmd())
	root.AddCommand(newDisasmCmd())
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the tool version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(toolVersion)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "iplc: %v\n", err)
		os.Exit(1)
	}
}
