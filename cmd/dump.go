// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ironplc/iplc"
	"github.com/spf13/cobra"
)

func parseContainer(path string, fast bool) (*iplc.File, error) {
	file, err := iplc.New(path, &iplc.Options{Fast: fast})
	if err != nil {
		return nil, err
	}
	if err := file.Parse(); err != nil {
		file.Close()
		return nil, err
	}
	return file, nil
}

func newDumpCmd() *cobra.Command {
	var (
		wantHeader    bool
		wantTasks     bool
		wantTypes     bool
		wantConstants bool
		wantCert      bool
		fast          bool
	)

	cmd := &cobra.Command{
		Use:   "dump <container>",
		Short: "Dump container structures as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := parseContainer(args[0], fast)
			if err != nil {
				return err
			}
			defer file.Close()

			out := map[string]interface{}{}
			all := !wantHeader && !wantTasks && !wantTypes &&
				!wantConstants && !wantCert
			if wantHeader || all {
				out["header"] = file.Header
			}
			if wantTasks || all {
				out["task_table"] = file.TaskTable
			}
			if wantTypes || all {
				out["variables"] = file.Variables
				out["fb_types"] = file.FBTypes
				out["arrays"] = file.Arrays
				out["signatures"] = file.Signatures
			}
			if wantConstants || all {
				out["constants"] = file.Constants
			}
			if wantCert || all {
				out["content_signature"] = file.ContentSignature
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().BoolVar(&wantHeader, "header", false, "Dump file header")
	cmd.Flags().BoolVar(&wantTasks, "tasks", false, "Dump task table")
	cmd.Flags().BoolVar(&wantTypes, "types", false, "Dump type section")
	cmd.Flags().BoolVar(&wantConstants, "constants", false, "Dump constant pool")
	cmd.Flags().BoolVar(&wantCert, "cert", false, "Dump content signature info")
	cmd.Flags().BoolVar(&fast, "fast", false, "Skip hash and signature verification")
	return cmd
}

func newDisasmCmd() *cobra.Command {
	var fast bool

	cmd := &cobra.Command{
		Use:   "disasm <container>",
		Short: "Disassemble the code section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := parseContainer(args[0], fast)
			if err != nil {
				return err
			}
			defer file.Close()

			dis, err := file.Disassemble()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(dis)
		},
	}
	cmd.Flags().BoolVar(&fast, "fast", false, "Skip hash and signature verification")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <container>",
		Short: "Statically verify the bytecode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := parseContainer(args[0], false)
			if err != nil {
				return err
			}
			defer file.Close()

			ref, err := file.Ref()
			if err != nil {
				return err
			}
			errs := iplc.Verify(ref)
			for _, e := range errs {
				fmt.Fprintf(os.Stderr, "%v\n", e)
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d verifier error(s)", len(errs))
			}
			fmt.Println("OK")
			return nil
		},
	}
	return cmd
}
