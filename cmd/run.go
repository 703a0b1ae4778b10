// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ironplc/iplc"
	"github.com/ironplc/iplc/vm"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		rounds   uint64
		policy   string
		dumpVars bool
	)

	cmd := &cobra.Command{
		Use:   "run <container>",
		Short: "Load, verify and execute a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var overflow vm.OverflowPolicy
			switch policy {
			case "wrap":
				overflow = vm.OverflowWrap
			case "saturate":
				overflow = vm.OverflowSaturate
			case "fault":
				overflow = vm.OverflowFault
			default:
				return fmt.Errorf("unknown overflow policy %q", policy)
			}

			file, err := parseContainer(args[0], false)
			if err != nil {
				return err
			}
			defer file.Close()

			ref, err := file.Ref()
			if err != nil {
				return err
			}

			start := time.Now()
			clock := func() uint64 {
				return uint64(time.Since(start).Microseconds())
			}

			machine := vm.New(&vm.Config{
				OverflowPolicy: overflow,
				Clock:          clock,
			})
			ready, err := machine.Load(ref, vm.AllocMemory(ref.Header()))
			if err != nil {
				return err
			}
			running := ready.Start()

			// The signal handler only flips an atomic flag; the round
			// loop turns it into a cooperative stop at the next boundary.
			var sigStop int32
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				atomic.StoreInt32(&sigStop, 1)
			}()

			for {
				if atomic.LoadInt32(&sigStop) != 0 {
					running.RequestStop()
				}
				if running.StopRequested() ||
					(rounds > 0 && running.ScanCount() >= rounds) {
					stopped := running.Stop()
					fmt.Printf("stopped after %d scan cycles\n", stopped.ScanCount())
					if dumpVars {
						dumpVariables(stopped.NumVariables(), stopped.ReadVariable, file)
					}
					return nil
				}

				nextDue, fault := running.RunRound(clock())
				if fault != nil {
					faulted := running.Fault(fault)
					fmt.Fprintf(os.Stderr, "VM trap: %v (task %d, instance %d)\n",
						faulted.Trap(), faulted.TaskID(), faulted.InstanceID())
					if dumpVars {
						dumpVariables(faulted.NumVariables(), faulted.ReadVariable, file)
					}
					os.Exit(1)
				}
				if nextDue > 0 {
					if now := clock(); nextDue > now {
						time.Sleep(time.Duration(nextDue-now) * time.Microsecond)
					}
				}
			}
		},
	}

	cmd.Flags().Uint64Var(&rounds, "rounds", 0, "Stop after N scan cycles (0 = run until interrupted)")
	cmd.Flags().StringVar(&policy, "overflow", "wrap", "Signed overflow policy: wrap, saturate or fault")
	cmd.Flags().BoolVar(&dumpVars, "vars", false, "Dump variables on exit")
	return cmd
}

func dumpVariables(n uint16, read func(uint16) (vm.Slot, bool), file *iplc.File) {
	for i := uint16(0); i < n; i++ {
		v, ok := read(i)
		if !ok {
			continue
		}
		entry := file.Variables[i]
		fmt.Printf("  var[%d] %-12s %s\n", i, entry.VarType, renderSlot(entry, v))
	}
}

func renderSlot(entry iplc.VariableEntry, v vm.Slot) string {
	if entry.IsArray() {
		return fmt.Sprintf("<array @%d>", v.U32())
	}
	switch entry.VarType {
	case iplc.TypeI32:
		return fmt.Sprintf("%d", v.I32())
	case iplc.TypeU32:
		return fmt.Sprintf("%d", v.U32())
	case iplc.TypeI64, iplc.TypeTime:
		return fmt.Sprintf("%d", v.I64())
	case iplc.TypeU64:
		return fmt.Sprintf("%d", v.U64())
	case iplc.TypeF32:
		return fmt.Sprintf("%g", v.F32())
	case iplc.TypeF64:
		return fmt.Sprintf("%g", v.F64())
	case iplc.TypeString, iplc.TypeWString:
		return fmt.Sprintf("<buf %d>", v.BufIdx())
	case iplc.TypeFBInstance:
		return fmt.Sprintf("<fb @%d>", v.FBRef())
	default:
		return "?"
	}
}
