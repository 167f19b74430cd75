// Copyright 2024 The dtasm-go Authors
// This file is part of dtasm-go.
//
// dtasm-go is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// dtasm-go is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with dtasm-go. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"gopkg.in/urfave/cli.v1"

	"github.com/dtasm/dtasm-go/dtasm"
	"github.com/dtasm/dtasm-go/log"
	"github.com/dtasm/dtasm-go/runtime"
)

// runInteractive drops into a history-backed console accepting three
// commands: "get <id>...", "set <id>=<value>...", "step <time> <dt>".
func runInteractive(ctx context.Context, inst *runtime.Instance, logger log.Logger) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("dtasmhost interactive console. Commands: get <id> [id...], set <id>=<value> [...], step <t> <dt>, quit")
	for {
		input, err := line.Prompt("dtasm> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err.Error() == "EOF" {
				return nil
			}
			return cli.NewExitError(err.Error(), 1)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		fields := strings.Fields(input)
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "get":
			handleGet(ctx, inst, fields[1:], logger)
		case "set":
			handleSet(ctx, inst, fields[1:], logger)
		case "step":
			handleStep(ctx, inst, fields[1:], logger)
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func handleGet(ctx context.Context, inst *runtime.Instance, args []string, logger log.Logger) {
	ids := make([]int32, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 32)
		if err != nil {
			fmt.Println("invalid id:", a)
			return
		}
		ids = append(ids, int32(id))
	}
	res, err := inst.GetValues(ctx, ids)
	if err != nil {
		logger.Warn("get failed", "err", err)
		return
	}
	fmt.Printf("status=%s time=%v\n", res.Status, res.CurrentTime)
	for id, v := range res.Values.Real {
		fmt.Printf("  %d = %v\n", id, v)
	}
	for id, v := range res.Values.Int {
		fmt.Printf("  %d = %v\n", id, v)
	}
	for id, v := range res.Values.Bool {
		fmt.Printf("  %d = %v\n", id, v)
	}
	for id, v := range res.Values.String {
		fmt.Printf("  %d = %q\n", id, v)
	}
}

func handleSet(ctx context.Context, inst *runtime.Instance, args []string, logger log.Logger) {
	vals := dtasm.NewVarValues()
	for _, a := range args {
		parts := strings.SplitN(a, "=", 2)
		if len(parts) != 2 {
			fmt.Println("expected id=value, got:", a)
			return
		}
		id, err := strconv.ParseInt(parts[0], 10, 32)
		if err != nil {
			fmt.Println("invalid id:", parts[0])
			return
		}
		if f, err := strconv.ParseFloat(parts[1], 64); err == nil {
			vals.Real[int32(id)] = f
			continue
		}
		if b, err := strconv.ParseBool(parts[1]); err == nil {
			vals.Bool[int32(id)] = b
			continue
		}
		vals.String[int32(id)] = parts[1]
	}
	status, err := inst.SetValues(ctx, vals)
	if err != nil {
		logger.Warn("set failed", "err", err)
		return
	}
	fmt.Println("status:", status)
}

func handleStep(ctx context.Context, inst *runtime.Instance, args []string, logger log.Logger) {
	if len(args) != 2 {
		fmt.Println("usage: step <currentTime> <timestep>")
		return
	}
	t, err1 := strconv.ParseFloat(args[0], 64)
	dt, err2 := strconv.ParseFloat(args[1], 64)
	if err1 != nil || err2 != nil {
		fmt.Println("invalid time/timestep")
		return
	}
	res, err := inst.DoStep(ctx, t, dt)
	if err != nil {
		logger.Warn("step failed", "err", err)
		return
	}
	fmt.Printf("status=%s updatedTime=%v\n", res.Status, res.UpdatedTime)
}
