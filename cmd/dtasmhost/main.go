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

// Command dtasmhost loads a sandboxed simulation module and runs it
// from --tmin to --tmax in --dt increments, optionally writing a CSV
// trace, serving introspection over HTTP/WS, exporting telemetry, and
// persisting/restoring run state. Positional arguments of the form
// name=value override the module's declared input/local defaults for
// this run, the same parameter-override mechanism the original
// dtasmtime CLI exposed.
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"gopkg.in/urfave/cli.v1"

	"github.com/dtasm/dtasm-go/config"
	"github.com/dtasm/dtasm-go/controlserver"
	"github.com/dtasm/dtasm-go/dtasm"
	"github.com/dtasm/dtasm-go/internal/modulesrc"
	"github.com/dtasm/dtasm-go/log"
	"github.com/dtasm/dtasm-go/runtime"
	"github.com/dtasm/dtasm-go/snapshotstore"
	"github.com/dtasm/dtasm-go/telemetry"
)

var (
	inputFlag       = cli.StringFlag{Name: "input", Usage: "path or s3:// URI of the module's compiled bytecode"}
	configFlag      = cli.StringFlag{Name: "config", Usage: "TOML configuration file"}
	stateFromFlag   = cli.StringFlag{Name: "state-from", Usage: "load a single-file snapshot before running"}
	stateToFlag     = cli.StringFlag{Name: "state-to", Usage: "save a single-file snapshot after running"}
	stateDBFlag     = cli.StringFlag{Name: "state-db", Usage: "LevelDB-backed named-snapshot store"}
	stateLabelFlag  = cli.StringFlag{Name: "state-label", Usage: "snapshot label within --state-db"}
	tminFlag        = cli.Float64Flag{Name: "tmin", Usage: "simulation start time"}
	tmaxFlag        = cli.Float64Flag{Name: "tmax", Usage: "simulation end time"}
	dtFlag          = cli.Float64Flag{Name: "dt", Usage: "fixed step size"}
	csvFlag         = cli.StringFlag{Name: "csv", Usage: "write a per-step CSV trace of output and local variables to this path"}
	interactiveFlag = cli.BoolFlag{Name: "interactive", Usage: "drop into an interactive get/set/step console instead of running to completion"}
	hexdumpFlag     = cli.BoolFlag{Name: "hexdump", Usage: "print the model description buffer as annotated hex before running"}
	metricsAddrFlag = cli.StringFlag{Name: "metrics-addr", Usage: "serve the control server (HTTP+WS introspection) on this address"}
	influxAddrFlag  = cli.StringFlag{Name: "influx-addr", Usage: "InfluxDB v1 HTTP endpoint to export per-step telemetry to"}
)

func main() {
	app := cli.NewApp()
	app.Name = "dtasmhost"
	app.Usage = "host a sandboxed simulation module"
	app.ArgsUsage = "[name=value ...]"
	app.Flags = []cli.Flag{
		inputFlag, configFlag, stateFromFlag, stateToFlag, stateDBFlag, stateLabelFlag,
		tminFlag, tmaxFlag, dtFlag, csvFlag, interactiveFlag, hexdumpFlag,
		metricsAddrFlag, influxAddrFlag,
	}
	app.Action = runAction
	app.Commands = []cli.Command{
		{
			Name:      "describe",
			Usage:     "print a module's variable registry as a table",
			ArgsUsage: "<module>",
			Flags:     []cli.Flag{configFlag},
			Action:    describeAction,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Root().Crit("dtasmhost exited with an error", "err", err)
	}
}

func loadConfig(ctx *cli.Context) config.Config {
	cfg := config.Default()
	if file := ctx.GlobalString(configFlag.Name); file != "" {
		if err := config.LoadFile(file, &cfg); err != nil {
			log.Root().Crit("failed to load config file", "path", file, "err", err)
		}
	}
	if v := ctx.GlobalString(inputFlag.Name); v != "" {
		cfg.Input = v
	}
	if v := ctx.GlobalString(stateFromFlag.Name); v != "" {
		cfg.StateFrom = v
	}
	if v := ctx.GlobalString(stateToFlag.Name); v != "" {
		cfg.StateTo = v
	}
	if v := ctx.GlobalString(stateDBFlag.Name); v != "" {
		cfg.StateDB = v
	}
	if v := ctx.GlobalString(stateLabelFlag.Name); v != "" {
		cfg.StateLabel = v
	}
	if ctx.GlobalIsSet(tminFlag.Name) {
		cfg.StartTime = ctx.GlobalFloat64(tminFlag.Name)
	}
	if ctx.GlobalIsSet(tmaxFlag.Name) {
		cfg.EndTime = ctx.GlobalFloat64(tmaxFlag.Name)
	}
	if ctx.GlobalIsSet(dtFlag.Name) {
		cfg.Timestep = ctx.GlobalFloat64(dtFlag.Name)
	}
	if v := ctx.GlobalString(csvFlag.Name); v != "" {
		cfg.CSV = v
	}
	cfg.Interactive = ctx.GlobalBool(interactiveFlag.Name)
	cfg.Hexdump = ctx.GlobalBool(hexdumpFlag.Name)
	if v := ctx.GlobalString(metricsAddrFlag.Name); v != "" {
		cfg.MetricsAddr = v
	}
	if v := ctx.GlobalString(influxAddrFlag.Name); v != "" {
		cfg.InfluxAddr = v
	}
	return cfg
}

func printHostBanner() {
	logger := log.New("component", "dtasmhost")
	counts, err := cpu.Counts(true)
	if err != nil {
		logger.Debug("cpu info unavailable", "err", err)
		return
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Debug("memory info unavailable", "err", err)
		return
	}
	logger.Info("host resources", "cpus", counts, "memory_mb", vm.Total/1024/1024)
}

func openInstance(ctx context.Context, logger log.Logger, src string) (*runtime.Engine, *runtime.Module, *runtime.Instance, error) {
	wasmBytes, err := modulesrc.Resolve(ctx, src)
	if err != nil {
		return nil, nil, nil, err
	}
	eng, err := runtime.NewEngine(ctx, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	mod, err := eng.CompileModule(ctx, wasmBytes)
	if err != nil {
		eng.Close(ctx)
		return nil, nil, nil, err
	}
	inst, err := mod.Instantiate(ctx, "dtasmhost")
	if err != nil {
		mod.Close(ctx)
		eng.Close(ctx)
		return nil, nil, nil, err
	}
	return eng, mod, inst, nil
}

func describeAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.NewExitError("describe requires exactly one module argument", 1)
	}
	background := context.Background()
	logger := log.New("component", "describe")

	eng, mod, inst, err := openInstance(background, logger, ctx.Args().Get(0))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer inst.Close(background)
	defer mod.Close(background)
	defer eng.Close(background)

	md, err := inst.GetModelDescription(background)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	fmt.Printf("model: %s (%s)\n", md.Model.Name, md.Model.ID)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"id", "name", "type", "causality", "unit"})
	for _, v := range md.Variables {
		table.Append([]string{
			fmt.Sprintf("%d", v.ID),
			v.Name,
			v.ValueType.String(),
			v.Causality.String(),
			v.Unit,
		})
	}
	table.Render()
	return nil
}

func runAction(ctx *cli.Context) error {
	cfg := loadConfig(ctx)
	if cfg.Input == "" {
		return cli.NewExitError("--input is required", 1)
	}

	background := context.Background()
	logger := log.New("component", "dtasmhost")
	printHostBanner()

	eng, mod, inst, err := openInstance(background, logger, cfg.Input)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer inst.Close(background)
	defer mod.Close(background)
	defer eng.Close(background)

	md, err := inst.GetModelDescription(background)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	if cfg.Hexdump {
		dumpModelDescription(md)
	}

	initVals := extractDefaultValues(md, dtasm.CausalityLocal, dtasm.CausalityInput)
	overrides, err := parseParamOverrides(ctx.Args(), md)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	mergeVarValues(&initVals, overrides)

	status, err := inst.Initialize(background, initVals, cfg.StartTime, &cfg.EndTime, nil, dtasm.LogLevelInfo, false)
	if err != nil || status == dtasm.StatusError {
		return cli.NewExitError(fmt.Sprintf("initialize failed: status=%v err=%v", status, err), 1)
	}

	if err := restoreState(background, inst, cfg); err != nil {
		logger.Warn("failed to restore state", "err", err)
	}

	var ctrl *controlserver.Server
	var stopCtrl context.CancelFunc
	if cfg.MetricsAddr != "" {
		ctrl = controlserver.New(inst, cfg.MetricsAddr)
		var serveCtx context.Context
		serveCtx, stopCtrl = context.WithCancel(background)
		go func() {
			if err := ctrl.Serve(serveCtx); err != nil {
				logger.Error("control server stopped", "err", err)
			}
		}()
		defer stopCtrl()
	}

	var influx *telemetry.InfluxReporter
	if cfg.InfluxAddr != "" {
		influx, err = telemetry.NewInfluxReporter(cfg.InfluxAddr, cfg.InfluxDatabase)
		if err != nil {
			logger.Warn("influx reporter disabled", "err", err)
			influx = nil
		}
	}

	var trace *csvTrace
	if cfg.CSV != "" {
		trace, err = newCSVTrace(cfg.CSV, md)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("opening csv trace: %v", err), 1)
		}
		defer trace.Close()
	}

	if cfg.Interactive {
		return runInteractive(background, inst, logger)
	}
	return runToCompletion(background, inst, md, cfg, ctrl, influx, trace, logger)
}

// extractDefaultValues collects the module-declared default value of
// every variable whose causality is one of wanted, the same seeding
// dtasmtime_rs's CLI does before applying command-line overrides.
func extractDefaultValues(md *dtasm.ModelDescription, wanted ...dtasm.CausalityType) dtasm.VarValues {
	want := make(map[dtasm.CausalityType]bool, len(wanted))
	for _, c := range wanted {
		want[c] = true
	}
	vals := dtasm.NewVarValues()
	for _, v := range md.Variables {
		if !want[v.Causality] || v.Default == nil {
			continue
		}
		switch v.ValueType {
		case dtasm.VariableTypeReal:
			vals.Real[v.ID] = v.Default.Real
		case dtasm.VariableTypeInt:
			vals.Int[v.ID] = v.Default.Int
		case dtasm.VariableTypeBool:
			vals.Bool[v.ID] = v.Default.Bool
		case dtasm.VariableTypeString:
			vals.String[v.ID] = v.Default.String
		}
	}
	return vals
}

// parseParamOverrides turns positional name=value CLI arguments into
// typed VarValues keyed by variable id, looking each name up in the
// model's own registry so the value lands in the slot matching its
// declared VariableType.
func parseParamOverrides(args []string, md *dtasm.ModelDescription) (dtasm.VarValues, error) {
	vals := dtasm.NewVarValues()
	if len(args) == 0 {
		return vals, nil
	}

	raw := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			return vals, fmt.Errorf("invalid parameter override %q, want name=value", arg)
		}
		raw[name] = value
	}

	for _, v := range md.Variables {
		strVal, ok := raw[v.Name]
		if !ok {
			continue
		}
		switch v.ValueType {
		case dtasm.VariableTypeReal:
			f, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return vals, fmt.Errorf("parameter %s: %w", v.Name, err)
			}
			vals.Real[v.ID] = f
		case dtasm.VariableTypeInt:
			n, err := strconv.ParseInt(strVal, 10, 32)
			if err != nil {
				return vals, fmt.Errorf("parameter %s: %w", v.Name, err)
			}
			vals.Int[v.ID] = int32(n)
		case dtasm.VariableTypeBool:
			b, err := strconv.ParseBool(strVal)
			if err != nil {
				return vals, fmt.Errorf("parameter %s: %w", v.Name, err)
			}
			vals.Bool[v.ID] = b
		case dtasm.VariableTypeString:
			vals.String[v.ID] = strVal
		}
	}
	return vals, nil
}

// mergeVarValues copies every entry of src into dst, overwriting
// whatever dst already held for that id.
func mergeVarValues(dst *dtasm.VarValues, src dtasm.VarValues) {
	for id, v := range src.Real {
		dst.Real[id] = v
	}
	for id, v := range src.Int {
		dst.Int[id] = v
	}
	for id, v := range src.Bool {
		dst.Bool[id] = v
	}
	for id, v := range src.String {
		dst.String[id] = v
	}
}

func dumpModelDescription(md *dtasm.ModelDescription) {
	b := dtasm.NewBuilder()
	data := b.EncodeModelDescription(md)
	fmt.Println(hexdump(data))
}

func restoreState(ctx context.Context, inst *runtime.Instance, cfg config.Config) error {
	switch {
	case cfg.StateFrom != "":
		return inst.LoadState(ctx, cfg.StateFrom)
	case cfg.StateDB != "" && cfg.StateLabel != "":
		store, err := snapshotstore.Open(cfg.StateDB)
		if err != nil {
			return err
		}
		defer store.Close()
		md, err := inst.GetModelDescription(ctx)
		if err != nil {
			return err
		}
		snapshot, err := store.Get(md.Model.ID, cfg.StateLabel)
		if err != nil {
			return err
		}
		tmp, err := os.CreateTemp("", "dtasm-state-*")
		if err != nil {
			return err
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(snapshot); err != nil {
			tmp.Close()
			return err
		}
		tmp.Close()
		return inst.LoadState(ctx, tmp.Name())
	}
	return nil
}

func persistState(ctx context.Context, inst *runtime.Instance, cfg config.Config, logger log.Logger) {
	if cfg.StateTo != "" {
		if err := inst.SaveState(ctx, cfg.StateTo); err != nil {
			logger.Warn("failed to save state", "path", cfg.StateTo, "err", err)
		}
	}
	if cfg.StateDB != "" && cfg.StateLabel != "" {
		tmp, err := os.CreateTemp("", "dtasm-state-*")
		if err != nil {
			logger.Warn("failed to create temp snapshot", "err", err)
			return
		}
		defer os.Remove(tmp.Name())
		tmp.Close()
		if err := inst.SaveState(ctx, tmp.Name()); err != nil {
			logger.Warn("failed to save state", "err", err)
			return
		}
		snapshot, err := os.ReadFile(tmp.Name())
		if err != nil {
			logger.Warn("failed to read temp snapshot", "err", err)
			return
		}
		store, err := snapshotstore.Open(cfg.StateDB)
		if err != nil {
			logger.Warn("failed to open state db", "err", err)
			return
		}
		defer store.Close()
		md, err := inst.GetModelDescription(ctx)
		if err != nil {
			logger.Warn("failed to read model id for snapshot key", "err", err)
			return
		}
		if err := store.Put(md.Model.ID, cfg.StateLabel, snapshot); err != nil {
			logger.Warn("failed to store snapshot", "err", err)
		}
	}
}

func outputNames(md *dtasm.ModelDescription) map[int32]string {
	names := make(map[int32]string)
	for _, v := range md.Variables {
		if v.Causality == dtasm.CausalityOutput {
			names[v.ID] = v.Name
		}
	}
	return names
}

// unionIDs merges two id slices without duplicates.
func unionIDs(a, b []int32) []int32 {
	seen := make(map[int32]bool, len(a)+len(b))
	out := make([]int32, 0, len(a)+len(b))
	for _, id := range a {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// csvTrace writes one row per do_step call to a CSV file, one column
// per Output/Local variable plus a leading time column — the same
// trace the original dtasmtime CLI wrote via the Rust csv crate's
// Writer, here via the standard library's encoding/csv.
type csvTrace struct {
	f     *os.File
	w     *csv.Writer
	ids   []int32
	types []dtasm.VariableType
}

func newCSVTrace(path string, md *dtasm.ModelDescription) (*csvTrace, error) {
	type namedVar struct {
		id   int32
		name string
		typ  dtasm.VariableType
	}
	var vars []namedVar
	for _, v := range md.Variables {
		if v.Causality == dtasm.CausalityOutput || v.Causality == dtasm.CausalityLocal {
			vars = append(vars, namedVar{v.ID, v.Name, v.ValueType})
		}
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].id < vars[j].id })

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	t := &csvTrace{f: f, w: csv.NewWriter(f)}
	header := make([]string, 0, len(vars)+1)
	header = append(header, "t")
	for _, v := range vars {
		header = append(header, v.name)
		t.ids = append(t.ids, v.id)
		t.types = append(t.types, v.typ)
	}
	if err := t.w.Write(header); err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

// WriteRow appends one step's values, in the fixed column order
// established by the header written in newCSVTrace.
func (t *csvTrace) WriteRow(currentTime float64, values dtasm.VarValues) error {
	row := make([]string, 0, len(t.ids)+1)
	row = append(row, strconv.FormatFloat(currentTime, 'f', 8, 64))
	for i, id := range t.ids {
		switch t.types[i] {
		case dtasm.VariableTypeReal:
			row = append(row, strconv.FormatFloat(values.Real[id], 'f', 8, 64))
		case dtasm.VariableTypeInt:
			row = append(row, strconv.FormatInt(int64(values.Int[id]), 10))
		case dtasm.VariableTypeBool:
			row = append(row, strconv.FormatBool(values.Bool[id]))
		case dtasm.VariableTypeString:
			row = append(row, values.String[id])
		}
	}
	t.w.Write(row)
	t.w.Flush()
	return t.w.Error()
}

func (t *csvTrace) Close() error {
	t.w.Flush()
	return t.f.Close()
}

func runToCompletion(ctx context.Context, inst *runtime.Instance, md *dtasm.ModelDescription, cfg config.Config, ctrl *controlserver.Server, influx *telemetry.InfluxReporter, trace *csvTrace, logger log.Logger) error {
	outNames := outputNames(md)
	outIDs := make([]int32, 0, len(outNames))
	for id := range outNames {
		outIDs = append(outIDs, id)
	}

	readIDs := outIDs
	if trace != nil {
		readIDs = unionIDs(outIDs, trace.ids)
	}

	t := cfg.StartTime
	for t < cfg.EndTime {
		start := time.Now()
		res, err := inst.DoStep(ctx, t, cfg.Timestep)
		latency := time.Since(start)
		if err != nil || res.Status == dtasm.StatusError {
			return cli.NewExitError(fmt.Sprintf("do_step failed at t=%v: status=%v err=%v", t, res.Status, err), 1)
		}
		t = res.UpdatedTime

		if len(readIDs) > 0 && (ctrl != nil || influx != nil || trace != nil) {
			values, getErr := inst.GetValues(ctx, readIDs)
			if getErr == nil {
				outputs := make(map[string]float64, len(outNames))
				for id, name := range outNames {
					if v, ok := values.Values.Real[id]; ok {
						outputs[name] = v
					}
				}
				if ctrl != nil {
					ctrl.Broadcast(controlserver.StepEvent{CurrentTime: t, Status: res.Status.String(), Outputs: outputs})
				}
				if influx != nil {
					if err := influx.ReportStep(inst.ID, t, latency, outputs); err != nil {
						logger.Debug("influx report failed", "err", err)
					}
				}
				if trace != nil {
					if err := trace.WriteRow(t, values.Values); err != nil {
						logger.Warn("csv trace write failed", "err", err)
					}
				}
			}
		}
	}

	logger.Info("run complete", "end_time", t)
	persistState(ctx, inst, cfg, logger)
	return nil
}
