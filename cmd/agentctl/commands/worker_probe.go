package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cellrt/runtime-agent/internal/config"
	"github.com/cellrt/runtime-agent/internal/execctx"
	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/internal/worker"
	"github.com/cellrt/runtime-agent/pkg/types"
)

var (
	probeCommand string
	probeCode    string
	probeTimeout time.Duration
)

var workerProbeCmd = &cobra.Command{
	Use:   "worker-probe",
	Short: "Exercise the code-worker bridge against a local interpreter, for diagnostics",
	Long: `worker-probe launches the configured (or default) worker command,
runs one snippet of code through internal/worker.Bridge exactly as the
coordination engine would for a code cell, and prints the emitted outputs.
It talks to a throwaway file-backed store under <directory>/.agentctl-worker-probe,
not a real notebook — use
it to sanity-check a worker command line before pointing 'run'/'serve' at
a live notebook.`,
	RunE: runWorkerProbe,
}

func init() {
	workerProbeCmd.Flags().StringVar(&probeCommand, "worker-command", "python3 -u -m agentctl.worker", "Worker launch command line")
	workerProbeCmd.Flags().StringVar(&probeCode, "code", "print('agentctl worker-probe ok')", "Code snippet to execute")
	workerProbeCmd.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second, "How long to wait for the snippet to finish")
}

func runWorkerProbe(cmd *cobra.Command, args []string) error {
	dir, err := workDir()
	if err != nil {
		return err
	}

	// config.Load (unlike loadConfig) doesn't require --notebook/--auth-token,
	// so worker-probe can run against the project's package allowlist
	// without needing a real notebook.
	cfg, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("worker-probe: loading config: %w", err)
	}

	st := store.NewFSStore(dir + "/.agentctl-worker-probe")
	defer st.Close()

	const notebookID = "worker-probe"
	const cellID = "probe-cell"
	const queueID = "probe-queue"

	if err := st.Commit(context.Background(), notebookID, types.Event{
		Type: types.EventCellCreated,
		Data: &types.CellCreatedData{Cell: &types.Cell{ID: cellID, NotebookID: notebookID, CellType: types.CellCode, Source: probeCode}},
	}); err != nil {
		return fmt.Errorf("worker-probe: seeding cell: %w", err)
	}

	launchCommand := strings.Fields(probeCommand)
	bridge := worker.New(launchCommand, dir, cfg.PreloadPackages())
	defer bridge.Close()

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	execCtx := execctx.New(ctx, st, notebookID, queueID, cellID, 1)
	runErr := bridge.ExecuteCode(ctx, execCtx, probeCode)

	outputs, err := store.QueryTyped[types.Output](context.Background(), st, store.Selector{
		NotebookID: notebookID,
		Table:      store.TableOutputs,
		Where:      store.WhereOutputs(func(o types.Output) bool { return o.CellID == cellID }),
		OrderBy: func(a, b any) bool {
			return a.(types.Output).Position < b.(types.Output).Position
		},
	})
	if err != nil {
		return fmt.Errorf("worker-probe: reading outputs: %w", err)
	}

	for _, o := range outputs {
		switch o.OutputType {
		case types.OutputTerminal:
			fmt.Printf("[%s] %s", o.StreamName, o.Text)
		case types.OutputError:
			fmt.Printf("[error] %s: %s\n", o.EName, o.EValue)
		default:
			fmt.Printf("[%s]\n", o.OutputType)
		}
	}

	if runErr != nil {
		return fmt.Errorf("worker-probe: execution failed: %w", runErr)
	}
	return nil
}
