package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ayusman/openusage/internal/batch"
)

func newProbeCommand(e *env) *cobra.Command {
	var (
		accounts []string
		batchID  string
		noSaved  bool
	)

	cmd := &cobra.Command{
		Use:   "probe [plugin-id...]",
		Short: "Run one probe batch and print its events as JSON lines",
		Long: `Probe runs every plugin, or only the given ids, and prints each batch event
as one JSON object per line.

Example:
  openusage probe
  openusage probe claude codex --account claude=work@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			selections, err := parseAccounts(accounts)
			if err != nil {
				return err
			}

			a, err := e.newApp()
			if err != nil {
				return err
			}

			if !noSaved {
				saved, err := e.store.AccountSelections()
				if err != nil {
					return fmt.Errorf("failed to load account selections: %w", err)
				}
				for id, sel := range saved {
					if _, ok := selections[id]; !ok {
						selections[id] = sel
					}
				}
			}

			req := batch.Request{BatchID: batchID, AccountSelections: selections}
			if len(args) > 0 {
				req.PluginIDs = args
			}

			out := newJSONLinesEmitter(cmd.OutOrStdout())
			a.Subscribe(out)
			a.Probe(cmd.Context(), req)
			a.Wait()
			if err := out.Err(); err != nil {
				return fmt.Errorf("failed to write events: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&accounts, "account", "a", nil, "remote account for a plugin as id=selection (repeatable)")
	cmd.Flags().StringVar(&batchID, "batch-id", "", "batch id to use instead of a generated one")
	cmd.Flags().BoolVar(&noSaved, "no-saved", false, "ignore saved account selections")

	return cmd
}

// parseAccounts parses id=selection pairs.
func parseAccounts(pairs []string) (map[string]string, error) {
	selections := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		id, sel, ok := strings.Cut(pair, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid --account %q: expected id=selection", pair)
		}
		selections[id] = strings.TrimSpace(sel)
	}
	return selections, nil
}

// jsonLinesEmitter writes each event as one JSON line. The first write
// error is kept and later events are dropped.
type jsonLinesEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

func newJSONLinesEmitter(w io.Writer) *jsonLinesEmitter {
	return &jsonLinesEmitter{enc: json.NewEncoder(w)}
}

func (j *jsonLinesEmitter) Emit(event string, payload any) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.err != nil {
		return
	}
	if err := j.enc.Encode(map[string]any{"event": event, "payload": payload}); err != nil {
		j.err = err
	}
}

// Err returns the first write error.
func (j *jsonLinesEmitter) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}
