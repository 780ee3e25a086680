package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Resinat/vpncore/internal/config"
	"github.com/Resinat/vpncore/internal/relay"
	"github.com/Resinat/vpncore/internal/state"
	"github.com/spf13/cobra"
)

type selectOptions struct {
	location       string
	port           uint16
	failedAttempts uint
	seed           uint64
}

// newSelectCmd selects a relay offline from the cached relay list.
func newSelectCmd() *cobra.Command {
	var opts selectOptions
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Select a relay from the cached relay list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			constraints, err := opts.constraints(cmd.Flags().Changed("port"))
			if err != nil {
				return err
			}
			stateDir := config.EnvString("VPNCORE_STATE_DIR", config.DefaultStateDir)
			cacheDir := config.EnvString("VPNCORE_CACHE_DIR", config.DefaultCacheDir)
			repos, closer, err := state.PersistenceBootstrap(stateDir, cacheDir)
			if err != nil {
				return fmt.Errorf("persistence bootstrap: %w", err)
			}
			defer closer.Close()

			cached, err := repos.Cache.LoadRelayCache()
			if errors.Is(err, state.ErrNotFound) {
				return errors.New("no cached relay list; run the daemon first")
			}
			if err != nil {
				return err
			}
			var relays relay.ServerRelaysResponse
			if err := json.Unmarshal(cached.Data, &relays); err != nil {
				return fmt.Errorf("decode cached relay list: %w", err)
			}

			var rng = relay.NewRand(opts.seed)
			if !cmd.Flags().Changed("seed") {
				rng = nil
			}
			result, ok := relay.EvaluateWithAttempts(&relays, constraints, opts.failedAttempts, rng)
			if !ok {
				return errors.New("no relay matches the constraints")
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.location, "location", "se", `comma separated location, e.g. "se,got" or "any"`)
	f.Uint16Var(&opts.port, "port", 0, "force this port")
	f.UintVar(&opts.failedAttempts, "failed-attempts", 0, "number of failed connection attempts so far")
	f.Uint64Var(&opts.seed, "seed", 0, "seed for a reproducible selection")
	return cmd
}

func (o selectOptions) constraints(portSet bool) (relay.Constraints, error) {
	var c relay.Constraints
	if o.location != "any" {
		loc, err := relay.ParseLocation(strings.Split(o.location, ","))
		if err != nil {
			return c, fmt.Errorf("--location: %w", err)
		}
		c.Location = relay.Only(loc)
	}
	if portSet {
		c.Port = relay.Only(o.port)
	}
	return c, nil
}
