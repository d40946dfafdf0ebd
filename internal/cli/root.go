package cli

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/obs"
	"marketchat/internal/infra/rpc"
	"marketchat/internal/infra/storage/memory"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Addr       string
	Store      string // "grpc" | "memory"
	Env        string
	Timeout    time.Duration
	Timestamps bool

	// openStore replaces the flag-selected store; tests share one memory store through it.
	openStore func() (domainchat.Store, func() error, error)
}

var ValidStores = []string{"grpc", "memory"}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatctl",
		Short: "chatctl - terminal client for marketplace conversations",
		Long:  "Resolve, read and take part in two-party marketplace conversations from the terminal.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidStores, opts.Store) {
				return fmt.Errorf("invalid store %q: must be one of %v", opts.Store, ValidStores)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", "localhost:9000", "messaging-service gRPC address")
	cmd.PersistentFlags().StringVar(&opts.Store, "store", "grpc", "conversation store (grpc|memory)")
	cmd.PersistentFlags().StringVar(&opts.Env, "env", "prod", "environment, controls log formatting")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "per-call timeout")
	cmd.PersistentFlags().BoolVar(&opts.Timestamps, "timestamps", true, "print message times")

	cmd.AddCommand(newChatCommand(opts))
	cmd.AddCommand(newResolveCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))

	return cmd
}

func (o *RootOptions) logger() *slog.Logger {
	return obs.NewCLILogger(o.Env)
}

// open returns the selected store and the function releasing it.
func (o *RootOptions) open() (domainchat.Store, func() error, error) {
	if o.openStore != nil {
		return o.openStore()
	}
	switch o.Store {
	case "memory":
		return memory.NewChatStore(nil), func() error { return nil }, nil
	default:
		client, err := rpc.NewClient(o.Addr, o.Timeout, o.logger())
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}
}
