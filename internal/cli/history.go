package cli

import (
	"github.com/spf13/cobra"

	"marketchat/internal/app/chat"
)

type HistoryOptions struct {
	*RootOptions
	User         string
	Conversation string
	Limit        int
}

func newHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the latest messages of a conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "acting user id")
	cmd.Flags().StringVar(&opts.Conversation, "conversation", "", "conversation id")
	cmd.Flags().IntVar(&opts.Limit, "limit", chat.DefaultHistoryLimit, "number of messages to load")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("conversation")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	store, release, err := opts.open()
	if err != nil {
		return err
	}
	defer release()

	coord, err := chat.NewCoordinator(opts.User, store, chat.Options{Logger: opts.logger(), HistoryLimit: opts.Limit})
	if err != nil {
		return err
	}
	defer coord.Close()

	ctx := cmd.Context()
	details, err := coord.Details(ctx, opts.Conversation)
	if err != nil {
		return err
	}
	session, err := coord.Open(ctx, opts.Conversation, nil)
	if err != nil {
		return err
	}
	defer session.Close()

	r := NewRenderer(cmd.OutOrStdout(), opts.Timestamps)
	r.Session(Title(details, opts.User), session.Mode(), session.Messages())
	return nil
}
