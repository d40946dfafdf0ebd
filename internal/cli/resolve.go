package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
)

type ResolveOptions struct {
	*RootOptions
	User    string
	With    string
	Listing string
	Kind    string
	Title   string
}

func newResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Find or create the conversation between two users",
		Long: `Find or create the conversation between two users and print its id.

Example:
  chatctl resolve --user u1 --with u2 --listing L42 --kind stay --title "Lake cabin"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "acting user id")
	cmd.Flags().StringVar(&opts.With, "with", "", "other user id")
	cmd.Flags().StringVar(&opts.Listing, "listing", "", "listing id the conversation starts from")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "listing kind (food_experience|stay)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "conversation title")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("with")

	return cmd
}

func runResolve(cmd *cobra.Command, opts *ResolveOptions) error {
	kind, err := domainchat.ParseListingKind(opts.Kind)
	if err != nil {
		return err
	}
	store, release, err := opts.open()
	if err != nil {
		return err
	}
	defer release()

	coord, err := chat.NewCoordinator(opts.User, store, chat.Options{Logger: opts.logger()})
	if err != nil {
		return err
	}
	defer coord.Close()

	id, err := coord.Conversation(cmd.Context(), opts.With, domainchat.ListingContext{
		ListingID:   opts.Listing,
		ListingKind: kind,
		Title:       opts.Title,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
