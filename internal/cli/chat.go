package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"marketchat/internal/app/chat"
	"marketchat/internal/app/identity"
	domainchat "marketchat/internal/domain/chat"
)

type ChatOptions struct {
	*RootOptions
	User     string
	Debounce time.Duration
}

func newChatCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChatOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session",
		Long: `Interactive chat session.

Lines starting with a slash are commands, everything else is sent to the open
conversation:
  /login <user>                        switch identity
  /logout                              sign out
  /with <user> [listing kind [title]]  open the conversation with a user
  /preload <user>                      resolve a conversation in the background
  /inbox                               list conversations
  /refresh                             fetch messages missed while offline
  /resubscribe                         retry realtime updates
  /close                               close the open conversation
  /quit                                exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "sign in as this user on start")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 250*time.Millisecond, "delay before an identity change is applied")

	return cmd
}

func runChat(cmd *cobra.Command, opts *ChatOptions) error {
	store, release, err := opts.open()
	if err != nil {
		return err
	}
	defer release()

	r := newREPL(cmd.Context(), store, NewRenderer(cmd.OutOrStdout(), opts.Timestamps), opts.Debounce, opts.logger())
	defer r.close()

	if opts.User != "" {
		r.exec("/login " + opts.User)
	}
	return r.run(cmd.InOrStdin())
}

type repl struct {
	ctx     context.Context
	out     *Renderer
	manager *identity.Manager
	auth    *identity.Debouncer

	mu      sync.Mutex
	session *chat.Session
	header  string
}

func newREPL(ctx context.Context, store domainchat.Store, out *Renderer, debounce time.Duration, logger *slog.Logger) *repl {
	r := &repl{ctx: ctx, out: out}
	r.manager = identity.NewManager(func(userID string) (*chat.Coordinator, error) {
		return chat.NewCoordinator(userID, store, chat.Options{Logger: logger})
	}, logger)
	r.auth = identity.NewDebouncer(debounce, r.applyIdentity)
	return r
}

// applyIdentity runs on the debouncer's goroutine or inside Flush.
func (r *repl) applyIdentity(t identity.Transition) {
	r.mu.Lock()
	r.session = nil
	r.mu.Unlock()
	if err := r.manager.Apply(t); err != nil {
		r.out.Error(err)
		return
	}
	if t.Kind == identity.SignedIn {
		r.out.Notice("signed in as %s", t.UserID)
	} else {
		r.out.Notice("signed out")
	}
}

func (r *repl) run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if quit := r.exec(scanner.Text()); quit {
			return nil
		}
	}
	return scanner.Err()
}

func (r *repl) close() {
	r.auth.Stop()
	r.manager.Close()
}

// exec handles one input line and reports whether the loop should stop.
func (r *repl) exec(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.auth.Flush()
		r.send(line)
		return false
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	switch name {
	case "/login":
		if len(args) != 1 {
			r.out.Notice("usage: /login <user>")
			return false
		}
		r.auth.Push(identity.Transition{Kind: identity.SignedIn, UserID: args[0], At: time.Now()})
		return false
	case "/logout":
		r.auth.Push(identity.Transition{Kind: identity.SignedOut, At: time.Now()})
		return false
	}

	r.auth.Flush()
	switch name {
	case "/with":
		r.with(args)
	case "/preload":
		r.preload(args)
	case "/inbox":
		r.inbox()
	case "/refresh":
		r.refresh()
	case "/resubscribe":
		r.resubscribe()
	case "/close":
		r.closeSession()
	case "/quit":
		return true
	default:
		r.out.Notice("unknown command %s", name)
	}
	return false
}

func (r *repl) coordinator() (*chat.Coordinator, bool) {
	coord, err := r.manager.Current()
	if err != nil {
		r.out.Notice("sign in first with /login <user>")
		return nil, false
	}
	return coord, true
}

func (r *repl) current() *chat.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

func parseListing(args []string) (domainchat.ListingContext, error) {
	var listing domainchat.ListingContext
	if len(args) == 0 {
		return listing, nil
	}
	listing.ListingID = args[0]
	if len(args) > 1 {
		kind, err := domainchat.ParseListingKind(args[1])
		if err != nil {
			return listing, err
		}
		listing.ListingKind = kind
	}
	if len(args) > 2 {
		listing.Title = strings.Join(args[2:], " ")
	}
	return listing, nil
}

func (r *repl) with(args []string) {
	if len(args) == 0 {
		r.out.Notice("usage: /with <user> [listing kind [title]]")
		return
	}
	coord, ok := r.coordinator()
	if !ok {
		return
	}
	listing, err := parseListing(args[1:])
	if err != nil {
		r.out.Error(err)
		return
	}
	id, err := coord.Conversation(r.ctx, args[0], listing)
	if err != nil {
		r.out.Error(err)
		return
	}
	details, err := coord.Details(r.ctx, id)
	if err != nil {
		r.out.Error(err)
		return
	}
	r.closeSession()

	session, err := coord.Open(r.ctx, id, r.out.Change)
	if err != nil {
		r.out.Error(err)
		return
	}
	header := Title(details, coord.UserID())
	r.mu.Lock()
	r.session = session
	r.header = header
	r.mu.Unlock()
	r.out.Session(header, session.Mode(), session.Messages())
	if session.Mode() == chat.ModeFetchOnly {
		r.out.Notice("realtime updates unavailable, use /refresh or /resubscribe")
	}
}

func (r *repl) preload(args []string) {
	if len(args) != 1 {
		r.out.Notice("usage: /preload <user>")
		return
	}
	coord, ok := r.coordinator()
	if !ok {
		return
	}
	coord.Preload(r.ctx, args[0], domainchat.ListingContext{})
	r.out.Notice("preloading conversation with %s", args[0])
}

func (r *repl) inbox() {
	coord, ok := r.coordinator()
	if !ok {
		return
	}
	items, err := coord.Inbox(r.ctx)
	if err != nil {
		r.out.Error(err)
		return
	}
	r.out.Inbox(items, coord.UserID())
}

func (r *repl) send(text string) {
	session := r.current()
	if session == nil {
		r.out.Notice("open a conversation with /with <user> first")
		return
	}
	if _, err := session.Send(r.ctx, text); err != nil {
		r.out.Error(err)
	}
}

func (r *repl) refresh() {
	session := r.current()
	if session == nil {
		r.out.Notice("no open conversation")
		return
	}
	added, err := session.Refresh(r.ctx)
	if err != nil {
		r.out.Error(err)
		return
	}
	r.out.Notice("%s", plural(added, "new message"))
}

func (r *repl) resubscribe() {
	session := r.current()
	if session == nil {
		r.out.Notice("no open conversation")
		return
	}
	if err := session.Resubscribe(r.ctx); err != nil {
		r.out.Error(err)
	}
	r.out.Notice("mode %s", session.Mode())
}

func (r *repl) closeSession() {
	r.mu.Lock()
	session, header := r.session, r.header
	r.session = nil
	r.mu.Unlock()
	if session == nil {
		return
	}
	session.Close()
	r.out.Notice("closed %s", header)
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
