package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/sandboxd/internal/app"
	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/record"
	"github.com/firefly-engineering/sandboxd/internal/session"
)

var (
	callerKind string
	callerRef  string
	useSandbox bool
	openView   bool
	openOutput string
)

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a caller's sandbox, creating it when needed",
	Long: `Resolves the caller's active sandbox the same way the editor does.

Admins land on the administrative root unless --use-sandbox is given.
Visitors are identified by a session id (--ref); without one a new session
is started and its id printed so it can be reused. With --view nothing is
created or started.`,
	Example: `  sandboxd open --as user --ref alice
  sandboxd open --as admin --ref root --use-sandbox
  sandboxd open --as visitor --view --ref 5f0c...`,
	RunE: runOpen,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a caller's stopped sandbox",
	RunE:  runStart,
}

func init() {
	for _, c := range []*cobra.Command{openCmd, startCmd} {
		c.Flags().StringVar(&callerKind, "as", string(record.OwnerVisitor), "Caller kind: admin, user or visitor")
		c.Flags().StringVar(&callerRef, "ref", "", "Account id, or visitor session id")
		c.Flags().StringVarP(&openOutput, "output", "o", formatTable, "Output format: table, json or yaml")
	}
	openCmd.Flags().BoolVar(&useSandbox, "use-sandbox", false, "Admin only: work inside a sandbox instead of the root")
	openCmd.Flags().BoolVar(&openView, "view", false, "Only report the sandbox, never create or start it")
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(startCmd)
}

func runOpen(cmd *cobra.Command, args []string) error {
	if err := validateFormat(openOutput); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	caller, err := buildCaller(ctx, a)
	if err != nil {
		return err
	}

	res, err := a.Binder.Open(ctx, caller, !openView)
	if err != nil {
		return err
	}
	return printOpenResult(cmd.OutOrStdout(), caller, res)
}

func runStart(cmd *cobra.Command, args []string) error {
	if err := validateFormat(openOutput); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	caller, err := buildCaller(ctx, a)
	if err != nil {
		return err
	}

	res, err := a.Binder.Start(ctx, caller)
	if err != nil {
		return err
	}
	return printOpenResult(cmd.OutOrStdout(), caller, res)
}

// buildCaller turns --as/--ref into a CallerContext. Visitors without a
// known session get a new one.
func buildCaller(ctx context.Context, a *app.App) (session.CallerContext, error) {
	kind := record.OwnerKind(strings.ToLower(strings.TrimSpace(callerKind)))
	if !kind.Valid() {
		return session.CallerContext{}, errors.ValidationError(fmt.Sprintf("unknown caller kind %q", callerKind))
	}
	now := time.Now().UTC()

	if kind == record.OwnerVisitor {
		var sess *session.Session
		if callerRef != "" {
			s, err := a.Sessions.Get(ctx, callerRef)
			if err != nil {
				return session.CallerContext{}, err
			}
			sess = s
		}
		if sess == nil {
			if callerRef != "" {
				logWarning("Session %s not found, starting a new one", callerRef)
			}
			sess = session.New(now)
			if err := a.Sessions.Save(ctx, sess); err != nil {
				return session.CallerContext{}, err
			}
		}
		return session.Visitor(sess), nil
	}

	if callerRef == "" {
		return session.CallerContext{}, errors.ValidationError("--ref is required for admins and users")
	}
	if useSandbox && kind != record.OwnerAdmin {
		return session.CallerContext{}, errors.ValidationError("--use-sandbox only applies to admins")
	}

	var sess *session.Session
	if useSandbox {
		sess = session.New(now)
		sess.PreferSandbox = true
		if err := a.Sessions.Save(ctx, sess); err != nil {
			return session.CallerContext{}, err
		}
	}
	return session.Account(kind, callerRef, sess), nil
}

type openOutputDoc struct {
	SandboxID  string        `json:"sandboxId,omitempty" yaml:"sandboxId,omitempty"`
	Status     record.Status `json:"status,omitempty" yaml:"status,omitempty"`
	Phase      session.Phase `json:"phase" yaml:"phase"`
	NeedsSetup bool          `json:"needsSetup" yaml:"needsSetup"`
	AdminRoot  bool          `json:"adminRoot,omitempty" yaml:"adminRoot,omitempty"`
	SessionID  string        `json:"sessionId,omitempty" yaml:"sessionId,omitempty"`
}

func printOpenResult(w io.Writer, caller session.CallerContext, res *session.OpenResult) error {
	sessionID := caller.SessionID
	if res.Session != nil {
		sessionID = res.Session.ID
	}

	if openOutput != formatTable {
		return writeStructured(w, openOutput, openOutputDoc{
			SandboxID:  res.SandboxID,
			Status:     res.Status,
			Phase:      res.Phase,
			NeedsSetup: res.NeedsSetup,
			AdminRoot:  res.AdminRoot,
			SessionID:  sessionID,
		})
	}

	switch res.Phase {
	case session.PhaseAdminRoot:
		fmt.Fprintln(w, "Admin root (no sandbox)")
		return nil
	case session.PhaseNotCreated:
		fmt.Fprintln(w, "No sandbox yet")
	default:
		fmt.Fprintf(w, "Sandbox:  %s\n", res.SandboxID)
		fmt.Fprintf(w, "Status:   %s\n", res.Status)
		fmt.Fprintf(w, "Phase:    %s\n", res.Phase)
	}
	if res.NeedsSetup {
		fmt.Fprintln(w, "Setup:    needed (run `sandboxd open` again to retry)")
	}
	if caller.Kind == record.OwnerVisitor && sessionID != "" {
		if res.Session != nil {
			fmt.Fprintf(w, "Session:  %s (replaced)\n", sessionID)
		} else {
			fmt.Fprintf(w, "Session:  %s\n", sessionID)
		}
	}
	return nil
}
