package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/garnizeh/initiatives/internal/aggregate"
	"github.com/garnizeh/initiatives/internal/catalog"
	"github.com/garnizeh/initiatives/internal/config"
	"github.com/garnizeh/initiatives/internal/session"
	"github.com/garnizeh/initiatives/pkg/models"
	"github.com/garnizeh/initiatives/pkg/repository"
	"github.com/garnizeh/initiatives/pkg/userstore"
)

var (
	flagEmail    string
	flagPassword string
	flagJSON     bool
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account and sign in",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *clientEnv) error {
			return c.signup(ctx, flagEmail, flagPassword)
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *clientEnv) error {
			return c.login(ctx, flagEmail, flagPassword)
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the session of this tab",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *clientEnv) error {
			return c.logout()
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user of this tab",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *clientEnv) error {
			return c.whoami(ctx)
		})
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Change email and/or password",
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch models.UserPatch
		if cmd.Flags().Changed("email") {
			patch.Email = &flagEmail
		}
		if cmd.Flags().Changed("password") {
			patch.Password = &flagPassword
		}
		return withClient(cmd, func(ctx context.Context, c *clientEnv) error {
			return c.profile(ctx, patch)
		})
	},
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show your initiatives and category points",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *clientEnv) error {
			return c.dashboard(ctx, flagJSON)
		})
	},
}

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "Show the points leaderboard of the other users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *clientEnv) error {
			return c.friends(ctx)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{signupCmd, loginCmd, profileCmd} {
		c.Flags().StringVar(&flagEmail, "email", "", "account email")
		c.Flags().StringVar(&flagPassword, "password", "", "account password")
	}
	signupCmd.MarkFlagRequired("email")
	signupCmd.MarkFlagRequired("password")
	loginCmd.MarkFlagRequired("email")
	loginCmd.MarkFlagRequired("password")
	dashboardCmd.Flags().BoolVar(&flagJSON, "json", false, "print the dashboard as JSON")

	rootCmd.AddCommand(signupCmd, loginCmd, logoutCmd, whoamiCmd, profileCmd, dashboardCmd, friendsCmd)
}

// clientEnv bundles what the client commands share.
type clientEnv struct {
	out     io.Writer
	client  *userstore.Client
	manager *session.Manager
}

func newClientEnv(cc config.ClientConfig, tab string, out io.Writer) (*clientEnv, error) {
	storage, err := session.NewFileStorage(cc.SessionDir)
	if err != nil {
		return nil, err
	}
	client, err := userstore.NewClient(cc, nil)
	if err != nil {
		return nil, err
	}
	opts := []session.Option{
		session.WithKey(tab),
		session.WithTimeout(cc.Timeout),
		session.WithLogger(logger),
	}
	if cc.Revalidate {
		opts = append(opts, session.WithRevalidation())
	}
	return &clientEnv{
		out:     out,
		client:  client,
		manager: session.NewManager(client, storage, opts...),
	}, nil
}

func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *clientEnv) error) error {
	env, err := newClientEnv(cfg.Client, tabKey, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer env.client.Close()
	return fn(cmd.Context(), env)
}

func (c *clientEnv) signup(ctx context.Context, email, password string) error {
	ok, err := c.manager.Signup(ctx, email, password)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("signup rejected: email already registered or fields missing")
	}
	s, _ := c.manager.Current()
	fmt.Fprintf(c.out, "Signed up and signed in as %s\n", s.Email)
	return nil
}

func (c *clientEnv) login(ctx context.Context, email, password string) error {
	ok, err := c.manager.Login(ctx, email, password)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("invalid email or password")
	}
	fmt.Fprintf(c.out, "Signed in as %s\n", email)
	return nil
}

func (c *clientEnv) logout() error {
	if err := c.manager.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Signed out")
	return nil
}

func (c *clientEnv) whoami(ctx context.Context) error {
	s, state := c.manager.Restore(ctx)
	if state != session.SignedIn {
		fmt.Fprintln(c.out, "Not signed in")
		return nil
	}
	fmt.Fprintf(c.out, "%s (user %d)\n", s.Email, s.UserID)
	return nil
}

func (c *clientEnv) profile(ctx context.Context, patch models.UserPatch) error {
	if _, state := c.manager.Restore(ctx); state != session.SignedIn {
		return session.ErrNotSignedIn
	}
	ok, err := c.manager.UpdateProfile(ctx, patch)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("profile update rejected")
	}
	s, _ := c.manager.Current()
	fmt.Fprintf(c.out, "Profile updated for %s\n", s.Email)
	return nil
}

func (c *clientEnv) dashboard(ctx context.Context, asJSON bool) error {
	s, state := c.manager.Restore(ctx)
	if state != session.SignedIn {
		return session.ErrNotSignedIn
	}

	var (
		user   *models.User
		snap   *catalog.Snapshot
		catErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := c.client.GetUser(gctx, s.UserID)
		if err != nil {
			return storeError("fetch user", err)
		}
		user = u
		return nil
	})
	g.Go(func() error {
		sn, err := c.client.FetchCatalog(gctx)
		if err != nil {
			catErr = err
			return nil
		}
		snap = sn
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if catErr != nil {
		// points still render; every participation shows up as a broken join
		logger.Warn("catalog unavailable, using an empty snapshot", slog.Any("err", catErr))
		fmt.Fprintf(c.out, "warning: initiative catalog unavailable (%v); showing points only\n\n", catErr)
		snap = &catalog.Snapshot{}
	}

	d, err := aggregate.Build(user, snap)
	if err != nil && !errors.Is(err, aggregate.ErrBrokenJoin) {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}

	fmt.Fprintf(c.out, "%s: %d points (environmental %d, social %d, innovation %d)\n\n",
		user.Email, user.Points, d.CategoryPoints.Environmental, d.CategoryPoints.Social, d.CategoryPoints.Innovation)
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tCOMPANY\tINITIATIVE\tPOINTS\tCONTRIBUTION")
	for _, e := range d.MyInitiatives {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", e.DateParticipated, e.InitiativeDetails.Company, e.InitiativeDetails.Name, e.PointsEarned, e.Contribution)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, b := range d.BrokenJoins {
		fmt.Fprintf(c.out, "warning: participation %d references initiative %d, which is not in the catalog\n", b.Position+1, b.InitiativeID)
	}
	return nil
}

func (c *clientEnv) friends(ctx context.Context) error {
	s, state := c.manager.Restore(ctx)
	if state != session.SignedIn {
		return session.ErrNotSignedIn
	}
	users, err := c.client.Friends(ctx, s.Email)
	if err != nil {
		return storeError("fetch friends", err)
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tEMAIL\tPOINTS")
	for i, u := range users {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", i+1, u.Email, u.Points)
	}
	return tw.Flush()
}

// storeError marks failures other than a definite answer from the store as
// session.ErrUnavailable.
func storeError(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrInvalidCredentials) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, session.ErrUnavailable, err)
}
