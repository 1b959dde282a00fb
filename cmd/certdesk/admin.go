package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"certdesk/internal/app"
	"certdesk/internal/config"
	"certdesk/internal/domain"
	"certdesk/internal/engine"
	"certdesk/internal/notify"
	"certdesk/internal/repo"
)

func notifyCmd() *cobra.Command {
	n := &cobra.Command{
		Use:   "notify",
		Short: "Notification feed",
		Long:  "The feed shows a user's own notifications plus those of users who delegated to them.",
	}
	n.AddCommand(notifyListCmd())
	n.AddCommand(notifyReadCmd())
	n.AddCommand(notifyReadAllCmd())
	return n
}

func notifyListCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the feed of the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				feed := notify.ForCurrentUser(a.Store)
				if id := viper.GetString("actor-id"); id != "" {
					u, _, ok := a.Store.Snapshot().User(id)
					if !ok {
						return fmt.Errorf("user %s: %w", id, engine.ErrNotFound)
					}
					feed = notify.FeedFor(a.Store.Notifications(), u, a.Store.Users(), a.Store.Now())
				}
				if unread {
					items := feed.Items[:0:0]
					for _, n := range feed.Items {
						if !n.Read {
							items = append(items, n)
						}
					}
					feed.Items = items
				}
				if viper.GetBool("json") {
					return printJSON(feed)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "For", "Title", "Job Order", "Read", "When"})
				for _, n := range feed.Items {
					tw.AppendRow(table.Row{n.ID, n.UserID, n.Title, n.JobOrderID, n.Read, humanize.Time(n.CreatedAt)})
				}
				tw.AppendFooter(table.Row{"", "", "", "unread", feed.Unread, ""})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread notifications")
	return cmd
}

func notifyReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorID(a)
				if err != nil {
					return err
				}
				n, err := a.Engine.MarkNotificationAsRead(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
}

func notifyReadAllCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification of a user read",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorID(a)
				if err != nil {
					return err
				}
				target := userID
				if target == "" {
					target = actor
				}
				n, err := a.Engine.MarkAllNotificationsRead(ctx, target, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"updated": n})
				}
				fmt.Printf("%d notification(s) marked read\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user whose notifications to mark (default: acting user)")
	return cmd
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users, delegations and API keys"}
	u.AddCommand(userListCmd())
	u.AddCommand(userCreateCmd())
	u.AddCommand(userUpdateCmd())
	u.AddCommand(userDelegateCmd())
	u.AddCommand(userUndelegateCmd())
	u.AddCommand(apiKeyCmd())
	return u
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var users []domain.User
				for _, u := range a.Store.Users() {
					if role == "" || u.HasRole(role) {
						users = append(users, u)
					}
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				now := a.Store.Now()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Roles", "Active", "Delegates To"})
				for _, u := range users {
					delegate := ""
					if u.Delegation.ActiveAt(now) {
						delegate = u.Delegation.DelegatedToID
					}
					tw.AppendRow(table.Row{u.ID, u.Name, strings.Join(u.Roles, ","), u.Active, delegate})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func userCreateCmd() *cobra.Command {
	var opts engine.UserCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var err error
				if opts.ActorID, err = actorID(a); err != nil {
					return err
				}
				u, err := a.Engine.CreateUser(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "user id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email")
	cmd.Flags().StringSliceVar(&opts.Roles, "role", nil, "role (repeatable)")
	cmd.Flags().StringVar(&opts.Region, "region", "", "region")
	cmd.Flags().StringVar(&opts.Team, "team", "", "team")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userUpdateCmd() *cobra.Command {
	var name, email, region, team string
	var roles []string
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.UserUpdateOptions{
				ID:     args[0],
				Name:   optionalString(cmd, "name", name),
				Email:  optionalString(cmd, "email", email),
				Region: optionalString(cmd, "region", region),
				Team:   optionalString(cmd, "team", team),
				Roles:  roles,
			}
			if cmd.Flags().Changed("active") {
				opts.Active = &active
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var err error
				if opts.ActorID, err = actorID(a); err != nil {
					return err
				}
				u, err := a.Engine.UpdateUser(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&region, "region", "", "region")
	cmd.Flags().StringVar(&team, "team", "", "team")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "replace roles (repeatable)")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	return cmd
}

func userDelegateCmd() *cobra.Command {
	var to, from, until string
	cmd := &cobra.Command{
		Use:   "delegate <user-id>",
		Short: "Share a user's notifications with another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.DelegationOptions{UserID: args[0], DelegateToID: to}
			start, err := optionalDate(from)
			if err != nil {
				return err
			}
			if start != nil {
				opts.StartDate = *start
			}
			if opts.EndDate, err = optionalDate(until); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if opts.ActorID, err = actorID(a); err != nil {
					return err
				}
				u, err := a.Engine.SetDelegation(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "delegate user id")
	cmd.Flags().StringVar(&from, "from", "", "start date (default now)")
	cmd.Flags().StringVar(&until, "until", "", "end date")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func userUndelegateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undelegate <user-id>",
		Short: "End a user's delegation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorID(a)
				if err != nil {
					return err
				}
				u, err := a.Engine.ClearDelegation(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(apiKeyListCmd())
	k.AddCommand(apiKeyRevokeCmd())
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, _, ok := a.Store.Snapshot().User(userID); !ok {
					return fmt.Errorf("user %s: %w", userID, engine.ErrNotFound)
				}
				key, plain := repo.NewAPIKey(userID, name, a.Store.Now())
				if err := a.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "user_id": key.UserID, "key": plain})
				}
				fmt.Printf("%s  %s\n", key.ID, plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Repo.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				for i := range keys {
					keys[i].KeyHash = ""
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func clientCmd() *cobra.Command {
	c := &cobra.Command{Use: "client", Short: "Manage clients"}
	c.AddCommand(clientListCmd())
	c.AddCommand(clientCreateCmd())
	c.AddCommand(clientUpdateCmd())
	return c
}

func clientListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				clients := a.Store.Snapshot().Clients
				if viper.GetBool("json") {
					return printJSON(clients)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Contact", "Business", "Status"})
				for _, c := range clients {
					tw.AppendRow(table.Row{c.ID, c.Name, c.ContactPerson, c.BusinessType, c.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func clientCreateCmd() *cobra.Command {
	var opts engine.ClientCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var err error
				if opts.ActorID, err = actorID(a); err != nil {
					return err
				}
				c, err := a.Engine.CreateClient(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "client id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "company name")
	cmd.Flags().StringVar(&opts.ContactPerson, "contact", "", "contact person")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "phone")
	cmd.Flags().StringVar(&opts.Address, "address", "", "address")
	cmd.Flags().StringVar(&opts.BusinessType, "business-type", "", "business type")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func clientUpdateCmd() *cobra.Command {
	var name, contact, email, phone, address, business, status string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ClientUpdateOptions{
				ID:            args[0],
				Name:          optionalString(cmd, "name", name),
				ContactPerson: optionalString(cmd, "contact", contact),
				Email:         optionalString(cmd, "email", email),
				Phone:         optionalString(cmd, "phone", phone),
				Address:       optionalString(cmd, "address", address),
				BusinessType:  optionalString(cmd, "business-type", business),
			}
			if cmd.Flags().Changed("status") {
				s := domain.ClientStatus(status)
				opts.Status = &s
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var err error
				if opts.ActorID, err = actorID(a); err != nil {
					return err
				}
				c, err := a.Engine.UpdateClient(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "company name")
	cmd.Flags().StringVar(&contact, "contact", "", "contact person")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&phone, "phone", "", "phone")
	cmd.Flags().StringVar(&address, "address", "", "address")
	cmd.Flags().StringVar(&business, "business-type", "", "business type")
	cmd.Flags().StringVar(&status, "status", "", "Active|Inactive")
	return cmd
}

func sessionCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "session",
		Short: "Workspace login session",
		Long:  "The session user is shared by every process on the workspace and refreshed when its user record changes.",
	}
	s.AddCommand(sessionLoginCmd())
	s.AddCommand(sessionLogoutCmd())
	s.AddCommand(sessionShowCmd())
	s.AddCommand(sessionReconcileCmd())
	return s
}

func sessionLoginCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "login <user-id>",
		Short: "Log in as a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, _, ok := a.Store.Snapshot().User(args[0])
				if !ok {
					return fmt.Errorf("user %s: %w", args[0], engine.ErrNotFound)
				}
				if role != "" {
					if !u.HasRole(role) {
						return fmt.Errorf("user %s does not hold role %s", u.ID, role)
					}
					u.CurrentRole = role
				}
				cur, err := a.Session.Login(ctx, u)
				if err != nil {
					return err
				}
				return printJSONOrTable(cur)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "active role")
	return cmd
}

func sessionLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Session.Logout(ctx)
			})
		},
	}
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the session user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u := a.Store.CurrentUser()
				if u == nil {
					return errors.New("no session; run 'certdesk session login <user-id>'")
				}
				return printJSONOrTable(u)
			})
		},
	}
}

func sessionReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Refresh the session user from the users collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Session.Reconcile(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"outcome": string(out)})
				}
				fmt.Println(out)
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every committed change appends an event: job order transitions, payments, certificates, users and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var filter repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Repo.LatestEvents(ctx, n, 0, filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Writer"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityID, e.ActorID, e.Writer})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&filter.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&filter.Collection, "collection", "", "collection filter")
	cmd.Flags().StringVar(&filter.EntityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace config",
		Long:  "certdesk.yml maps service types to report kinds, names the reviewer roles, sets certificate validity and seeds the first users and clients.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default certdesk.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate certdesk.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}
