package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"certdesk/internal/app"
	"certdesk/internal/db"
	"certdesk/internal/logging"
	"certdesk/internal/metrics"
)

var rootCmd = &cobra.Command{
	Use:   "certdesk",
	Short: "certdesk CLI",
	Long: `certdesk runs the back office of an inspection and certification business.
Core concepts:
- Workspace: a directory holding certdesk.yml and the .certdesk database; several processes may share it.
- Job orders: client service requests that move Pending -> In Progress -> Completed -> Approved -> Paid.
- Payments: confirming one marks its job order Paid and issues the job's certificate.
- Certificates: numbered CERT/DOC/STK, verified by number or verification code, renewed in place, expired lazily.
- Training sessions: once approved, every passing participant gets a certificate.
- Notifications: fanned out to supervisors and managers; delegations share a user's feed.
- Session: the workspace's logged-in user, kept in step with the users collection.
- Event log: every transition, view with 'certdesk log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	// Values already in the environment win over .env files.
	_ = godotenv.Load(filepath.Join(viper.GetString("workspace"), ".env"))
	_ = godotenv.Load()
	viper.SetEnvPrefix("CERTDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting user id (defaults to the session user)")
	rootCmd.PersistentFlags().String("writer", "", "writer name recorded with every commit")
	rootCmd.PersistentFlags().Bool("debug", false, "debug logging")
	rootCmd.PersistentFlags().Bool("verbose", false, "log to stderr")
	for _, name := range []string{"workspace", "json", "actor-id", "writer", "debug", "verbose"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(paymentCmd())
	rootCmd.AddCommand(certCmd())
	rootCmd.AddCommand(trainingCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
}

// --- helpers ---

func newLogger() (*zap.Logger, error) {
	if !viper.GetBool("verbose") && !viper.GetBool("debug") {
		return zap.NewNop(), nil
	}
	return logging.New(viper.GetBool("debug"))
}

func openApp(ctx context.Context, m *metrics.Metrics) (*app.App, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	writer := viper.GetString("writer")
	if writer == "" {
		host, _ := os.Hostname()
		writer = fmt.Sprintf("cli@%s:%d", host, os.Getpid())
	}
	return app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Logger:    logger,
		Metrics:   m,
		Writer:    writer,
	})
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	err = fn(ctx, a)
	// Deliver deferred local signals before the process exits.
	a.Bus.Flush()
	return err
}

// actorID resolves the acting user: --actor-id, else the session user.
func actorID(a *app.App) (string, error) {
	if id := strings.TrimSpace(viper.GetString("actor-id")); id != "" {
		return id, nil
	}
	if u := a.Store.CurrentUser(); u != nil {
		return u.ID, nil
	}
	return "", fmt.Errorf("no acting user; pass --actor-id or run 'certdesk session login <user-id>'")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDate accepts a calendar date or an RFC3339 instant.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC3339", s)
	}
	return t.UTC(), nil
}

func optionalDate(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func optionalString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}

func readJSONFile(path string, out any) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
