package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"certdesk/internal/app"
	"certdesk/internal/domain"
	"certdesk/internal/engine"
)

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Manage job orders"}
	job.AddCommand(jobCreateCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobShowCmd())
	job.AddCommand(jobUpdateCmd())
	job.AddCommand(jobAssignCmd())
	job.AddCommand(jobReportCmd())
	job.AddCommand(jobApproveCmd())
	job.AddCommand(jobRejectCmd())
	job.AddCommand(jobReviseCmd())
	return job
}

func jobCreateCmd() *cobra.Command {
	var opts engine.JobOrderCreateOptions
	var date string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job order",
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduled, err := parseDate(date)
			if err != nil {
				return err
			}
			opts.ScheduledDate = scheduled
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if opts.ActorID, err = actorID(a); err != nil {
					return err
				}
				j, err := a.Engine.CreateJobOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ClientID, "client", "", "client id")
	cmd.Flags().StringArrayVar(&opts.ServiceTypes, "service", nil, "service type (repeatable; the first is primary)")
	cmd.Flags().StringVar(&date, "date", "", "scheduled date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Location, "location", "", "site location")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "low|normal|high|urgent")
	cmd.Flags().StringToStringVar(&opts.Assignments, "assign", nil, "role=user assignments")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func jobListCmd() *cobra.Command {
	var status, clientID, assignee string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List job orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var jobs []domain.JobOrder
				for _, j := range a.Store.Snapshot().JobOrders {
					if status != "" && !strings.EqualFold(string(j.Status), status) {
						continue
					}
					if clientID != "" && j.ClientID != clientID {
						continue
					}
					if assignee != "" && j.AssignedTo != assignee {
						continue
					}
					jobs = append(jobs, j)
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Client", "Services", "Status", "Payment", "Assignee", "Scheduled"})
				for _, j := range jobs {
					tw.AppendRow(table.Row{j.ID, j.ClientName, strings.Join(j.ServiceTypes, ", "), j.Status, j.PaymentStatus, j.AssignedToName, humanize.Time(j.ScheduledDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&clientID, "client", "", "client filter")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee filter")
	return cmd
}

func jobShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a job order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				j, _, ok := a.Store.Snapshot().JobOrder(args[0])
				if !ok {
					return fmt.Errorf("job order %s: %w", args[0], engine.ErrNotFound)
				}
				return printJSONOrTable(j)
			})
		},
	}
}

func jobUpdateCmd() *cobra.Command {
	var date, location, notes, priority string
	var services []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update job order details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.JobOrderUpdateOptions{
				ID:           args[0],
				Location:     optionalString(cmd, "location", location),
				Notes:        optionalString(cmd, "notes", notes),
				Priority:     optionalString(cmd, "priority", priority),
				ServiceTypes: services,
			}
			if cmd.Flags().Changed("date") {
				d, err := parseDate(date)
				if err != nil {
					return err
				}
				opts.ScheduledDate = &d
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var err error
				if opts.ActorID, err = actorID(a); err != nil {
					return err
				}
				j, err := a.Engine.UpdateJobOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "scheduled date")
	cmd.Flags().StringVar(&location, "location", "", "site location")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringArrayVar(&services, "service", nil, "replace service types (repeatable)")
	return cmd
}

// jobAction wraps the commands that take a job id and return the job.
func jobAction(use, short string, run func(ctx context.Context, a *app.App, id, actor string) (domain.JobOrder, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorID(a)
				if err != nil {
					return err
				}
				j, err := run(ctx, a, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
}

func jobAssignCmd() *cobra.Command {
	var userID string
	cmd := jobAction("assign", "Assign a job order", func(ctx context.Context, a *app.App, id, actor string) (domain.JobOrder, error) {
		return a.Engine.AssignJobOrder(ctx, id, userID, actor)
	})
	cmd.Flags().StringVar(&userID, "user", "", "assignee user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func jobReportCmd() *cobra.Command {
	var file string
	var evidence []string
	cmd := jobAction("report", "Submit the field report (JSON reportData)", func(ctx context.Context, a *app.App, id, actor string) (domain.JobOrder, error) {
		var report domain.ReportData
		if err := readJSONFile(file, &report); err != nil {
			return domain.JobOrder{}, err
		}
		opts := engine.ReportSubmitOptions{ID: id, ReportData: report, ActorID: actor}
		for _, name := range evidence {
			opts.Evidence = append(opts.Evidence, domain.Evidence{Name: name})
		}
		return a.Engine.SubmitJobOrderReport(ctx, opts)
	})
	cmd.Flags().StringVarP(&file, "file", "f", "-", "report JSON file, - for stdin")
	cmd.Flags().StringArrayVar(&evidence, "evidence", nil, "evidence file name (repeatable)")
	return cmd
}

func jobApproveCmd() *cobra.Command {
	return jobAction("approve", "Approve a job order", func(ctx context.Context, a *app.App, id, actor string) (domain.JobOrder, error) {
		return a.Engine.ApproveJobOrder(ctx, id, actor)
	})
}

func jobRejectCmd() *cobra.Command {
	var reason string
	cmd := jobAction("reject", "Reject a job order back to Pending", func(ctx context.Context, a *app.App, id, actor string) (domain.JobOrder, error) {
		return a.Engine.RejectJobOrder(ctx, id, reason, actor)
	})
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func jobReviseCmd() *cobra.Command {
	var comments string
	cmd := jobAction("revise", "Request a report revision", func(ctx context.Context, a *app.App, id, actor string) (domain.JobOrder, error) {
		return a.Engine.RequestRevision(ctx, id, comments, actor)
	})
	cmd.Flags().StringVar(&comments, "comments", "", "revision comments")
	_ = cmd.MarkFlagRequired("comments")
	return cmd
}

func paymentCmd() *cobra.Command {
	pay := &cobra.Command{Use: "payment", Short: "Manage payments"}
	pay.AddCommand(paymentCreateCmd())
	pay.AddCommand(paymentListCmd())
	pay.AddCommand(paymentConfirmCmd())
	pay.AddCommand(paymentRejectCmd())
	return pay
}

func paymentCreateCmd() *cobra.Command {
	var opts engine.PaymentCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Record a pending payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var err error
				if opts.ActorID, err = actorID(a); err != nil {
					return err
				}
				p, err := a.Engine.CreatePayment(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.JobOrderID, "job", "", "job order id")
	cmd.Flags().Float64Var(&opts.Amount, "amount", 0, "amount")
	cmd.Flags().StringVar(&opts.Method, "method", "", "transfer|cash|card|cheque")
	cmd.Flags().StringVar(&opts.Reference, "reference", "", "payment reference")
	_ = cmd.MarkFlagRequired("job")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func paymentListCmd() *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var items []domain.Payment
				for _, p := range a.Store.Snapshot().Payments {
					if jobID == "" || p.JobOrderID == jobID {
						items = append(items, p)
					}
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Job Order", "Amount", "Method", "Status", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.JobOrderID, humanize.Commaf(p.Amount), p.Method, p.Status, humanize.Time(p.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job order filter")
	return cmd
}

func paymentConfirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <id>",
		Short: "Confirm a payment; marks the job order Paid and issues its certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorID(a)
				if err != nil {
					return err
				}
				p, err := a.Engine.ConfirmPayment(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func paymentRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Mark a payment failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorID(a)
				if err != nil {
					return err
				}
				p, err := a.Engine.RejectPayment(ctx, args[0], reason, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason")
	return cmd
}

func certCmd() *cobra.Command {
	cert := &cobra.Command{Use: "cert", Short: "Issue, verify and renew certificates"}
	cert.AddCommand(certListCmd())
	cert.AddCommand(certGenerateCmd())
	cert.AddCommand(certVerifyCmd())
	cert.AddCommand(certRenewCmd())
	cert.AddCommand(certExpireCmd())
	return cert
}

func certListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List certificates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var certs []domain.Certificate
				for _, c := range a.Store.Snapshot().Certificates {
					if status == "" || strings.EqualFold(string(c.Status), status) {
						certs = append(certs, c)
					}
				}
				if viper.GetBool("json") {
					return printJSON(certs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Number", "Holder", "Service", "Format", "Status", "Expires"})
				for _, c := range certs {
					holder := c.ClientName
					if c.ParticipantName != "" {
						holder = c.ParticipantName
					}
					tw.AppendRow(table.Row{c.CertificateNumber, holder, c.ServiceType, c.Format, c.Status, humanize.Time(c.ExpiryDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Valid|Expired")
	return cmd
}

func certGenerateCmd() *cobra.Command {
	var jobID, format string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Issue the certificate of a paid job order (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorID(a)
				if err != nil {
					return err
				}
				c, err := a.Engine.GenerateCertificate(ctx, jobID, format, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job order id")
	cmd.Flags().StringVar(&format, "format", "", "A4|Card (default from config)")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func certVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <number-or-code>",
		Short: "Verify a certificate; overdue certificates are marked expired",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.VerifyCertificate(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("%s  %s  %s  expires %s (%s)\n", c.CertificateNumber, c.Status, c.ServiceType,
					c.ExpiryDate.Format("2006-01-02"), humanize.Time(c.ExpiryDate))
				return nil
			})
		},
	}
}

func certRenewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "renew <id>",
		Short: "Renew a certificate in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorID(a)
				if err != nil {
					return err
				}
				c, err := a.Engine.RenewCertificate(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func certExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Mark every overdue certificate expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorID(a)
				if err != nil {
					return err
				}
				n, err := a.Engine.ExpireCertificates(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"expired": n})
				}
				fmt.Printf("%d certificate(s) expired\n", n)
				return nil
			})
		},
	}
}
