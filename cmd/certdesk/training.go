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

func trainingCmd() *cobra.Command {
	tr := &cobra.Command{Use: "training", Short: "Manage training sessions"}
	tr.AddCommand(trainingCreateCmd())
	tr.AddCommand(trainingListCmd())
	tr.AddCommand(trainingShowCmd())
	tr.AddCommand(trainingAttendCmd())
	tr.AddCommand(trainingResultCmd())
	tr.AddCommand(trainingApproveCmd())
	tr.AddCommand(trainingRejectCmd())
	tr.AddCommand(trainingCertificatesCmd())
	return tr
}

// parseParticipants reads "id=name" pairs; a bare value is used as both.
func parseParticipants(values []string) []domain.Participant {
	out := make([]domain.Participant, 0, len(values))
	for _, v := range values {
		id, name, ok := strings.Cut(v, "=")
		if !ok {
			name = id
		}
		out = append(out, domain.Participant{ID: strings.TrimSpace(id), Name: strings.TrimSpace(name)})
	}
	return out
}

func trainingCreateCmd() *cobra.Command {
	var opts engine.TrainingSessionCreateOptions
	var date, end string
	var participants []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Schedule a training session",
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduled, err := parseDate(date)
			if err != nil {
				return err
			}
			opts.ScheduledDate = scheduled
			if opts.EndDate, err = optionalDate(end); err != nil {
				return err
			}
			opts.AttendanceList = parseParticipants(participants)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if opts.ActorID, err = actorID(a); err != nil {
					return err
				}
				s, err := a.Engine.CreateTrainingSession(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "session title")
	cmd.Flags().StringVar(&date, "date", "", "start date")
	cmd.Flags().StringVar(&end, "end", "", "end date")
	cmd.Flags().StringVar(&opts.JobOrderID, "job", "", "linked job order id")
	cmd.Flags().StringVar(&opts.ClientID, "client", "", "client id")
	cmd.Flags().StringVar(&opts.TrainerID, "trainer", "", "trainer user id")
	cmd.Flags().StringVar(&opts.Location, "location", "", "venue")
	cmd.Flags().StringArrayVar(&participants, "participant", nil, "participant as id=name (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func trainingListCmd() *cobra.Command {
	var approval string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List training sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var sessions []domain.TrainingSession
				for _, s := range a.Store.Snapshot().TrainingSessions {
					if approval == "" || strings.EqualFold(string(s.ApprovalStatus), approval) {
						sessions = append(sessions, s)
					}
				}
				if viper.GetBool("json") {
					return printJSON(sessions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Client", "Participants", "Approval", "Status", "Date"})
				for _, s := range sessions {
					tw.AppendRow(table.Row{s.ID, s.Title, s.ClientName, len(s.AttendanceList), s.ApprovalStatus, s.Status, humanize.Time(s.ScheduledDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&approval, "approval", "", "Pending|Approved|Rejected")
	return cmd
}

func trainingShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a training session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, _, ok := a.Store.Snapshot().TrainingSession(args[0])
				if !ok {
					return fmt.Errorf("training session %s: %w", args[0], engine.ErrNotFound)
				}
				return printJSONOrTable(s)
			})
		},
	}
}

// updateRoster loads the session, lets edit change its roster and writes the
// roster back.
func updateRoster(ctx context.Context, a *app.App, id string, edit func(s *domain.TrainingSession) error) (domain.TrainingSession, error) {
	actor, err := actorID(a)
	if err != nil {
		return domain.TrainingSession{}, err
	}
	s, _, ok := a.Store.Snapshot().TrainingSession(id)
	if !ok {
		return domain.TrainingSession{}, fmt.Errorf("training session %s: %w", id, engine.ErrNotFound)
	}
	if err := edit(&s); err != nil {
		return domain.TrainingSession{}, err
	}
	return a.Engine.UpdateTrainingSession(ctx, engine.TrainingSessionUpdateOptions{
		ID:                id,
		AttendanceList:    s.AttendanceList,
		AssessmentResults: s.AssessmentResults,
		ActorID:           actor,
	})
}

func trainingAttendCmd() *cobra.Command {
	var participant string
	var absent bool
	cmd := &cobra.Command{
		Use:   "attend <session-id>",
		Short: "Record a participant's attendance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := updateRoster(ctx, a, args[0], func(s *domain.TrainingSession) error {
					for i := range s.AttendanceList {
						if s.AttendanceList[i].ID != participant {
							continue
						}
						s.AttendanceList[i].Attendance = domain.AttendancePresent
						if absent {
							s.AttendanceList[i].Attendance = domain.AttendanceAbsent
						}
						return nil
					}
					return fmt.Errorf("participant %s: %w", participant, engine.ErrNotFound)
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant id")
	cmd.Flags().BoolVar(&absent, "absent", false, "mark absent instead of present")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}

func trainingResultCmd() *cobra.Command {
	var participant, outcome string
	var score float64
	cmd := &cobra.Command{
		Use:   "result <session-id>",
		Short: "Record a participant's assessment outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out domain.Outcome
			switch strings.ToLower(outcome) {
			case "pass":
				out = domain.OutcomePass
			case "fail":
				out = domain.OutcomeFail
			default:
				return fmt.Errorf("outcome must be pass or fail: %w", engine.ErrInvalid)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := updateRoster(ctx, a, args[0], func(s *domain.TrainingSession) error {
					result := domain.AssessmentResult{ParticipantID: participant, Outcome: out, Score: score}
					for _, p := range s.AttendanceList {
						if p.ID == participant {
							result.ParticipantName = p.Name
						}
					}
					for i := range s.AssessmentResults {
						if s.AssessmentResults[i].ParticipantID == participant {
							s.AssessmentResults[i] = result
							return nil
						}
					}
					s.AssessmentResults = append(s.AssessmentResults, result)
					return nil
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant id")
	cmd.Flags().StringVar(&outcome, "outcome", "", "pass|fail")
	cmd.Flags().Float64Var(&score, "score", 0, "assessment score")
	_ = cmd.MarkFlagRequired("participant")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func trainingApproveCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a session and certify every passing participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorID(a)
				if err != nil {
					return err
				}
				s, certs, err := a.Engine.ApproveTrainingSession(ctx, args[0], format, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"session": s, "certificates": certs})
				}
				fmt.Printf("%s approved; %d certificate(s) issued\n", s.ID, len(certs))
				return printCertificates(certs)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "A4|Card")
	return cmd
}

func trainingRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a training session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorID(a)
				if err != nil {
					return err
				}
				s, err := a.Engine.RejectTrainingSession(ctx, args[0], reason, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func trainingCertificatesCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "certificates <id>",
		Short: "Issue missing certificates of an approved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := actorID(a)
				if err != nil {
					return err
				}
				certs, err := a.Engine.GenerateTrainingCertificates(ctx, args[0], format, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(certs)
				}
				return printCertificates(certs)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "A4|Card")
	return cmd
}

func printCertificates(certs []domain.Certificate) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Number", "Participant", "Verification", "Expires"})
	for _, c := range certs {
		tw.AppendRow(table.Row{c.CertificateNumber, c.ParticipantName, c.VerificationCode, c.ExpiryDate.Format("2006-01-02")})
	}
	tw.Render()
	return nil
}
