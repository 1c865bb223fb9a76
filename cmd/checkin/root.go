package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/extinguish558/jci-checkin-system-sub000/internal/config"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/guestlink"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/handler"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/models"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/reconcile"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/syncer"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/whatsapp"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "checkin",
		Short:        "Event check-in and guest registry",
		SilenceUsage: true,
	}

	cmd.AddCommand(
		newServeCommand(),
		newImportCommand(),
		newGuestsCommand(),
		newToggleCommand(),
		newDrawCommand(),
		newRevokeCommand(),
		newStatsCommand(),
		newLinkCommand(),
		newSettingsCommand(),
	)
	return cmd
}

// withApp builds the app for one command invocation and tears it down after.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, config.LoadConfig())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Keep the registry in sync and answer WhatsApp check-ins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				if a.adapter != nil {
					a.adapter.OnStatus(func(s syncer.Status) {
						fmt.Fprintf(cmd.ErrOrStderr(), "sync: %s\n", s)
					})
					go func() {
						if err := a.adapter.Run(ctx, a.reg); err != nil && ctx.Err() == nil {
							a.log.Error().Err(err).Msg("Sync loop stopped")
						}
					}()
				}

				if a.cfg.WhatsAppEnabled {
					svc, err := whatsapp.NewService(ctx, &whatsapp.Config{DataDir: a.cfg.DataDir}, a.log)
					if err != nil {
						return fmt.Errorf("error initializing WhatsApp service: %w", err)
					}
					notifier := whatsapp.NewNotifier(svc, whatsapp.NotifierConfig{
						CheckIn:   a.cfg.NotifyCheckIn,
						Winner:    a.cfg.NotifyWinner,
						EventName: func() string { return a.reg.Settings().EventName },
					}, a.log)
					a.reg.AddListener(notifier)
					svc.SetMessageHandler(handler.NewCheckInHandler(svc, a.reg).HandleMessage)

					if err := svc.Connect(ctx); err != nil {
						return fmt.Errorf("error connecting to WhatsApp: %w", err)
					}
					defer func() {
						notifier.Wait()
						svc.Disconnect()
					}()
				}

				s := a.reg.Stats()
				a.log.Info().Int("guests", s.Total).Int("checked_in", s.CheckedIn).Msg("Check-in service running")

				<-ctx.Done()
				a.log.Info().Msg("Shutting down")
				return nil
			})
		},
	}
}

func newImportCommand() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import parsed guest drafts (JSON arrays) into the registry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				ts = parsed
			}

			chunks := make([]reconcile.ChunkResult, 0, len(args))
			for _, path := range args {
				drafts, err := readDrafts(path)
				chunks = append(chunks, reconcile.ChunkResult{Source: path, Drafts: drafts, Err: err})
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.reg.ImportChunks(chunks, ts)
				out := cmd.OutOrStdout()
				if errors.Is(err, reconcile.ErrNothingToImport) {
					fmt.Fprintln(out, "No guest data recognized.")
					return err
				}
				if err != nil && !reconcile.IsPartialFailure(err) {
					return err
				}
				fmt.Fprintf(out, "Imported: %d accepted, %d rejected, %d new, %d updated, %d checked in\n",
					res.Accepted, res.Rejected, res.Created, res.Updated, res.CheckedIn)
				if err != nil {
					fmt.Fprintf(out, "Some files failed: %v\n", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "check-in timestamp (RFC3339), defaults to now")
	return cmd
}

func readDrafts(path string) ([]models.ParsedGuestDraft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var drafts []models.ParsedGuestDraft
	if err := json.Unmarshal(data, &drafts); err != nil {
		return nil, fmt.Errorf("failed to parse drafts: %w", err)
	}
	return drafts, nil
}

func newGuestsCommand() *cobra.Command {
	var checkedIn bool
	cmd := &cobra.Command{
		Use:   "guests",
		Short: "List guests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				guests := a.reg.Guests()
				if len(guests) == 0 {
					fmt.Fprintln(out, "No guests found.")
					return nil
				}
				fmt.Fprintln(out, strings.Repeat("-", 60))
				for _, g := range guests {
					if checkedIn && !g.IsCheckedIn {
						continue
					}
					fmt.Fprintf(out, "%s  %s  %s  %s\n", g.ID, g.Name, g.Title, g.Category)
					if g.IsCheckedIn && g.CheckInTime != nil {
						fmt.Fprintf(out, "    rounds %v at %s\n", g.AttendedRounds, g.CheckInTime.Format("2006-01-02 15:04:05"))
					}
					if g.IsWinner {
						fmt.Fprintf(out, "    won %v\n", g.WonRounds)
					}
				}
				fmt.Fprintln(out, strings.Repeat("-", 60))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&checkedIn, "checked-in", false, "only checked-in guests")
	return cmd
}

func newToggleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle GUEST_ID ROUND",
		Short: "Toggle a guest's attendance for a round",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var round int
			if _, err := fmt.Sscanf(args[1], "%d", &round); err != nil {
				return fmt.Errorf("invalid round %q", args[1])
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				g, err := a.reg.ToggleRound(args[0], round)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s rounds: %v\n", g.Name, g.AttendedRounds)
				return nil
			})
		},
	}
}

func newDrawCommand() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Draw a winner for the current lottery round",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := models.DrawMode(mode)
			switch m {
			case models.DrawDefault, models.DrawAll, models.DrawWinnersOnly:
			default:
				return fmt.Errorf("invalid mode %q", mode)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				w, ok := a.reg.Draw(m)
				if !ok {
					if m == models.DrawWinnersOnly {
						fmt.Fprintln(out, "No previous winners left to draw from.")
					} else {
						fmt.Fprintln(out, "No checked-in guests left to draw from.")
					}
					return nil
				}
				fmt.Fprintf(out, "Round %d winner: %s (%s)\n", *w.WinRound, w.Name, w.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(models.DrawDefault), "eligibility pool (default|all|winners_only)")
	return cmd
}

func newRevokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke GUEST_ID",
		Short: "Clear a guest's lottery wins",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				g, err := a.reg.RevokeWinner(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked wins for %s\n", g.Name)
				return nil
			})
		},
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print registration statistics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(a.reg.Stats())
			})
		},
	}
}

func newLinkCommand() *cobra.Command {
	var pngPath string
	cmd := &cobra.Command{
		Use:   "link GUEST_ID",
		Short: "Print a guest's deep link and QR code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				g, err := a.reg.Guest(args[0])
				if err != nil {
					return err
				}
				link, err := guestlink.URL(a.cfg.LinkBase, g.ID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s: %s\n", g.Name, link)

				if pngPath != "" {
					png, err := guestlink.PNG(a.cfg.LinkBase, g.ID, 256)
					if err != nil {
						return err
					}
					return os.WriteFile(pngPath, png, 0644)
				}
				qr, err := guestlink.Terminal(a.cfg.LinkBase, g.ID)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, qr)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&pngPath, "png", "", "write the QR code to this PNG file instead of the terminal")
	return cmd
}

func newSettingsCommand() *cobra.Command {
	var (
		eventName    string
		checkInRound int
		lotteryRound int
		totalRounds  int
	)
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or update system settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			var p models.SettingsPatch
			if cmd.Flags().Changed("event-name") {
				p.EventName = &eventName
			}
			if cmd.Flags().Changed("checkin-round") {
				p.CurrentCheckInRound = &checkInRound
			}
			if cmd.Flags().Changed("lottery-round") {
				p.LotteryRoundCounter = &lotteryRound
			}
			if cmd.Flags().Changed("total-rounds") {
				p.TotalRounds = &totalRounds
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				s, err := a.reg.UpdateSettings(p)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			})
		},
	}
	cmd.Flags().StringVar(&eventName, "event-name", "", "event name")
	cmd.Flags().IntVar(&checkInRound, "checkin-round", 0, "round new check-ins default to")
	cmd.Flags().IntVar(&lotteryRound, "lottery-round", 0, "round open for draws")
	cmd.Flags().IntVar(&totalRounds, "total-rounds", 0, "number of check-in rounds")
	return cmd
}
