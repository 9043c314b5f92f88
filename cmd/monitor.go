// File: cmd/monitor.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/truelylabs/truely-cli/internal/browser"
	"github.com/truelylabs/truely-cli/internal/browser/stealth"
	"github.com/truelylabs/truely-cli/internal/config"
	"github.com/truelylabs/truely-cli/internal/detector"
	"github.com/truelylabs/truely-cli/internal/launcher"
	"github.com/truelylabs/truely-cli/internal/meeting"
	"github.com/truelylabs/truely-cli/internal/observability"
	"github.com/truelylabs/truely-cli/internal/orchestrator"
)

func newMonitorCommand() *cobra.Command {
	var (
		passcode    string
		noHumanJoin bool
	)

	monitorCmd := &cobra.Command{
		Use:   "monitor <meeting-id-or-url>",
		Short: "Join a meeting and monitor it until dismissed.",
		Long: `Joins the meeting with an automated browser, announces itself in the chat,
and watches the local machine for suspicious processes. Detections are posted
to the meeting chat. Typing the shutdown token in the chat, or sending an
interrupt, makes the bot leave and exit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Unmarshal(viper.GetViper())
			if err != nil {
				return err
			}
			return runMonitor(cmd.Context(), cfg, args[0], passcode, noHumanJoin)
		},
	}

	monitorCmd.Flags().StringVarP(&passcode, "passcode", "p", "", "meeting passcode, if the URL does not carry one")
	monitorCmd.Flags().Bool("headless", true, "run the browser without a visible window")
	monitorCmd.Flags().StringP("name", "n", "", "display name to join with")
	monitorCmd.Flags().StringSlice("watch", nil, "process names to watch for")
	monitorCmd.Flags().String("token", "", "chat token that shuts the bot down")
	monitorCmd.Flags().BoolVar(&noHumanJoin, "no-human-join", false, "skip opening the meeting in the native client")

	bindFlag(monitorCmd, "browser.headless", "headless")
	bindFlag(monitorCmd, "meeting.display_name", "name")
	bindFlag(monitorCmd, "detector.names", "watch")
	bindFlag(monitorCmd, "command.shutdown_token", "token")

	return monitorCmd
}

func runMonitor(ctx context.Context, cfg *config.Config, target, passcode string, noHumanJoin bool) error {
	logger := observability.GetLogger()

	ident := meeting.ParseIdentifier(target)
	req, deepLink, err := buildJoin(ident, passcode, cfg.Meeting.DisplayName)
	if err != nil {
		return err
	}

	// The browser and session outlive the command context: an interrupt
	// cancels ctx, which stops the orchestrator, whose shutdown then runs
	// the full leave sequence against a still-live session. Parenting them
	// on ctx would tear the worker down before Leave could say goodbye.
	lifeCtx := sessionContext(ctx)
	handle, err := browser.Acquire(lifeCtx, cfg.Browser, stealth.DefaultPersona, logger)
	if err != nil {
		return fmt.Errorf("acquire browser: %w", err)
	}

	session := meeting.NewSession(lifeCtx, browser.NewDriver(handle, logger), req.Provider, cfg.Meeting, logger, handle.Release)
	monitor := meeting.NewCommandMonitor(session, cfg.Command.ShutdownToken, cfg.Command.PollInterval, logger)
	scanner := detector.NewScanner(detector.Watchlist{
		Names:  cfg.Detector.Names,
		Paths:  cfg.Detector.Paths,
		Hashes: cfg.Detector.Hashes,
	}, logger)
	relay := meeting.NewAlertRelay(session, cfg.Alert.Cooldown, logger)

	var launch orchestrator.LaunchFunc
	if !noHumanJoin && deepLink != "" {
		launch = func(ctx context.Context, t string) error {
			return launcher.Open(ctx, t, logger)
		}
	}

	orch := orchestrator.New(cfg, session, monitor, scanner, relay, launch, deepLink, logger)
	return orch.Run(ctx, req)
}

// sessionContext detaches the session and browser lifetime from the
// command context while keeping its values. Signals cancel the
// orchestrator, never the session worker; teardown always goes through
// Leave.
func sessionContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// buildJoin resolves the parsed identifier into the browser join request and
// the optional native-client deep link.
func buildJoin(ident meeting.Identifier, passcode, displayName string) (meeting.JoinRequest, string, error) {
	switch id := ident.(type) {
	case meeting.ZoomID:
		if passcode == "" {
			passcode = id.Passcode
		}
		req := meeting.JoinRequest{
			Provider:    meeting.ProviderZoom,
			Target:      id.WebJoinURL(),
			Passcode:    passcode,
			DisplayName: displayName,
		}
		return req, launcher.ZoomDeepLink(id.ID, passcode), nil
	case meeting.MeetCode:
		req := meeting.JoinRequest{
			Provider:    meeting.ProviderMeet,
			Target:      id.URL,
			DisplayName: displayName,
		}
		return req, id.URL, nil
	default:
		return meeting.JoinRequest{}, "", fmt.Errorf("unrecognized meeting identifier")
	}
}
