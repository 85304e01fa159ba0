package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"strava-ingest/internal/config"
	"strava-ingest/internal/store"
	"strava-ingest/internal/strava"
)

// subscriptionCommand runs one push_subscriptions call and prints Strava's
// answer as received
func subscriptionCommand(ctx context.Context, cfg *config.Config, cmd string, args []string, out io.Writer) error {
	client := strava.NewClient(strava.Options{
		BaseURL:      cfg.Strava.APIBase,
		ClientID:     cfg.Strava.ClientID,
		ClientSecret: cfg.Strava.ClientSecret,
		Timeout:      cfg.Ingest.HTTPTimeout,
	})

	var resp *strava.ProviderResponse
	var err error
	switch cmd {
	case "subscribe":
		if cfg.Server.BaseURL == "" {
			return fmt.Errorf("%w: BASE_URL", config.ErrMissingSetting)
		}
		resp, err = client.CreateSubscription(ctx, cfg.WebhookCallbackURL(), cfg.Strava.VerifyToken)
	case "subscriptions":
		resp, err = client.ListSubscriptions(ctx)
	case "unsubscribe":
		if len(args) != 1 {
			return fmt.Errorf("usage: unsubscribe <subscription id>")
		}
		id, perr := strconv.ParseInt(args[0], 10, 64)
		if perr != nil {
			return fmt.Errorf("invalid subscription id %q", args[0])
		}
		resp, err = client.DeleteSubscription(ctx, id)
	default:
		return fmt.Errorf("unknown subscription command %q", cmd)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}

	fmt.Fprintf(out, "HTTP %d\n", resp.StatusCode)
	if len(resp.Body) > 0 {
		out.Write(prettyJSON(resp.Body))
		fmt.Fprintln(out)
	}
	if !resp.OK() {
		return fmt.Errorf("%s: Strava returned %d", cmd, resp.StatusCode)
	}
	return nil
}

// prettyJSON indents JSON bodies and leaves anything else as is
func prettyJSON(body []byte) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return body
	}
	return buf.Bytes()
}

func eventsCommand(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid limit %q", args[0])
		}
		limit = n
	}

	db, err := store.Open(cfg.Ingest.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	events, err := db.ListIngestEvents(ctx, limit)
	if err != nil {
		return err
	}
	return printEvents(out, events)
}

func printEvents(out io.Writer, events []store.IngestEvent) error {
	if len(events) == 0 {
		fmt.Fprintln(out, "No ingest events recorded yet.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tATHLETE\tACTIVITY\tSTATUS\tREMOTE\tDETAIL")
	for _, e := range events {
		remote := "-"
		if e.RemoteID != "" {
			remote = e.Mechanism + ":" + e.RemoteID
		}
		detail := e.LocalPath
		if e.Error != "" {
			detail = e.Error
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n",
			e.FinishedAt.Local().Format(time.DateTime), e.AthleteID, e.ActivityID, e.Status, remote, detail)
	}
	return tw.Flush()
}
