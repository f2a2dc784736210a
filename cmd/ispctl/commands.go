package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ispctl/internal/api"
	"ispctl/internal/billing"
	"ispctl/internal/config"
	"ispctl/internal/logging"
	"ispctl/internal/metrics"
	"ispctl/internal/model"
	"ispctl/internal/store"
	"ispctl/internal/telemetry"
)

// import and export open the badger directory directly, so they must run
// while serve is stopped.

func newImportCmd(g *globalFlags) *cobra.Command {
	var dataDir string
	return withDataDir(&cobra.Command{
		Use:   "import <inventory.yaml>",
		Short: "Import routers and clients from a YAML inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			overrideServer(&cfg.Server, "", dataDir, "")
			log, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			s, err := store.Open(filepath.Join(cfg.Server.DataDir, "badger"))
			if err != nil {
				return err
			}
			defer s.Close()
			if err := importInventory(cmd.Context(), s, args[0], log); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s\n", args[0])
			return nil
		},
	}, &dataDir)
}

func newExportCmd(g *globalFlags) *cobra.Command {
	var dataDir string
	return withDataDir(&cobra.Command{
		Use:   "export <inventory.yaml>",
		Short: "Write the stored routers and clients to a YAML inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			overrideServer(&cfg.Server, "", dataDir, "")
			s, err := store.Open(filepath.Join(cfg.Server.DataDir, "badger"))
			if err != nil {
				return err
			}
			defer s.Close()
			inv, err := s.ExportInventory(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.SaveInventory(args[0], inv); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported routers=%d clients=%d to %s\n", len(inv.Routers), len(inv.Clients), args[0])
			return nil
		},
	}, &dataDir)
}

func withDataDir(cmd *cobra.Command, dataDir *string) *cobra.Command {
	cmd.Flags().StringVar(dataDir, "data-dir", "", "data directory")
	return cmd
}

func newPayCmd(g *globalFlags) *cobra.Command {
	var amount float64
	cmd := &cobra.Command{
		Use:   "pay <client_id> <YYYY-MM>",
		Short: "Record a monthly payment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, err := parseClientID(args[0])
			if err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			resp, err := c.RecordPayment(cmd.Context(), api.PaymentRequest{ClientID: clientID, Month: args[1], Amount: amount})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "payment id=%s client=%d month=%s amount=%.2f\n", resp.Payment.ID, resp.Payment.ClientID, resp.Payment.Month, resp.Payment.Amount)
			if resp.Reactivated {
				fmt.Fprintf(out, "client %d reactivated\n", clientID)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 0, "amount paid")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newPaymentsCmd(g *globalFlags) *cobra.Command {
	var csvOut bool
	cmd := &cobra.Command{
		Use:   "payments <client_id>",
		Short: "List a client's payments, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, err := parseClientID(args[0])
			if err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			list, err := c.Payments(cmd.Context(), clientID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if csvOut {
				return billing.WritePaymentsCSV(out, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "no payments")
				return nil
			}
			for _, p := range list {
				fmt.Fprintf(out, "%s amount=%.2f recorded=%s id=%s\n", p.Month, p.Amount, p.RecordedAt.Format(time.RFC3339), p.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&csvOut, "csv", false, "write CSV")
	return cmd
}

func newCheckCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check <client_id> <YYYY-MM>",
		Short: "Report whether a month is paid",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, err := parseClientID(args[0])
			if err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			resp, err := c.CheckPayment(cmd.Context(), clientID, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "client=%d month=%s paid=%t\n", clientID, args[1], resp.Paid)
			return nil
		},
	}
}

func newMonthsCmd(g *globalFlags) *cobra.Command {
	var from, to string
	var year int
	cmd := &cobra.Command{
		Use:   "months <client_id>",
		Short: "Show paid and unpaid months for a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, err := parseClientID(args[0])
			if err != nil {
				return err
			}
			q := url.Values{}
			switch {
			case from != "" || to != "":
				q.Set("from", from)
				q.Set("to", to)
			case year != 0:
				q.Set("year", strconv.Itoa(year))
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			resp, err := c.Months(cmd.Context(), clientID, q)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "client=%d window=%s..%s\n", resp.ClientID, resp.From, resp.To)
			for _, cell := range resp.Months {
				mark := "unpaid"
				if cell.Paid {
					mark = "paid"
				}
				cur := ""
				if cell.IsCurrent {
					cur = " <- current"
				}
				fmt.Fprintf(out, "  %s %s%s\n", cell.Month, mark, cur)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&from, "from", "", "first month (YYYY-MM)")
	f.StringVar(&to, "to", "", "last month (YYYY-MM)")
	f.IntVar(&year, "year", 0, "calendar year")
	cmd.MarkFlagsRequiredTogether("from", "to")
	cmd.MarkFlagsMutuallyExclusive("from", "year")
	return cmd
}

func newSuspensionsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suspensions",
		Short: "Suspension commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run a suspension check now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			rep, err := c.RunSuspensions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, rep.Message)
			for _, e := range rep.Errors {
				fmt.Fprintf(out, "  client=%d error=%s\n", e.ClientID, e.Error)
			}
			return nil
		},
	})
	return cmd
}

func newSettingsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "settings [key=value ...]",
		Short: "Show or update suspension settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			var s model.Settings
			if len(args) == 0 {
				s, err = c.Settings(cmd.Context())
			} else {
				values := make(map[string]string, len(args))
				for _, arg := range args {
					k, v, ok := strings.Cut(arg, "=")
					if !ok || k == "" {
						return fmt.Errorf("invalid setting %q, want key=value", arg)
					}
					values[k] = v
				}
				s, err = c.UpdateSettings(cmd.Context(), values)
			}
			if err != nil {
				return err
			}
			m := s.Map()
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, m[k])
			}
			return nil
		},
	}
}

func newSummaryCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print the dashboard summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			s, err := c.Summary(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			r := s.Routers
			fmt.Fprintf(out, "routers total=%d online=%d offline=%d unknown=%d initialized=%t\n", r.Total, r.Online, r.Offline, r.Unknown, r.Initialized)
			if r.Latency.Count > 0 {
				fmt.Fprintf(out, "latency avg=%.2fms p95=%.2fms min=%.2fms max=%.2fms\n", r.Latency.AvgLatencyMs, r.Latency.P95LatencyMs, r.Latency.MinLatencyMs, r.Latency.MaxLatencyMs)
			}
			for _, st := range r.OfflineList {
				fmt.Fprintf(out, "  offline router=%d name=%s error=%s\n", st.RouterID, st.Name, st.LastError)
			}
			cl := s.Clients
			fmt.Fprintf(out, "clients total=%d active=%d suspended=%d grace=%d overdue=%d\n", cl.Total, cl.Active, cl.Suspended, cl.Grace, cl.Overdue)
			if s.Telemetry.Available {
				fmt.Fprintf(out, "telemetry queues=%d received=%s\n", s.Telemetry.Queues, s.Telemetry.ReceivedAt.Format(time.RFC3339))
			} else {
				fmt.Fprintln(out, "telemetry unavailable")
			}
			return nil
		},
	}
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var csvOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List router statuses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			resp, err := c.Routers(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if csvOut {
				return metrics.WriteStatusCSV(out, resp.Routers)
			}
			for _, st := range resp.Routers {
				printStatus(out, st)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&csvOut, "csv", false, "write CSV")
	return cmd
}

func newPollCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run one router poll cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			rep, err := c.Poll(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "poll total=%d online=%d offline=%d duration=%s\n", rep.Total, rep.Online, rep.Offline, rep.Duration.Round(time.Millisecond))
			for _, st := range rep.Results {
				printStatus(out, st)
			}
			return nil
		},
	}
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream traffic snapshots until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			log, err := logging.New(watchLogConfig(g))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			obs := telemetry.NewObserver(&telemetry.WebsocketDialer{URL: c.TrafficURL()}, func(s model.TelemetrySnapshot) {
				printSnapshot(out, s)
			}, telemetry.ObserverOptions{Logger: log})
			obs.Open(cmd.Context())
			<-cmd.Context().Done()
			obs.Close()
			log.Debug("watch stopped", zap.Int64("connects", obs.Connects()))
			return nil
		},
	}
}

// watchLogConfig keeps the terminal quiet unless asked otherwise.
func watchLogConfig(g *globalFlags) config.LogConfig {
	cfg := config.LogConfig{Level: "warn", Format: "console"}
	overrideLog(&cfg, g.logLevel, g.logFormat)
	return cfg
}

func printStatus(out io.Writer, st model.RouterStatus) {
	state := "unknown"
	switch {
	case st.IsOnline():
		state = "online"
	case st.IsOffline():
		state = "offline"
	}
	line := fmt.Sprintf("router=%d name=%s address=%s state=%s", st.RouterID, st.Name, st.Address, state)
	if st.IsOnline() {
		line += fmt.Sprintf(" latency=%s", st.Latency.Round(time.Millisecond))
	}
	if st.Metrics != nil {
		line += fmt.Sprintf(" cpu=%d%% mem=%.1f%% hdd=%.1f%%", st.Metrics.CPULoad, st.Metrics.MemoryUsage(), st.Metrics.HDDUsage())
	}
	if st.LastError != "" {
		line += " error=" + strconv.Quote(st.LastError)
	}
	fmt.Fprintln(out, line)
}

func printSnapshot(out io.Writer, s model.TelemetrySnapshot) {
	ips := make([]string, 0, len(s.Queues))
	for ip := range s.Queues {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	fmt.Fprintf(out, "%s queues=%d\n", time.Now().Format(time.TimeOnly), len(ips))
	for _, ip := range ips {
		q := s.Queues[ip]
		fmt.Fprintf(out, "  %s up=%d down=%d\n", ip, q.Upload, q.Download)
	}
}

func parseClientID(value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("client_id must be a positive integer")
	}
	return id, nil
}
