package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/urfave/cli/v2"

	"github.com/webitel/im-routing-service/internal/domain/model"
)

// statsCmd is the operator dashboard: it polls a running engine's /stats
// endpoint and renders the index and outbox snapshot in the terminal.
func statsCmd() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Live dashboard over a running engine's /stats endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: "http://localhost:8439",
				Usage: "Base URL of the engine's ops server",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: time.Second,
				Usage: "Poll interval",
			},
		},
		Action: func(c *cli.Context) error {
			return runDashboard(c.String("addr"), c.Duration("interval"))
		},
	}
}

func runDashboard(addr string, interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("stats: init terminal: %w", err)
	}
	defer ui.Close()

	summary := widgets.NewParagraph()
	summary.Title = " Routing Index "
	summary.SetRect(0, 0, 60, 8)

	outbox := widgets.NewParagraph()
	outbox.Title = " Instance Outboxes "
	outbox.SetRect(60, 0, 110, 8)

	shards := widgets.NewBarChart()
	shards.Title = " Entries per Channel Shard "
	shards.SetRect(0, 8, 110, 28)
	shards.BarWidth = 5

	client := &http.Client{Timeout: 2 * time.Second}
	refresh := func() {
		stats, err := fetchStats(client, addr)
		if err != nil {
			summary.Text = fmt.Sprintf("unreachable: %v", err)
			ui.Render(summary, outbox, shards)
			return
		}

		summary.Text = fmt.Sprintf(
			"Channels: %d\nUsers:    %d\nEntries:  %d\nUptime:   %s",
			stats.Index.Channels, stats.Index.Users, stats.Index.Entries,
			stats.Index.Uptime.Round(time.Second),
		)
		outbox.Text = fmt.Sprintf(
			"Instances: %d\nPending:   %d\nPublished: %d\nDropped:   %d",
			stats.Outbox.Instances, stats.Outbox.Pending,
			stats.Outbox.Published, stats.Outbox.Dropped,
		)

		data := make([]float64, 0, len(stats.Index.Shards))
		labels := make([]string, 0, len(stats.Index.Shards))
		for _, s := range stats.Index.Shards {
			data = append(data, float64(s.Entries))
			labels = append(labels, fmt.Sprintf("%d", s.ShardID))
		}
		if len(data) > 0 {
			shards.Data = data
			shards.Labels = labels
		}

		ui.Render(summary, outbox, shards)
	}
	refresh()

	events := ui.PollEvents()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				refresh()
			}
		case <-ticker.C:
			refresh()
		}
	}
}

func fetchStats(client *http.Client, addr string) (*model.EngineStats, error) {
	resp, err := client.Get(addr + "/stats")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var stats model.EngineStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
