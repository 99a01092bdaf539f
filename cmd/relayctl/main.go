// relayctl is a small operator CLI over the relay's admin surface.
//
//	relayctl status
//	relayctl dump
//	relayctl find +33612345678
//	relayctl purge
//	relayctl purge-identities
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"
)

type Config struct {
	// RELAYCTL_ADDR points at the relay's listener (ws + admin).
	Addr string `envconfig:"RELAYCTL_ADDR" default:"http://localhost:8080"`
	// RELAYCTL_COLOURS enables colorized output for better readability
	Colours bool   `envconfig:"RELAYCTL_COLOURS" default:"true"`
	Timeout string `envconfig:"RELAYCTL_TIMEOUT" default:"5s"`
}

type identityRow struct {
	ID         string    `json:"id"`
	Phone      string    `json:"phoneNumber"`
	Name       string    `json:"name"`
	Country    string    `json:"country"`
	Language   string    `json:"language"`
	Online     bool      `json:"online"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return err
	}
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return fmt.Errorf("RELAYCTL_TIMEOUT: %w", err)
	}
	client := &http.Client{Timeout: timeout}

	if len(os.Args) < 2 {
		return fmt.Errorf("usage: relayctl status|dump|find <phone>|purge|purge-identities")
	}

	switch os.Args[1] {
	case "status":
		return showStatus(client, cfg)
	case "dump":
		return showIdentities(client, cfg)
	case "find":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: relayctl find <phone>")
		}
		return findIdentity(client, cfg, os.Args[2])
	case "purge":
		return post(client, cfg, "/admin/purge")
	case "purge-identities":
		return post(client, cfg, "/admin/purge/identities")
	default:
		return fmt.Errorf("unknown command %q", os.Args[1])
	}
}

func get(client *http.Client, cfg Config, path string, out any) error {
	resp, err := client.Get(cfg.Addr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("not found")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func post(client *http.Client, cfg Config, path string) error {
	resp, err := client.Post(cfg.Addr+path, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var report map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return err
	}
	for k, v := range report {
		fmt.Printf("%s: %v\n", k, v)
	}
	return nil
}

func showStatus(client *http.Client, cfg Config) error {
	var st struct {
		Status        string  `json:"status"`
		IdentityCount int     `json:"identityCount"`
		ChannelCount  int     `json:"channelCount"`
		UptimeSeconds float64 `json:"uptimeSeconds"`
		RSSMb         float64 `json:"rssMb"`
		CPUPercent    float64 `json:"cpuPercent"`
	}
	if err := get(client, cfg, "/admin/status", &st); err != nil {
		return err
	}

	header := fmt.Sprintf(" Relay %s ", st.Status)
	if cfg.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	fmt.Println(header)
	fmt.Printf("identities: %d\nchannels:   %d\nuptime:     %.0fs\nrss:        %.1f MB\ncpu:        %.1f%%\n",
		st.IdentityCount, st.ChannelCount, st.UptimeSeconds, st.RSSMb, st.CPUPercent)
	return nil
}

func showIdentities(client *http.Client, cfg Config) error {
	var payload struct {
		Identities []identityRow `json:"identities"`
		Count      int           `json:"count"`
	}
	if err := get(client, cfg, "/admin/identities", &payload); err != nil {
		return err
	}

	renderTable(payload.Identities, cfg)
	fmt.Printf("%d identities\n", payload.Count)
	return nil
}

func findIdentity(client *http.Client, cfg Config, phone string) error {
	var row identityRow
	if err := get(client, cfg, "/admin/identity?phone="+url.QueryEscape(phone), &row); err != nil {
		return err
	}
	renderTable([]identityRow{row}, cfg)
	return nil
}

func renderTable(rows []identityRow, cfg Config) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Phone", "Name", "Country", "Lang", "Online", "Last Seen"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, row := range rows {
		online := "no"
		if row.Online {
			online = "yes"
			if cfg.Colours {
				online = color.Green.Render(online)
			}
		}
		table.Append([]string{
			row.ID, row.Phone, row.Name, row.Country, row.Language,
			online, row.LastSeenAt.Format(time.RFC822),
		})
	}
	table.Render()
}
