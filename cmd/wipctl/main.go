// Command wipctl is a command-line client for the Weather Server. It can
// query by area code or coordinates and submit sensor reports.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/wxproto/wip/internal/client"
	"github.com/wxproto/wip/internal/log"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: wipctl <command> [flags]

Commands:
  query    Query weather by area code
  locate   Query weather by coordinates
  report   Submit a sensor report
  version  Show version

Run 'wipctl <command> -h' for command flags.
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "query":
		runQuery(os.Args[2:])
	case "locate":
		runLocate(os.Args[2:])
	case "report":
		runReport(os.Args[2:])
	case "version":
		fmt.Printf("wipctl %s\n", version)
	default:
		usage()
	}
}

// commonFlags registers the flags every subcommand shares.
func commonFlags(fs *flag.FlagSet) (server *string, timeout *time.Duration, debug *bool) {
	server = fs.String("server", "127.0.0.1:4110", "Weather Server address")
	timeout = fs.Duration("timeout", 10*time.Second, "Request timeout")
	debug = fs.Bool("debug", false, "Turn on debugging output")
	return
}

func newClient(server string, timeout time.Duration, debug bool) *client.Client {
	if err := log.Init(debug); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	c, err := client.New(client.Config{ServerAddr: server, Timeout: timeout}, log.GetSugaredLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create client: %v\n", err)
		os.Exit(1)
	}
	return c
}

func optionFlags(fs *flag.FlagSet) (weather, temp, pop, alerts, disasters *bool, day *uint) {
	weather = fs.Bool("weather", true, "Request the weather code")
	temp = fs.Bool("temp", true, "Request the temperature")
	pop = fs.Bool("pop", true, "Request the precipitation probability")
	alerts = fs.Bool("alerts", false, "Request active weather alerts")
	disasters = fs.Bool("disasters", false, "Request disaster information")
	day = fs.Uint("day", 0, "Forecast day offset (0 = today, up to 7)")
	return
}

func buildOptions(weather, temp, pop, alerts, disasters bool, day uint) client.Options {
	return client.Options{
		Weather:     weather,
		Temperature: temp,
		Pop:         pop,
		Alerts:      alerts,
		Disasters:   disasters,
		Day:         uint8(day),
	}
}

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	server, timeout, debug := commonFlags(fs)
	weather, temp, pop, alerts, disasters, day := optionFlags(fs)
	area := fs.String("area", "", "6-digit area code (required)")
	fs.Parse(args)

	if *area == "" {
		fmt.Fprintln(os.Stderr, "query: -area is required")
		os.Exit(2)
	}

	c := newClient(*server, *timeout, *debug)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	resp, err := c.QueryByArea(ctx, *area, buildOptions(*weather, *temp, *pop, *alerts, *disasters, *day))
	if err != nil {
		fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
		os.Exit(1)
	}
	printResponse(resp)
}

func runLocate(args []string) {
	fs := flag.NewFlagSet("locate", flag.ExitOnError)
	server, timeout, debug := commonFlags(fs)
	weather, temp, pop, alerts, disasters, day := optionFlags(fs)
	lat := fs.Float64("lat", 0, "Latitude in decimal degrees (required)")
	lon := fs.Float64("lon", 0, "Longitude in decimal degrees (required)")
	fs.Parse(args)

	c := newClient(*server, *timeout, *debug)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	resp, err := c.QueryByCoordinates(ctx, *lat, *lon, buildOptions(*weather, *temp, *pop, *alerts, *disasters, *day))
	if err != nil {
		fmt.Fprintf(os.Stderr, "locate failed: %v\n", err)
		os.Exit(1)
	}
	printResponse(resp)
}

func runReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	server, timeout, debug := commonFlags(fs)
	area := fs.String("area", "", "6-digit area code (required)")
	weatherCode := fs.Int("weather-code", -1, "Observed weather code (-1 to omit)")
	temp := fs.Int("temp", -999, "Observed temperature in Celsius (-999 to omit)")
	pop := fs.Int("pop", -1, "Observed precipitation probability (-1 to omit)")
	alerts := fs.String("alerts", "", "Comma-separated alert strings")
	disasters := fs.String("disasters", "", "Comma-separated disaster strings")
	fs.Parse(args)

	if *area == "" {
		fmt.Fprintln(os.Stderr, "report: -area is required")
		os.Exit(2)
	}

	rep := client.Report{AreaCode: *area}
	if *weatherCode >= 0 {
		rep.WeatherCode = weatherCode
	}
	if *temp != -999 {
		rep.Temperature = temp
	}
	if *pop >= 0 {
		rep.Pop = pop
	}
	rep.Alerts = splitList(*alerts)
	rep.Disasters = splitList(*disasters)

	c := newClient(*server, *timeout, *debug)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := c.SendReport(ctx, rep); err != nil {
		fmt.Fprintf(os.Stderr, "report failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("report for area %s acknowledged\n", *area)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func printResponse(resp *client.Response) {
	fmt.Printf("area: %s (day %d)\n", resp.AreaCode, resp.Day)
	if resp.WeatherCode != nil {
		fmt.Printf("weather code: %d\n", *resp.WeatherCode)
	}
	if resp.Temperature != nil {
		fmt.Printf("temperature: %d C\n", *resp.Temperature)
	}
	if resp.Pop != nil {
		fmt.Printf("precipitation probability: %d%%\n", *resp.Pop)
	}
	for _, a := range resp.Alerts {
		fmt.Printf("alert: %s\n", a)
	}
	for _, d := range resp.Disasters {
		fmt.Printf("disaster: %s\n", d)
	}
}
