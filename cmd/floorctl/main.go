package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"github.com/iliyamo/floor-sync/internal/config"
)

const FloorCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Floor layout sync client.

Settings are read from the environment and an optional .env file. Flags
override the environment.

Usage:
    floorctl serve [--env_file=<path>] [--api_url=<api_url>] [--hub_url=<hub_url>]
        [--space_id=<space_id>] [--addr=<addr>] [--token_file=<path>]
        [--verbose=<level>]
    floorctl login [--env_file=<path>] [--api_url=<api_url>]
        [--callback_addr=<addr>] [--return_url=<url>] [--token_file=<path>]
        [--timeout=<timeout>] [--verbose=<level>]
    floorctl probe [--env_file=<path>] [--api_url=<api_url>] [--hub_url=<hub_url>]
        [--token_file=<path>] [--verbose=<level>]
    floorctl tail [--env_file=<path>] [--rabbitmq_url=<url>] [--queue=<queue>]
        [--verbose=<level>]
    floorctl token --secret=<secret> --subject=<subject> [--ttl=<ttl>]
    floorctl -h | --help
    floorctl --version

Options:
    -h --help                   Show this screen.
    --version                   Show version.
    --env_file=<path>           Env file to load [default: .env].
    --api_url=<api_url>         Host API base url.
    --hub_url=<hub_url>         Layout hub url. Defaults to the api url + /HostLayoutHub.
    --space_id=<space_id>       Space to bind on start.
    --addr=<addr>               View API listen address.
    --token_file=<path>         File holding the access token.
    --callback_addr=<addr>      Login callback listen address [default: localhost:4280].
    --return_url=<url>          Url the login redirects back to. Defaults to the callback.
    --timeout=<timeout>         How long to wait for the login [default: 5m].
    --rabbitmq_url=<url>        Broker url.
    --queue=<queue>             Change queue name.
    --secret=<secret>           View API signing secret.
    --subject=<subject>         Token subject, e.g. the renderer name.
    --ttl=<ttl>                 Token lifetime [default: 24h].
    --verbose=<level>           glog verbosity [default: 0].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], FloorCtlVersion)
	if err != nil {
		panic(err)
	}

	setupLogging(opts)
	defer glog.Flush()

	if serve_, _ := opts.Bool("serve"); serve_ {
		err = serve(opts)
	} else if login_, _ := opts.Bool("login"); login_ {
		err = login(opts)
	} else if probe_, _ := opts.Bool("probe"); probe_ {
		err = probe(opts)
	} else if tail_, _ := opts.Bool("tail"); tail_ {
		err = tail(opts)
	} else if token_, _ := opts.Bool("token"); token_ {
		err = token(opts)
	}
	if err != nil {
		glog.Flush()
		Err.Fatalf("%s", err)
	}
}

func setupLogging(opts docopt.Opts) {
	flag.Set("logtostderr", "true")
	level := "0"
	if v, _ := opts.String("--verbose"); v != "" {
		level = v
	}
	flag.Set("v", level)
	flag.CommandLine.Parse([]string{})
}

// loadConfig reads the environment and applies the flags that override it.
func loadConfig(opts docopt.Opts) (config.Config, error) {
	envFile, _ := opts.String("--env_file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return cfg, err
	}
	if apiURL, _ := opts.String("--api_url"); apiURL != "" {
		cfg.APIURL = apiURL
	}
	if hubURL, _ := opts.String("--hub_url"); hubURL != "" {
		cfg.Hub.URL = hubURL
	}
	if addr, _ := opts.String("--addr"); addr != "" {
		cfg.ViewAddr = addr
	}
	if s, _ := opts.String("--space_id"); s != "" {
		spaceID, err := strconv.ParseInt(s, 10, 64)
		if err != nil || spaceID <= 0 {
			return cfg, fmt.Errorf("invalid --space_id %q", s)
		}
		cfg.SpaceID = spaceID
	}
	if cfg.AccessToken == "" {
		if path, _ := opts.String("--token_file"); path != "" {
			b, err := os.ReadFile(path)
			if err != nil {
				return cfg, fmt.Errorf("read token file: %w", err)
			}
			cfg.AccessToken = strings.TrimSpace(string(b))
		}
	}
	return cfg, nil
}
